// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package export

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/gomlx/buttonlinks/internal/dataset"
	"github.com/gomlx/buttonlinks/internal/model"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Names of the files of a browser bundle.
const (
	BrowserModelFileName   = "model.json"
	BrowserWeightsFileName = "group1-shard1of1.bin"
)

// BrowserModel is the content of model.json of a TensorFlow.js "layers-model".
type BrowserModel struct {
	Format          string                  `json:"format"`
	GeneratedBy     string                  `json:"generatedBy"`
	ConvertedBy     string                  `json:"convertedBy"`
	ModelTopology   BrowserTopology         `json:"modelTopology"`
	WeightsManifest []BrowserWeightsGroup   `json:"weightsManifest"`
	UserDefined     *BrowserUserDefinedData `json:"userDefinedMetadata,omitempty"`
}

// BrowserTopology is a Keras Sequential model description.
type BrowserTopology struct {
	ClassName    string           `json:"class_name"`
	Config       SequentialConfig `json:"config"`
	KerasVersion string           `json:"keras_version"`
	Backend      string           `json:"backend"`
}

// SequentialConfig lists the layers of a Sequential model.
type SequentialConfig struct {
	Name   string         `json:"name"`
	Layers []BrowserLayer `json:"layers"`
}

// BrowserLayer is a Keras layer: its class and configuration.
type BrowserLayer struct {
	ClassName string         `json:"class_name"`
	Config    map[string]any `json:"config"`
}

// BrowserWeightsGroup lists the weights stored in a group of files, in order.
type BrowserWeightsGroup struct {
	Paths   []string        `json:"paths"`
	Weights []BrowserWeight `json:"weights"`
}

// BrowserWeight describes one weight tensor stored in the weights file.
type BrowserWeight struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
}

// BrowserUserDefinedData carries the model metadata the browser needs to present predictions.
type BrowserUserDefinedData struct {
	ModelID    string   `json:"modelId"`
	ClassNames []string `json:"classNames"`
	ImageSize  int      `json:"imageSize"`
}

// kerasNamer generates Keras default layer names: "conv2d", "conv2d_1", "conv2d_2", ...
type kerasNamer map[string]int

func (n kerasNamer) next(base string) string {
	count := n[base]
	n[base]++
	if count == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, count)
}

var kerasBaseNames = map[string]string{
	model.KindConv2D:  "conv2d",
	model.KindMaxPool: "max_pooling2d",
	model.KindFlatten: "flatten",
	model.KindDense:   "dense",
}

// browserWeights pairs a manifest entry with the tensor holding its values.
type browserWeights struct {
	entry BrowserWeight
	value *tensors.Tensor
}

// BuildBrowserModel creates the model.json description of m and returns, in manifest order, the tensors
// to write to the weights file.
//
// The browser model takes raw images (intensities in [0, 255]): a Rescaling layer is added in front.
func BuildBrowserModel(m *Model) (*BrowserModel, []*tensors.Tensor, error) {
	imageSize := m.Header.ImageSize
	if imageSize <= 0 {
		return nil, nil, errors.Errorf("invalid image size %d in model", imageSize)
	}
	namer := kerasNamer{}
	layers := []BrowserLayer{{
		ClassName: "Rescaling",
		Config: map[string]any{
			"name":              namer.next("rescaling"),
			"trainable":         true,
			"batch_input_shape": []any{nil, imageSize, imageSize, 3},
			"dtype":             "float32",
			"scale":             1.0 / dataset.MaxIntensity,
			"offset":            0.0,
		},
	}}
	var weights []browserWeights
	for ii, layer := range m.Header.Architecture {
		base, found := kerasBaseNames[layer.Kind]
		if !found {
			return nil, nil, errors.Errorf("layer #%d has unknown kind %q", ii, layer.Kind)
		}
		name := namer.next(base)
		config := map[string]any{
			"name":      name,
			"trainable": true,
			"dtype":     "float32",
		}
		switch layer.Kind {
		case model.KindConv2D:
			config["filters"] = layer.Units
			config["kernel_size"] = []int{layer.KernelSize, layer.KernelSize}
			config["strides"] = []int{1, 1}
			config["padding"] = "valid"
			config["data_format"] = "channels_last"
			config["dilation_rate"] = []int{1, 1}
			config["activation"] = layer.Activation
			config["use_bias"] = true
		case model.KindMaxPool:
			config["pool_size"] = []int{layer.PoolSize, layer.PoolSize}
			config["strides"] = []int{layer.PoolSize, layer.PoolSize}
			config["padding"] = "valid"
			config["data_format"] = "channels_last"
		case model.KindFlatten:
			config["data_format"] = "channels_last"
		case model.KindDense:
			config["units"] = layer.Units
			config["activation"] = layer.Activation
			config["use_bias"] = true
		}
		layers = append(layers, BrowserLayer{ClassName: layer.Kind, Config: config})
		if !layer.HasVariables() {
			continue
		}
		for _, pair := range [][2]string{{model.KernelVariable, "kernel"}, {model.BiasVariable, "bias"}} {
			v := m.Variable(layer.VariablesScope(), pair[0])
			if v == nil {
				return nil, nil, errors.Errorf("model has no variable %q for layer %q", pair[0], name)
			}
			if v.Value.DType() != dtypes.Float32 {
				return nil, nil, errors.Errorf("variable %s/%s has dtype %s, only float32 is supported",
					v.Scope, v.Name, v.Value.DType())
			}
			weights = append(weights, browserWeights{
				entry: BrowserWeight{
					Name:  name + "/" + pair[1],
					Shape: slices.Clone(v.Value.Shape().Dimensions),
					DType: "float32",
				},
				value: v.Value,
			})
		}
	}

	bm := &BrowserModel{
		Format:      "layers-model",
		GeneratedBy: "buttonlinks",
		ConvertedBy: "buttonlinks",
		ModelTopology: BrowserTopology{
			ClassName:    "Sequential",
			Config:       SequentialConfig{Name: "sequential", Layers: layers},
			KerasVersion: "2.15.0",
			Backend:      "tensorflow",
		},
		UserDefined: &BrowserUserDefinedData{
			ModelID:    m.Header.ModelID,
			ClassNames: m.Header.ClassNames,
			ImageSize:  imageSize,
		},
	}
	group := BrowserWeightsGroup{Paths: []string{BrowserWeightsFileName}}
	values := make([]*tensors.Tensor, 0, len(weights))
	for _, w := range weights {
		group.Weights = append(group.Weights, w.entry)
		values = append(values, w.value)
	}
	bm.WeightsManifest = []BrowserWeightsGroup{group}
	return bm, values, nil
}

// WriteBrowserBundle writes model.json and its weights file for m into outDir, creating it if needed.
// It returns the number of bytes of the weights file.
func WriteBrowserBundle(m *Model, outDir string) (int64, error) {
	bm, values, err := BuildBrowserModel(m)
	if err != nil {
		return 0, err
	}
	if err = os.MkdirAll(outDir, 0755); err != nil {
		return 0, errors.Wrapf(err, "creating browser bundle directory %q", outDir)
	}

	modelJSON, err := json.MarshalIndent(bm, "", "  ")
	if err != nil {
		return 0, errors.Wrap(err, "encoding model.json")
	}
	modelPath := filepath.Join(outDir, BrowserModelFileName)
	if err = os.WriteFile(modelPath, modelJSON, 0644); err != nil {
		return 0, errors.Wrapf(err, "writing %q", modelPath)
	}

	weightsPath := filepath.Join(outDir, BrowserWeightsFileName)
	numBytes, err := writeWeights(weightsPath, values)
	if err != nil {
		return 0, err
	}
	klog.V(1).Infof("wrote browser bundle to %q: %d weight tensors, %d bytes", outDir, len(values), numBytes)
	return numBytes, nil
}

// writeWeights writes the tensors, concatenated, as little-endian float32 values.
func writeWeights(filePath string, values []*tensors.Tensor) (numBytes int64, err error) {
	f, err := os.Create(filePath)
	if err != nil {
		return 0, errors.Wrapf(err, "creating weights file %q", filePath)
	}
	w := bufio.NewWriter(f)
	for _, value := range values {
		var writeErr error
		err = tensors.ConstFlatData[float32](value, func(flat []float32) {
			writeErr = binary.Write(w, binary.LittleEndian, flat)
			numBytes += int64(4 * len(flat))
		})
		if err == nil {
			err = writeErr
		}
		if err != nil {
			_ = f.Close()
			return 0, errors.Wrapf(err, "writing weights file %q", filePath)
		}
	}
	if err = w.Flush(); err == nil {
		err = f.Close()
	} else {
		_ = f.Close()
	}
	if err != nil {
		return 0, errors.Wrapf(err, "writing weights file %q", filePath)
	}
	return numBytes, nil
}

// ConvertToBrowser loads the portable model file at modelPath and writes its browser bundle into outDir.
func ConvertToBrowser(modelPath, outDir string) (*Model, error) {
	m, err := LoadModel(modelPath)
	if err != nil {
		return nil, err
	}
	if _, err = WriteBrowserBundle(m, outDir); err != nil {
		return nil, err
	}
	return m, nil
}
