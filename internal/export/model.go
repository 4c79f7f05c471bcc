// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package export saves a trained classifier into a single portable model file, loads it back, and
// converts it into a bundle a browser (TensorFlow.js) can load.
//
// The portable model file is a gob stream: a Header followed, for each variable listed in the header,
// by the variable's scope and name and its tensor (see tensors.Tensor.GobSerialize).
package export

import (
	"bufio"
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/gomlx/buttonlinks/internal/model"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ModelFileName is the conventional name of the portable model file.
const ModelFileName = "buttonlinks.gmodel"

// Format identifies portable model files, and FormatVersion the version of their layout.
const (
	Format        = "buttonlinks-model"
	FormatVersion = 1
)

// Header describes the model stored in a portable model file.
type Header struct {
	Format  string
	Version int

	// ModelID is a random UUID assigned when the model is saved.
	ModelID   string
	CreatedAt time.Time

	Architecture []model.Layer

	// ClassNames indexed by label.
	ClassNames []string

	// ImageSize of the square images the model takes as input.
	ImageSize int

	NumVariables int
}

// Metadata of the model given by the caller of SaveModel.
type Metadata struct {
	ClassNames []string
	ImageSize  int
}

// Variable is one named tensor of the model.
type Variable struct {
	Scope, Name string
	Value       *tensors.Tensor
}

// Model is a loaded portable model.
type Model struct {
	Header    Header
	Variables []Variable
}

// variableHeader precedes each tensor in the file.
type variableHeader struct {
	Scope, Name string
}

// modelVariables returns the variables of the model layers in ctx, in architecture order: kernel then bias.
func modelVariables(ctx *context.Context, arch []model.Layer) ([]Variable, error) {
	var vars []Variable
	for _, layer := range arch {
		if !layer.HasVariables() {
			continue
		}
		scope := layer.VariablesScope()
		for _, name := range []string{model.KernelVariable, model.BiasVariable} {
			v := ctx.GetVariableByScopeAndName(scope, name)
			if v == nil {
				return nil, errors.Errorf("variable %q not found in context, was the model trained?", context.JoinScope(scope, name))
			}
			value, err := v.Value()
			if err != nil {
				return nil, errors.WithMessagef(err, "reading variable %q", v.ScopeAndName())
			}
			vars = append(vars, Variable{Scope: scope, Name: name, Value: value})
		}
	}
	return vars, nil
}

// SaveModel writes the model variables in ctx, along with meta, to the portable model file at filePath.
// The file is written to a temporary file first, and renamed at the end.
func SaveModel(filePath string, ctx *context.Context, meta Metadata) (*Header, error) {
	if len(meta.ClassNames) == 0 {
		return nil, errors.New("no class names given for the model")
	}
	if numClasses := context.GetParamOr(ctx, model.ParamNumClasses, 0); numClasses != len(meta.ClassNames) {
		return nil, errors.Errorf("context parameter %q is %d, but %d class names were given",
			model.ParamNumClasses, numClasses, len(meta.ClassNames))
	}
	arch := model.Architecture(len(meta.ClassNames))
	vars, err := modelVariables(ctx, arch)
	if err != nil {
		return nil, err
	}
	header := &Header{
		Format:       Format,
		Version:      FormatVersion,
		ModelID:      uuid.NewString(),
		CreatedAt:    time.Now().UTC(),
		Architecture: arch,
		ClassNames:   meta.ClassNames,
		ImageSize:    meta.ImageSize,
		NumVariables: len(vars),
	}

	tmpPath := filePath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, errors.Wrapf(err, "creating model file %q", tmpPath)
	}
	w := bufio.NewWriter(f)
	err = writeModel(w, header, vars)
	if err == nil {
		err = errors.Wrapf(w.Flush(), "writing model file %q", tmpPath)
	}
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = errors.Wrapf(closeErr, "closing model file %q", tmpPath)
	}
	if err == nil {
		err = errors.Wrapf(os.Rename(tmpPath, filePath), "renaming model file to %q", filePath)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}
	klog.V(1).Infof("saved model %s (%d variables) to %q", header.ModelID, len(vars), filePath)
	return header, nil
}

func writeModel(w *bufio.Writer, header *Header, vars []Variable) error {
	enc := gob.NewEncoder(w)
	if err := enc.Encode(header); err != nil {
		return errors.Wrap(err, "encoding model header")
	}
	for _, v := range vars {
		if err := enc.Encode(variableHeader{Scope: v.Scope, Name: v.Name}); err != nil {
			return errors.Wrapf(err, "encoding variable %q", context.JoinScope(v.Scope, v.Name))
		}
		if err := v.Value.GobSerialize(enc); err != nil {
			return errors.WithMessagef(err, "encoding value of variable %q", context.JoinScope(v.Scope, v.Name))
		}
	}
	return nil
}

// LoadModel reads a portable model file.
func LoadModel(filePath string) (*Model, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening model file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	dec := gob.NewDecoder(bufio.NewReader(f))
	m := &Model{}
	if err = dec.Decode(&m.Header); err != nil {
		return nil, errors.Wrapf(err, "decoding header of model file %q", filePath)
	}
	if m.Header.Format != Format {
		return nil, errors.Errorf("file %q is not a model file (format %q)", filePath, m.Header.Format)
	}
	if m.Header.Version > FormatVersion {
		return nil, errors.Errorf("model file %q has version %d, only versions up to %d are supported",
			filePath, m.Header.Version, FormatVersion)
	}
	for ii := range m.Header.NumVariables {
		var vh variableHeader
		if err = dec.Decode(&vh); err != nil {
			return nil, errors.Wrapf(err, "decoding variable #%d of model file %q", ii, filePath)
		}
		value, err := tensors.GobDeserialize(dec)
		if err != nil {
			return nil, errors.WithMessagef(err, "decoding value of variable %q of model file %q",
				context.JoinScope(vh.Scope, vh.Name), filePath)
		}
		m.Variables = append(m.Variables, Variable{Scope: vh.Scope, Name: vh.Name, Value: value})
	}
	return m, nil
}

// NumClasses returns the number of classes the model outputs.
func (m *Model) NumClasses() int { return len(m.Header.ClassNames) }

// Variable returns the variable with the given scope and name, or nil if not found.
func (m *Model) Variable(scope, name string) *Variable {
	for ii := range m.Variables {
		if m.Variables[ii].Scope == scope && m.Variables[ii].Name == name {
			return &m.Variables[ii]
		}
	}
	return nil
}

// Context returns a new context with the model hyperparameters and variables set, ready to be used with
// model.BuildGraph (under the model.Scope scope).
func (m *Model) Context() *context.Context {
	ctx := model.CreateDefaultContext()
	ctx.SetParams(map[string]any{
		model.ParamNumClasses: m.NumClasses(),
		model.ParamImageSize:  m.Header.ImageSize,
	})
	for _, v := range m.Variables {
		ctx.InAbsPath(v.Scope).VariableWithValue(v.Name, v.Value)
	}
	return ctx
}

// DefaultModelPath returns the path of the portable model file in dir.
func DefaultModelPath(dir string) string {
	return filepath.Join(dir, ModelFileName)
}
