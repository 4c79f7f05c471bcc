// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package classifier loads an exported model and classifies screenshots as one of its classes
// (e.g. "buttons" or "text-links").
//
// To use it, create a Classifier with New(), and then call its Classify method with any image: it is
// preprocessed exactly as during training.
package classifier

import (
	"fmt"
	"image"

	"github.com/gomlx/buttonlinks/internal/dataset"
	"github.com/gomlx/buttonlinks/internal/export"
	"github.com/gomlx/buttonlinks/internal/model"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Classifier holds the model compiled for inference.
type Classifier struct {
	backend backends.Backend

	// model loaded, with its metadata.
	model *export.Model

	// ctx with the model's weights.
	ctx *context.Context

	// exec computes the class probabilities of one image.
	exec *context.Exec

	toTensor *images.ToTensorConfig
}

// New creates a Classifier from the portable model file at modelPath, using the default backend (configurable
// with GOMLX_BACKEND).
func New(modelPath string) (*Classifier, error) {
	var backend backends.Backend
	err := exceptions.TryCatch[error](func() { backend = backends.MustNew() })
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create backend")
	}
	return NewWithBackend(backend, modelPath)
}

// NewWithBackend creates a Classifier from the portable model file at modelPath, using the given backend.
func NewWithBackend(backend backends.Backend, modelPath string) (*Classifier, error) {
	m, err := export.LoadModel(modelPath)
	if err != nil {
		return nil, err
	}
	c := &Classifier{
		backend:  backend,
		model:    m,
		toTensor: images.ToTensor(dtypes.Float32).MaxValue(dataset.MaxIntensity),
	}
	// Mark it to reuse variables: it is an error to create a new variable.
	c.ctx = m.Context().Reuse()
	c.exec, err = context.NewExec(backend, c.ctx.In(model.Scope), func(ctx *context.Context, image *graph.Node) *graph.Node {
		image = graph.ExpandAxes(image, 0) // Create a batch dimension of size 1.
		logits := model.BuildGraph(ctx, nil, []*graph.Node{image})[0]
		probabilities := graph.Softmax(logits, -1)
		return graph.Reshape(probabilities, m.NumClasses()) // Remove batch dimension.
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create model executor for %q", modelPath)
	}
	return c, nil
}

// ClassNames returns the names of the classes, indexed by label.
func (c *Classifier) ClassNames() []string { return c.model.Header.ClassNames }

// ImageSize returns the size of the square images the model takes.
func (c *Classifier) ImageSize() int { return c.model.Header.ImageSize }

// Prediction is the result of classifying one image.
type Prediction struct {
	// Label is the name of the most likely class, and Index its label index.
	Label string
	Index int

	// Confidence is the probability of the most likely class, in [0, 1].
	Confidence float64

	// Probabilities of each class, indexed by label.
	Probabilities []float64
}

// String returns the sentence describing the prediction.
func (p Prediction) String() string {
	return fmt.Sprintf("This image most likely belongs to %s with a %.2f percent confidence.", p.Label, 100*p.Confidence)
}

// NewPrediction builds the Prediction for the given class probabilities: the class with the highest
// probability wins, and ties go to the lowest index.
func NewPrediction(classNames []string, probabilities []float64) (Prediction, error) {
	if len(probabilities) == 0 || len(probabilities) != len(classNames) {
		return Prediction{}, errors.Errorf("got %d probabilities for %d classes", len(probabilities), len(classNames))
	}
	best := 0
	for ii, p := range probabilities {
		if p > probabilities[best] {
			best = ii
		}
	}
	return Prediction{
		Label:         classNames[best],
		Index:         best,
		Confidence:    probabilities[best],
		Probabilities: probabilities,
	}, nil
}

// Classify returns the prediction for img. The image is resized to the model's input size and its
// transparency is dropped.
func (c *Classifier) Classify(img image.Image) (Prediction, error) {
	size := c.ImageSize()
	input := c.toTensor.Single(dataset.Preprocess(img, size, size))
	if err := dataset.RescaleTensor(input, dataset.MaxIntensity); err != nil {
		return Prediction{}, err
	}
	var output *tensors.Tensor
	err := exceptions.TryCatch[error](func() { output = c.exec.MustExec1(input) })
	if err != nil {
		return Prediction{}, errors.WithMessage(err, "failed to run model")
	}
	probs32 := tensors.MustCopyFlatData[float32](output)
	output.MustFinalizeAll()
	probabilities := make([]float64, len(probs32))
	for ii, p := range probs32 {
		probabilities[ii] = float64(p)
	}
	return NewPrediction(c.ClassNames(), probabilities)
}

// ClassifyFile loads the image at imagePath and classifies it.
func (c *Classifier) ClassifyFile(imagePath string) (Prediction, error) {
	img, err := dataset.LoadImage(imagePath)
	if err != nil {
		return Prediction{}, err
	}
	return c.Classify(img)
}
