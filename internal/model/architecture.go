// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import "fmt"

// Kinds of layers in the architecture.
const (
	KindConv2D  = "Conv2D"
	KindMaxPool = "MaxPooling2D"
	KindFlatten = "Flatten"
	KindDense   = "Dense"
)

// Activations applied after a layer.
const (
	ActivationLinear = "linear"
	ActivationRelu   = "relu"
)

// Layer describes one layer of the model, in the order it is applied.
type Layer struct {
	// Kind is one of KindConv2D, KindMaxPool, KindFlatten or KindDense.
	Kind string

	// Scope of the layer variables, under the model scope. Empty for layers without variables.
	Scope string

	// Units is the number of output channels for convolutions, or of output units for dense layers.
	Units int

	// KernelSize of convolutions, PoolSize of max-pooling.
	KernelSize, PoolSize int

	Activation string
}

// HasVariables returns whether the layer holds a kernel and a bias.
func (l Layer) HasVariables() bool {
	return l.Kind == KindConv2D || l.Kind == KindDense
}

// Architecture returns the layers of the model for the given number of classes:
// three blocks of 3x3 convolution with 32 channels, ReLU and 2x2 max-pooling, followed by
// a hidden dense layer of 128 units with ReLU and an output dense layer producing one logit per class.
func Architecture(numClasses int) []Layer {
	var arch []Layer
	idx := 0
	scope := func(name string) string {
		s := fmt.Sprintf("%03d_%s", idx, name)
		idx++
		return s
	}
	for range 3 {
		arch = append(arch,
			Layer{Kind: KindConv2D, Scope: scope("conv"), Units: 32, KernelSize: 3, Activation: ActivationRelu},
			Layer{Kind: KindMaxPool, PoolSize: 2, Activation: ActivationLinear},
		)
	}
	arch = append(arch,
		Layer{Kind: KindFlatten, Activation: ActivationLinear},
		Layer{Kind: KindDense, Scope: scope("dense"), Units: 128, Activation: ActivationRelu},
		Layer{Kind: KindDense, Scope: scope("dense"), Units: numClasses, Activation: ActivationLinear},
	)
	return arch
}

// OutputSpatialSize returns the height (or width) of the feature map fed to the flatten layer, for
// square images of the given size.
func OutputSpatialSize(imageSize int) int {
	size := imageSize
	for _, layer := range Architecture(1) {
		switch layer.Kind {
		case KindConv2D:
			size -= layer.KernelSize - 1
		case KindMaxPool:
			size /= layer.PoolSize
		}
	}
	return size
}

// FlattenedSize returns the number of features after flattening, for square images of the given size.
func FlattenedSize(imageSize int) int {
	size := OutputSpatialSize(imageSize)
	var channels int
	for _, layer := range Architecture(1) {
		if layer.Kind == KindConv2D {
			channels = layer.Units
		}
	}
	return size * size * channels
}

// VariablesScope returns the absolute context scope holding the layer kernel ("weights") and bias ("biases").
func (l Layer) VariablesScope() string {
	switch l.Kind {
	case KindConv2D:
		return "/" + Scope + "/" + l.Scope + "/conv"
	case KindDense:
		return "/" + Scope + "/" + l.Scope + "/dense"
	}
	return ""
}

// Variable names used by the layers.
const (
	KernelVariable = "weights"
	BiasVariable   = "biases"
)
