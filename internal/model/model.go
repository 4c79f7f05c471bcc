// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package model defines the convolutional classifier of button and text-link screenshots, and the
// hyperparameters used to train it.
package model

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"
)

// Hyperparameters stored in the context.
const (
	ParamBatchSize       = "batch_size"
	ParamNumEpochs       = "num_epochs"
	ParamImageSize       = "image_size"
	ParamValidationSplit = "validation_split"
	ParamSeed            = "seed"
	ParamNumClasses      = "num_classes"
	ParamPrefetch        = "prefetch"
)

// DType of the model inputs and weights.
var DType = dtypes.Float32

// Scope is the conventional context scope the model variables are created in.
const Scope = "model"

// CreateDefaultContext returns a context with all hyperparameters set to their default values.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamBatchSize:       32,
		ParamNumEpochs:       10,
		ParamImageSize:       256,
		ParamValidationSplit: 0.4,
		ParamSeed:            123,
		ParamNumClasses:      2,

		// Number of batches read ahead of training.
		ParamPrefetch: 4,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.001,
		optimizers.ParamAdamEpsilon:  1e-7,
	})
	ctx.SetRNGStateFromSeed(int64(context.GetParamOr(ctx, ParamSeed, 123)))
	return ctx
}

// BuildGraph implements train.ModelFn and returns the logits for each image, shaped [batch_size, num_classes].
//
// Images must be shaped [batch_size, height, width, 3], with values rescaled to [0, 1].
// The number of classes is read from the context parameter ParamNumClasses.
func BuildGraph(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
	_ = spec // Not used.
	numClasses := context.GetParamOr(ctx, ParamNumClasses, 2)
	logits := inputs[0]
	batchSize := logits.Shape().Dimensions[0]
	for ii, layer := range Architecture(numClasses) {
		layerCtx := ctx
		if layer.HasVariables() {
			layerCtx = ctx.In(layer.Scope)
		}
		switch layer.Kind {
		case KindConv2D:
			logits = layers.Convolution(layerCtx, logits).
				Channels(layer.Units).
				KernelSize(layer.KernelSize).
				NoPadding().
				Done()
		case KindMaxPool:
			logits = graph.MaxPool(logits).Window(layer.PoolSize).NoPadding().Done()
		case KindFlatten:
			logits = graph.Reshape(logits, batchSize, -1)
		case KindDense:
			logits = layers.Dense(layerCtx, logits, true, layer.Units)
		default:
			exceptions.Panicf("layer #%d has unknown kind %q", ii, layer.Kind)
		}
		if layer.Activation == ActivationRelu {
			logits = activations.Relu(logits)
		}
	}
	logits.AssertDims(batchSize, numClasses)
	return []*graph.Node{logits}
}

var _ train.ModelFn = BuildGraph
