package model

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestArchitecture(t *testing.T) {
	arch := Architecture(2)
	require.Len(t, arch, 9)
	var scopes []string
	for _, layer := range arch {
		if layer.HasVariables() {
			scopes = append(scopes, layer.Scope)
		}
	}
	assert.Equal(t, []string{"000_conv", "001_conv", "002_conv", "003_dense", "004_dense"}, scopes)
	assert.Equal(t, 2, arch[len(arch)-1].Units)
	assert.Equal(t, ActivationLinear, arch[len(arch)-1].Activation)
	assert.Equal(t, "/model/000_conv/conv", arch[0].VariablesScope())
	assert.Equal(t, "/model/004_dense/dense", arch[8].VariablesScope())
	assert.Equal(t, "", arch[1].VariablesScope())

	assert.Equal(t, 30, OutputSpatialSize(256))
	assert.Equal(t, 30*30*32, FlattenedSize(256))
	assert.Equal(t, 2, OutputSpatialSize(32))
}

func TestCreateDefaultContext(t *testing.T) {
	ctx := CreateDefaultContext()
	assert.Equal(t, 32, context.GetParamOr(ctx, ParamBatchSize, 0))
	assert.Equal(t, 10, context.GetParamOr(ctx, ParamNumEpochs, 0))
	assert.Equal(t, 256, context.GetParamOr(ctx, ParamImageSize, 0))
	assert.Equal(t, 0.4, context.GetParamOr(ctx, ParamValidationSplit, 0.0))
	assert.Equal(t, 123, context.GetParamOr(ctx, ParamSeed, 0))
	assert.Equal(t, 2, context.GetParamOr(ctx, ParamNumClasses, 0))
	assert.Equal(t, "adam", context.GetParamOr(ctx, optimizers.ParamOptimizer, ""))
}

func TestBuildGraph(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping model graph test in short mode.")
	}
	const imageSize, batchSize, numClasses = 32, 2, 3
	backend := graphtest.BuildTestBackend()
	ctx := CreateDefaultContext()
	ctx.SetParam(ParamNumClasses, numClasses)
	exec := context.MustNewExec(backend, ctx.In(Scope), func(ctx *context.Context, images *graph.Node) *graph.Node {
		return BuildGraph(ctx, nil, []*graph.Node{images})[0]
	})
	input := tensors.FromFlatDataAndDimensions(make([]float32, batchSize*imageSize*imageSize*3), batchSize, imageSize, imageSize, 3)
	logits := exec.MustExec1(input)
	assert.Equal(t, []int{batchSize, numClasses}, logits.Shape().Dimensions)

	// Variables are created in the scopes described by Architecture.
	shapes := make(map[string][]int)
	for v := range ctx.IterVariables() {
		shapes[v.ScopeAndName()] = v.Shape().Dimensions
	}
	for _, layer := range Architecture(numClasses) {
		if !layer.HasVariables() {
			continue
		}
		kernel, found := shapes[context.JoinScope(layer.VariablesScope(), KernelVariable)]
		require.Truef(t, found, "kernel of %s not found in %v", layer.Scope, shapes)
		assert.Equal(t, layer.Units, kernel[len(kernel)-1])
		bias, found := shapes[context.JoinScope(layer.VariablesScope(), BiasVariable)]
		require.Truef(t, found, "bias of %s not found", layer.Scope)
		assert.Equal(t, []int{layer.Units}, bias)
	}
	assert.Equal(t, []int{3, 3, 3, 32}, shapes["/model/000_conv/conv/weights"])
	assert.Equal(t, []int{2 * 2 * 32, 128}, shapes["/model/003_dense/dense/weights"])
}
