package classifier

import (
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/buttonlinks/internal/export"
	"github.com/gomlx/buttonlinks/internal/model"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestPredictionString(t *testing.T) {
	p, err := NewPrediction([]string{"buttons", "text-links"}, []float64{0.1234, 0.8766})
	require.NoError(t, err)
	assert.Equal(t, "text-links", p.Label)
	assert.Equal(t, 1, p.Index)
	assert.Equal(t, "This image most likely belongs to text-links with a 87.66 percent confidence.", p.String())

	p, err = NewPrediction([]string{"buttons", "text-links"}, []float64{1, 0})
	require.NoError(t, err)
	assert.Equal(t, "This image most likely belongs to buttons with a 100.00 percent confidence.", p.String())

	// Ties go to the first class.
	p, err = NewPrediction([]string{"buttons", "text-links"}, []float64{0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, "buttons", p.Label)

	_, err = NewPrediction([]string{"buttons"}, []float64{0.5, 0.5})
	require.Error(t, err)
	_, err = NewPrediction(nil, nil)
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping classifier test in short mode.")
	}
	const imageSize = 32
	backend := graphtest.BuildTestBackend()

	// Initialize the model variables with one forward pass, and export them.
	ctx := model.CreateDefaultContext()
	ctx.SetParam(model.ParamImageSize, imageSize)
	exec := context.MustNewExec(backend, ctx.In(model.Scope), func(ctx *context.Context, images *graph.Node) *graph.Node {
		return model.BuildGraph(ctx, nil, []*graph.Node{images})[0]
	})
	input := tensors.FromFlatDataAndDimensions(make([]float32, imageSize*imageSize*3), 1, imageSize, imageSize, 3)
	exec.MustExec1(input)
	modelPath := filepath.Join(t.TempDir(), export.ModelFileName)
	_, err := export.SaveModel(modelPath, ctx, export.Metadata{ClassNames: []string{"buttons", "text-links"}, ImageSize: imageSize})
	require.NoError(t, err)

	c, err := NewWithBackend(backend, modelPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"buttons", "text-links"}, c.ClassNames())
	assert.Equal(t, imageSize, c.ImageSize())

	// Any image size and transparency is accepted.
	img := imaging.New(100, 40, color.NRGBA{R: 10, G: 200, B: 30, A: 100})
	p, err := c.Classify(img)
	require.NoError(t, err)
	require.Len(t, p.Probabilities, 2)
	assert.InDelta(t, 1.0, p.Probabilities[0]+p.Probabilities[1], 1e-5)
	assert.GreaterOrEqual(t, p.Confidence, 0.5)
	assert.Contains(t, c.ClassNames(), p.Label)

	// Classification is deterministic.
	again, err := c.Classify(img)
	require.NoError(t, err)
	assert.Equal(t, p, again)

	imagePath := filepath.Join(t.TempDir(), "img.png")
	require.NoError(t, imaging.Save(img, imagePath))
	fromFile, err := c.ClassifyFile(imagePath)
	require.NoError(t, err)
	assert.Equal(t, p.Index, fromFile.Index)
}
