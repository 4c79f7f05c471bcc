package report

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"runtime/debug"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/buttonlinks/internal/augment"
	"github.com/gomlx/buttonlinks/internal/dataset"
	"github.com/gomlx/buttonlinks/internal/trainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listSequence []dataset.Sample

func (s listSequence) Name() string { return "Training" }
func (s listSequence) Len() int     { return len(s) }
func (s listSequence) At(i int) (dataset.Sample, error) {
	if i >= len(s) {
		return dataset.Sample{}, fmt.Errorf("index %d out of range", i)
	}
	return s[i], nil
}

func TestDatasetSummary(t *testing.T) {
	idx := &dataset.Index{
		Root:       "/data/images",
		Vocabulary: dataset.Vocabulary{"buttons", "text-links"},
		Files: []dataset.File{
			{Path: "a.png", Label: 0}, {Path: "b.png", Label: 0}, {Path: "c.png", Label: 1},
		},
	}
	var buf bytes.Buffer
	Dataset(&buf, idx)
	Augmentation(&buf, []augment.StageInfo{{Name: "Training", Len: 1500}, {Name: "Training (augmented)", Len: 12000}})
	out := buf.String()
	assert.Contains(t, out, "/data/images")
	assert.Contains(t, out, "buttons, text-links")
	assert.Contains(t, out, "text-links")
	assert.Contains(t, out, "12,000")
	assert.Contains(t, out, "1,500")
}

func TestBackendVersion(t *testing.T) {
	info := &debug.BuildInfo{
		Main: debug.Module{Path: "github.com/gomlx/buttonlinks"},
		Deps: []*debug.Module{
			{Path: "github.com/pkg/errors", Version: "v0.9.1"},
			{Path: GoMLXModule, Version: "v0.25.0"},
		},
	}
	assert.Equal(t, "v0.25.0", moduleVersion(info, GoMLXModule))
	info.Deps[1].Replace = &debug.Module{Path: "../gomlx", Version: "v0.25.1-local"}
	assert.Equal(t, "v0.25.1-local", moduleVersion(info, GoMLXModule))
	assert.Equal(t, "unknown", moduleVersion(info, "github.com/missing/module"))
	assert.Equal(t, "unknown", moduleVersion(nil, GoMLXModule))

	var buf bytes.Buffer
	Backend(&buf, "xla", "XLA CPU backend")
	out := buf.String()
	assert.Contains(t, out, `Backend "xla"`)
	assert.Contains(t, out, "XLA CPU backend (GoMLX "+GoMLXVersion()+")")
}

func TestSampleGrid(t *testing.T) {
	var seq listSequence
	for ii := range 11 {
		seq = append(seq, dataset.Sample{Image: imaging.New(20, 10, color.NRGBA{R: 200, A: 255}), Label: ii % 2})
	}
	cfg := GridConfig{Rows: 3, Cols: 3, CellSize: 32, Padding: 4}
	grid, err := SampleGrid(seq, dataset.Vocabulary{"buttons", "text-links"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3*36+4, 3*(32+16+4)+4), grid.Bounds())

	// Thumbnails are pasted at the cell origin, and the background is kept between cells.
	assert.Equal(t, color.NRGBA{R: 200, A: 255}, grid.NRGBAAt(4+16, 4+16))
	assert.Equal(t, gridBackground, grid.NRGBAAt(1, 1))

	// Some caption pixels are drawn under the first thumbnail.
	var dark int
	for y := 4 + 32; y < 4+32+16; y++ {
		for x := 4; x < 4+32; x++ {
			if grid.NRGBAAt(x, y).R < 128 {
				dark++
			}
		}
	}
	assert.Greater(t, dark, 0)

	_, err = SampleGrid(seq, nil, GridConfig{})
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "samples.png")
	require.NoError(t, SaveSampleGrid(path, seq, nil, cfg))
	saved, err := imaging.Open(path)
	require.NoError(t, err)
	assert.Equal(t, grid.Bounds(), saved.Bounds())
}

func TestCurves(t *testing.T) {
	h := &trainer.History{
		Steps:       []int{10, 20, 30},
		Loss:        []float64{0.9, 0.5, 0.3},
		Accuracy:    []float64{0.5, 0.7, 0.9},
		ValLoss:     []float64{1.0, math.NaN(), 0.6},
		ValAccuracy: []float64{0.4, 0.6, 0.8},
	}
	assert.Len(t, epochXYs(h.ValLoss), 2)
	assert.Equal(t, 3.0, epochXYs(h.Loss)[2].X)

	p, err := LossPlot(h)
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.Y.Max)
	p, err = AccuracyPlot(h)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.Y.Max)

	dir := t.TempDir()
	lossPath, accuracyPath := filepath.Join(dir, "loss.png"), filepath.Join(dir, "accuracy.png")
	require.NoError(t, SaveCurves(h, lossPath, accuracyPath))
	for _, path := range []string{lossPath, accuracyPath} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}
