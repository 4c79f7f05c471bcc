// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/gomlx/buttonlinks/internal/dataset"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// GridConfig configures SampleGrid.
type GridConfig struct {
	// Rows and Cols of the grid. At most Rows*Cols samples are drawn.
	Rows, Cols int

	// CellSize is the size of the square each sample is resized to.
	CellSize int

	// Padding between cells.
	Padding int
}

// DefaultGridConfig is a 3x3 grid of 128x128 thumbnails.
func DefaultGridConfig() GridConfig {
	return GridConfig{Rows: 3, Cols: 3, CellSize: 128, Padding: 8}
}

// captionHeight is the height of the band under each thumbnail with the class name.
const captionHeight = 16

var (
	gridBackground = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	captionColor   = color.NRGBA{R: 0, G: 0, B: 0, A: 255}
)

// SampleGrid draws the first samples of seq in a grid, each captioned with its class name taken from vocabulary.
func SampleGrid(seq dataset.Sequence, vocabulary dataset.Vocabulary, cfg GridConfig) (*image.NRGBA, error) {
	if cfg.Rows <= 0 || cfg.Cols <= 0 || cfg.CellSize <= 0 {
		return nil, errors.Errorf("invalid grid configuration %+v", cfg)
	}
	cellWidth := cfg.CellSize + cfg.Padding
	cellHeight := cfg.CellSize + captionHeight + cfg.Padding
	grid := imaging.New(cfg.Cols*cellWidth+cfg.Padding, cfg.Rows*cellHeight+cfg.Padding, gridBackground)
	n := min(seq.Len(), cfg.Rows*cfg.Cols)
	for ii := range n {
		sample, err := seq.At(ii)
		if err != nil {
			return nil, errors.WithMessagef(err, "reading sample #%d of %s", ii, seq.Name())
		}
		x := cfg.Padding + (ii%cfg.Cols)*cellWidth
		y := cfg.Padding + (ii/cfg.Cols)*cellHeight
		thumb := imaging.Resize(sample.Image, cfg.CellSize, cfg.CellSize, imaging.Linear)
		grid = imaging.Paste(grid, thumb, image.Pt(x, y))
		caption := "?"
		if sample.Label >= 0 && sample.Label < len(vocabulary) {
			caption = vocabulary[sample.Label]
		}
		drawCaption(grid, caption, x, y+cfg.CellSize+captionHeight-3)
	}
	return grid, nil
}

// drawCaption writes text with its baseline starting at (x, y).
func drawCaption(img *image.NRGBA, text string, x, y int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(captionColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// SaveSampleGrid renders SampleGrid and saves it to filePath, in the format given by its extension.
func SaveSampleGrid(filePath string, seq dataset.Sequence, vocabulary dataset.Vocabulary, cfg GridConfig) error {
	grid, err := SampleGrid(seq, vocabulary, cfg)
	if err != nil {
		return err
	}
	if err = imaging.Save(grid, filePath); err != nil {
		return errors.Wrapf(err, "failed to save sample grid to %q", filePath)
	}
	return nil
}
