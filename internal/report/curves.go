// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"math"

	"github.com/gomlx/buttonlinks/internal/trainer"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Size of the saved curve images.
var (
	CurveWidth  = 8 * vg.Inch
	CurveHeight = 6 * vg.Inch
)

// curve is one named series of values, one per epoch.
type curve struct {
	name   string
	values []float64
}

// epochXYs converts values to points with the epoch (starting at 1) as X, skipping NaNs.
func epochXYs(values []float64) plotter.XYs {
	xys := make(plotter.XYs, 0, len(values))
	for ii, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		xys = append(xys, plotter.XY{X: float64(ii + 1), Y: v})
	}
	return xys
}

func newCurvesPlot(title, yLabel string, yMin, yMax float64, curves ...curve) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = yLabel
	p.Y.Min, p.Y.Max = yMin, yMax
	p.Legend.Top = true
	p.Add(plotter.NewGrid())
	for ii, c := range curves {
		xys := epochXYs(c.values)
		if len(xys) == 0 {
			continue
		}
		line, points, err := plotter.NewLinePoints(xys)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to plot %q", c.name)
		}
		line.Width = vg.Points(2)
		line.Color = plotutil.Color(ii)
		points.Color = plotutil.Color(ii)
		points.Shape = plotutil.Shape(ii)
		p.Add(line, points)
		p.Legend.Add(c.name, line, points)
	}
	return p, nil
}

// LossPlot returns the plot of the training and validation losses.
func LossPlot(h *trainer.History) (*plot.Plot, error) {
	return newCurvesPlot("Training and Validation Loss", "Loss", 0, 2,
		curve{"Training Loss", h.Loss},
		curve{"Validation Loss", h.ValLoss})
}

// AccuracyPlot returns the plot of the training and validation accuracies.
func AccuracyPlot(h *trainer.History) (*plot.Plot, error) {
	return newCurvesPlot("Training and Validation Accuracy", "Accuracy", 0, 1,
		curve{"Training Accuracy", h.Accuracy},
		curve{"Validation Accuracy", h.ValAccuracy})
}

// SaveCurves saves the loss and accuracy curves to the PNG files lossPath and accuracyPath.
func SaveCurves(h *trainer.History, lossPath, accuracyPath string) error {
	for _, target := range []struct {
		path string
		fn   func(*trainer.History) (*plot.Plot, error)
	}{{lossPath, LossPlot}, {accuracyPath, AccuracyPlot}} {
		p, err := target.fn(h)
		if err != nil {
			return err
		}
		if err = p.Save(CurveWidth, CurveHeight, target.path); err != nil {
			return errors.Wrapf(err, "failed to save plot to %q", target.path)
		}
	}
	return nil
}
