// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"fmt"
	"io"
	"maps"
	"math"
	"slices"

	"github.com/gomlx/gomlx/ui/plots"
	"github.com/olekukonko/tablewriter"
	"k8s.io/klog/v2"
)

// History holds one value per epoch of each of the tracked metrics, in epoch order.
type History struct {
	// Steps holds the global step at the end of each epoch.
	Steps []int

	Loss, Accuracy       []float64
	ValLoss, ValAccuracy []float64
}

// Len returns the number of epochs recorded.
func (h *History) Len() int { return len(h.Loss) }

// Table writes the history as a console table, one row per epoch.
func (h *History) Table(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Epoch", "Step", "Loss", "Accuracy", "Val Loss", "Val Accuracy"})
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	rows := make([][]string, 0, h.Len())
	for ii := range h.Len() {
		rows = append(rows, []string{
			fmt.Sprintf("%d", ii+1),
			fmt.Sprintf("%d", h.Steps[ii]),
			fmt.Sprintf("%.4f", h.Loss[ii]),
			fmt.Sprintf("%.2f%%", 100*h.Accuracy[ii]),
			fmt.Sprintf("%.4f", h.ValLoss[ii]),
			fmt.Sprintf("%.2f%%", 100*h.ValAccuracy[ii]),
		})
	}
	table.AppendBulk(rows)
	table.Render()
}

// MetricNames are the names of the plot points (see plots.Point.MetricName) holding each of the History values.
type MetricNames struct {
	Loss, Accuracy, ValLoss, ValAccuracy string
}

// HistoryFromPoints collects the points matching names into a History, one epoch per distinct step, in
// increasing step order. Metrics missing at a step are recorded as NaN.
//
// It can be used with the points saved during training, see plots.LoadPoints.
func HistoryFromPoints(points []plots.Point, names MetricNames) *History {
	byStep := plots.NewPoints(points)
	h := &History{}
	for _, step := range slices.Sorted(maps.Keys(byStep)) {
		values := map[string]float64{}
		for _, p := range byStep[step] {
			values[p.MetricName] = p.Value
		}
		get := func(name string) float64 {
			if v, found := values[name]; found {
				return v
			}
			return math.NaN()
		}
		if _, found := values[names.Loss]; !found {
			if _, found := values[names.ValLoss]; !found {
				// Unrelated points only.
				continue
			}
		}
		h.Steps = append(h.Steps, int(step))
		h.Loss = append(h.Loss, get(names.Loss))
		h.Accuracy = append(h.Accuracy, get(names.Accuracy))
		h.ValLoss = append(h.ValLoss, get(names.ValLoss))
		h.ValAccuracy = append(h.ValAccuracy, get(names.ValAccuracy))
	}
	return h
}

// recorder implements plots.Plotter: it keeps every point in memory and optionally forwards it to a
// points writer (see plots.CreatePointsWriter).
type recorder struct {
	points []plots.Point
	writer chan<- plots.Point
}

var _ plots.Plotter = (*recorder)(nil)

// AddPoint implements plots.Plotter.
func (r *recorder) AddPoint(point plots.Point) {
	r.points = append(r.points, point)
	if r.writer != nil {
		r.writer <- point
	}
}

// DynamicSampleDone implements plots.Plotter.
func (r *recorder) DynamicSampleDone(incomplete bool) {
	if incomplete {
		klog.Warningf("Some metrics were NaN or infinite, they were not recorded.")
	}
}
