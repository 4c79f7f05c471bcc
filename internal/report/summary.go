// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package report prints the console summaries of a training run and renders its images:
// the loss and accuracy curves and a grid of sample images.
package report

import (
	"fmt"
	"io"
	"runtime/debug"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/buttonlinks/internal/augment"
	"github.com/gomlx/buttonlinks/internal/dataset"
	"github.com/olekukonko/tablewriter"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// Heading renders a section title.
func Heading(title string) string {
	return headingStyle.Render(title)
}

// Field writes one "name: value" line.
func Field(w io.Writer, name string, value any) {
	_, _ = fmt.Fprintf(w, "%s:\t%s\n", name, valueStyle.Render(fmt.Sprint(value)))
}

// GoMLXModule is the module path of the ML framework, whose version is reported by Backend.
const GoMLXModule = "github.com/gomlx/gomlx"

// moduleVersion returns the version of the module path linked in the binary described by info,
// or "unknown" if it is not listed.
func moduleVersion(info *debug.BuildInfo, path string) string {
	if info == nil {
		return "unknown"
	}
	for _, dep := range info.Deps {
		if dep.Path != path {
			continue
		}
		if dep.Replace != nil && dep.Replace.Version != "" {
			return dep.Replace.Version
		}
		return dep.Version
	}
	if info.Main.Path == path && info.Main.Version != "" {
		return info.Main.Version
	}
	return "unknown"
}

// GoMLXVersion returns the version of GoMLX built into the running binary.
func GoMLXVersion() string {
	info, _ := debug.ReadBuildInfo()
	return moduleVersion(info, GoMLXModule)
}

// Backend writes the GoMLX version and the name and description of the compute backend.
func Backend(w io.Writer, name, description string) {
	Field(w, fmt.Sprintf("Backend %q", name), fmt.Sprintf("%s (GoMLX %s)", description, GoMLXVersion()))
}

// Dataset writes the summary of the dataset found in idx: where it is, how many images, and the
// images per class.
func Dataset(w io.Writer, idx *dataset.Index) {
	_, _ = fmt.Fprintln(w, Heading("Dataset"))
	Field(w, "Path", idx.Root)
	Field(w, "Images", humanize.Comma(int64(idx.Count())))
	Field(w, "Classes", strings.Join(idx.Vocabulary, ", "))

	counts := idx.CountPerClass()
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Label", "Class", "Images"})
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for label, name := range idx.Vocabulary {
		table.Append([]string{fmt.Sprint(label), name, humanize.Comma(int64(counts[name]))})
	}
	table.Render()
}

// Split writes the sizes of the training and validation partitions.
func Split(w io.Writer, split *dataset.Split) {
	_, _ = fmt.Fprintln(w, Heading("Split"))
	Field(w, split.Training.Name(), humanize.Comma(int64(split.Training.Len())))
	Field(w, split.Validation.Name(), humanize.Comma(int64(split.Validation.Len())))
}

// Augmentation writes the size of each stage of the augmentation pipeline.
func Augmentation(w io.Writer, stages []augment.StageInfo) {
	_, _ = fmt.Fprintln(w, Heading("Augmentation"))
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Stage", "Images"})
	table.SetBorder(false)
	for _, stage := range stages {
		table.Append([]string{stage.Name, humanize.Comma(int64(stage.Len))})
	}
	table.Render()
}
