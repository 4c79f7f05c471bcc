// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/gomlx/buttonlinks/internal/classifier"
	"github.com/gomlx/buttonlinks/internal/dataset"
	"github.com/gomlx/buttonlinks/internal/export"
	"github.com/gomlx/buttonlinks/internal/report"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/spf13/cobra"
)

// modelPath returns the --model flag value, or the model file in the output directory if not set.
func modelPath(opts *options, flagValue string) string {
	if flagValue != "" {
		return fsutil.MustReplaceTildeInDir(flagValue)
	}
	return export.DefaultModelPath(fsutil.MustReplaceTildeInDir(opts.outDir))
}

func newPredictCmd(opts *options) *cobra.Command {
	var flagModel string
	cmd := &cobra.Command{
		Use:   "predict IMAGE...",
		Short: "Classify images with a trained model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := classifier.New(modelPath(opts, flagModel))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, imagePath := range args {
				p, err := c.ClassifyFile(fsutil.MustReplaceTildeInDir(imagePath))
				if err != nil {
					return err
				}
				if len(args) > 1 {
					_, _ = fmt.Fprintf(w, "%s: ", imagePath)
				}
				_, _ = fmt.Fprintln(w, p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flagModel, "model", "", "Path to the model file. Defaults to the one in the --out directory.")
	return cmd
}

func newExportCmd(opts *options) *cobra.Command {
	var flagModel string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Convert a trained model to a browser bundle, and zip it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outDir, err := opts.outputDir()
			if err != nil {
				return err
			}
			return exportBrowser(cmd.OutOrStdout(), modelPath(opts, flagModel), outDir)
		},
	}
	cmd.Flags().StringVar(&flagModel, "model", "", "Path to the model file. Defaults to the one in the --out directory.")
	return cmd
}

// checkModel reloads the exported model and classifies the first validation image, as a sanity check.
func checkModel(w io.Writer, backend backends.Backend, modelPath string, split *dataset.Split) error {
	if split.Validation.Len() == 0 {
		return nil
	}
	sample, err := split.Validation.At(0)
	if err != nil {
		return err
	}
	c, err := classifier.NewWithBackend(backend, modelPath)
	if err != nil {
		return err
	}
	p, err := c.Classify(sample.Image)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, report.Heading("Sample prediction"))
	report.Field(w, "Image", filepath.Base(sample.Path))
	report.Field(w, "Class", split.Vocabulary[sample.Label])
	_, _ = fmt.Fprintln(w, p)
	return nil
}
