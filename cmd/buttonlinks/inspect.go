// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"path/filepath"

	"github.com/gomlx/buttonlinks/internal/augment"
	"github.com/gomlx/buttonlinks/internal/report"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/spf13/cobra"
)

// AugmentedSamplesFileName is the grid of rotated samples written by the inspect command.
const AugmentedSamplesFileName = "augmented_samples.png"

func newInspectCmd(ctx *context.Context, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Download the images and report on the dataset, without training",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			outDir, err := opts.outputDir()
			if err != nil {
				return err
			}
			split, err := loadSplit(ctx, opts)
			if err != nil {
				return err
			}
			report.Dataset(w, split.Index)
			report.Split(w, split)
			pipeline := augment.Build(split.Training, augment.ConfigFromContext(ctx))
			report.Augmentation(w, pipeline.Stages())

			cfg := report.DefaultGridConfig()
			samplesPath := filepath.Join(outDir, SamplesFileName)
			if err = report.SaveSampleGrid(samplesPath, split.Training, split.Vocabulary, cfg); err != nil {
				return err
			}
			augmentedPath := filepath.Join(outDir, AugmentedSamplesFileName)
			if err = report.SaveSampleGrid(augmentedPath, pipeline.Rotated, split.Vocabulary, cfg); err != nil {
				return err
			}
			report.Field(w, "Samples", samplesPath)
			report.Field(w, "Augmented samples", augmentedPath)
			return nil
		},
	}
}
