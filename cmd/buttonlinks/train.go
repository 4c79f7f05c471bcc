// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/gomlx/buttonlinks/internal/augment"
	"github.com/gomlx/buttonlinks/internal/dataset"
	"github.com/gomlx/buttonlinks/internal/downloader"
	"github.com/gomlx/buttonlinks/internal/export"
	"github.com/gomlx/buttonlinks/internal/model"
	"github.com/gomlx/buttonlinks/internal/report"
	"github.com/gomlx/buttonlinks/internal/trainer"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// Files written to the output directory by the train command.
const (
	LossPlotFileName     = "loss.png"
	AccuracyPlotFileName = "accuracy.png"
	SamplesFileName      = "samples.png"
	BrowserDirName       = "model"
	BrowserZipFileName   = "model.zip"
)

func newTrainCmd(ctx *context.Context, opts *options) *cobra.Command {
	var noProgressBar bool
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Download the images, train the classifier and export it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return trainAndExport(cmd.OutOrStdout(), ctx, opts, !noProgressBar)
		},
	}
	cmd.Flags().BoolVar(&noProgressBar, "no_progress_bar", false, "Disable the training progress bar.")
	return cmd
}

// splitConfig builds the dataset split configuration from the context hyperparameters.
func splitConfig(ctx *context.Context) dataset.SplitConfig {
	cfg := dataset.DefaultSplitConfig()
	cfg.ValidationFraction = context.GetParamOr(ctx, model.ParamValidationSplit, cfg.ValidationFraction)
	cfg.Seed = uint64(context.GetParamOr(ctx, model.ParamSeed, int(cfg.Seed)))
	imageSize := context.GetParamOr(ctx, model.ParamImageSize, cfg.Width)
	cfg.Width, cfg.Height = imageSize, imageSize
	return cfg
}

// loadSplit fetches the images if needed, and splits them according to the context hyperparameters.
// It also sets the number of classes in the context.
func loadSplit(ctx *context.Context, opts *options) (*dataset.Split, error) {
	root, err := downloader.FetchDataset(opts.dataDir)
	if err != nil {
		return nil, err
	}
	split, err := dataset.LoadSplit(root, splitConfig(ctx))
	if err != nil {
		return nil, err
	}
	if len(split.Vocabulary) < 2 {
		return nil, errors.Errorf("need at least 2 classes to train, found %v in %q", split.Vocabulary, root)
	}
	ctx.SetParam(model.ParamNumClasses, len(split.Vocabulary))
	return split, nil
}

// trainAndExport runs the whole pipeline: data acquisition, augmentation, training, plots and export.
func trainAndExport(w io.Writer, ctx *context.Context, opts *options, progressBar bool) error {
	outDir, err := opts.outputDir()
	if err != nil {
		return err
	}
	split, err := loadSplit(ctx, opts)
	if err != nil {
		return err
	}
	backend, err := newBackend()
	if err != nil {
		return err
	}
	report.Backend(w, backend.Name(), backend.Description())
	report.Dataset(w, split.Index)
	report.Split(w, split)

	pipeline := augment.Build(split.Training, augment.ConfigFromContext(ctx))
	report.Augmentation(w, pipeline.Stages())
	klog.Infof("Training on %d augmented samples (%d original)", pipeline.Augmented.Len(), pipeline.Base.Len())
	if err = report.SaveSampleGrid(filepath.Join(outDir, SamplesFileName), split.Training, split.Vocabulary,
		report.DefaultGridConfig()); err != nil {
		return err
	}

	batchSize := context.GetParamOr(ctx, model.ParamBatchSize, 32)
	trainBatches, err := dataset.NewBatcher(pipeline.Augmented, batchSize)
	if err != nil {
		return err
	}
	trainDS := dataset.Rescale(trainBatches, dataset.MaxIntensity)
	if prefetch := context.GetParamOr(ctx, model.ParamPrefetch, 0); prefetch > 1 {
		trainDS = datasets.ReadAhead(trainDS, prefetch)
	}
	validationBatches, err := dataset.NewBatcher(split.Validation, batchSize)
	if err != nil {
		return err
	}
	validationDS := dataset.Rescale(validationBatches, dataset.MaxIntensity)

	result, err := trainer.Train(backend, ctx, trainDS, validationDS, trainer.Options{
		OutputDir:   outDir,
		ProgressBar: progressBar,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(w, report.Heading("Training history"))
	result.History.Table(w)
	if err = report.SaveCurves(result.History, filepath.Join(outDir, LossPlotFileName),
		filepath.Join(outDir, AccuracyPlotFileName)); err != nil {
		return err
	}

	modelPath := export.DefaultModelPath(outDir)
	header, err := export.SaveModel(modelPath, ctx, export.Metadata{
		ClassNames: split.Vocabulary,
		ImageSize:  splitConfig(ctx).Width,
	})
	if err != nil {
		return err
	}
	report.Field(w, "Model", modelPath)
	report.Field(w, "Model ID", header.ModelID)
	if err = exportBrowser(w, modelPath, outDir); err != nil {
		return err
	}
	return checkModel(w, backend, modelPath, split)
}

// exportBrowser converts the model file to a browser bundle under outDir and zips it.
func exportBrowser(w io.Writer, modelPath, outDir string) error {
	bundleDir := filepath.Join(outDir, BrowserDirName)
	if _, err := export.ConvertToBrowser(modelPath, bundleDir); err != nil {
		return err
	}
	zipPath := filepath.Join(outDir, BrowserZipFileName)
	if err := export.ZipDir(bundleDir, zipPath); err != nil {
		return err
	}
	report.Field(w, "Browser bundle", bundleDir)
	report.Field(w, "Browser bundle (zip)", zipPath)
	return nil
}
