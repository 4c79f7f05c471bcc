// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// buttonlinks trains a small CNN that tells screenshots of buttons from screenshots of text links,
// exports it for the browser and classifies new images with it.
//
// Typical use:
//
//	buttonlinks train --data=~/work/buttonlinks --set="num_epochs=10;batch_size=32"
//	buttonlinks predict --model=~/work/buttonlinks/output/buttonlinks.gmodel screenshot.png
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/buttonlinks/internal/augment"
	"github.com/gomlx/buttonlinks/internal/model"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

// options shared by all sub-commands.
type options struct {
	dataDir, outDir string

	// settings of the context hyperparameters, in the format of commandline.ParseContextSettings.
	settings *string
}

// outputDir returns the directory where generated files are written, creating it if needed.
func (o *options) outputDir() (string, error) {
	dir := fsutil.MustReplaceTildeInDir(o.outDir)
	if err := os.MkdirAll(dir, 0777); err != nil {
		return "", errors.Wrapf(err, "failed to create output directory %q", dir)
	}
	return dir, nil
}

// createDefaultContext holds the model hyperparameters and the augmentation ranges, so all of them
// can be changed with --set.
func createDefaultContext() *context.Context {
	ctx := model.CreateDefaultContext()
	cfg := augment.DefaultConfig()
	ctx.SetParams(map[string]any{
		augment.ParamSaturationMin: cfg.Saturation.Min,
		augment.ParamSaturationMax: cfg.Saturation.Max,
		augment.ParamHueMaxDelta:   cfg.HueMaxDelta,
		augment.ParamContrastMin:   cfg.Contrast.Min,
		augment.ParamContrastMax:   cfg.Contrast.Max,
		augment.ParamRotationMin:   cfg.Rotation.Min,
		augment.ParamRotationMax:   cfg.Rotation.Max,
		augment.ParamSeed:          int(cfg.Seed),
	})
	return ctx
}

// newBackend creates the backend configured by $GOMLX_BACKEND, or the default one.
func newBackend() (backend backends.Backend, err error) {
	err = exceptions.TryCatch[error](func() { backend = backends.MustNew() })
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create backend")
	}
	return backend, nil
}

// NewCLI creates the root command with all sub-commands.
func NewCLI(ctx *context.Context, opts *options) *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "buttonlinks",
		Short:         "Button vs. text-link image classifier",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			paramsSet, err := commandline.ParseContextSettings(ctx, *opts.settings)
			if err != nil {
				return err
			}
			// The seed may have been changed.
			ctx.SetRNGStateFromSeed(int64(context.GetParamOr(ctx, model.ParamSeed, 123)))
			if len(paramsSet) > 0 {
				klog.V(1).Infof("Modified settings:\n%s", commandline.SprintModifiedContextSettings(ctx, paramsSet))
			}
			return nil
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.dataDir, "data", "~/work/buttonlinks", "Directory to cache the downloaded images.")
	flags.StringVar(&opts.outDir, "out", "~/work/buttonlinks/output",
		"Directory where the trained model, its browser bundle, plots and reports are written.")
	flags.AddGoFlagSet(flag.CommandLine)

	rootCmd.AddCommand(
		newTrainCmd(ctx, opts),
		newExportCmd(opts),
		newPredictCmd(opts),
		newInspectCmd(ctx, opts),
	)
	return rootCmd
}

func main() {
	ctx := createDefaultContext()
	opts := &options{settings: commandline.CreateContextSettingsFlag(ctx, "")}
	klog.InitFlags(nil)
	if err := NewCLI(ctx, opts).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}
