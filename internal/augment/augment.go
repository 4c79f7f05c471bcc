// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package augment widens a small training set with randomized, label-preserving copies of its images.
//
// The pipeline is a fixed chain of named stages, each built from the previous ones:
//
//	Base       = training samples                          (n)
//	Saturated  = Map(Base, random saturation)              (n)
//	HueShifted = Map(Base, random hue)                     (n)
//	Contrasted = Map(Base, random contrast)                (n)
//	Colored    = Concat(Base, Saturated, HueShifted, Contrasted)  (4n)
//	Rotated    = Map(Colored, random rotation)             (4n)
//	Augmented  = Concat(Colored, Rotated)                  (8n)
//
// Randomness is drawn per sample from a generator seeded by the stage and the sample index, so
// every stage is deterministic and can be traversed again in the following epochs.
package augment

import (
	"image"

	"github.com/gomlx/buttonlinks/internal/dataset"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Context hyperparameters for the augmentation ranges.
const (
	ParamSaturationMin = "augment_saturation_min"
	ParamSaturationMax = "augment_saturation_max"
	ParamHueMaxDelta   = "augment_hue_max_delta"
	ParamContrastMin   = "augment_contrast_min"
	ParamContrastMax   = "augment_contrast_max"
	ParamRotationMin   = "augment_rotation_min"
	ParamRotationMax   = "augment_rotation_max"
	ParamSeed          = "augment_seed"
)

// Config holds the ranges random perturbation factors are drawn from.
type Config struct {
	// Saturation multiplier range.
	Saturation Range

	// HueMaxDelta is the maximum hue rotation, as a fraction of a full turn: deltas are drawn from [-HueMaxDelta, HueMaxDelta].
	HueMaxDelta float64

	// Contrast factor range.
	Contrast Range

	// Rotation range, as fractions of a full turn (positive is counter-clockwise).
	Rotation Range

	// Seed of all stages.
	Seed uint64
}

// DefaultConfig returns the perturbation ranges used to train the button/text-link classifier.
func DefaultConfig() Config {
	return Config{
		Saturation:  Range{0.5, 1.0},
		HueMaxDelta: 0.5,
		Contrast:    Range{0.2, 1.0},
		Rotation:    Range{-0.2, 0.3},
		Seed:        2,
	}
}

// ConfigFromContext reads the configuration from the context hyperparameters, falling back to DefaultConfig.
func ConfigFromContext(ctx *context.Context) Config {
	cfg := DefaultConfig()
	cfg.Saturation.Min = context.GetParamOr(ctx, ParamSaturationMin, cfg.Saturation.Min)
	cfg.Saturation.Max = context.GetParamOr(ctx, ParamSaturationMax, cfg.Saturation.Max)
	cfg.HueMaxDelta = context.GetParamOr(ctx, ParamHueMaxDelta, cfg.HueMaxDelta)
	cfg.Contrast.Min = context.GetParamOr(ctx, ParamContrastMin, cfg.Contrast.Min)
	cfg.Contrast.Max = context.GetParamOr(ctx, ParamContrastMax, cfg.Contrast.Max)
	cfg.Rotation.Min = context.GetParamOr(ctx, ParamRotationMin, cfg.Rotation.Min)
	cfg.Rotation.Max = context.GetParamOr(ctx, ParamRotationMax, cfg.Rotation.Max)
	cfg.Seed = uint64(context.GetParamOr(ctx, ParamSeed, int(cfg.Seed)))
	return cfg
}

// Salts mixed into Config.Seed, so stages draw independent perturbations.
const (
	saturationSalt uint64 = 0x5a7
	hueSalt        uint64 = 0x4e0
	contrastSalt   uint64 = 0xc07
	rotationSalt   uint64 = 0x207
)

// Pipeline holds every named stage of the augmentation chain.
type Pipeline struct {
	Base, Saturated, HueShifted, Contrasted dataset.Sequence
	Colored, Rotated, Augmented             dataset.Sequence
}

// Build assembles the augmentation stages on top of base. Nothing is read or computed until samples are requested.
func Build(base dataset.Sequence, cfg Config) *Pipeline {
	p := &Pipeline{Base: base}
	p.Saturated = dataset.Map("saturation", p.Base, func(index int, img *image.NRGBA) *image.NRGBA {
		factor := cfg.Saturation.sample(rngFor(cfg.Seed^saturationSalt, index))
		return AdjustSaturation(img, factor)
	})
	p.HueShifted = dataset.Map("hue", p.Base, func(index int, img *image.NRGBA) *image.NRGBA {
		delta := Range{-cfg.HueMaxDelta, cfg.HueMaxDelta}.sample(rngFor(cfg.Seed^hueSalt, index))
		return AdjustHue(img, delta)
	})
	p.Contrasted = dataset.Map("contrast", p.Base, func(index int, img *image.NRGBA) *image.NRGBA {
		factor := cfg.Contrast.sample(rngFor(cfg.Seed^contrastSalt, index))
		return AdjustContrast(img, factor)
	})
	p.Colored = dataset.Concat("colored", p.Base, p.Saturated, p.HueShifted, p.Contrasted)
	p.Rotated = dataset.Map("rotation", p.Colored, func(index int, img *image.NRGBA) *image.NRGBA {
		turns := cfg.Rotation.sample(rngFor(cfg.Seed^rotationSalt, index))
		return Rotate(img, turns)
	})
	p.Augmented = dataset.Concat(base.Name()+" (augmented)", p.Colored, p.Rotated)
	return p
}

// StageInfo describes one stage of the pipeline.
type StageInfo struct {
	Name string
	Len  int
}

// Stages lists every stage in build order.
func (p *Pipeline) Stages() []StageInfo {
	var infos []StageInfo
	for _, seq := range []dataset.Sequence{p.Base, p.Saturated, p.HueShifted, p.Contrasted, p.Colored, p.Rotated, p.Augmented} {
		infos = append(infos, StageInfo{Name: seq.Name(), Len: seq.Len()})
	}
	return infos
}
