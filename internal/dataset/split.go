// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"math/rand/v2"
	"slices"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SplitConfig configures LoadSplit.
type SplitConfig struct {
	// ValidationFraction of the files reserved for validation, in [0, 1).
	ValidationFraction float64

	// Seed of the shuffle that precedes the split. The same seed always yields the same partition.
	Seed uint64

	// Width and Height images are resized to on load.
	Width, Height int

	// Cache decoded samples in memory.
	Cache bool
}

// DefaultSplitConfig returns the configuration used to train the button/text-link classifier.
func DefaultSplitConfig() SplitConfig {
	return SplitConfig{
		ValidationFraction: 0.4,
		Seed:               123,
		Width:              256,
		Height:             256,
		Cache:              true,
	}
}

// Partition shuffles a copy of files with a generator seeded by seed, and reserves the last
// int(validationFraction*len(files)) of them for validation.
//
// The partition is a pure function of its arguments: the two parts are disjoint and together hold every
// input file exactly once.
func Partition(files []File, validationFraction float64, seed uint64) (train, validation []File, err error) {
	if validationFraction < 0 || validationFraction >= 1 {
		return nil, nil, errors.Errorf("validation fraction must be in [0, 1), got %g", validationFraction)
	}
	shuffled := slices.Clone(files)
	rng := rand.New(rand.NewPCG(seed, seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	numValidation := int(validationFraction * float64(len(shuffled)))
	numTrain := len(shuffled) - numValidation
	return shuffled[:numTrain:numTrain], shuffled[numTrain:], nil
}

// Split holds the training and validation sequences built from one directory, sharing one vocabulary.
type Split struct {
	Index      *Index
	Vocabulary Vocabulary

	TrainFiles, ValidationFiles []File

	Training, Validation Sequence
}

// LoadSplit discovers the images under root and splits them into training and validation sequences.
//
// Calling it twice with the same directory contents and configuration yields the same partitions.
func LoadSplit(root string, cfg SplitConfig) (*Split, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.Errorf("invalid image size %dx%d", cfg.Width, cfg.Height)
	}
	idx, err := Discover(root)
	if err != nil {
		return nil, err
	}
	trainFiles, validationFiles, err := Partition(idx.Files, cfg.ValidationFraction, cfg.Seed)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("split %d files: %d for training, %d for validation", idx.Count(), len(trainFiles), len(validationFiles))

	s := &Split{
		Index:           idx,
		Vocabulary:      idx.Vocabulary,
		TrainFiles:      trainFiles,
		ValidationFiles: validationFiles,
		Training:        FromFiles("Training", trainFiles, cfg.Width, cfg.Height),
		Validation:      FromFiles("Validation", validationFiles, cfg.Width, cfg.Height),
	}
	if cfg.Cache {
		s.Training = Cache(s.Training)
		s.Validation = Cache(s.Validation)
	}
	return s, nil
}
