// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dataset indexes a directory of labeled images (one subdirectory per class), splits it
// deterministically into training and validation, and exposes the samples as lazy sequences that
// can be batched into a train.Dataset.
package dataset

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// AllowedExtensions lists the image file extensions (lower case) picked up by Discover.
var AllowedExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp"}

// Vocabulary is the ordered list of class names. The label of a class is its index.
type Vocabulary []string

// Index of name in the vocabulary, or -1 if not present.
func (v Vocabulary) Index(name string) int {
	return slices.Index(v, name)
}

// File is an image file and its class label.
type File struct {
	Path  string
	Label int
}

// Index holds the files found under a root directory.
type Index struct {
	Root       string
	Vocabulary Vocabulary
	Files      []File
}

// Count returns the total number of image files.
func (idx *Index) Count() int { return len(idx.Files) }

// CountPerClass returns the number of image files per class name.
func (idx *Index) CountPerClass() map[string]int {
	counts := make(map[string]int, len(idx.Vocabulary))
	for _, name := range idx.Vocabulary {
		counts[name] = 0
	}
	for _, f := range idx.Files {
		counts[idx.Vocabulary[f.Label]]++
	}
	return counts
}

// isImageFile checks the file extension against AllowedExtensions.
func isImageFile(name string) bool {
	return slices.Contains(AllowedExtensions, strings.ToLower(filepath.Ext(name)))
}

// Discover scans root: each immediate subdirectory is a class, and every image file beneath it
// (recursively) is a sample of that class.
//
// Classes are sorted by name, and files within a class are sorted by their path, so the returned
// Index is the same for the same directory contents.
func Discover(root string) (*Index, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list dataset directory %q", root)
	}
	idx := &Index{Root: root}
	for _, entry := range entries {
		if entry.IsDir() {
			idx.Vocabulary = append(idx.Vocabulary, entry.Name())
		}
	}
	slices.Sort(idx.Vocabulary)
	if len(idx.Vocabulary) == 0 {
		return nil, errors.Errorf("no class subdirectories found in %q", root)
	}

	for label, className := range idx.Vocabulary {
		classDir := filepath.Join(root, className)
		var classFiles []string
		err = filepath.WalkDir(classDir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if !isImageFile(d.Name()) {
				klog.V(2).Infof("skipping non-image file %q", p)
				return nil
			}
			classFiles = append(classFiles, p)
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan class directory %q", classDir)
		}
		slices.Sort(classFiles)
		for _, p := range classFiles {
			idx.Files = append(idx.Files, File{Path: p, Label: label})
		}
	}
	if len(idx.Files) == 0 {
		return nil, errors.Errorf("no images found in %q (looked for extensions %v)", root, AllowedExtensions)
	}
	return idx, nil
}
