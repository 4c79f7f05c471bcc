// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
)

// Sample is one image with its class label.
type Sample struct {
	// Image is opaque and already resized to the sequence's dimensions.
	// It is shared with caches: never modify it in place.
	Image *image.NRGBA

	// Label is the class index in the Vocabulary.
	Label int

	// Path of the source file.
	Path string
}

// Sequence is a finite, lazy, random-access sequence of labeled samples.
//
// At(i) always returns the same sample for the same i, so a Sequence can be traversed any number
// of times (once per epoch) in the same order. Implementations must be safe for concurrent calls to At.
type Sequence interface {
	// Name of the sequence, used for logging.
	Name() string

	// Len returns the number of samples.
	Len() int

	// At returns the i-th sample, for 0 <= i < Len().
	At(i int) (Sample, error)
}

// ImageFn transforms the image at position index of a sequence. It must not modify img, and should
// return a new image of the same dimensions.
type ImageFn func(index int, img *image.NRGBA) *image.NRGBA

// LoadImage decodes the image file at imagePath.
func LoadImage(imagePath string) (image.Image, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open image %q", imagePath)
	}
	defer func() { _ = f.Close() }()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %q", imagePath)
	}
	return img, nil
}

// Preprocess drops the alpha channel (keeping the color values, like an RGB conversion) and
// stretches the image to width x height with bilinear interpolation.
//
// Training and inference must share this exact function.
func Preprocess(img image.Image, width, height int) *image.NRGBA {
	opaque := imaging.Clone(img)
	for ii := 3; ii < len(opaque.Pix); ii += 4 {
		opaque.Pix[ii] = 0xFF
	}
	if b := opaque.Bounds(); b.Dx() == width && b.Dy() == height {
		return opaque
	}
	return imaging.Resize(opaque, width, height, imaging.Linear)
}

// fileSequence reads and preprocesses images on demand.
type fileSequence struct {
	name          string
	files         []File
	width, height int
}

// FromFiles creates a Sequence that decodes each file when it is requested, resizing it to width x height.
func FromFiles(name string, files []File, width, height int) Sequence {
	return &fileSequence{name: name, files: files, width: width, height: height}
}

func (s *fileSequence) Name() string { return s.name }
func (s *fileSequence) Len() int     { return len(s.files) }

func (s *fileSequence) At(i int) (Sample, error) {
	if i < 0 || i >= len(s.files) {
		return Sample{}, errors.Errorf("%s: index %d out of range [0, %d)", s.name, i, len(s.files))
	}
	f := s.files[i]
	img, err := LoadImage(f.Path)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Image: Preprocess(img, s.width, s.height), Label: f.Label, Path: f.Path}, nil
}

// cachedSequence memoizes the samples of an upstream sequence.
type cachedSequence struct {
	Sequence
	mu      sync.Mutex
	samples []*Sample
}

// Cache returns a Sequence that keeps in memory every sample read from seq.
// The order and content are unchanged.
func Cache(seq Sequence) Sequence {
	return &cachedSequence{Sequence: seq, samples: make([]*Sample, seq.Len())}
}

func (s *cachedSequence) At(i int) (Sample, error) {
	if i < 0 || i >= len(s.samples) {
		return s.Sequence.At(i) // Let upstream report the error.
	}
	s.mu.Lock()
	cached := s.samples[i]
	s.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	sample, err := s.Sequence.At(i)
	if err != nil {
		return Sample{}, err
	}
	s.mu.Lock()
	s.samples[i] = &sample
	s.mu.Unlock()
	return sample, nil
}

// mappedSequence applies an ImageFn to the samples of an upstream sequence.
type mappedSequence struct {
	name string
	up   Sequence
	fn   ImageFn
}

// Map returns a Sequence with fn applied to every image of seq. Labels and paths are carried over unchanged.
func Map(name string, seq Sequence, fn ImageFn) Sequence {
	return &mappedSequence{name: name, up: seq, fn: fn}
}

func (s *mappedSequence) Name() string { return s.name }
func (s *mappedSequence) Len() int     { return s.up.Len() }

func (s *mappedSequence) At(i int) (Sample, error) {
	sample, err := s.up.At(i)
	if err != nil {
		return Sample{}, errors.WithMessagef(err, "in %s", s.name)
	}
	sample.Image = s.fn(i, sample.Image)
	return sample, nil
}

// concatSequence chains sequences one after the other.
type concatSequence struct {
	name string
	seqs []Sequence

	// ends[i] is the cumulative length up to and including seqs[i].
	ends []int
}

// Concat returns a Sequence with all samples of seqs[0], followed by all samples of seqs[1], and so on.
func Concat(name string, seqs ...Sequence) Sequence {
	s := &concatSequence{name: name, seqs: seqs, ends: make([]int, len(seqs))}
	total := 0
	for ii, seq := range seqs {
		total += seq.Len()
		s.ends[ii] = total
	}
	return s
}

func (s *concatSequence) Name() string { return s.name }

func (s *concatSequence) Len() int {
	if len(s.ends) == 0 {
		return 0
	}
	return s.ends[len(s.ends)-1]
}

func (s *concatSequence) At(i int) (Sample, error) {
	if i < 0 || i >= s.Len() {
		return Sample{}, errors.Errorf("%s: index %d out of range [0, %d)", s.name, i, s.Len())
	}
	seqIdx := sort.SearchInts(s.ends, i+1)
	start := 0
	if seqIdx > 0 {
		start = s.ends[seqIdx-1]
	}
	return s.seqs[seqIdx].At(i - start)
}
