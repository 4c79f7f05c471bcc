// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"image"
	"io"
	"runtime"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// MaxIntensity is the value of a saturated 8-bit color channel.
const MaxIntensity = 255.0

// Batcher implements train.Dataset over a Sequence: it yields consecutive batches of samples in
// the sequence order, with a last partial batch if the length is not a multiple of the batch size.
//
// Images are yielded as float32 tensors shaped [batch_size, height, width, 3] with raw intensities
// in [0, 255], and labels as int32 tensors shaped [batch_size, 1]. See Rescale to normalize the images.
type Batcher struct {
	seq         Sequence
	batchSize   int
	parallelism int
	toTensor    *timage.ToTensorConfig

	// mu protects next.
	mu   sync.Mutex
	next int
}

var _ train.Dataset = (*Batcher)(nil)

// NewBatcher creates a Batcher yielding batchSize samples of seq at a time.
func NewBatcher(seq Sequence, batchSize int) (*Batcher, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be > 0, got %d", batchSize)
	}
	return &Batcher{
		seq:         seq,
		batchSize:   batchSize,
		parallelism: runtime.NumCPU(),
		toTensor:    timage.ToTensor(dtypes.Float32).MaxValue(MaxIntensity),
	}, nil
}

// WithParallelism sets the maximum number of samples of a batch read concurrently. Default is the number of CPUs.
//
// It returns the Batcher, so calls can be cascaded.
func (b *Batcher) WithParallelism(n int) *Batcher {
	b.parallelism = max(n, 1)
	return b
}

// Name implements train.Dataset.
func (b *Batcher) Name() string { return b.seq.Name() }

// Len returns the number of samples in an epoch.
func (b *Batcher) Len() int { return b.seq.Len() }

// NumBatches returns the number of batches in an epoch, counting the partial one.
func (b *Batcher) NumBatches() int {
	return (b.seq.Len() + b.batchSize - 1) / b.batchSize
}

// Reset implements train.Dataset, restarting from the first sample.
func (b *Batcher) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = 0
}

// nextRange reserves the positions of the next batch.
func (b *Batcher) nextRange() (start, end int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start = b.next
	if start >= b.seq.Len() {
		return 0, 0, false
	}
	end = min(start+b.batchSize, b.seq.Len())
	b.next = end
	return start, end, true
}

// YieldSamples returns the samples of the next batch, or io.EOF at the end of the epoch.
// Samples are read concurrently, but returned in sequence order.
func (b *Batcher) YieldSamples() ([]Sample, error) {
	start, end, ok := b.nextRange()
	if !ok {
		return nil, io.EOF
	}
	samples := make([]Sample, end-start)
	var g errgroup.Group
	g.SetLimit(b.parallelism)
	for ii := range samples {
		g.Go(func() error {
			sample, err := b.seq.At(start + ii)
			if err != nil {
				return err
			}
			samples[ii] = sample
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.WithMessagef(err, "while reading batch [%d, %d) of %s", start, end, b.seq.Name())
	}
	return samples, nil
}

// Yield implements train.Dataset. The spec is always nil: all batches share the same model graph.
func (b *Batcher) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	var samples []Sample
	samples, err = b.YieldSamples()
	if err != nil {
		return
	}
	images := make([]image.Image, len(samples))
	labelValues := make([]int32, len(samples))
	for ii, sample := range samples {
		images[ii] = sample.Image
		labelValues[ii] = int32(sample.Label)
	}
	inputs = []*tensors.Tensor{b.toTensor.Batch(images)}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(labelValues, len(samples), 1)}
	return
}

// RescaleTensor divides in place every value of the float32 tensor t by divisor.
func RescaleTensor(t *tensors.Tensor, divisor float32) error {
	if divisor == 0 {
		return errors.New("cannot rescale by a divisor of 0")
	}
	return tensors.MutableFlatData[float32](t, func(flat []float32) {
		for ii := range flat {
			flat[ii] /= divisor
		}
	})
}

// rescaled divides the images yielded by an underlying dataset.
type rescaled struct {
	train.Dataset
	divisor float32
}

// Rescale wraps ds so the first input (the images) yielded is divided by divisor.
// With divisor = MaxIntensity it maps [0, 255] to [0, 1].
func Rescale(ds train.Dataset, divisor float32) train.Dataset {
	return &rescaled{Dataset: ds, divisor: divisor}
}

// Yield implements train.Dataset.
func (r *rescaled) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec, inputs, labels, err = r.Dataset.Yield()
	if err != nil {
		return
	}
	if len(inputs) == 0 {
		err = errors.Errorf("dataset %q yielded no inputs to rescale", r.Name())
		return
	}
	if err = RescaleTensor(inputs[0], r.divisor); err != nil {
		err = errors.WithMessagef(err, "rescaling images of %q", r.Name())
	}
	return
}
