package dataset

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFixture creates root/buttons with numButtons images and root/text-links with numLinks images.
func writeFixture(t *testing.T, numButtons, numLinks int) string {
	root := t.TempDir()
	for className, count := range map[string]int{"buttons": numButtons, "text-links": numLinks} {
		dir := filepath.Join(root, className)
		require.NoError(t, os.MkdirAll(dir, 0755))
		for ii := range count {
			img := imaging.New(40+ii, 20, color.NRGBA{R: uint8(ii * 10), G: 100, B: 200, A: 255})
			require.NoError(t, imaging.Save(img, filepath.Join(dir, fmt.Sprintf("%03d.png", ii))))
		}
	}
	return root
}

// memSequence is an in-memory Sequence of solid images, where the red channel encodes the position.
type memSequence struct {
	name    string
	samples []Sample
}

func newMemSequence(name string, labels ...int) *memSequence {
	s := &memSequence{name: name}
	for ii, label := range labels {
		img := imaging.New(4, 3, color.NRGBA{R: uint8(ii), G: 0, B: 255, A: 255})
		s.samples = append(s.samples, Sample{Image: img, Label: label, Path: fmt.Sprintf("%s/%d", name, ii)})
	}
	return s
}

func (s *memSequence) Name() string { return s.name }
func (s *memSequence) Len() int     { return len(s.samples) }
func (s *memSequence) At(i int) (Sample, error) {
	if i < 0 || i >= len(s.samples) {
		return Sample{}, fmt.Errorf("out of range %d", i)
	}
	return s.samples[i], nil
}

func TestDiscover(t *testing.T) {
	root := writeFixture(t, 3, 2)
	require.NoError(t, os.WriteFile(filepath.Join(root, "buttons", "README.txt"), []byte("x"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "text-links", "nested"), 0755))
	require.NoError(t, imaging.Save(imaging.New(5, 5, color.White), filepath.Join(root, "text-links", "nested", "deep.PNG")))

	idx, err := Discover(root)
	require.NoError(t, err)
	assert.Equal(t, Vocabulary{"buttons", "text-links"}, idx.Vocabulary)
	assert.Equal(t, 6, idx.Count())
	assert.Equal(t, map[string]int{"buttons": 3, "text-links": 3}, idx.CountPerClass())
	assert.Equal(t, 1, idx.Vocabulary.Index("text-links"))
	// Files in nested directories belong to the top-level class directory.
	deepLabel := -1
	for _, f := range idx.Files {
		classDir := filepath.Join(root, idx.Vocabulary[f.Label])
		assert.True(t, strings.HasPrefix(f.Path, classDir+string(filepath.Separator)), f.Path)
		if filepath.Base(f.Path) == "deep.PNG" {
			deepLabel = f.Label
		}
	}
	assert.Equal(t, 1, deepLabel)

	_, err = Discover(t.TempDir())
	require.Error(t, err, "no classes")
}

func TestPartition(t *testing.T) {
	var files []File
	for ii := range 101 {
		files = append(files, File{Path: fmt.Sprintf("f%03d.png", ii), Label: ii % 2})
	}
	train1, val1, err := Partition(files, 0.4, 123)
	require.NoError(t, err)
	train2, val2, err := Partition(files, 0.4, 123)
	require.NoError(t, err)
	assert.Equal(t, train1, train2)
	assert.Equal(t, val1, val2)
	assert.Len(t, val1, 40)
	assert.Len(t, train1, 61)

	// Disjoint and complementary.
	seen := make(map[string]int)
	for _, f := range append(slices.Clone(train1), val1...) {
		seen[f.Path]++
	}
	assert.Len(t, seen, len(files))
	for p, count := range seen {
		assert.Equal(t, 1, count, p)
	}

	// A different seed gives a different order.
	train3, _, err := Partition(files, 0.4, 7)
	require.NoError(t, err)
	assert.NotEqual(t, train1, train3)

	// Input is untouched.
	assert.Equal(t, "f000.png", files[0].Path)

	_, _, err = Partition(files, 1.0, 123)
	require.Error(t, err)
	_, _, err = Partition(files, -0.1, 123)
	require.Error(t, err)
}

func TestLoadSplit(t *testing.T) {
	const numButtons, numLinks = 7, 5
	root := writeFixture(t, numButtons, numLinks)
	cfg := DefaultSplitConfig()
	cfg.Width, cfg.Height = 16, 16

	split, err := LoadSplit(root, cfg)
	require.NoError(t, err)
	total := numButtons + numLinks
	assert.Equal(t, Vocabulary{"buttons", "text-links"}, split.Vocabulary)
	assert.Equal(t, int(0.4*float64(total)), split.Validation.Len())
	assert.Equal(t, total-int(0.4*float64(total)), split.Training.Len())

	again, err := LoadSplit(root, cfg)
	require.NoError(t, err)
	assert.Equal(t, split.TrainFiles, again.TrainFiles)
	assert.Equal(t, split.ValidationFiles, again.ValidationFiles)

	for ii := range split.Training.Len() {
		sample, err := split.Training.At(ii)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 16, 16), sample.Image.Bounds())
		assert.Equal(t, split.TrainFiles[ii].Label, sample.Label)
		assert.Equal(t, split.TrainFiles[ii].Path, sample.Path)
	}
}

func TestPreprocess(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 0})
	src.SetNRGBA(1, 1, color.NRGBA{R: 200, G: 100, B: 50, A: 128})

	same := Preprocess(src, 2, 2)
	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255}, same.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 200, G: 100, B: 50, A: 255}, same.NRGBAAt(1, 1))
	assert.Equal(t, uint8(0), src.NRGBAAt(0, 0).A, "source must not be modified")

	resized := Preprocess(src, 8, 5)
	assert.Equal(t, image.Rect(0, 0, 8, 5), resized.Bounds())
	for ii := 3; ii < len(resized.Pix); ii += 4 {
		require.Equal(t, uint8(255), resized.Pix[ii])
	}
}

func TestConcatMapCache(t *testing.T) {
	a := newMemSequence("a", 0, 1, 0)
	b := newMemSequence("b", 1)
	empty := newMemSequence("empty")
	c := Concat("c", a, empty, b)
	require.Equal(t, 4, c.Len())
	var labels []int
	for ii := range c.Len() {
		sample, err := c.At(ii)
		require.NoError(t, err)
		labels = append(labels, sample.Label)
	}
	assert.Equal(t, []int{0, 1, 0, 1}, labels)
	last, err := c.At(3)
	require.NoError(t, err)
	assert.Equal(t, "b/0", last.Path)
	_, err = c.At(4)
	require.Error(t, err)

	inverted := Map("inverted", c, func(_ int, img *image.NRGBA) *image.NRGBA { return imaging.Invert(img) })
	for ii := range c.Len() {
		orig, err := c.At(ii)
		require.NoError(t, err)
		mapped, err := inverted.At(ii)
		require.NoError(t, err)
		assert.Equal(t, orig.Label, mapped.Label)
		assert.Equal(t, 255-orig.Image.Pix[0], mapped.Image.Pix[0])
	}

	cached := Cache(inverted)
	first, err := cached.At(2)
	require.NoError(t, err)
	second, err := cached.At(2)
	require.NoError(t, err)
	assert.Same(t, first.Image, second.Image)
	assert.Equal(t, "inverted", cached.Name())
}

func TestBatcher(t *testing.T) {
	seq := newMemSequence("seq", 0, 1, 1, 0, 1)
	b, err := NewBatcher(seq, 2)
	require.NoError(t, err)
	b.WithParallelism(3)
	assert.Equal(t, 3, b.NumBatches())

	for range 2 { // Two epochs, same order.
		var batchSizes []int
		var reds []float32
		var labels []int32
		for {
			spec, inputs, labelsT, err := b.Yield()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			assert.Nil(t, spec)
			require.Len(t, inputs, 1)
			dims := inputs[0].Shape().Dimensions
			assert.Equal(t, []int{dims[0], 3, 4, 3}, dims)
			assert.Equal(t, []int{dims[0], 1}, labelsT[0].Shape().Dimensions)
			batchSizes = append(batchSizes, dims[0])
			flat := tensors.MustCopyFlatData[float32](inputs[0])
			for img := range dims[0] {
				reds = append(reds, flat[img*3*4*3])
				assert.Equal(t, float32(255), flat[img*3*4*3+2])
			}
			labels = append(labels, tensors.MustCopyFlatData[int32](labelsT[0])...)
		}
		assert.Equal(t, []int{2, 2, 1}, batchSizes)
		assert.Equal(t, []float32{0, 1, 2, 3, 4}, reds)
		assert.Equal(t, []int32{0, 1, 1, 0, 1}, labels)
		b.Reset()
	}

	_, err = NewBatcher(seq, 0)
	require.Error(t, err)
}

func TestRescale(t *testing.T) {
	x := tensors.FromFlatDataAndDimensions([]float32{0, 51, 127.5, 255}, 4)
	require.NoError(t, RescaleTensor(x, MaxIntensity))
	assert.Equal(t, []float32{0, 0.2, 0.5, 1}, tensors.MustCopyFlatData[float32](x))

	seq := newMemSequence("seq", 0)
	b, err := NewBatcher(seq, 4)
	require.NoError(t, err)
	ds := Rescale(b, MaxIntensity)
	assert.Equal(t, "seq", ds.Name())
	_, inputs, _, err := ds.Yield()
	require.NoError(t, err)
	flat := tensors.MustCopyFlatData[float32](inputs[0])
	assert.Equal(t, float32(0), flat[0])  // Red of position 0.
	assert.Equal(t, float32(0), flat[1])  // Green.
	assert.Equal(t, float32(1), flat[2])  // Blue is saturated.
	_, _, _, err = ds.Yield()
	assert.Equal(t, io.EOF, err)
	ds.Reset()
	_, _, _, err = ds.Yield()
	require.NoError(t, err)
}
