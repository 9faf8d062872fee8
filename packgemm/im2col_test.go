// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/simdgemm/internal/workerspool"
	"github.com/gomlx/simdgemm/pkg/support/xslices"
)

// imageAt reads a CHW image with zero padding outside the bounds.
func imageAt[T float32 | float64](image []T, height, width, c, y, x int) T {
	if y < 0 || y >= height || x < 0 || x >= width {
		return 0
	}
	return image[(c*height+y)*width+x]
}

// naiveConv2D is the direct convolution definition GEMMIm2Col must reproduce.
func naiveConv2D[T float32 | float64](alpha, beta T, weights []T, outChannels int,
	image []T, im *Im2Col[T], output []T) {
	for oc := range outChannels {
		for oy := range im.OutH {
			for ox := range im.OutW {
				var acc T
				for c := range im.Channels {
					for ky := range im.KernelH {
						for kx := range im.KernelW {
							y := oy*im.StrideH + ky*im.DilationH - im.PadH
							x := ox*im.StrideW + kx*im.DilationW - im.PadW
							w := weights[((oc*im.Channels+c)*im.KernelH+ky)*im.KernelW+kx]
							acc += w * imageAt(image, im.Height, im.Width, c, y, x)
						}
					}
				}
				outIdx := (oc*im.OutH+oy)*im.OutW + ox
				if beta == 0 {
					output[outIdx] = alpha * acc
				} else {
					output[outIdx] = alpha*acc + beta*output[outIdx]
				}
			}
		}
	}
}

func TestNewIm2Col(t *testing.T) {
	image := make([]float32, 3*5*7)

	im, err := NewIm2Col(image, 3, 5, 7, 3, 3, 2, 2, 1, 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, im.OutH) // (5-3)/2+1
	assert.Equal(t, 3, im.OutW) // (7-3)/2+1
	assert.Equal(t, 3*3*3, im.Rows())
	assert.Equal(t, 2*3, im.Cols())

	im, err = NewIm2Col(image, 3, 5, 7, 3, 3, 1, 1, 2, 2, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, im.OutH) // (5+4-2*2-1)/1+1

	// Recoverable errors: the caller falls back to another strategy.
	_, err = NewIm2Col(image, 0, 5, 7, 3, 3, 1, 1, 1, 1, 0, 0)
	assert.Error(t, err)
	_, err = NewIm2Col(image, 3, 5, 7, 3, 3, 0, 1, 1, 1, 0, 0)
	assert.Error(t, err)
	_, err = NewIm2Col(image[:10], 3, 5, 7, 3, 3, 1, 1, 1, 1, 0, 0)
	assert.Error(t, err)
	// 9x9 kernel does not fit a 5x7 image without padding.
	_, err = NewIm2Col(image, 3, 5, 7, 9, 9, 1, 1, 1, 1, 0, 0)
	assert.Error(t, err)
}

func TestIm2ColAt(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	image := make([]float32, 2*6*5)
	for i := range image {
		image[i] = rng.Float32()
	}
	// Stride 2, dilation 2, padding 1 so all the geometry terms are in play.
	im, err := NewIm2Col(image, 2, 6, 5, 3, 2, 2, 1, 2, 2, 1, 1)
	require.NoError(t, err)

	for row := range im.Rows() {
		c := row / (im.KernelH * im.KernelW)
		ky := (row / im.KernelW) % im.KernelH
		kx := row % im.KernelW
		for col := range im.Cols() {
			oy, ox := col/im.OutW, col%im.OutW
			y := oy*im.StrideH + ky*im.DilationH - im.PadH
			x := ox*im.StrideW + kx*im.DilationW - im.PadW
			want := imageAt(image, im.Height, im.Width, c, y, x)
			assert.Equalf(t, want, im.At(row, col), "At(%d, %d)", row, col)
		}
	}
}

func TestIm2ColPackBlock(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	image := make([]float32, 3*7*7)
	for i := range image {
		image[i] = rng.Float32()
	}
	im, err := NewIm2Col(image, 3, 7, 7, 3, 3, 1, 1, 1, 1, 1, 1)
	require.NoError(t, err)

	// Materialize the virtual matrix and pack the same blocks with packRHS:
	// the layouts must be identical, including the zero padded edge strip.
	materialized := make([]float32, im.Rows()*im.Cols())
	for row := range im.Rows() {
		for col := range im.Cols() {
			materialized[row*im.Cols()+col] = im.At(row, col)
		}
	}

	const kernelCols = 8
	for _, block := range []struct {
		depth, cols Range
	}{
		{Range{0, im.Rows()}, Range{0, im.Cols()}},
		{Range{3, 17}, Range{5, 30}}, // Partial everything.
		{Range{0, 5}, Range{40, 49}}, // Right edge, partial strip.
	} {
		depthLen, colsLen := block.depth.Len(), block.cols.Len()
		want := xslices.SliceWithValue(packedPanelElements(colsLen, depthLen, kernelCols), float32(-1))
		packRHS(materialized, want, block.depth.Start, block.cols.Start, im.Cols(),
			depthLen, colsLen, kernelCols)

		got := xslices.SliceWithValue(len(want), float32(-1))
		im.PackBlock(got, block.depth, block.cols, kernelCols)
		assert.Emptyf(t, cmp.Diff(want, got), "block depth=%+v cols=%+v", block.depth, block.cols)
	}
}

func TestGEMMIm2Col(t *testing.T) {
	rng := rand.New(rand.NewSource(13))

	type testCase struct {
		name                           string
		channels, height, width        int
		kh, kw, sh, sw, dh, dw, ph, pw int
		outChannels                    int
		alpha, beta                    float32
	}
	for _, tc := range []testCase{
		{"pointwise 1x1", 4, 6, 6, 1, 1, 1, 1, 1, 1, 0, 0, 3, 1, 0},
		{"same 3x3", 3, 8, 8, 3, 3, 1, 1, 1, 1, 1, 1, 5, 1, 0},
		{"strided dilated", 2, 11, 13, 3, 3, 2, 2, 2, 2, 2, 2, 4, 2, 3},
		{"wide kernel", 1, 9, 9, 5, 2, 1, 2, 1, 1, 2, 0, 2, 0.5, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			image := make([]float32, tc.channels*tc.height*tc.width)
			for i := range image {
				image[i] = rng.Float32() - 0.5
			}
			im, err := NewIm2Col(image, tc.channels, tc.height, tc.width,
				tc.kh, tc.kw, tc.sh, tc.sw, tc.dh, tc.dw, tc.ph, tc.pw)
			require.NoError(t, err)

			weights := make([]float32, tc.outChannels*im.Rows())
			for i := range weights {
				weights[i] = rng.Float32() - 0.5
			}
			output := make([]float32, tc.outChannels*im.Cols())
			want := make([]float32, len(output))
			if tc.beta != 0 {
				for i := range output {
					v := rng.Float32()
					output[i] = v
					want[i] = v
				}
			}

			naiveConv2D(tc.alpha, tc.beta, weights, tc.outChannels, image, im, want)
			err = GEMMIm2Col(tc.alpha, tc.beta, weights, tc.outChannels, im, output, nil)
			require.NoError(t, err)
			require.NoError(t, xslices.MustSlicesInRelData(output, want, 1e-4))
		})
	}
}

func TestGEMMIm2ColBetaZeroUninitialized(t *testing.T) {
	rng := rand.New(rand.NewSource(19))
	image := make([]float32, 2*5*5)
	for i := range image {
		image[i] = rng.Float32()
	}
	im, err := NewIm2Col(image, 2, 5, 5, 3, 3, 1, 1, 1, 1, 1, 1)
	require.NoError(t, err)

	weights := make([]float32, 3*im.Rows())
	for i := range weights {
		weights[i] = rng.Float32()
	}
	output := xslices.SliceWithValue(3*im.Cols(), float32(math.NaN()))
	want := make([]float32, len(output))
	naiveConv2D(float32(1), 0, weights, 3, image, im, want)
	require.NoError(t, GEMMIm2Col[float32](1, 0, weights, 3, im, output, nil))
	require.NoError(t, xslices.MustSlicesInRelData(output, want, 1e-4))
}

func TestGEMMIm2ColParallel(t *testing.T) {
	pool := workerspool.New()
	rng := rand.New(rand.NewSource(29))
	image := make([]float32, 3*33*33)
	for i := range image {
		image[i] = rng.Float32() - 0.5
	}
	im, err := NewIm2Col(image, 3, 33, 33, 3, 3, 2, 2, 1, 1, 1, 1)
	require.NoError(t, err)

	const outChannels = 8
	weights := make([]float32, outChannels*im.Rows())
	for i := range weights {
		weights[i] = rng.Float32() - 0.5
	}
	output := make([]float32, outChannels*im.Cols())
	want := make([]float32, len(output))
	naiveConv2D(float32(1), 0, weights, outChannels, image, im, want)
	require.NoError(t, GEMMIm2Col[float32](1, 0, weights, outChannels, im, output, pool))
	require.NoError(t, xslices.MustSlicesInRelData(output, want, 1e-4))
}

func TestGEMMIm2ColBufferContract(t *testing.T) {
	image := make([]float32, 1*4*4)
	im, err := NewIm2Col(image, 1, 4, 4, 2, 2, 1, 1, 1, 1, 0, 0)
	require.NoError(t, err)

	weights := make([]float32, 2*im.Rows())
	output := make([]float32, 2*im.Cols())
	assert.Panics(t, func() {
		_ = GEMMIm2Col[float32](1, 0, weights[:3], 2, im, output, nil)
	})
	assert.Panics(t, func() {
		_ = GEMMIm2Col[float32](1, 0, weights, 2, im, output[:5], nil)
	})
	assert.Panics(t, func() {
		_ = GEMMIm2Col[float32](1, 0, weights, 0, im, output, nil)
	})
}
