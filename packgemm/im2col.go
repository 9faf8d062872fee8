// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/gomlx/simdgemm/internal/workerspool"
	"github.com/gomlx/simdgemm/pkg/core/dtypes"
)

// Im2Col is a virtual [Channels*KernelH*KernelW, OutH*OutW] matrix over a CHW
// image: the matrix a 2D convolution multiplies its flattened kernel weights
// with. It is never materialized, blocks of it are packed directly into GEMM
// panels (with zeros for the padding region), so convolution runs as GEMM at
// no extra memory cost.
type Im2Col[T dtypes.NumberNotComplex] struct {
	Image                   []T // CHW, row-major.
	Channels, Height, Width int

	KernelH, KernelW     int
	StrideH, StrideW     int
	DilationH, DilationW int
	PadH, PadW           int // Symmetric zero padding, per side.

	OutH, OutW int
}

// NewIm2Col builds the virtual im2col matrix for the given convolution
// geometry. It returns an error for geometries with no valid output position,
// the caller is expected to fall back to another convolution strategy.
func NewIm2Col[T dtypes.NumberNotComplex](image []T, channels, height, width,
	kernelH, kernelW, strideH, strideW, dilationH, dilationW, padH, padW int) (*Im2Col[T], error) {
	if channels <= 0 || height <= 0 || width <= 0 {
		return nil, errors.Errorf("invalid image shape [%d, %d, %d]", channels, height, width)
	}
	if kernelH <= 0 || kernelW <= 0 || strideH <= 0 || strideW <= 0 || dilationH <= 0 || dilationW <= 0 || padH < 0 || padW < 0 {
		return nil, errors.Errorf("invalid convolution geometry: kernel [%d, %d], strides [%d, %d], dilations [%d, %d], padding [%d, %d]",
			kernelH, kernelW, strideH, strideW, dilationH, dilationW, padH, padW)
	}
	if len(image) < channels*height*width {
		return nil, errors.Errorf("image buffer has %d elements, shape [%d, %d, %d] requires %d",
			len(image), channels, height, width, channels*height*width)
	}
	outH := (height+2*padH-dilationH*(kernelH-1)-1)/strideH + 1
	outW := (width+2*padW-dilationW*(kernelW-1)-1)/strideW + 1
	if outH <= 0 || outW <= 0 {
		return nil, errors.Errorf("convolution kernel [%d, %d] (dilations [%d, %d]) does not fit the padded [%d, %d] input",
			kernelH, kernelW, dilationH, dilationW, height+2*padH, width+2*padW)
	}
	return &Im2Col[T]{
		Image:    image,
		Channels: channels, Height: height, Width: width,
		KernelH: kernelH, KernelW: kernelW,
		StrideH: strideH, StrideW: strideW,
		DilationH: dilationH, DilationW: dilationW,
		PadH: padH, PadW: padW,
		OutH: outH, OutW: outW,
	}, nil
}

// Rows is the contracting dimension of the virtual matrix.
func (im *Im2Col[T]) Rows() int { return im.Channels * im.KernelH * im.KernelW }

// Cols is one element per output spatial position.
func (im *Im2Col[T]) Cols() int { return im.OutH * im.OutW }

// At returns the virtual matrix element, zero in the padding region. Meant
// for testing and debugging, the GEMM path uses PackBlock.
func (im *Im2Col[T]) At(row, col int) T {
	kernelArea := im.KernelH * im.KernelW
	c := row / kernelArea
	rem := row - c*kernelArea
	ky := rem / im.KernelW
	kx := rem - ky*im.KernelW
	oy := col / im.OutW
	ox := col - oy*im.OutW
	y := oy*im.StrideH + ky*im.DilationH - im.PadH
	x := ox*im.StrideW + kx*im.DilationW - im.PadW
	if y < 0 || y >= im.Height || x < 0 || x >= im.Width {
		var zero T
		return zero
	}
	return im.Image[(c*im.Height+y)*im.Width+x]
}

// PackBlock packs the [depth, cols] block of the virtual matrix into dst with
// the same strip layout packRHS produces: vertical strips of width
// kernelCols, k-major within each strip, the last strip zero padded.
// Padding-region elements pack as zeros.
func (im *Im2Col[T]) PackBlock(dst []T, depth, cols Range, kernelCols int) {
	kernelArea := im.KernelH * im.KernelW
	dstIdx := 0
	for stripColIdx := cols.Start; stripColIdx < cols.End; stripColIdx += kernelCols {
		validCols := min(kernelCols, cols.End-stripColIdx)
		for k := depth.Start; k < depth.End; k++ {
			c := k / kernelArea
			rem := k - c*kernelArea
			ky := rem / im.KernelW
			kx := rem - ky*im.KernelW
			channel := im.Image[c*im.Height*im.Width:]
			offY := ky*im.DilationH - im.PadH
			offX := kx*im.DilationW - im.PadW
			for j := range validCols {
				col := stripColIdx + j
				oy := col / im.OutW
				ox := col - oy*im.OutW
				y := oy*im.StrideH + offY
				x := ox*im.StrideW + offX
				if y < 0 || y >= im.Height || x < 0 || x >= im.Width {
					dst[dstIdx] = 0
				} else {
					dst[dstIdx] = channel[y*im.Width+x]
				}
				dstIdx++
			}
			for j := validCols; j < kernelCols; j++ {
				dst[dstIdx] = 0
				dstIdx++
			}
		}
	}
}

// GEMMIm2Col computes output = alpha*(weights x im) + beta*output, where
// weights is row-major [weightsRows, im.Rows()] (one row per output channel,
// flattened [channel, ky, kx] kernel weights) and output is row-major
// [weightsRows, im.Cols()]. With beta == 0 the output buffer is treated as
// uninitialized and never read.
//
// RHS panels are packed straight from the image; the LHS feeds the portable
// kernel unpacked.
func GEMMIm2Col[T dtypes.NumberNotComplex](alpha, beta T, weights []T, weightsRows int,
	im *Im2Col[T], output []T, pool *workerspool.Pool) error {

	lhsCrossSize := weightsRows
	contractingSize := im.Rows()
	rhsCrossSize := im.Cols()
	if weightsRows <= 0 {
		exceptions.Panicf("GEMM weights must have a positive number of rows, got %d", weightsRows)
	}
	if len(weights) < lhsCrossSize*contractingSize {
		exceptions.Panicf("GEMM weights buffer has %d elements, shape [%d, %d] requires %d",
			len(weights), lhsCrossSize, contractingSize, lhsCrossSize*contractingSize)
	}
	if len(output) < lhsCrossSize*rhsCrossSize {
		exceptions.Panicf("GEMM output buffer has %d elements, shape [%d, %d] requires %d",
			len(output), lhsCrossSize, rhsCrossSize, lhsCrossSize*rhsCrossSize)
	}

	params := &GenericParams
	maxWorkers := 1
	if pool != nil {
		maxWorkers = pool.AdjustedMaxParallelism()
	}
	if maxWorkers <= 1 {
		packedRhs := make([]T, packedPanelElements(params.RHSPanelCrossSize, params.PanelContractingSize, genericNR))
		im2colChunk(alpha, beta, weights, im, output, contractingSize, rhsCrossSize,
			0, lhsCrossSize, 0, rhsCrossSize, params, packedRhs)
		return nil
	}

	workChan := make(chan workItem, max(2000, 2*maxWorkers))
	go feedWorkItems(1, lhsCrossSize, rhsCrossSize, params, maxWorkers, workChan)
	pool.Saturate(func() {
		packedRhs := make([]T, packedPanelElements(params.RHSPanelCrossSize, params.PanelContractingSize, genericNR))
		for item := range workChan {
			im2colChunk(alpha, beta, weights, im, output, contractingSize, rhsCrossSize,
				item.lhsRowStart, item.lhsRowEnd, item.rhsColStart, item.rhsColEnd, params, packedRhs)
		}
	})
	return nil
}

func im2colChunk[T dtypes.NumberNotComplex](alpha, beta T,
	weights []T, im *Im2Col[T], output []T,
	contractingSize, rhsCrossSize int,
	lhsRowStart, lhsRowEnd, rhsColStart, rhsColEnd int,
	params *CacheParams, packedRhs []T) {

	kernel := genericKernel[T]{}
	mr, nr := kernel.MR(), kernel.NR()

	for rhsPanelColIdx := rhsColStart; rhsPanelColIdx < rhsColEnd; rhsPanelColIdx += params.RHSPanelCrossSize {
		rhsPanelWidth := min(params.RHSPanelCrossSize, rhsColEnd-rhsPanelColIdx)

		for contractingPanelIdx := 0; contractingPanelIdx < contractingSize; contractingPanelIdx += params.PanelContractingSize {
			effectiveBeta := beta
			if contractingPanelIdx > 0 {
				effectiveBeta = 1
			}
			contractingPanelWidth := min(params.PanelContractingSize, contractingSize-contractingPanelIdx)

			im.PackBlock(packedRhs,
				Range{contractingPanelIdx, contractingPanelIdx + contractingPanelWidth},
				Range{rhsPanelColIdx, rhsPanelColIdx + rhsPanelWidth}, nr)

			for lhsPanelRowIdx := lhsRowStart; lhsPanelRowIdx < lhsRowEnd; lhsPanelRowIdx += params.LHSPanelCrossSize {
				lhsPanelHeight := min(params.LHSPanelCrossSize, lhsRowEnd-lhsPanelRowIdx)

				for microColIdx := 0; microColIdx < rhsPanelWidth; microColIdx += nr {
					usedCols := min(nr, rhsPanelWidth-microColIdx)
					offsetRhs := (microColIdx / nr) * (contractingPanelWidth * nr)

					for microRowIdx := 0; microRowIdx < lhsPanelHeight; microRowIdx += mr {
						usedRows := min(mr, lhsPanelHeight-microRowIdx)

						outputRow := lhsPanelRowIdx + microRowIdx
						outputCol := rhsPanelColIdx + microColIdx

						kernel.Tile(
							output[outputRow*rhsCrossSize+outputCol:], rhsCrossSize,
							Lhs[T]{
								Data:   weights[outputRow*contractingSize+contractingPanelIdx:],
								Stride: contractingSize,
							},
							packedRhs[offsetRhs:],
							contractingPanelWidth, usedRows, usedCols,
							alpha, effectiveBeta)
					}
				}
			}
		}
	}
}
