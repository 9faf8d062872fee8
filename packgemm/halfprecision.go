// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

import (
	"github.com/x448/float16"

	"github.com/gomlx/simdgemm/internal/workerspool"
	"github.com/gomlx/simdgemm/pkg/core/dtypes/bfloat16"
)

// HalfPrecision covers the 16-bit float formats supported through the
// float32 conversion path.
type HalfPrecision interface {
	float16.Float16 | bfloat16.BFloat16
}

// halfKernel and halfParams are the float32 kernel the half-precision path
// accumulates with. Platform init functions swap in the SIMD kernel when the
// CPU supports it.
var (
	halfKernel Kernel[float32, float32, float32] = genericKernel[float32]{}
	halfParams                                   = &GenericParams
)

func init() {
	RegisterGEMM("Cast(float32)",
		makeHalfGEMM[float16.Float16](float16.Float16.Float32, float16.Fromfloat32),
		halfParams, PriorityBase)
	RegisterGEMM("Cast(float32)",
		makeHalfGEMM[bfloat16.BFloat16](bfloat16.BFloat16.Float32, bfloat16.FromFloat32),
		halfParams, PriorityBase)
}

// makeHalfGEMM builds a GEMM for the 16-bit float type H: inputs are converted
// to float32 while packing, the product accumulates in a float32 scratch panel
// across the whole contracting dimension, and results are rounded back to H
// only once, when the panel is merged into the output.
//
// This keeps full float32 precision for the dot products, unlike computing
// directly on 16-bit values.
func makeHalfGEMM[H HalfPrecision](toF32 func(H) float32, fromF32 func(float32) H) GEMMFn[H] {
	return func(alpha, beta H, lhsFlat, rhsFlat []H,
		batchSize, lhsCrossSize, rhsCrossSize, contractingSize int,
		outputFlat []H,
		bufAllocFn BufAllocFn[H], bufReleaseFn BufReleaseFn, pool *workerspool.Pool) error {

		validateGEMMShapes(lhsFlat, rhsFlat, outputFlat, batchSize, lhsCrossSize, rhsCrossSize, contractingSize)

		// The kernel may have been swapped by a platform init, resolve late.
		kernel, params := halfKernel, halfParams
		alphaF, betaF := toF32(alpha), toF32(beta)

		lhsBatchStride := lhsCrossSize * contractingSize
		rhsBatchStride := contractingSize * rhsCrossSize
		outputBatchStride := lhsCrossSize * rhsCrossSize

		// The caller's buffer pool is typed H; the float32 conversion panels
		// are allocated here instead.
		newBuffers := func() *halfBuffers {
			return &halfBuffers{
				packedLhs: make([]float32, kernel.PackedALayout(params.LHSPanelCrossSize, params.PanelContractingSize).Size),
				packedRhs: make([]float32, kernel.PackedBLayout(params.PanelContractingSize, params.RHSPanelCrossSize).Size),
				scratch:   make([]float32, params.LHSPanelCrossSize*params.RHSPanelCrossSize),
			}
		}

		maxWorkers := 1
		if pool != nil {
			maxWorkers = pool.AdjustedMaxParallelism()
		}
		if maxWorkers <= 1 {
			buffers := newBuffers()
			for batchIdx := range batchSize {
				halfGEMMChunk(alphaF, betaF,
					lhsFlat[batchIdx*lhsBatchStride:(batchIdx+1)*lhsBatchStride],
					rhsFlat[batchIdx*rhsBatchStride:(batchIdx+1)*rhsBatchStride],
					outputFlat[batchIdx*outputBatchStride:(batchIdx+1)*outputBatchStride],
					rhsCrossSize, contractingSize,
					0, lhsCrossSize, 0, rhsCrossSize,
					kernel, params, buffers, toF32, fromF32)
			}
			return nil
		}

		workChan := make(chan workItem, max(2000, 2*maxWorkers))
		go feedWorkItems(batchSize, lhsCrossSize, rhsCrossSize, params, maxWorkers, workChan)
		pool.Saturate(func() {
			buffers := newBuffers()
			for item := range workChan {
				for batchIdx := item.batchStart; batchIdx < item.batchEnd; batchIdx++ {
					halfGEMMChunk(alphaF, betaF,
						lhsFlat[batchIdx*lhsBatchStride:(batchIdx+1)*lhsBatchStride],
						rhsFlat[batchIdx*rhsBatchStride:(batchIdx+1)*rhsBatchStride],
						outputFlat[batchIdx*outputBatchStride:(batchIdx+1)*outputBatchStride],
						rhsCrossSize, contractingSize,
						item.lhsRowStart, item.lhsRowEnd, item.rhsColStart, item.rhsColEnd,
						kernel, params, buffers, toF32, fromF32)
				}
			}
		})
		return nil
	}
}

// halfBuffers are the per-worker float32 panels of the conversion path.
type halfBuffers struct {
	packedLhs, packedRhs []float32
	scratch              []float32 // [Mc, Nc] output accumulation panel.
}

// halfGEMMChunk multiplies one batch matrix restricted to the
// [lhsRowStart, lhsRowEnd) x [rhsColStart, rhsColEnd) output window.
//
// The loop order differs from the symmetric engine: the contracting (Kc) loop
// runs innermost so the float32 scratch panel can accumulate the full
// contraction before it is rounded back to 16 bits.
func halfGEMMChunk[H HalfPrecision](
	alpha, beta float32,
	lhs, rhs, output []H,
	rhsCrossSize, contractingSize int,
	lhsRowStart, lhsRowEnd, rhsColStart, rhsColEnd int,
	kernel Kernel[float32, float32, float32], params *CacheParams,
	buffers *halfBuffers,
	toF32 func(H) float32, fromF32 func(float32) H) {

	mr, nr := kernel.MR(), kernel.NR()

	// Loop over output column panels (Nc).
	for rhsPanelColIdx := rhsColStart; rhsPanelColIdx < rhsColEnd; rhsPanelColIdx += params.RHSPanelCrossSize {
		rhsPanelWidth := min(params.RHSPanelCrossSize, rhsColEnd-rhsPanelColIdx)

		// Loop over output row panels (Mc).
		for lhsPanelRowIdx := lhsRowStart; lhsPanelRowIdx < lhsRowEnd; lhsPanelRowIdx += params.LHSPanelCrossSize {
			lhsPanelHeight := min(params.LHSPanelCrossSize, lhsRowEnd-lhsPanelRowIdx)

			// Loop over the contracting dimension (Kc), accumulating into the
			// float32 scratch panel.
			for contractingPanelIdx := 0; contractingPanelIdx < contractingSize; contractingPanelIdx += params.PanelContractingSize {
				var scratchBeta float32
				if contractingPanelIdx > 0 {
					scratchBeta = 1
				}
				contractingPanelWidth := min(params.PanelContractingSize, contractingSize-contractingPanelIdx)

				convertPackRHS(rhs, buffers.packedRhs, contractingPanelIdx, rhsPanelColIdx, rhsCrossSize,
					contractingPanelWidth, rhsPanelWidth, nr, toF32)
				convertPackLHS(lhs, buffers.packedLhs, lhsPanelRowIdx, contractingPanelIdx, contractingSize,
					lhsPanelHeight, contractingPanelWidth, mr, toF32)

				for microColIdx := 0; microColIdx < rhsPanelWidth; microColIdx += nr {
					usedCols := min(nr, rhsPanelWidth-microColIdx)
					offsetRhs := (microColIdx / nr) * (contractingPanelWidth * nr)

					for microRowIdx := 0; microRowIdx < lhsPanelHeight; microRowIdx += mr {
						usedRows := min(mr, lhsPanelHeight-microRowIdx)
						offsetLhs := (microRowIdx / mr) * (contractingPanelWidth * mr)

						kernel.Tile(
							buffers.scratch[microRowIdx*rhsPanelWidth+microColIdx:], rhsPanelWidth,
							Lhs[float32]{Data: buffers.packedLhs[offsetLhs:], Packed: true},
							buffers.packedRhs[offsetRhs:],
							contractingPanelWidth, usedRows, usedCols,
							1, scratchBeta)
					}
				}
			}

			// Merge the accumulated panel back into the 16-bit output,
			// applying alpha and beta in float32. This is the only rounding
			// step.
			mergeHalfPanel(
				output[lhsPanelRowIdx*rhsCrossSize+rhsPanelColIdx:], rhsCrossSize,
				buffers.scratch, rhsPanelWidth,
				lhsPanelHeight, rhsPanelWidth,
				alpha, beta, toF32, fromF32)
		}
	}
}

// convertPackRHS is packRHS with an element conversion: it packs a
// [contractingRows, numCols] block of 16-bit rhs into float32 strips of width
// kernelCols, zero padding the last strip.
func convertPackRHS[H HalfPrecision](src []H, dst []float32, srcRowStart, srcColStart, srcRowStride,
	contractingRows, numCols, kernelCols int, toF32 func(H) float32) {
	dstIdx := 0
	for stripColIdx := 0; stripColIdx < numCols; stripColIdx += kernelCols {
		validCols := min(kernelCols, numCols-stripColIdx)
		srcIdx := srcRowStart*srcRowStride + srcColStart + stripColIdx
		for range contractingRows {
			for c := range validCols {
				dst[dstIdx] = toF32(src[srcIdx+c])
				dstIdx++
			}
			for c := validCols; c < kernelCols; c++ {
				dst[dstIdx] = 0
				dstIdx++
			}
			srcIdx += srcRowStride
		}
	}
}

// convertPackLHS is packLHS with an element conversion: strips of kernelRows
// rows, transposed so the contracting axis is outermost within each strip,
// zero padding the last strip.
func convertPackLHS[H HalfPrecision](src []H, dst []float32, srcRowStart, srcColStart, srcRowStride,
	numRows, contractingCols, kernelRows int, toF32 func(H) float32) {
	dstIdx := 0
	for stripRowIdx := 0; stripRowIdx < numRows; stripRowIdx += kernelRows {
		validRows := min(kernelRows, numRows-stripRowIdx)
		srcStripIdx := (srcRowStart+stripRowIdx)*srcRowStride + srcColStart
		for col := range contractingCols {
			srcIdx := srcStripIdx + col
			for range validRows {
				dst[dstIdx] = toF32(src[srcIdx])
				dstIdx++
				srcIdx += srcRowStride
			}
			for r := validRows; r < kernelRows; r++ {
				dst[dstIdx] = 0
				dstIdx++
			}
		}
	}
}

// mergeHalfPanel writes out = fromF32(alpha*src + beta*toF32(out)) over a
// [rows, cols] window. With beta == 0 the output is never read, it may be
// uninitialized memory.
func mergeHalfPanel[H HalfPrecision](out []H, outRowStride int, src []float32, srcRowStride,
	rows, cols int, alpha, beta float32, toF32 func(H) float32, fromF32 func(float32) H) {
	for r := range rows {
		outRow := out[r*outRowStride : r*outRowStride+cols]
		srcRow := src[r*srcRowStride : r*srcRowStride+cols]
		if beta == 0 {
			for c, v := range srcRow {
				outRow[c] = fromF32(alpha * v)
			}
		} else {
			for c, v := range srcRow {
				outRow[c] = fromF32(alpha*v + beta*toF32(outRow[c]))
			}
		}
	}
}
