// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/simdgemm/internal/workerspool"
	"github.com/gomlx/simdgemm/pkg/core/dtypes"
)

// validateGEMMShapes fails fast on buffers that don't hold the shapes the
// caller declared. These are contract violations (bugs in the caller), not
// recoverable conditions.
func validateGEMMShapes[T any](lhsFlat, rhsFlat, outputFlat []T, batchSize, lhsCrossSize, rhsCrossSize, contractingSize int) {
	if batchSize <= 0 || lhsCrossSize <= 0 || rhsCrossSize <= 0 || contractingSize <= 0 {
		exceptions.Panicf("GEMM dimensions must be positive, got batchSize=%d, lhsCrossSize=%d, rhsCrossSize=%d, contractingSize=%d",
			batchSize, lhsCrossSize, rhsCrossSize, contractingSize)
	}
	if len(lhsFlat) < batchSize*lhsCrossSize*contractingSize {
		exceptions.Panicf("GEMM lhs buffer has %d elements, shape [%d, %d, %d] requires %d",
			len(lhsFlat), batchSize, lhsCrossSize, contractingSize, batchSize*lhsCrossSize*contractingSize)
	}
	if len(rhsFlat) < batchSize*contractingSize*rhsCrossSize {
		exceptions.Panicf("GEMM rhs buffer has %d elements, shape [%d, %d, %d] requires %d",
			len(rhsFlat), batchSize, contractingSize, rhsCrossSize, batchSize*contractingSize*rhsCrossSize)
	}
	if len(outputFlat) < batchSize*lhsCrossSize*rhsCrossSize {
		exceptions.Panicf("GEMM output buffer has %d elements, shape [%d, %d, %d] requires %d",
			len(outputFlat), batchSize, lhsCrossSize, rhsCrossSize, batchSize*lhsCrossSize*rhsCrossSize)
	}
}

// engine drives one Kernel through the 5-loop GotoBLAS blocking schedule
// (Nc -> Kc -> Mc -> Nr -> Mr), with panels sized by params.
type engine[T dtypes.NumberNotComplex] struct {
	kernel Kernel[T, T, T]
	params *CacheParams
}

// run is the registered GEMM entry point: it validates shapes, takes the GEMV
// fast path for single-row LHS, and otherwise splits the batched product into
// work items executed on the caller's pool (or inline when there is none).
func (e *engine[T]) run(alpha, beta T, lhsFlat, rhsFlat []T,
	batchSize, lhsCrossSize, rhsCrossSize, contractingSize int,
	outputFlat []T,
	bufAllocFn BufAllocFn[T], bufReleaseFn BufReleaseFn, pool *workerspool.Pool) error {

	validateGEMMShapes(lhsFlat, rhsFlat, outputFlat, batchSize, lhsCrossSize, rhsCrossSize, contractingSize)

	// Resolve strides.
	lhsBatchStride := lhsCrossSize * contractingSize
	rhsBatchStride := contractingSize * rhsCrossSize
	outputBatchStride := lhsCrossSize * rhsCrossSize

	if lhsCrossSize == 1 {
		// Single output row per batch: no packing pays off.
		for batchIdx := range batchSize {
			e.kernel.GEMV(
				outputFlat[batchIdx*outputBatchStride:(batchIdx+1)*outputBatchStride],
				lhsFlat[batchIdx*lhsBatchStride:(batchIdx+1)*lhsBatchStride],
				MakeMatrix(rhsFlat[batchIdx*rhsBatchStride:(batchIdx+1)*rhsBatchStride], contractingSize, rhsCrossSize),
				alpha, beta)
		}
		return nil
	}

	maxWorkers := 1
	if pool != nil {
		maxWorkers = pool.AdjustedMaxParallelism()
	}
	if maxWorkers <= 1 {
		// Do everything sequentially.
		buffers := e.allocBuffers(bufAllocFn)
		defer buffers.release(bufReleaseFn)
		for batchIdx := range batchSize {
			e.chunk(alpha, beta,
				lhsFlat[batchIdx*lhsBatchStride:(batchIdx+1)*lhsBatchStride],
				rhsFlat[batchIdx*rhsBatchStride:(batchIdx+1)*rhsBatchStride],
				outputFlat[batchIdx*outputBatchStride:(batchIdx+1)*outputBatchStride],
				lhsCrossSize, rhsCrossSize, contractingSize,
				0, lhsCrossSize, 0, rhsCrossSize,
				buffers)
		}
		return nil
	}

	// 1. Split work in workItems.
	workChan := make(chan workItem, max(2000, 2*maxWorkers))
	go feedWorkItems(batchSize, lhsCrossSize, rhsCrossSize, e.params, maxWorkers, workChan)

	// 2. Saturate (fan-out workers) on workItems.
	pool.Saturate(func() {
		buffers := e.allocBuffers(bufAllocFn)
		defer buffers.release(bufReleaseFn)
		for item := range workChan {
			for batchIdx := item.batchStart; batchIdx < item.batchEnd; batchIdx++ {
				e.chunk(alpha, beta,
					lhsFlat[batchIdx*lhsBatchStride:(batchIdx+1)*lhsBatchStride],
					rhsFlat[batchIdx*rhsBatchStride:(batchIdx+1)*rhsBatchStride],
					outputFlat[batchIdx*outputBatchStride:(batchIdx+1)*outputBatchStride],
					lhsCrossSize, rhsCrossSize, contractingSize,
					item.lhsRowStart, item.lhsRowEnd, item.rhsColStart, item.rhsColEnd,
					buffers)
			}
		}
	})
	return nil
}

// engineBuffers are the per-worker packed panels. packedLhs stays nil for
// kernels that accept the LHS unpacked (PackedALayout().MustPack == false).
type engineBuffers[T any] struct {
	packedLhsRef, packedRhsRef any
	packedLhs, packedRhs       []T
}

func (e *engine[T]) allocBuffers(bufAllocFn BufAllocFn[T]) engineBuffers[T] {
	var buffers engineBuffers[T]
	layoutA := e.kernel.PackedALayout(e.params.LHSPanelCrossSize, e.params.PanelContractingSize)
	if layoutA.MustPack {
		buffers.packedLhsRef, buffers.packedLhs = bufAllocFn(layoutA.Size)
	}
	layoutB := e.kernel.PackedBLayout(e.params.PanelContractingSize, e.params.RHSPanelCrossSize)
	buffers.packedRhsRef, buffers.packedRhs = bufAllocFn(layoutB.Size)
	return buffers
}

func (b engineBuffers[T]) release(bufReleaseFn BufReleaseFn) {
	if b.packedLhsRef != nil {
		bufReleaseFn(b.packedLhsRef)
	}
	bufReleaseFn(b.packedRhsRef)
}

// chunk performs the 5-loop GotoBLAS algorithm on a single batch matrix,
// restricted to the [lhsRowStart, lhsRowEnd) x [rhsColStart, rhsColEnd)
// window of the output.
func (e *engine[T]) chunk(alpha, beta T,
	lhs, rhs, output []T,
	lhsCrossSize, rhsCrossSize, contractingSize int,
	lhsRowStart, lhsRowEnd, rhsColStart, rhsColEnd int,
	buffers engineBuffers[T]) {

	params := e.params
	mr, nr := e.kernel.MR(), e.kernel.NR()
	packLhs := buffers.packedLhs != nil
	lhsView := MakeMatrix(lhs, lhsCrossSize, contractingSize)
	rhsView := MakeMatrix(rhs, contractingSize, rhsCrossSize)

	// Loop 5 (jc): Tiling N (Output Columns) - Fits in L3
	for rhsPanelColIdx := rhsColStart; rhsPanelColIdx < rhsColEnd; rhsPanelColIdx += params.RHSPanelCrossSize {
		rhsPanelWidth := min(params.RHSPanelCrossSize, rhsColEnd-rhsPanelColIdx)

		// Loop 4 (p): Tiling K (Depth) - Fits in L1
		for contractingPanelIdx := 0; contractingPanelIdx < contractingSize; contractingPanelIdx += params.PanelContractingSize {
			// We only apply (multiply) the current output by beta the first
			// time we touch the output at this panel, after that the output is
			// already accumulating the results of the matmul.
			effectiveBeta := beta
			if contractingPanelIdx > 0 {
				effectiveBeta = 1
			}
			contractingPanelWidth := min(params.PanelContractingSize, contractingSize-contractingPanelIdx)
			depthRange := Range{contractingPanelIdx, contractingPanelIdx + contractingPanelWidth}

			// Pack RHS: a [contractingPanelWidth, rhsPanelWidth] block as
			// vertical strips of width Nr.
			e.kernel.PackBBlock(buffers.packedRhs, rhsView,
				depthRange, Range{rhsPanelColIdx, rhsPanelColIdx + rhsPanelWidth})

			// Loop 3 (ic): Tiling M (Output Rows) - Fits in L2
			for lhsPanelRowIdx := lhsRowStart; lhsPanelRowIdx < lhsRowEnd; lhsPanelRowIdx += params.LHSPanelCrossSize {
				lhsPanelHeight := min(params.LHSPanelCrossSize, lhsRowEnd-lhsPanelRowIdx)

				if packLhs {
					// Pack LHS: a [lhsPanelHeight, contractingPanelWidth]
					// block as horizontal strips of height Mr.
					e.kernel.PackABlock(buffers.packedLhs, lhsView,
						Range{lhsPanelRowIdx, lhsPanelRowIdx + lhsPanelHeight}, depthRange)
				}

				// Loop 2 (jr): Micro-Kernel Columns (Nr)
				for microColIdx := 0; microColIdx < rhsPanelWidth; microColIdx += nr {
					usedCols := min(nr, rhsPanelWidth-microColIdx)
					// packedRhs is organized in strips of Nr, each strip
					// holding contractingPanelWidth*Nr elements.
					offsetRhs := (microColIdx / nr) * (contractingPanelWidth * nr)

					// Loop 1 (ir): Micro-Kernel Rows (Mr)
					for microRowIdx := 0; microRowIdx < lhsPanelHeight; microRowIdx += mr {
						usedRows := min(mr, lhsPanelHeight-microRowIdx)

						outputRow := lhsPanelRowIdx + microRowIdx
						outputCol := rhsPanelColIdx + microColIdx

						var a Lhs[T]
						if packLhs {
							// packedLhs is organized in strips of Mr, each
							// strip holding contractingPanelWidth*Mr elements.
							offsetLhs := (microRowIdx / mr) * (contractingPanelWidth * mr)
							a = Lhs[T]{Data: buffers.packedLhs[offsetLhs:], Packed: true}
						} else {
							a = Lhs[T]{
								Data:   lhs[outputRow*contractingSize+contractingPanelIdx:],
								Stride: contractingSize,
							}
						}

						e.kernel.Tile(
							output[outputRow*rhsCrossSize+outputCol:], rhsCrossSize,
							a, buffers.packedRhs[offsetRhs:],
							contractingPanelWidth, usedRows, usedCols,
							alpha, effectiveBeta)
					}
				}
			}
		}
	}
}
