// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/simdgemm/internal/workerspool"
	"github.com/gomlx/simdgemm/pkg/core/dtypes"
)

const (
	genericMR = 8 // Rows of LHS in registers.
	genericNR = 8 // Cols of RHS in registers.
)

// GenericParams are generic assumptions for L1/L2/L3 cache sizes for 32 and 64
// bits dtypes.
//
// These values are somewhat arbitrary, assuming "standard" modern cache sizes.
// They are parameterized so they can be tuned or determined dynamically later.
var GenericParams = CacheParams{
	LHSL1KernelRows:      genericMR,
	RHSL1KernelCols:      genericNR,
	PanelContractingSize: 2048, // Kc: L1 Block Depth.
	LHSPanelCrossSize:    32,   // Mc: L2 Block Height.
	RHSPanelCrossSize:    64,   // Nc: L3 Block Width.
}

func init() {
	RegisterGEMM("Basic(non-SIMD)", makeGenericGEMM[float32](), &GenericParams, PriorityBase)
	RegisterGEMM("Basic(non-SIMD)", makeGenericGEMM[float64](), &GenericParams, PriorityBase)
	RegisterGEMM("Basic(non-SIMD)", makeGenericGEMM[int32](), &GenericParams, PriorityBase)
	RegisterGEMM("Basic(non-SIMD)", makeGenericGEMM[uint32](), &GenericParams, PriorityBase)
}

// makeGenericGEMM builds the registered portable GEMM for element type T: small
// products go through the register-tiled small kernel, everything else through
// the blocked engine driving genericKernel.
func makeGenericGEMM[T dtypes.NumberNotComplex]() GEMMFn[T] {
	e := &engine[T]{kernel: genericKernel[T]{}, params: &GenericParams}
	return func(alpha, beta T, lhsFlat, rhsFlat []T,
		batchSize, lhsCrossSize, rhsCrossSize, contractingSize int,
		outputFlat []T,
		bufAllocFn BufAllocFn[T], bufReleaseFn BufReleaseFn, pool *workerspool.Pool) error {

		dtype := dtypes.FromGenericsType[T]()
		gemmSize := (lhsCrossSize*contractingSize + contractingSize*rhsCrossSize + lhsCrossSize*rhsCrossSize) * dtype.Size()
		if lhsCrossSize > 1 &&
			((forceVariant == VariantNone && gemmSize < smallMatMulSizeThreshold) || forceVariant == VariantSmall) {
			validateGEMMShapes(lhsFlat, rhsFlat, outputFlat, batchSize, lhsCrossSize, rhsCrossSize, contractingSize)
			return smallGEMMParallel(alpha, beta, lhsFlat, rhsFlat, outputFlat,
				batchSize, lhsCrossSize, rhsCrossSize, contractingSize, pool)
		}
		return e.run(alpha, beta, lhsFlat, rhsFlat, batchSize, lhsCrossSize, rhsCrossSize, contractingSize,
			outputFlat, bufAllocFn, bufReleaseFn, pool)
	}
}

// genericKernel is the portable register-blocked kernel, available on every
// platform and for every numeric element type. It terminates every fallback
// chain.
//
// It accepts the LHS unpacked (MustPack == false), so the engine skips LHS
// packing; the packed form is still supported and is what the half-precision
// conversion path feeds it.
type genericKernel[T dtypes.NumberNotComplex] struct{}

// newGenericKernel returns the portable kernel. Unlike the SIMD constructors
// it never returns nil.
func newGenericKernel[T dtypes.NumberNotComplex]() Kernel[T, T, T] {
	return genericKernel[T]{}
}

func (genericKernel[T]) Name() string { return "Basic(non-SIMD)" }

func (genericKernel[T]) MR() int { return genericMR }

func (genericKernel[T]) NR() int { return genericNR }

func (genericKernel[T]) PackedALayout(rows, depth int) PackedLayout {
	return PackedLayout{
		Size:     packedPanelElements(rows, depth, genericMR),
		Align:    dtypes.FromGenericsType[T]().Size(),
		MustPack: false,
	}
}

func (genericKernel[T]) PackedBLayout(depth, cols int) PackedLayout {
	return PackedLayout{
		Size:     packedPanelElements(cols, depth, genericNR),
		Align:    dtypes.FromGenericsType[T]().Size(),
		MustPack: true,
	}
}

func (genericKernel[T]) PackABlock(dst []T, a Matrix[T], rows, depth Range) {
	packLHS(a.Data, dst, rows.Start, depth.Start, a.Stride, rows.Len(), depth.Len(), genericMR)
}

func (genericKernel[T]) PackBBlock(dst []T, b Matrix[T], depth, cols Range) {
	packRHS(b.Data, dst, depth.Start, cols.Start, b.Stride, depth.Len(), cols.Len(), genericNR)
}

func (genericKernel[T]) Tile(out []T, outRowStride int, a Lhs[T], b []T,
	depth, usedRows, usedCols int, alpha, beta T) {
	if usedRows < 1 || usedRows > genericMR || usedCols < 1 || usedCols > genericNR {
		exceptions.Panicf("generic kernel called with usedRows=%d, usedCols=%d, valid ranges are [1, %d] and [1, %d]",
			usedRows, usedCols, genericMR, genericNR)
	}

	// The accumulators act as a zeroed full-width scratch tile: edge tiles are
	// computed at full width and only the used window is merged back.
	var accum [genericMR * genericNR]T

	if a.Packed {
		// Packed panel, [depth][genericMR], zero padded: all rows are valid
		// to read, so the inner loops run at full width.
		idxLhs := 0
		idxRhs := 0
		for range depth {
			// Force early bound-checks to eliminate them in the inner loops.
			lhsWindow := a.Data[idxLhs : idxLhs+genericMR]
			_ = lhsWindow[genericMR-1]
			rhsWindow := b[idxRhs : idxRhs+genericNR]
			_ = rhsWindow[genericNR-1]
			for lhsRow := 0; lhsRow < genericMR; lhsRow += 4 {
				lhsV0 := lhsWindow[lhsRow]
				lhsV1 := lhsWindow[lhsRow+1]
				lhsV2 := lhsWindow[lhsRow+2]
				lhsV3 := lhsWindow[lhsRow+3]

				for rhsCol := 0; rhsCol+1 < genericNR; rhsCol += 2 {
					rhsV0 := rhsWindow[rhsCol]
					rhsV1 := rhsWindow[rhsCol+1]

					accum[lhsRow*genericNR+rhsCol] += lhsV0 * rhsV0
					accum[(lhsRow+1)*genericNR+rhsCol] += lhsV1 * rhsV0
					accum[(lhsRow+2)*genericNR+rhsCol] += lhsV2 * rhsV0
					accum[(lhsRow+3)*genericNR+rhsCol] += lhsV3 * rhsV0

					accum[lhsRow*genericNR+rhsCol+1] += lhsV0 * rhsV1
					accum[(lhsRow+1)*genericNR+rhsCol+1] += lhsV1 * rhsV1
					accum[(lhsRow+2)*genericNR+rhsCol+1] += lhsV2 * rhsV1
					accum[(lhsRow+3)*genericNR+rhsCol+1] += lhsV3 * rhsV1
				}
			}
			idxLhs += genericMR
			idxRhs += genericNR
		}
	} else {
		// Unpacked row-major window: only usedRows rows exist in memory.
		for r := range usedRows {
			lhsRow := a.Data[r*a.Stride : r*a.Stride+depth]
			accRow := accum[r*genericNR : (r+1)*genericNR]
			idxRhs := 0
			for _, lhsVal := range lhsRow {
				rhsWindow := b[idxRhs : idxRhs+genericNR]
				_ = rhsWindow[genericNR-1]
				for c := range genericNR {
					accRow[c] += lhsVal * rhsWindow[c]
				}
				idxRhs += genericNR
			}
		}
	}

	accumulateTile(out, outRowStride, accum[:], genericNR, usedRows, usedCols, alpha, beta)
}

func (genericKernel[T]) GEMV(out []T, a []T, b Matrix[T], alpha, beta T) {
	gemvRowMajor(out, a, b, alpha, beta)
}
