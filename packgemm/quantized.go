// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

import (
	"unsafe"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/simdgemm/internal/workerspool"
	"github.com/gomlx/simdgemm/pkg/core/dtypes"
)

// QuantizedGEMMFn computes output = alpha*((lhs-lhsZeroPoints) x (rhs-rhsZeroPoints)) + beta*output
// for asymmetric-quantized uint8 LHS and symmetric-or-asymmetric int8 RHS,
// accumulating in int32.
//
// lhsZeroPoints has 1 element (per-tensor) or lhsCrossSize elements (one per
// output row); rhsZeroPoints has 1 element or rhsCrossSize elements (one per
// output column). Zero points are shared across batches.
//
// The registered implementation subtracts the zero points after the raw
// uint8 x int8 dot products, using row and column sums folded into the packed
// panels, so the inner loop stays in 8 bits.
type QuantizedGEMMFn func(alpha, beta int32,
	lhs []uint8, lhsZeroPoints []int32,
	rhs []int8, rhsZeroPoints []int32,
	batchSize, lhsCrossSize, rhsCrossSize, contractingSize int,
	output []int32, pool *workerspool.Pool) error

const (
	quantizedMR = 8
	quantizedNR = 8
)

var quantizedParams = CacheParams{
	LHSL1KernelRows:      quantizedMR,
	RHSL1KernelCols:      quantizedNR,
	PanelContractingSize: 2048, // Kc: 8-bit strips stay small, L1 holds plenty.
	LHSPanelCrossSize:    64,   // Mc
	RHSPanelCrossSize:    256,  // Nc
}

func init() {
	registerGEMM(DTypePair{Input: dtypes.Uint8, Output: dtypes.Int32},
		"Quantized(u8xi8)", QuantizedGEMMFn(quantizedGEMM), &quantizedParams, PriorityBase)
}

func validateQuantizedShapes(lhs []uint8, lhsZeroPoints []int32, rhs []int8, rhsZeroPoints []int32,
	output []int32, batchSize, lhsCrossSize, rhsCrossSize, contractingSize int) {
	if batchSize <= 0 || lhsCrossSize <= 0 || rhsCrossSize <= 0 || contractingSize <= 0 {
		exceptions.Panicf("GEMM dimensions must be positive, got batchSize=%d, lhsCrossSize=%d, rhsCrossSize=%d, contractingSize=%d",
			batchSize, lhsCrossSize, rhsCrossSize, contractingSize)
	}
	if len(lhs) < batchSize*lhsCrossSize*contractingSize {
		exceptions.Panicf("GEMM lhs buffer has %d elements, shape [%d, %d, %d] requires %d",
			len(lhs), batchSize, lhsCrossSize, contractingSize, batchSize*lhsCrossSize*contractingSize)
	}
	if len(rhs) < batchSize*contractingSize*rhsCrossSize {
		exceptions.Panicf("GEMM rhs buffer has %d elements, shape [%d, %d, %d] requires %d",
			len(rhs), batchSize, contractingSize, rhsCrossSize, batchSize*contractingSize*rhsCrossSize)
	}
	if len(output) < batchSize*lhsCrossSize*rhsCrossSize {
		exceptions.Panicf("GEMM output buffer has %d elements, shape [%d, %d, %d] requires %d",
			len(output), batchSize, lhsCrossSize, rhsCrossSize, batchSize*lhsCrossSize*rhsCrossSize)
	}
	if len(lhsZeroPoints) != 1 && len(lhsZeroPoints) != lhsCrossSize {
		exceptions.Panicf("lhsZeroPoints must have 1 or lhsCrossSize=%d elements, got %d",
			lhsCrossSize, len(lhsZeroPoints))
	}
	if len(rhsZeroPoints) != 1 && len(rhsZeroPoints) != rhsCrossSize {
		exceptions.Panicf("rhsZeroPoints must have 1 or rhsCrossSize=%d elements, got %d",
			rhsCrossSize, len(rhsZeroPoints))
	}
}

func zeroPointAt(zeroPoints []int32, idx int) int32 {
	if len(zeroPoints) == 1 {
		return zeroPoints[0]
	}
	return zeroPoints[idx]
}

func quantizedGEMM(alpha, beta int32,
	lhs []uint8, lhsZeroPoints []int32,
	rhs []int8, rhsZeroPoints []int32,
	batchSize, lhsCrossSize, rhsCrossSize, contractingSize int,
	output []int32, pool *workerspool.Pool) error {

	validateQuantizedShapes(lhs, lhsZeroPoints, rhs, rhsZeroPoints, output,
		batchSize, lhsCrossSize, rhsCrossSize, contractingSize)

	lhsBatchStride := lhsCrossSize * contractingSize
	rhsBatchStride := contractingSize * rhsCrossSize
	outputBatchStride := lhsCrossSize * rhsCrossSize

	if lhsCrossSize == 1 {
		for batchIdx := range batchSize {
			quantizedGEMV(alpha, beta,
				lhs[batchIdx*lhsBatchStride:(batchIdx+1)*lhsBatchStride], lhsZeroPoints,
				rhs[batchIdx*rhsBatchStride:(batchIdx+1)*rhsBatchStride], rhsZeroPoints,
				rhsCrossSize, contractingSize,
				output[batchIdx*outputBatchStride:(batchIdx+1)*outputBatchStride])
		}
		return nil
	}

	maxWorkers := 1
	if pool != nil {
		maxWorkers = pool.AdjustedMaxParallelism()
	}
	if maxWorkers <= 1 {
		buffers := newQuantizedBuffers(&quantizedParams)
		for batchIdx := range batchSize {
			quantizedGEMMChunk(alpha, beta,
				lhs[batchIdx*lhsBatchStride:(batchIdx+1)*lhsBatchStride], lhsZeroPoints,
				rhs[batchIdx*rhsBatchStride:(batchIdx+1)*rhsBatchStride], rhsZeroPoints,
				output[batchIdx*outputBatchStride:(batchIdx+1)*outputBatchStride],
				rhsCrossSize, contractingSize,
				0, lhsCrossSize, 0, rhsCrossSize,
				buffers)
		}
		return nil
	}

	workChan := make(chan workItem, max(2000, 2*maxWorkers))
	go feedWorkItems(batchSize, lhsCrossSize, rhsCrossSize, &quantizedParams, maxWorkers, workChan)
	pool.Saturate(func() {
		buffers := newQuantizedBuffers(&quantizedParams)
		for item := range workChan {
			for batchIdx := item.batchStart; batchIdx < item.batchEnd; batchIdx++ {
				quantizedGEMMChunk(alpha, beta,
					lhs[batchIdx*lhsBatchStride:(batchIdx+1)*lhsBatchStride], lhsZeroPoints,
					rhs[batchIdx*rhsBatchStride:(batchIdx+1)*rhsBatchStride], rhsZeroPoints,
					output[batchIdx*outputBatchStride:(batchIdx+1)*outputBatchStride],
					rhsCrossSize, contractingSize,
					item.lhsRowStart, item.lhsRowEnd, item.rhsColStart, item.rhsColEnd,
					buffers)
			}
		}
	})
	return nil
}

// Packed 8-bit panel layout: per strip of quantizedMR rows (or quantizedNR
// columns), the 8-bit values in k-major order, padded to a 4-byte boundary,
// followed by one int32 sum per row (column) over this panel's depth. The
// zero-point correction in quantizedTile consumes the sums.

func align4(n int) int { return (n + 3) &^ 3 }

// quantizedStripBytes is the byte size of one packed strip, values plus sums.
func quantizedStripBytes(depth, kernelSize int) int {
	return align4(depth*kernelSize) + 4*kernelSize
}

func quantizedPanelBytes(cross, depth, kernelSize int) int {
	return ceilDiv(cross, kernelSize) * quantizedStripBytes(depth, kernelSize)
}

// quantizedPanelBuffer allocates a byte buffer backed by int32 storage, so
// the embedded sums at 4-aligned offsets are correctly aligned.
func quantizedPanelBuffer(sizeBytes int) []uint8 {
	backing := make([]int32, ceilDiv(sizeBytes, 4))
	return unsafe.Slice((*uint8)(unsafe.Pointer(unsafe.SliceData(backing))), sizeBytes)
}

// stripSums views the int32 sums embedded at a 4-aligned offset of a panel.
func stripSums(panel []uint8, offset, n int) []int32 {
	return unsafe.Slice((*int32)(unsafe.Pointer(&panel[offset])), n)
}

type quantizedBuffers struct {
	packedLhs, packedRhs []uint8
}

func newQuantizedBuffers(params *CacheParams) *quantizedBuffers {
	return &quantizedBuffers{
		packedLhs: quantizedPanelBuffer(quantizedPanelBytes(
			params.LHSPanelCrossSize, params.PanelContractingSize, quantizedMR)),
		packedRhs: quantizedPanelBuffer(quantizedPanelBytes(
			params.RHSPanelCrossSize, params.PanelContractingSize, quantizedNR)),
	}
}

// packQuantizedLHS packs a [numRows, depth] uint8 block into strips of
// quantizedMR rows, k-major within each strip, zero padded, each strip
// followed by its per-row value sums.
func packQuantizedLHS(src []uint8, dst []uint8, srcRowStart, srcColStart, srcRowStride,
	numRows, depth int) {
	stripBytes := quantizedStripBytes(depth, quantizedMR)
	sumsOffset := align4(depth * quantizedMR)
	dstStrip := 0
	for stripRowIdx := 0; stripRowIdx < numRows; stripRowIdx += quantizedMR {
		validRows := min(quantizedMR, numRows-stripRowIdx)
		srcStripIdx := (srcRowStart+stripRowIdx)*srcRowStride + srcColStart

		values := dst[dstStrip : dstStrip+depth*quantizedMR]
		sums := stripSums(dst, dstStrip+sumsOffset, quantizedMR)
		for r := range sums {
			sums[r] = 0
		}

		dstIdx := 0
		for col := range depth {
			srcIdx := srcStripIdx + col
			for r := range validRows {
				v := src[srcIdx]
				values[dstIdx+r] = v
				sums[r] += int32(v)
				srcIdx += srcRowStride
			}
			for r := validRows; r < quantizedMR; r++ {
				values[dstIdx+r] = 0
			}
			dstIdx += quantizedMR
		}
		dstStrip += stripBytes
	}
}

// packQuantizedRHS packs a [depth, numCols] int8 block into strips of
// quantizedNR columns, k-major within each strip, zero padded, each strip
// followed by its per-column value sums.
func packQuantizedRHS(src []int8, dst []uint8, srcRowStart, srcColStart, srcRowStride,
	depth, numCols int) {
	stripBytes := quantizedStripBytes(depth, quantizedNR)
	sumsOffset := align4(depth * quantizedNR)
	dstStrip := 0
	for stripColIdx := 0; stripColIdx < numCols; stripColIdx += quantizedNR {
		validCols := min(quantizedNR, numCols-stripColIdx)

		values := unsafe.Slice((*int8)(unsafe.Pointer(&dst[dstStrip])), depth*quantizedNR)
		sums := stripSums(dst, dstStrip+sumsOffset, quantizedNR)
		for c := range sums {
			sums[c] = 0
		}

		dstIdx := 0
		srcIdx := srcRowStart*srcRowStride + srcColStart + stripColIdx
		for range depth {
			for c := range validCols {
				v := src[srcIdx+c]
				values[dstIdx+c] = v
				sums[c] += int32(v)
			}
			for c := validCols; c < quantizedNR; c++ {
				values[dstIdx+c] = 0
			}
			dstIdx += quantizedNR
			srcIdx += srcRowStride
		}
		dstStrip += stripBytes
	}
}

// quantizedGEMMChunk runs the blocked schedule over the
// [lhsRowStart, lhsRowEnd) x [rhsColStart, rhsColEnd) output window of a
// single batch matrix.
func quantizedGEMMChunk(alpha, beta int32,
	lhs []uint8, lhsZeroPoints []int32,
	rhs []int8, rhsZeroPoints []int32,
	output []int32,
	rhsCrossSize, contractingSize int,
	lhsRowStart, lhsRowEnd, rhsColStart, rhsColEnd int,
	buffers *quantizedBuffers) {

	params := &quantizedParams

	for rhsPanelColIdx := rhsColStart; rhsPanelColIdx < rhsColEnd; rhsPanelColIdx += params.RHSPanelCrossSize {
		rhsPanelWidth := min(params.RHSPanelCrossSize, rhsColEnd-rhsPanelColIdx)

		for contractingPanelIdx := 0; contractingPanelIdx < contractingSize; contractingPanelIdx += params.PanelContractingSize {
			effectiveBeta := beta
			if contractingPanelIdx > 0 {
				effectiveBeta = 1
			}
			contractingPanelWidth := min(params.PanelContractingSize, contractingSize-contractingPanelIdx)
			rhsStripBytes := quantizedStripBytes(contractingPanelWidth, quantizedNR)
			lhsStripBytes := quantizedStripBytes(contractingPanelWidth, quantizedMR)

			packQuantizedRHS(rhs, buffers.packedRhs, contractingPanelIdx, rhsPanelColIdx, rhsCrossSize,
				contractingPanelWidth, rhsPanelWidth)

			for lhsPanelRowIdx := lhsRowStart; lhsPanelRowIdx < lhsRowEnd; lhsPanelRowIdx += params.LHSPanelCrossSize {
				lhsPanelHeight := min(params.LHSPanelCrossSize, lhsRowEnd-lhsPanelRowIdx)

				packQuantizedLHS(lhs, buffers.packedLhs, lhsPanelRowIdx, contractingPanelIdx, contractingSize,
					lhsPanelHeight, contractingPanelWidth)

				for microColIdx := 0; microColIdx < rhsPanelWidth; microColIdx += quantizedNR {
					usedCols := min(quantizedNR, rhsPanelWidth-microColIdx)
					rhsStrip := buffers.packedRhs[(microColIdx/quantizedNR)*rhsStripBytes:]

					for microRowIdx := 0; microRowIdx < lhsPanelHeight; microRowIdx += quantizedMR {
						usedRows := min(quantizedMR, lhsPanelHeight-microRowIdx)
						lhsStrip := buffers.packedLhs[(microRowIdx/quantizedMR)*lhsStripBytes:]

						outputRow := lhsPanelRowIdx + microRowIdx
						outputCol := rhsPanelColIdx + microColIdx

						quantizedTile(
							output[outputRow*rhsCrossSize+outputCol:], rhsCrossSize,
							lhsStrip, rhsStrip, contractingPanelWidth,
							usedRows, usedCols,
							lhsZeroPoints, rhsZeroPoints, outputRow, outputCol,
							alpha, effectiveBeta)
					}
				}
			}
		}
	}
}

// quantizedTile computes one [usedRows, usedCols] output tile from packed
// strips: raw uint8 x int8 dot products first, then the zero-point
// correction using the sums embedded in the strips:
//
//	corrected[r,c] = raw[r,c] - zpRhs[c]*lhsSums[r] - zpLhs[r]*rhsSums[c] + depth*zpLhs[r]*zpRhs[c]
//
// outputRow and outputCol locate the tile in the full output, needed to pick
// per-row and per-column zero points.
func quantizedTile(out []int32, outRowStride int,
	lhsStrip, rhsStrip []uint8, depth, usedRows, usedCols int,
	lhsZeroPoints, rhsZeroPoints []int32, outputRow, outputCol int,
	alpha, beta int32) {
	if usedRows < 1 || usedRows > quantizedMR || usedCols < 1 || usedCols > quantizedNR {
		exceptions.Panicf("quantized kernel called with usedRows=%d, usedCols=%d, valid ranges are [1, %d] and [1, %d]",
			usedRows, usedCols, quantizedMR, quantizedNR)
	}

	lhsValues := lhsStrip[:depth*quantizedMR]
	lhsSums := stripSums(lhsStrip, align4(depth*quantizedMR), quantizedMR)
	rhsValues := unsafe.Slice((*int8)(unsafe.Pointer(unsafe.SliceData(rhsStrip))), depth*quantizedNR)
	rhsSums := stripSums(rhsStrip, align4(depth*quantizedNR), quantizedNR)

	// Raw dot products, all in the widening uint8 x int8 -> int32 form.
	var accum [quantizedMR * quantizedNR]int32
	idxLhs := 0
	idxRhs := 0
	for range depth {
		lhsWindow := lhsValues[idxLhs : idxLhs+quantizedMR]
		_ = lhsWindow[quantizedMR-1]
		rhsWindow := rhsValues[idxRhs : idxRhs+quantizedNR]
		_ = rhsWindow[quantizedNR-1]
		for lhsRow := 0; lhsRow < quantizedMR; lhsRow += 4 {
			lhsV0 := int32(lhsWindow[lhsRow])
			lhsV1 := int32(lhsWindow[lhsRow+1])
			lhsV2 := int32(lhsWindow[lhsRow+2])
			lhsV3 := int32(lhsWindow[lhsRow+3])

			for rhsCol := 0; rhsCol+1 < quantizedNR; rhsCol += 2 {
				rhsV0 := int32(rhsWindow[rhsCol])
				rhsV1 := int32(rhsWindow[rhsCol+1])

				accum[lhsRow*quantizedNR+rhsCol] += lhsV0 * rhsV0
				accum[(lhsRow+1)*quantizedNR+rhsCol] += lhsV1 * rhsV0
				accum[(lhsRow+2)*quantizedNR+rhsCol] += lhsV2 * rhsV0
				accum[(lhsRow+3)*quantizedNR+rhsCol] += lhsV3 * rhsV0

				accum[lhsRow*quantizedNR+rhsCol+1] += lhsV0 * rhsV1
				accum[(lhsRow+1)*quantizedNR+rhsCol+1] += lhsV1 * rhsV1
				accum[(lhsRow+2)*quantizedNR+rhsCol+1] += lhsV2 * rhsV1
				accum[(lhsRow+3)*quantizedNR+rhsCol+1] += lhsV3 * rhsV1
			}
		}
		idxLhs += quantizedMR
		idxRhs += quantizedNR
	}

	// Zero-point correction on the used window only.
	depth32 := int32(depth)
	for r := range usedRows {
		zpLhs := zeroPointAt(lhsZeroPoints, outputRow+r)
		sumLhs := lhsSums[r]
		accRow := accum[r*quantizedNR : (r+1)*quantizedNR]
		for c := range usedCols {
			zpRhs := zeroPointAt(rhsZeroPoints, outputCol+c)
			accRow[c] += -zpRhs*sumLhs - zpLhs*rhsSums[c] + depth32*zpLhs*zpRhs
		}
	}

	accumulateTile(out, outRowStride, accum[:], quantizedNR, usedRows, usedCols, alpha, beta)
}

// quantizedGEMV handles the single-output-row case without packing: raw dot
// products and column sums accumulate in one pass over the row-major RHS, the
// correction is applied at the end.
func quantizedGEMV(alpha, beta int32,
	lhs []uint8, lhsZeroPoints []int32,
	rhs []int8, rhsZeroPoints []int32,
	rhsCrossSize, contractingSize int,
	output []int32) {

	raw := make([]int32, rhsCrossSize)
	colSums := make([]int32, rhsCrossSize)
	var lhsSum int32
	for k := range contractingSize {
		lhsVal := int32(lhs[k])
		lhsSum += lhsVal
		rhsRow := rhs[k*rhsCrossSize : (k+1)*rhsCrossSize]
		for c, v := range rhsRow {
			raw[c] += lhsVal * int32(v)
			colSums[c] += int32(v)
		}
	}

	zpLhs := zeroPointAt(lhsZeroPoints, 0)
	depth32 := int32(contractingSize)
	for c := range rhsCrossSize {
		zpRhs := zeroPointAt(rhsZeroPoints, c)
		corrected := raw[c] - zpRhs*lhsSum - zpLhs*colSums[c] + depth32*zpLhs*zpRhs
		if beta == 0 {
			output[c] = alpha * corrected
		} else {
			output[c] = alpha*corrected + beta*output[c]
		}
	}
}
