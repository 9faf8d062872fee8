// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

import (
	"github.com/gomlx/simdgemm/internal/workerspool"
	"github.com/gomlx/simdgemm/pkg/core/dtypes"
)

// Variant selects a specific GEMM code path, overriding the size heuristic.
type Variant int

const (
	// VariantNone lets the size heuristic choose the code path.
	VariantNone Variant = iota

	// VariantSmall forces the register-tiled small-matrix kernel.
	VariantSmall

	// VariantBlocked forces the cache-blocked packing engine.
	VariantBlocked
)

// forceVariant overrides the code path selection when set to something other
// than VariantNone. Not concurrency-safe, meant for tests and benchmarks only.
var forceVariant = VariantNone

var (
	// Threshold in byte size for switching to the small matrix multiplication kernel.
	// If the matrices involved fit below this threshold, the small
	// matrix multiplication kernel is used instead of the tiled implementation.
	// This is a heuristic and may need to be tuned for different architectures.
	// Expressed in number of bytes.
	smallMatMulSizeThreshold = 4 * 1024 * 1024

	// Minimum number of flops per worker: above this number, if possible we should
	// parallelize computation on separate goroutines.
	minMatMulFlopsPerWorker = 1024
)

// smallGEMMParallel computes a batched GEMM for **small matrices** (not
// counting the batch size), parallelizing on the batch dimension when it
// evaluates it as worth parallelizing.
//
// Small matrices fit comfortably in cache, so packing buys nothing; a plain
// register-tiled loop over the row-major inputs wins.
func smallGEMMParallel[T dtypes.NumberNotComplex](
	alpha, beta T,
	lhsFlat, rhsFlat, outputFlat []T,
	batchSize, lhsCrossSize, rhsCrossSize, contractingSize int,
	pool *workerspool.Pool) error {

	lhsBatchStride := lhsCrossSize * contractingSize
	rhsBatchStride := contractingSize * rhsCrossSize
	outputBatchStride := lhsCrossSize * rhsCrossSize

	gemmFlops := lhsCrossSize * rhsCrossSize * contractingSize
	var maxWorkers int
	if pool != nil {
		maxWorkers = pool.MaxParallelism()
	}
	if maxWorkers == 0 || maxWorkers == 1 || batchSize == 1 || batchSize*gemmFlops < minMatMulFlopsPerWorker {
		// Not worth parallelizing: just run the small matmul kernel sequentially.
		smallGEMM(alpha, beta, lhsFlat, rhsFlat, outputFlat,
			batchSize, lhsCrossSize, rhsCrossSize, contractingSize)
		return nil
	}

	// Parallelize on the batch dimension:
	batchCountPerTask := minMatMulFlopsPerWorker / gemmFlops
	if maxWorkers > 0 {
		// Make parallelization more fine-grained if there are enough workers.
		batchCountPerTask = min(batchCountPerTask, batchSize/maxWorkers)
	}
	batchCountPerTask = max(batchCountPerTask, 1)

	// Create the work that needs doing in a buffered channel.
	type chunkData struct {
		batchIdx, batchCount int
	}
	numChunks := ceilDiv(batchSize, batchCountPerTask)
	work := make(chan chunkData, numChunks)
	for batchIdx := 0; batchIdx < batchSize; batchIdx += batchCountPerTask {
		batchCount := min(batchCountPerTask, batchSize-batchIdx)
		work <- chunkData{batchIdx, batchCount}
	}
	close(work)

	// Execute the work in as many workers as available.
	pool.Saturate(func() {
		for w := range work {
			batchLhs := lhsFlat[w.batchIdx*lhsBatchStride : (w.batchIdx+w.batchCount)*lhsBatchStride]
			batchRhs := rhsFlat[w.batchIdx*rhsBatchStride : (w.batchIdx+w.batchCount)*rhsBatchStride]
			batchOutput := outputFlat[w.batchIdx*outputBatchStride : (w.batchIdx+w.batchCount)*outputBatchStride]
			smallGEMM(alpha, beta, batchLhs, batchRhs, batchOutput,
				w.batchCount, lhsCrossSize, rhsCrossSize, contractingSize)
		}
	})
	return nil
}

// smallGEMM runs the register-tiled small-matrix kernel sequentially over
// batchCount matrices: 3 LHS rows by 4 RHS columns per tile, with scalar
// fringes.
func smallGEMM[T dtypes.NumberNotComplex](
	alpha, beta T,
	lhs, rhs, output []T,
	batchCount, lhsCrossSize, rhsCrossSize, contractingSize int,
) {
	lhsStride := contractingSize * lhsCrossSize
	rhsStride := rhsCrossSize * contractingSize
	outputStride := rhsCrossSize * lhsCrossSize

	// Bounds check hint for the compiler.
	if len(lhs) < lhsStride*batchCount || len(rhs) < rhsStride*batchCount || len(output) < outputStride*batchCount {
		return
	}

	for batchIdx := 0; batchIdx < batchCount; batchIdx++ {
		lhsBase := batchIdx * lhsStride
		rhsBase := batchIdx * rhsStride
		outputBase := batchIdx * outputStride

		row := 0
		// Main loop: process 3 rows at a time.
		for ; row+2 < lhsCrossSize; row += 3 {
			// Pre-calculate base indices for the 3 LHS rows.
			lRow0Base := lhsBase + row*contractingSize
			lRow1Base := lRow0Base + contractingSize
			lRow2Base := lRow1Base + contractingSize

			col := 0
			// Main tile: process 4 columns at a time.
			for ; col+3 < rhsCrossSize; col += 4 {
				var c00, c01, c02, c03 T
				var c10, c11, c12, c13 T
				var c20, c21, c22, c23 T

				// rIdx tracks the current row in the RHS for these 4 columns.
				rIdx := rhsBase + col

				for k := 0; k < contractingSize; k++ {
					// Load RHS row segment.
					r0, r1, r2, r3 := rhs[rIdx], rhs[rIdx+1], rhs[rIdx+2], rhs[rIdx+3]

					// Row 0
					l0 := lhs[lRow0Base+k]
					c00 += l0 * r0
					c01 += l0 * r1
					c02 += l0 * r2
					c03 += l0 * r3
					// Row 1
					l1 := lhs[lRow1Base+k]
					c10 += l1 * r0
					c11 += l1 * r1
					c12 += l1 * r2
					c13 += l1 * r3
					// Row 2
					l2 := lhs[lRow2Base+k]
					c20 += l2 * r0
					c21 += l2 * r1
					c22 += l2 * r2
					c23 += l2 * r3

					rIdx += rhsCrossSize
				}

				// Write 3x4 tile results.
				smallWriteCol4(output, outputBase+row*rhsCrossSize+col, alpha, beta, c00, c01, c02, c03)
				smallWriteCol4(output, outputBase+(row+1)*rhsCrossSize+col, alpha, beta, c10, c11, c12, c13)
				smallWriteCol4(output, outputBase+(row+2)*rhsCrossSize+col, alpha, beta, c20, c21, c22, c23)
			}

			// Columns-fringe: handle remaining columns for the current 3 rows.
			for ; col < rhsCrossSize; col++ {
				var c0, c1, c2 T
				rIdx := rhsBase + col
				for k := 0; k < contractingSize; k++ {
					rk := rhs[rIdx]
					c0 += lhs[lRow0Base+k] * rk
					c1 += lhs[lRow1Base+k] * rk
					c2 += lhs[lRow2Base+k] * rk
					rIdx += rhsCrossSize
				}
				outputIdx := outputBase + row*rhsCrossSize + col
				smallWriteScalar(output, outputIdx, alpha, beta, c0)
				smallWriteScalar(output, outputIdx+rhsCrossSize, alpha, beta, c1)
				smallWriteScalar(output, outputIdx+2*rhsCrossSize, alpha, beta, c2)
			}
		}

		// Row-fringe: handle remaining rows (fewer than 3).
		outputIdx := outputBase + row*rhsCrossSize
		for ; row < lhsCrossSize; row++ {
			for col := range rhsCrossSize {
				var acc T
				lhsIdx := lhsBase + row*contractingSize
				rhsIdx0 := rhsBase + col
				rhsIdx1 := rhsBase + col + rhsCrossSize
				rhsIdx2 := rhsBase + col + 2*rhsCrossSize
				rhsIdx3 := rhsBase + col + 3*rhsCrossSize
				rhsStep := rhsCrossSize * 4
				var contractingIdx int
				for ; contractingIdx+3 < contractingSize; contractingIdx += 4 {
					v0 := lhs[lhsIdx] * rhs[rhsIdx0]
					v1 := lhs[lhsIdx+1] * rhs[rhsIdx1]
					v2 := lhs[lhsIdx+2] * rhs[rhsIdx2]
					v3 := lhs[lhsIdx+3] * rhs[rhsIdx3]
					acc += v0 + v1 + v2 + v3
					lhsIdx += 4
					rhsIdx0 += rhsStep
					rhsIdx1 += rhsStep
					rhsIdx2 += rhsStep
					rhsIdx3 += rhsStep
				}
				for ; contractingIdx < contractingSize; contractingIdx++ {
					acc += lhs[lhsIdx] * rhs[rhsIdx0]
					lhsIdx++
					rhsIdx0 += rhsCrossSize
				}
				smallWriteScalar(output, outputIdx, alpha, beta, acc)
				outputIdx++
			}
		}
	}
}

// smallWriteCol4 handles a single row of 4 columns to maximize store-throughput.
func smallWriteCol4[T dtypes.NumberNotComplex](out []T, offset int, alpha, beta T, v0, v1, v2, v3 T) {
	if beta != 0 {
		out[offset+0] = beta*out[offset+0] + alpha*v0
		out[offset+1] = beta*out[offset+1] + alpha*v1
		out[offset+2] = beta*out[offset+2] + alpha*v2
		out[offset+3] = beta*out[offset+3] + alpha*v3
	} else {
		out[offset+0] = alpha * v0
		out[offset+1] = alpha * v1
		out[offset+2] = alpha * v2
		out[offset+3] = alpha * v3
	}
}

// smallWriteScalar handles a single scalar write to maximize store-throughput.
func smallWriteScalar[T dtypes.NumberNotComplex](out []T, idx int, alpha, beta T, value T) {
	if beta != 0 {
		out[idx] = beta*out[idx] + alpha*value
	} else {
		out[idx] = alpha * value
	}
}
