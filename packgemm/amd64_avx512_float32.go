// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build amd64 && goexperiment.simd

package packgemm

import (
	"simd/archsimd"
	"sync"
	"unsafe"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/gomlx/simdgemm/internal/workerspool"
)

const (
	avx512MR = 16 // Uses 4 ZMM registers for accumulation rows, must be a multiple of 4.
	avx512NR = 32 // Uses 2 ZMM registers for accumulation cols.
)

var avx512Float32Params = CacheParams{
	LHSL1KernelRows:      avx512MR,
	RHSL1KernelCols:      avx512NR,
	PanelContractingSize: 512,  // Kc: a strip fits in L1 cache.
	LHSPanelCrossSize:    512,  // Mc: fits in L2 cache (multiple of LHSL1KernelRows).
	RHSPanelCrossSize:    4096, // Nc: fits in L3 cache (multiple of RHSL1KernelCols).
}

func init() {
	k := newAVX512Float32Kernel()
	if k == nil {
		return
	}
	e := &engine[float32]{kernel: k, params: &avx512Float32Params}
	fn := func(alpha, beta float32, lhsFlat, rhsFlat []float32,
		batchSize, lhsCrossSize, rhsCrossSize, contractingSize int,
		outputFlat []float32,
		bufAllocFn BufAllocFn[float32], bufReleaseFn BufReleaseFn, pool *workerspool.Pool) error {
		avx512WarningOnce.Do(func() {
			klog.Infof("AVX512 GEMM (General Matrix Multiplication) algorithm still experimental!")
		})
		return e.run(alpha, beta, lhsFlat, rhsFlat, batchSize, lhsCrossSize, rhsCrossSize, contractingSize,
			outputFlat, bufAllocFn, bufReleaseFn, pool)
	}
	RegisterGEMM("AVX512", fn, &avx512Float32Params, PriorityDTypeSIMD)

	// The half-precision path converts to float32 panels, so it can ride the
	// same micro-kernel.
	halfKernel = k
	halfParams = &avx512Float32Params
}

var avx512WarningOnce sync.Once

// avx512Float32Kernel computes [16, 32] output tiles using 8 ZMM accumulator
// registers (4 rows at a time x 2 column strips). Go only seems to make use of
// the first 16 registers (AVX512 has 32 in total though).
//
// It requires both sides packed: the LHS panel layout is [depth][16], the RHS
// panel layout [depth][32], both zero padded.
type avx512Float32Kernel struct{}

// newAVX512Float32Kernel returns the AVX512 kernel, or nil if the CPU does not
// support AVX512.
func newAVX512Float32Kernel() Kernel[float32, float32, float32] {
	if !archsimd.X86.AVX512() {
		return nil
	}
	return avx512Float32Kernel{}
}

func (avx512Float32Kernel) Name() string { return "AVX512" }

func (avx512Float32Kernel) MR() int { return avx512MR }

func (avx512Float32Kernel) NR() int { return avx512NR }

func (avx512Float32Kernel) PackedALayout(rows, depth int) PackedLayout {
	return PackedLayout{
		Size:     packedPanelElements(rows, depth, avx512MR),
		Align:    64, // ZMM load width.
		MustPack: true,
	}
}

func (avx512Float32Kernel) PackedBLayout(depth, cols int) PackedLayout {
	return PackedLayout{
		Size:     packedPanelElements(cols, depth, avx512NR),
		Align:    64,
		MustPack: true,
	}
}

func (avx512Float32Kernel) PackABlock(dst []float32, a Matrix[float32], rows, depth Range) {
	packLHS(a.Data, dst, rows.Start, depth.Start, a.Stride, rows.Len(), depth.Len(), avx512MR)
}

func (avx512Float32Kernel) PackBBlock(dst []float32, b Matrix[float32], depth, cols Range) {
	packRHS(b.Data, dst, depth.Start, cols.Start, b.Stride, depth.Len(), cols.Len(), avx512NR)
}

func (avx512Float32Kernel) GEMV(out []float32, a []float32, b Matrix[float32], alpha, beta float32) {
	// vecs.AxpyFloat32 already dispatches to the AVX512 version.
	gemvRowMajor(out, a, b, alpha, beta)
}

func (avx512Float32Kernel) Tile(out []float32, outRowStride int, a Lhs[float32], b []float32,
	depth, usedRows, usedCols int, alpha, beta float32) {
	if usedRows < 1 || usedRows > avx512MR || usedCols < 1 || usedCols > avx512NR {
		exceptions.Panicf("AVX512 kernel called with usedRows=%d, usedCols=%d, valid ranges are [1, %d] and [1, %d]",
			usedRows, usedCols, avx512MR, avx512NR)
	}
	if !a.Packed {
		exceptions.Panicf("AVX512 kernel requires a packed LHS panel")
	}

	// Write back setup: masks cover the used columns of each 16-wide strip.
	betaBroadcast := archsimd.BroadcastFloat32x16(beta)
	cols0Bits := min(16, usedCols)
	cols1Bits := min(16, max(0, usedCols-16))
	maskForCols0 := archsimd.Mask32x16FromBits(uint16(uint64(1<<cols0Bits) - 1))
	maskForCols1 := archsimd.Mask32x16FromBits(uint16(uint64(1<<cols1Bits) - 1))

	// writeRow stores the accumulator registers back into the output row.
	// With beta == 0 the output is stored without being read, it may be
	// uninitialized memory.
	writeRow := func(row int, acc0, acc1 archsimd.Float32x16) {
		outputIdx := row * outRowStride
		if usedCols >= 16 {
			// Store first strip of columns.
			outSlice := out[outputIdx : outputIdx+16]
			if beta == 0 {
				acc0.StoreSlice(outSlice)
			} else {
				curValue := archsimd.LoadFloat32x16Slice(outSlice)
				curValue = curValue.Mul(betaBroadcast)
				curValue = curValue.Add(acc0)
				curValue.StoreSlice(outSlice)
			}

			// Store second strip of columns.
			if usedCols == 32 {
				// Full second strip of columns.
				outSlice = out[outputIdx+16 : outputIdx+32]
				if beta == 0 {
					acc1.StoreSlice(outSlice)
				} else {
					curValue := archsimd.LoadFloat32x16Slice(outSlice)
					curValue = curValue.Mul(betaBroadcast)
					curValue = curValue.Add(acc1)
					curValue.StoreSlice(outSlice)
				}
			} else if usedCols > 16 {
				// Partial second strip of columns.
				outSlice := out[outputIdx+16 : outputIdx+usedCols]
				if beta == 0 {
					acc1.StoreMasked(castToArray16(&outSlice[0]), maskForCols1)
				} else {
					curValue := archsimd.LoadFloat32x16SlicePart(outSlice)
					curValue = curValue.Mul(betaBroadcast)
					curValue = curValue.Add(acc1)
					curValue.StoreMasked(castToArray16(&outSlice[0]), maskForCols1)
				}
			}

		} else {
			// Store partial first strip of columns.
			outSlice := out[outputIdx : outputIdx+usedCols]
			if beta == 0 {
				acc0.StoreMasked(castToArray16(&outSlice[0]), maskForCols0)
			} else {
				curValue := archsimd.LoadFloat32x16SlicePart(outSlice)
				curValue = curValue.Mul(betaBroadcast)
				curValue = curValue.Add(acc0)
				curValue.StoreMasked(castToArray16(&outSlice[0]), maskForCols0)
			}
		}
	}

	for rowOffset := 0; rowOffset < usedRows; rowOffset += 4 {
		// 4 rows (of Mr) worth of accumulator registers at a time.
		acc0s0 := archsimd.BroadcastFloat32x16(0.0)
		acc0s1 := archsimd.BroadcastFloat32x16(0.0)
		acc1s0 := archsimd.BroadcastFloat32x16(0.0)
		acc1s1 := archsimd.BroadcastFloat32x16(0.0)
		acc2s0 := archsimd.BroadcastFloat32x16(0.0)
		acc2s1 := archsimd.BroadcastFloat32x16(0.0)
		acc3s0 := archsimd.BroadcastFloat32x16(0.0)
		acc3s1 := archsimd.BroadcastFloat32x16(0.0)

		// The K-loop: stream the two RHS strips, broadcast one LHS value per
		// row. The packed panels are zero padded, so reading past usedRows or
		// usedCols only accumulates zeros.
		idxLhs := rowOffset
		idxRhs := 0
		for range depth {
			rhsVec0 := archsimd.LoadFloat32x16Slice(b[idxRhs : idxRhs+16])
			rhsVec1 := archsimd.LoadFloat32x16Slice(b[idxRhs+16 : idxRhs+32])
			idxRhs += avx512NR

			// Row rowOffset+0
			lhsVec0 := archsimd.BroadcastFloat32x16(a.Data[idxLhs+0])
			acc0s0 = rhsVec0.MulAdd(lhsVec0, acc0s0)
			acc0s1 = rhsVec1.MulAdd(lhsVec0, acc0s1)

			// Row rowOffset+1
			lhsVec1 := archsimd.BroadcastFloat32x16(a.Data[idxLhs+1])
			acc1s0 = rhsVec0.MulAdd(lhsVec1, acc1s0)
			acc1s1 = rhsVec1.MulAdd(lhsVec1, acc1s1)

			// Row rowOffset+2
			lhsVec2 := archsimd.BroadcastFloat32x16(a.Data[idxLhs+2])
			acc2s0 = rhsVec0.MulAdd(lhsVec2, acc2s0)
			acc2s1 = rhsVec1.MulAdd(lhsVec2, acc2s1)

			// Row rowOffset+3
			lhsVec3 := archsimd.BroadcastFloat32x16(a.Data[idxLhs+3])
			acc3s0 = rhsVec0.MulAdd(lhsVec3, acc3s0)
			acc3s1 = rhsVec1.MulAdd(lhsVec3, acc3s1)

			idxLhs += avx512MR
		}

		// Apply alpha factor.
		if alpha != 1 {
			alphaBroadcast := archsimd.BroadcastFloat32x16(alpha)
			acc0s0 = acc0s0.Mul(alphaBroadcast)
			acc0s1 = acc0s1.Mul(alphaBroadcast)
			acc1s0 = acc1s0.Mul(alphaBroadcast)
			acc1s1 = acc1s1.Mul(alphaBroadcast)
			acc2s0 = acc2s0.Mul(alphaBroadcast)
			acc2s1 = acc2s1.Mul(alphaBroadcast)
			acc3s0 = acc3s0.Mul(alphaBroadcast)
			acc3s1 = acc3s1.Mul(alphaBroadcast)
		}

		// Write back only the rows still inside the used window.
		remainingRows := usedRows - rowOffset
		switch {
		case remainingRows > 3:
			writeRow(rowOffset+3, acc3s0, acc3s1)
			fallthrough
		case remainingRows > 2:
			writeRow(rowOffset+2, acc2s0, acc2s1)
			fallthrough
		case remainingRows > 1:
			writeRow(rowOffset+1, acc1s0, acc1s1)
			fallthrough
		case remainingRows > 0:
			writeRow(rowOffset+0, acc0s0, acc0s1)
		}
	}
}

func castToArray16[T float32](ptr *T) *[16]T {
	return (*[16]T)(unsafe.Pointer(ptr))
}
