// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

import (
	"github.com/gomlx/simdgemm/pkg/core/dtypes"
)

// PackedLayout describes the buffer a kernel needs for one packed operand
// panel.
//
// Size is in elements, already padded up to whole kernel strips (and including
// any trailing metadata, like the row/column sums of the quantized kernels).
// Align is the required base alignment in bytes. When MustPack is false the
// kernel can also consume the operand directly from its row-major source and
// the engine may skip packing altogether.
type PackedLayout struct {
	Size     int
	Align    int
	MustPack bool
}

// Matrix is a row-major strided view of a flat slice: element (r, c) lives at
// Data[r*Stride + c]. Stride >= Cols; a freshly shaped matrix has
// Stride == Cols, sub-views keep the stride of their parent.
type Matrix[T any] struct {
	Data       []T
	Rows, Cols int
	Stride     int
}

// MakeMatrix shapes data as a dense [rows, cols] row-major matrix.
func MakeMatrix[T any](data []T, rows, cols int) Matrix[T] {
	return Matrix[T]{Data: data, Rows: rows, Cols: cols, Stride: cols}
}

// Lhs is the left operand handed to Kernel.Tile: either a packed panel
// (Packed == true, Data holds [depth][MR] elements, zero padded) or an
// unpacked row-major window (Packed == false, element (r, k) at
// Data[r*Stride + k]). Kernels that report MustPack in their PackedALayout
// only ever see the packed form.
type Lhs[T any] struct {
	Data   []T
	Stride int
	Packed bool
}

// Range is a half-open [Start, End) index interval.
type Range struct {
	Start, End int
}

// Len returns End - Start.
func (r Range) Len() int { return r.End - r.Start }

// Kernel is one register-blocked GEMM micro-kernel implementation, for a
// combination of LHS (L), RHS (R) and output (O) element types.
//
// Kernels are obtained from probe-style constructors that return nil when the
// CPU cannot run them (e.g. newAVX512Float32Kernel); the portable
// newGenericKernel never fails, so every fallback chain terminates. A Kernel
// value is immutable after construction and safe for concurrent use.
type Kernel[L, R, O dtypes.Supported] interface {
	// Name identifies the kernel in the registry and in logs.
	Name() string

	// MR and NR are the register tile dimensions: Tile updates an MR x NR
	// block of the output per call.
	MR() int
	NR() int

	// PackedALayout and PackedBLayout describe the packed-panel buffers for a
	// [rows, depth] LHS block and a [depth, cols] RHS block respectively.
	PackedALayout(rows, depth int) PackedLayout
	PackedBLayout(depth, cols int) PackedLayout

	// PackABlock packs the [rows, depth] block of a into dst as row panels of
	// height MR: dst is laid out [ceil(rows/MR)][depth][MR], the last panel
	// zero padded to full height. dst must hold PackedALayout(...).Size
	// elements.
	PackABlock(dst []L, a Matrix[L], rows, depth Range)

	// PackBBlock packs the [depth, cols] block of b into dst as column panels
	// of width NR: dst is laid out [ceil(cols/NR)][depth][NR], the last panel
	// zero padded to full width. dst must hold PackedBLayout(...).Size
	// elements.
	PackBBlock(dst []R, b Matrix[R], depth, cols Range)

	// Tile computes one MR x NR output tile over depth accumulation steps:
	//
	//	out[r*outRowStride + c] = alpha*dot + beta*out[...]
	//
	// for r < usedRows, c < usedCols; with beta == 0 the previous output
	// values are never read. b is one packed column panel ([depth][NR], zero
	// padded). Elements of out outside the used window are never written.
	//
	// usedRows must be in 1..MR and usedCols in 1..NR; anything else is a
	// contract violation and panics.
	Tile(out []O, outRowStride int, a Lhs[L], b []R, depth, usedRows, usedCols int, alpha, beta O)

	// GEMV computes the single-row product out = alpha*(a x b) + beta*out,
	// with a one unpacked row of length b.Rows and len(out) == b.Cols. It is
	// the engine's fast path for lhsCrossSize == 1, skipping packing.
	GEMV(out []O, a []L, b Matrix[R], alpha, beta O)
}
