// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/simdgemm/pkg/core/dtypes"
	"github.com/gomlx/simdgemm/vecs"
)

// axpy computes dst += a*xs. It routes float32 slices through the
// vecs.AxpyFloat32 entry point, which is SIMD-accelerated where available.
func axpy[T dtypes.NumberNotComplex](dst, xs []T, a T) {
	if dstF32, ok := any(dst).([]float32); ok {
		vecs.AxpyFloat32(dstF32, any(xs).([]float32), any(a).(float32))
		return
	}
	vecs.Axpy(dst, xs, a)
}

// gemvRowMajor computes out = alpha*(a x b) + beta*out for a single LHS row a
// of length b.Rows, traversing b row by row so memory access stays sequential:
//
//	out[c] = beta*out[c] + sum_k alpha*a[k]*b[k,c]
//
// It is the engine's fast path for lhsCrossSize == 1, where packing buys
// nothing. With beta == 0 the previous out values are never read.
func gemvRowMajor[T dtypes.NumberNotComplex](out []T, a []T, b Matrix[T], alpha, beta T) {
	if len(a) != b.Rows || len(out) < b.Cols {
		exceptions.Panicf("gemv shapes don't match: len(a)=%d, len(out)=%d, rhs is [%d, %d]",
			len(a), len(out), b.Rows, b.Cols)
	}
	out = out[:b.Cols]
	if beta == 0 {
		clear(out)
	} else if beta != 1 {
		for c := range out {
			out[c] *= beta
		}
	}
	for k, lhsVal := range a {
		row := b.Data[k*b.Stride : k*b.Stride+b.Cols]
		axpy(out, row, alpha*lhsVal)
	}
}
