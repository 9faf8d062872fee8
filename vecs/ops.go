// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vecs

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/simdgemm/pkg/core/dtypes"
)

// Sum returns the sum of all elements of xs.
func Sum[T dtypes.NumberNotComplex](xs []T) T {
	acc := Fold(xs, Zero[T](), 0, func(acc, v Vec[T]) Vec[T] {
		return Add(acc, v)
	})
	return ReduceSum(acc)
}

// SumSquare returns the sum of the squared elements of xs.
func SumSquare[T dtypes.NumberNotComplex](xs []T) T {
	acc := Fold(xs, Zero[T](), 0, func(acc, v Vec[T]) Vec[T] {
		return MulAdd(v, v, acc)
	})
	return ReduceSum(acc)
}

// SumSquareSub returns the sum of (x-c)² over the elements of xs, the building block of a
// variance. Padding the tail with c itself makes the padded lanes contribute exactly zero.
func SumSquareSub[T dtypes.NumberNotComplex](xs []T, c T) T {
	cVec := Set(c)
	acc := Fold(xs, Zero[T](), c, func(acc, v Vec[T]) Vec[T] {
		d := Sub(v, cVec)
		return MulAdd(d, d, acc)
	})
	return ReduceSum(acc)
}

// Dot returns the dot product of xs and ys, which must have the same length.
func Dot[T dtypes.NumberNotComplex](xs, ys []T) T {
	if len(xs) != len(ys) {
		exceptions.Panicf("vecs.Dot: len(xs)=%d != len(ys)=%d", len(xs), len(ys))
	}
	lanes := Lanes[T]()
	acc := Zero[T]()
	ii := 0
	for ; ii+lanes <= len(xs); ii += lanes {
		acc = MulAdd(Load(xs[ii:ii+lanes]), Load(ys[ii:ii+lanes]), acc)
	}
	if ii < len(xs) {
		acc = MulAdd(LoadPartial(xs[ii:], 0), LoadPartial(ys[ii:], 0), acc)
	}
	return ReduceSum(acc)
}

// Axpy computes dst += a*xs, element-wise. dst and xs must have the same length.
func Axpy[T dtypes.NumberNotComplex](dst, xs []T, a T) {
	if len(dst) != len(xs) {
		exceptions.Panicf("vecs.Axpy: len(dst)=%d != len(xs)=%d", len(dst), len(xs))
	}
	aVec := Set(a)
	lanes := Lanes[T]()
	ii := 0
	for ; ii+lanes <= len(xs); ii += lanes {
		Store(MulAdd(aVec, Load(xs[ii:ii+lanes]), Load(dst[ii:ii+lanes])), dst[ii:ii+lanes])
	}
	if ii < len(xs) {
		StorePartial(MulAdd(aVec, LoadPartial(xs[ii:], 0), LoadPartial(dst[ii:], 0)), dst[ii:])
	}
}

// MulConst computes dst = src * c, element-wise. dst and src must have the same length.
func MulConst[T dtypes.NumberNotComplex](dst, src []T, c T) {
	cVec := Set(c)
	Map(dst, src, 0, func(v Vec[T]) Vec[T] {
		return Mul(v, cVec)
	})
}

// Float32 entry points for the reductions above. They default to the portable generic
// implementations; builds with GOEXPERIMENT=simd on amd64 install accelerated versions at
// init when the CPU supports them.
var (
	SumFloat32          = Sum[float32]
	SumSquareSubFloat32 = SumSquareSub[float32]
	DotFloat32          = Dot[float32]
	AxpyFloat32         = Axpy[float32]
)
