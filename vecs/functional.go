// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vecs

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/simdgemm/pkg/core/dtypes"
)

// Map applies op to src in full-vector steps plus one partial step for the tail, writing
// the results into dst. dst and src must have the same length (they may alias).
//
// The tail step loads with pad in the unused lanes and stores back only the valid lanes,
// so the pad value never appears in dst, whatever op does with it.
func Map[T dtypes.NumberNotComplex](dst, src []T, pad T, op func(Vec[T]) Vec[T]) {
	if len(dst) != len(src) {
		exceptions.Panicf("vecs.Map: len(dst)=%d != len(src)=%d", len(dst), len(src))
	}
	lanes := Lanes[T]()
	ii := 0
	for ; ii+lanes <= len(src); ii += lanes {
		Store(op(Load(src[ii:ii+lanes])), dst[ii:ii+lanes])
	}
	if ii < len(src) {
		StorePartial(op(LoadPartial(src[ii:], pad)), dst[ii:])
	}
}

// Fold accumulates src into a vector accumulator: acc = op(acc, v) for each full vector v
// of src, plus one partial step for the tail. It returns the final accumulator; reduce it
// with ReduceSum (or lane-wise inspection) to get a scalar.
//
// The pad value fills the unused lanes of the tail step. The caller must pick it so padded
// lanes leave the accumulator unchanged for its op (0 for sums, the subtracted constant
// for sums of squared differences, and so on).
func Fold[T dtypes.NumberNotComplex](src []T, init Vec[T], pad T, op func(acc, v Vec[T]) Vec[T]) Vec[T] {
	lanes := Lanes[T]()
	acc := init
	ii := 0
	for ; ii+lanes <= len(src); ii += lanes {
		acc = op(acc, Load(src[ii:ii+lanes]))
	}
	if ii < len(src) {
		acc = op(acc, LoadPartial(src[ii:], pad))
	}
	return acc
}
