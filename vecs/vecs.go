// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package vecs provides a small, portable vector (SIMD) abstraction: a Vec[T] value models
// one logical vector register whose width is chosen at startup from the CPU capabilities
// (see Level and Lanes), plus functional helpers (Map, Fold) and the reductions built on
// them (Sum, Dot, ...).
//
// The portable tier works on any platform and any vector width. The hot float32 reductions
// have SIMD-accelerated implementations installed over function variables when the program
// is built with GOEXPERIMENT=simd on amd64 (see SumFloat32 and friends).
//
// Reduction results are deterministic for a fixed vector width, but not bit-identical
// across widths or across the portable/accelerated implementations, since the accumulation
// order differs.
package vecs

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/simdgemm/pkg/core/dtypes"
)

// Vec is one logical SIMD register holding Lanes[T]() elements of type T.
// The zero Vec is not usable; create values with Zero, Set, Load or LoadPartial.
type Vec[T dtypes.NumberNotComplex] struct {
	data []T
}

// Zero returns a Vec with all lanes set to zero.
func Zero[T dtypes.NumberNotComplex]() Vec[T] {
	return Vec[T]{data: make([]T, Lanes[T]())}
}

// Set returns a Vec with all lanes set to value (a broadcast, aka splat).
func Set[T dtypes.NumberNotComplex](value T) Vec[T] {
	v := Zero[T]()
	for ii := range v.data {
		v.data[ii] = value
	}
	return v
}

// Load returns a Vec with its lanes loaded from the first Lanes[T]() elements of s.
// It panics if s has fewer elements than lanes.
func Load[T dtypes.NumberNotComplex](s []T) Vec[T] {
	lanes := Lanes[T]()
	if len(s) < lanes {
		exceptions.Panicf("vecs.Load: slice has %d elements, need at least %d (one full vector)", len(s), lanes)
	}
	v := Vec[T]{data: make([]T, lanes)}
	copy(v.data, s[:lanes])
	return v
}

// LoadPartial returns a Vec with its first len(s) lanes loaded from s and the remaining
// lanes set to pad. It never reads beyond s.
// It panics if s has more elements than lanes.
func LoadPartial[T dtypes.NumberNotComplex](s []T, pad T) Vec[T] {
	lanes := Lanes[T]()
	if len(s) > lanes {
		exceptions.Panicf("vecs.LoadPartial: slice has %d elements, more than the %d lanes of a vector", len(s), lanes)
	}
	v := Set(pad)
	copy(v.data, s)
	return v
}

// Store writes all lanes of v into the first Lanes[T]() elements of s.
// It panics if s has fewer elements than lanes.
func Store[T dtypes.NumberNotComplex](v Vec[T], s []T) {
	lanes := len(v.data)
	if len(s) < lanes {
		exceptions.Panicf("vecs.Store: slice has %d elements, need at least %d (one full vector)", len(s), lanes)
	}
	copy(s[:lanes], v.data)
}

// StorePartial writes the first len(s) lanes of v into s. It never writes beyond s.
// It panics if s has more elements than lanes.
func StorePartial[T dtypes.NumberNotComplex](v Vec[T], s []T) {
	if len(s) > len(v.data) {
		exceptions.Panicf("vecs.StorePartial: slice has %d elements, more than the %d lanes of a vector", len(s), len(v.data))
	}
	copy(s, v.data[:len(s)])
}

// At returns the value of lane i.
func (v Vec[T]) At(i int) T {
	return v.data[i]
}

// Add returns a + b, lane-wise.
func Add[T dtypes.NumberNotComplex](a, b Vec[T]) Vec[T] {
	out := Vec[T]{data: make([]T, len(a.data))}
	for ii := range out.data {
		out.data[ii] = a.data[ii] + b.data[ii]
	}
	return out
}

// Sub returns a - b, lane-wise.
func Sub[T dtypes.NumberNotComplex](a, b Vec[T]) Vec[T] {
	out := Vec[T]{data: make([]T, len(a.data))}
	for ii := range out.data {
		out.data[ii] = a.data[ii] - b.data[ii]
	}
	return out
}

// Mul returns a * b, lane-wise.
func Mul[T dtypes.NumberNotComplex](a, b Vec[T]) Vec[T] {
	out := Vec[T]{data: make([]T, len(a.data))}
	for ii := range out.data {
		out.data[ii] = a.data[ii] * b.data[ii]
	}
	return out
}

// MulAdd returns acc + a*b, lane-wise.
func MulAdd[T dtypes.NumberNotComplex](a, b, acc Vec[T]) Vec[T] {
	out := Vec[T]{data: make([]T, len(acc.data))}
	for ii := range out.data {
		out.data[ii] = acc.data[ii] + a.data[ii]*b.data[ii]
	}
	return out
}

// ReduceSum returns the sum of all lanes of v, accumulated in lane order.
func ReduceSum[T dtypes.NumberNotComplex](v Vec[T]) T {
	var total T
	for _, value := range v.data {
		total += value
	}
	return total
}
