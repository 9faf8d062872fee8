// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provide missing functionality to the slices package.
// It was actually created before the standard slices package, so some functionality may be duplicate.
package xslices

import (
	"cmp"
	"math"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Copy creates a new (shallow) copy of T. A short cut to a call to `make` and then `copy`.
func Copy[T any](slice []T) []T {
	if len(slice) == 0 {
		return nil
	}
	slice2 := make([]T, len(slice))
	copy(slice2, slice)
	return slice2
}

// FillSlice fills the slice with the given value.
func FillSlice[T any](slice []T, value T) {
	// Apparently, the fastest way is by using copy.
	if len(slice) == 0 {
		return
	}
	slice[0] = value
	filled := 1
	for ; filled < len(slice); filled *= 2 {
		copy(slice[filled:], slice[:filled])
	}
}

// SliceWithValue creates a slice of given size filled with given value.
func SliceWithValue[T any](size int, value T) []T {
	s := make([]T, size)
	for ii := range s {
		s[ii] = value
	}
	return s
}

// Iota returns a slice of incremental int values, starting with start and of length len.
// Eg: Iota(3.0, 2) -> []float64{3.0, 4.0}
func Iota[T interface {
	constraints.Integer | constraints.Float
}](start T, len int) (slice []T) {
	slice = make([]T, len)
	for ii := range slice {
		slice[ii] = start + T(ii)
	}
	return
}

// Map executes the given function sequentially for every element on in, and returns a mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// Keys returns the keys of a map in the form of a slice.
func Keys[K comparable, V any](m map[K]V) []K {
	s := make([]K, 0, len(m))
	for k := range m {
		s = append(s, k)
	}
	return s
}

// SortedKeys returns the sorted keys of a map in the form of a slice.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	s := Keys(m)
	sort.Slice(s, func(i, j int) bool {
		return s[i] < s[j]
	})
	return s
}

// Max scans the slice and returns the maximum value.
func Max[T cmp.Ordered](slice []T) (max T) {
	if len(slice) == 0 {
		return
	}
	max = slice[0]
	for _, v := range slice {
		if max < v {
			max = v
		}
	}
	return
}

// Min scans the slice and returns the smallest value.
func Min[T cmp.Ordered](slice []T) (min T) {
	if len(slice) == 0 {
		return
	}
	min = slice[0]
	for _, v := range slice {
		if v < min {
			min = v
		}
	}
	return
}

// SlicesInDelta checks whether flat numeric slices got and want have the same length and
// each pair of values is within the given (absolute) delta.
// If delta <= 0, it checks for equality.
func SlicesInDelta[T constraints.Integer | constraints.Float](got, want []T, delta float64) bool {
	if len(got) != len(want) {
		return false
	}
	for ii := range got {
		diff := math.Abs(float64(got[ii]) - float64(want[ii]))
		if delta <= 0 {
			if diff != 0 {
				return false
			}
		} else if diff > delta {
			return false
		}
	}
	return true
}

// MustSlicesInRelData checks that got and want (flat numeric slices) have the same length and
// match within a tolerance relative to the magnitude of the data: each pair must satisfy
// |got-want| <= relTol * max(1, max(|want|)). It returns a descriptive error otherwise.
//
// This is the comparison used by the GEMM tests, where the accumulation order is not fixed
// and per-element relative errors would be too strict around zero crossings.
func MustSlicesInRelData[T constraints.Integer | constraints.Float](got, want []T, relTol float64) error {
	if len(got) != len(want) {
		return errors.Errorf("MustSlicesInRelData: length mismatch, got %d, want %d", len(got), len(want))
	}
	scale := 1.0
	for _, v := range want {
		if abs := math.Abs(float64(v)); abs > scale {
			scale = abs
		}
	}
	tol := relTol * scale
	for ii := range got {
		diff := math.Abs(float64(got[ii]) - float64(want[ii]))
		if diff > tol || math.IsNaN(diff) {
			return errors.Errorf("element #%d: got %v, want %v (diff %g > tolerance %g)",
				ii, got[ii], want[ii], diff, tol)
		}
	}
	return nil
}
