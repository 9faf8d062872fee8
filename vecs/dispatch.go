// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vecs

import (
	"unsafe"

	"github.com/gomlx/simdgemm/pkg/core/dtypes"
)

//go:generate go tool enumer -type=SIMDLevel -trimprefix=SIMDLevel -output=gen_simdlevel_enumer.go dispatch.go

// SIMDLevel describes the vector instruction set detected on the current CPU.
// It determines the width used by the portable Vec tier and which accelerated
// implementations get installed.
type SIMDLevel int

const (
	SIMDLevelNone SIMDLevel = iota
	SIMDLevelNEON
	SIMDLevelAVX2
	SIMDLevelAVX512
)

var (
	// Set at init by the per-architecture detection files. Constant afterwards,
	// except for tests exercising other widths (see setVectorBytes).
	currentLevel       = SIMDLevelNone
	currentVectorBytes = 16
)

// Level returns the SIMD instruction level detected at startup.
// Detection runs once at init; repeated calls always return the same value.
func Level() SIMDLevel {
	return currentLevel
}

// Lanes returns the number of elements of type T held by one Vec[T].
// It is VectorBytes() divided by the element size, and at least 1.
func Lanes[T dtypes.NumberNotComplex]() int {
	var t T
	return max(1, currentVectorBytes/int(unsafe.Sizeof(t)))
}

// VectorBytes returns the width in bytes of the logical vector registers backing Vec:
// 64 for AVX512, 32 for AVX2, 16 for NEON and for the portable default.
func VectorBytes() int {
	return currentVectorBytes
}

// setVectorBytes overrides the vector width, simulating hardware with narrower (or wider)
// registers. Only for tests; it returns a function restoring the detected width.
func setVectorBytes(bytes int) (restore func()) {
	saved := currentVectorBytes
	currentVectorBytes = bytes
	return func() { currentVectorBytes = saved }
}
