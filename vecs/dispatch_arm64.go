// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build arm64

package vecs

func init() {
	// ASIMD (NEON) is a mandatory part of ARMv8-A, no runtime probing needed.
	currentLevel, currentVectorBytes = SIMDLevelNEON, 16
}
