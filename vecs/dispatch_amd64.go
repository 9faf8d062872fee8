// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build amd64

package vecs

import "golang.org/x/sys/cpu"

func init() {
	switch {
	case cpu.X86.HasAVX512F && cpu.X86.HasAVX512VL && cpu.X86.HasAVX512BW && cpu.X86.HasAVX512DQ:
		currentLevel, currentVectorBytes = SIMDLevelAVX512, 64
	case cpu.X86.HasAVX2 && cpu.X86.HasFMA:
		currentLevel, currentVectorBytes = SIMDLevelAVX2, 32
	}
}
