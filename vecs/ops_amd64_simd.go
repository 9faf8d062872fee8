// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build amd64 && goexperiment.simd

package vecs

import (
	"unsafe"

	"golang.org/x/sys/cpu"
	"simd/archsimd"
)

func init() {
	switch {
	case archsimd.X86.AVX512():
		SumFloat32 = sumFloat32AVX512
		SumSquareSubFloat32 = sumSquareSubFloat32AVX512
		DotFloat32 = dotFloat32AVX512
		AxpyFloat32 = axpyFloat32AVX512
	case cpu.X86.HasAVX2 && cpu.X86.HasFMA:
		SumFloat32 = sumFloat32AVX2
		SumSquareSubFloat32 = sumSquareSubFloat32AVX2
		DotFloat32 = dotFloat32AVX2
		AxpyFloat32 = axpyFloat32AVX2
	}
}

// castToArray16 converts a pointer to the start of a slice to a fixed-size array pointer,
// as required by the masked store operations. The mask guarantees only valid lanes are
// touched, even when fewer than 16 elements remain.
func castToArray16(ptr *float32) *[16]float32 {
	return (*[16]float32)(unsafe.Pointer(ptr))
}

func sumFloat32AVX512(xs []float32) float32 {
	acc := archsimd.BroadcastFloat32x16(0)
	ii := 0
	for ; ii+16 <= len(xs); ii += 16 {
		acc = acc.Add(archsimd.LoadFloat32x16Slice(xs[ii : ii+16]))
	}
	if ii < len(xs) {
		// The partial load fills the missing lanes with zeros.
		acc = acc.Add(archsimd.LoadFloat32x16SlicePart(xs[ii:]))
	}
	var lanes [16]float32
	acc.StoreSlice(lanes[:])
	var total float32
	for _, v := range lanes {
		total += v
	}
	return total
}

func sumSquareSubFloat32AVX512(xs []float32, c float32) float32 {
	cVec := archsimd.BroadcastFloat32x16(c)
	acc := archsimd.BroadcastFloat32x16(0)
	ii := 0
	for ; ii+16 <= len(xs); ii += 16 {
		d := archsimd.LoadFloat32x16Slice(xs[ii : ii+16]).Sub(cVec)
		acc = d.MulAdd(d, acc)
	}
	var lanes [16]float32
	acc.StoreSlice(lanes[:])
	var total float32
	for _, v := range lanes {
		total += v
	}
	// Zero-filled pad lanes would contribute c² each, so the tail stays scalar.
	for _, v := range xs[ii:] {
		d := v - c
		total += d * d
	}
	return total
}

func dotFloat32AVX512(xs, ys []float32) float32 {
	if len(xs) != len(ys) {
		return Dot(xs, ys) // Panics with the standard message.
	}
	acc := archsimd.BroadcastFloat32x16(0)
	ii := 0
	for ; ii+16 <= len(xs); ii += 16 {
		acc = archsimd.LoadFloat32x16Slice(xs[ii : ii+16]).
			MulAdd(archsimd.LoadFloat32x16Slice(ys[ii:ii+16]), acc)
	}
	if ii < len(xs) {
		acc = archsimd.LoadFloat32x16SlicePart(xs[ii:]).
			MulAdd(archsimd.LoadFloat32x16SlicePart(ys[ii:]), acc)
	}
	var lanes [16]float32
	acc.StoreSlice(lanes[:])
	var total float32
	for _, v := range lanes {
		total += v
	}
	return total
}

func axpyFloat32AVX512(dst, xs []float32, a float32) {
	if len(dst) != len(xs) {
		Axpy(dst, xs, a) // Panics with the standard message.
		return
	}
	aVec := archsimd.BroadcastFloat32x16(a)
	ii := 0
	for ; ii+16 <= len(xs); ii += 16 {
		x := archsimd.LoadFloat32x16Slice(xs[ii : ii+16])
		d := archsimd.LoadFloat32x16Slice(dst[ii : ii+16])
		x.MulAdd(aVec, d).StoreSlice(dst[ii : ii+16])
	}
	if ii < len(xs) {
		n := len(xs) - ii
		mask := archsimd.Mask32x16FromBits(uint16(1<<n) - 1)
		x := archsimd.LoadFloat32x16SlicePart(xs[ii:])
		d := archsimd.LoadFloat32x16SlicePart(dst[ii:])
		x.MulAdd(aVec, d).StoreMasked(castToArray16(&dst[ii]), mask)
	}
}

func sumFloat32AVX2(xs []float32) float32 {
	acc := archsimd.BroadcastFloat32x8(0)
	ii := 0
	for ; ii+8 <= len(xs); ii += 8 {
		acc = acc.Add(archsimd.LoadFloat32x8Slice(xs[ii : ii+8]))
	}
	var lanes [8]float32
	acc.StoreSlice(lanes[:])
	var total float32
	for _, v := range lanes {
		total += v
	}
	for _, v := range xs[ii:] {
		total += v
	}
	return total
}

func sumSquareSubFloat32AVX2(xs []float32, c float32) float32 {
	cVec := archsimd.BroadcastFloat32x8(c)
	acc := archsimd.BroadcastFloat32x8(0)
	ii := 0
	for ; ii+8 <= len(xs); ii += 8 {
		d := archsimd.LoadFloat32x8Slice(xs[ii : ii+8]).Sub(cVec)
		acc = d.MulAdd(d, acc)
	}
	var lanes [8]float32
	acc.StoreSlice(lanes[:])
	var total float32
	for _, v := range lanes {
		total += v
	}
	for _, v := range xs[ii:] {
		d := v - c
		total += d * d
	}
	return total
}

func dotFloat32AVX2(xs, ys []float32) float32 {
	if len(xs) != len(ys) {
		return Dot(xs, ys)
	}
	acc := archsimd.BroadcastFloat32x8(0)
	ii := 0
	for ; ii+8 <= len(xs); ii += 8 {
		acc = archsimd.LoadFloat32x8Slice(xs[ii : ii+8]).
			MulAdd(archsimd.LoadFloat32x8Slice(ys[ii:ii+8]), acc)
	}
	var lanes [8]float32
	acc.StoreSlice(lanes[:])
	var total float32
	for _, v := range lanes {
		total += v
	}
	for jj := ii; jj < len(xs); jj++ {
		total += xs[jj] * ys[jj]
	}
	return total
}

func axpyFloat32AVX2(dst, xs []float32, a float32) {
	if len(dst) != len(xs) {
		Axpy(dst, xs, a)
		return
	}
	aVec := archsimd.BroadcastFloat32x8(a)
	ii := 0
	for ; ii+8 <= len(xs); ii += 8 {
		x := archsimd.LoadFloat32x8Slice(xs[ii : ii+8])
		d := archsimd.LoadFloat32x8Slice(dst[ii : ii+8])
		x.MulAdd(aVec, d).StoreSlice(dst[ii : ii+8])
	}
	for jj := ii; jj < len(xs); jj++ {
		dst[jj] += a * xs[jj]
	}
}
