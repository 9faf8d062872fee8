// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vecs

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireClose(t *testing.T, want, got, relTol float64, msgAndArgs ...any) {
	t.Helper()
	tol := relTol * math.Max(1, math.Abs(want))
	require.InDelta(t, want, got, tol, msgAndArgs...)
}

func TestSum(t *testing.T) {
	// The classic check first.
	xs := make([]float32, 100)
	for i := range xs {
		xs[i] = float32(i + 1)
	}
	assert.Equal(t, float32(5050), Sum(xs))

	ints := make([]int32, 100)
	for i := range ints {
		ints[i] = int32(i + 1)
	}
	assert.Equal(t, int32(5050), Sum(ints))

	rng := rand.New(rand.NewSource(1))
	sweepWidthsAndLengths(t, func(t *testing.T, n int) {
		data := make([]float32, n)
		var want float64
		for i := range data {
			data[i] = rng.Float32()
			want += float64(data[i])
		}
		requireClose(t, want, float64(Sum(data)), 1e-5, "n=%d", n)
	})
}

func TestSumSquare(t *testing.T) {
	assert.Equal(t, float32(1+4+9+16), SumSquare([]float32{1, 2, 3, 4}))
	assert.Equal(t, int64(0), SumSquare([]int64{}))

	rng := rand.New(rand.NewSource(2))
	sweepWidthsAndLengths(t, func(t *testing.T, n int) {
		data := make([]float32, n)
		var want float64
		for i := range data {
			data[i] = rng.Float32() - 0.5
			want += float64(data[i]) * float64(data[i])
		}
		requireClose(t, want, float64(SumSquare(data)), 1e-5, "n=%d", n)
	})
}

func TestSumSquareSub(t *testing.T) {
	// Variance building block: mean 2.5, squared deviations 2.25+0.25+0.25+2.25.
	assert.Equal(t, float32(5), SumSquareSub([]float32{1, 2, 3, 4}, 2.5))

	rng := rand.New(rand.NewSource(3))
	sweepWidthsAndLengths(t, func(t *testing.T, n int) {
		const c = 0.25
		data := make([]float32, n)
		var want float64
		for i := range data {
			data[i] = rng.Float32()
			d := float64(data[i]) - c
			want += d * d
		}
		requireClose(t, want, float64(SumSquareSub(data, c)), 1e-5, "n=%d", n)
	})
}

func TestDot(t *testing.T) {
	assert.Equal(t, float32(1*4+2*5+3*6), Dot([]float32{1, 2, 3}, []float32{4, 5, 6}))
	assert.Panics(t, func() { Dot([]float32{1}, []float32{1, 2}) })

	rng := rand.New(rand.NewSource(4))
	sweepWidthsAndLengths(t, func(t *testing.T, n int) {
		xs := make([]float32, n)
		ys := make([]float32, n)
		var want float64
		for i := range xs {
			xs[i] = rng.Float32() - 0.5
			ys[i] = rng.Float32() - 0.5
			want += float64(xs[i]) * float64(ys[i])
		}
		requireClose(t, want, float64(Dot(xs, ys)), 1e-5, "n=%d", n)
	})
}

func TestAxpy(t *testing.T) {
	dst := []float32{1, 2, 3}
	Axpy(dst, []float32{10, 20, 30}, 2)
	assert.Equal(t, []float32{21, 42, 63}, dst)
	assert.Panics(t, func() { Axpy([]float32{1}, []float32{1, 2}, 1) })

	rng := rand.New(rand.NewSource(5))
	sweepWidthsAndLengths(t, func(t *testing.T, n int) {
		xs := make([]float32, n)
		dst, backing := poisonedTail(n, 1e30)
		want := make([]float32, n)
		for i := range xs {
			xs[i] = rng.Float32()
			dst[i] = rng.Float32()
			want[i] = dst[i] + 0.5*xs[i]
		}
		Axpy(dst, xs, 0.5)
		for i := range n {
			require.InDeltaf(t, want[i], dst[i], 1e-6, "n=%d i=%d", n, i)
		}
		for i := n; i < len(backing); i++ {
			require.Equalf(t, float32(1e30), backing[i], "n=%d: wrote past dst at %d", n, i)
		}
	})
}

func TestMulConst(t *testing.T) {
	src := []float32{1, 2, 3, 4, 5}
	dst := make([]float32, len(src))
	MulConst(dst, src, 3)
	assert.Equal(t, []float32{3, 6, 9, 12, 15}, dst)
}

// The float32 entry points may be replaced by accelerated implementations at
// init. Whatever got installed must agree with the portable tier.
func TestFloat32EntryPoints(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	for n := 0; n <= 67; n++ {
		xs := make([]float32, n)
		ys := make([]float32, n)
		for i := range xs {
			xs[i] = rng.Float32()
			ys[i] = rng.Float32() - 0.5
		}

		requireClose(t, float64(Sum(xs)), float64(SumFloat32(xs)), 1e-5, "Sum n=%d", n)
		requireClose(t, float64(SumSquareSub(xs, 0.5)), float64(SumSquareSubFloat32(xs, 0.5)), 1e-5,
			"SumSquareSub n=%d", n)
		requireClose(t, float64(Dot(xs, ys)), float64(DotFloat32(xs, ys)), 1e-5, "Dot n=%d", n)

		dstPortable := append([]float32(nil), ys...)
		dstInstalled, backing := poisonedTail(n, 1e30)
		copy(dstInstalled, ys)
		Axpy(dstPortable, xs, 1.5)
		AxpyFloat32(dstInstalled, xs, 1.5)
		for i := range n {
			require.InDeltaf(t, dstPortable[i], dstInstalled[i], 1e-5, "Axpy n=%d i=%d", n, i)
		}
		for i := n; i < len(backing); i++ {
			require.Equalf(t, float32(1e30), backing[i], "Axpy n=%d: wrote past dst at %d", n, i)
		}
	}
}

func TestLevelStable(t *testing.T) {
	// Detection runs once at init: repeated queries return the same answer,
	// and the vector width matches the level.
	level := Level()
	for range 3 {
		assert.Equal(t, level, Level())
	}
	switch level {
	case SIMDLevelNone, SIMDLevelNEON:
		assert.Equal(t, 16, VectorBytes())
	case SIMDLevelAVX2:
		assert.Equal(t, 32, VectorBytes())
	case SIMDLevelAVX512:
		assert.Equal(t, 64, VectorBytes())
	default:
		t.Fatalf("unknown SIMD level %v", level)
	}
	assert.Equal(t, VectorBytes()/4, Lanes[float32]())
}

func TestSIMDLevelString(t *testing.T) {
	assert.Equal(t, "None", SIMDLevelNone.String())
	assert.Equal(t, "NEON", SIMDLevelNEON.String())
	assert.Equal(t, "AVX2", SIMDLevelAVX2.String())
	assert.Equal(t, "AVX512", SIMDLevelAVX512.String())
	assert.Equal(t, "SIMDLevel(7)", SIMDLevel(7).String())
}
