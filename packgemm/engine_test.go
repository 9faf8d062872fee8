// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/simdgemm/pkg/core/dtypes"
	"github.com/gomlx/simdgemm/pkg/support/xslices"
)

// tinyParams force every level of the blocked schedule (multiple Nc, Kc and
// Mc panels plus partial edge tiles) on matrices small enough to check by
// hand. Panel sizes must stay multiples of the generic kernel's 8x8 tile.
var tinyParams = CacheParams{
	LHSL1KernelRows:      genericMR,
	RHSL1KernelCols:      genericNR,
	PanelContractingSize: 16,
	LHSPanelCrossSize:    16,
	RHSPanelCrossSize:    16,
}

func testBufAllocFn[T any](size int) (ref any, data []T) {
	data = make([]T, size)
	return data, data
}

func testBufReleaseFn(ref any) {}

// naiveGEMM is the scalar reference the engine is checked against.
func naiveGEMM[T float32 | float64](alpha, beta T, lhs, rhs, output []T,
	batchSize, lhsCrossSize, rhsCrossSize, contractingSize int) {
	for batch := range batchSize {
		lhsBase := batch * lhsCrossSize * contractingSize
		rhsBase := batch * contractingSize * rhsCrossSize
		outBase := batch * lhsCrossSize * rhsCrossSize
		for row := range lhsCrossSize {
			for col := range rhsCrossSize {
				var acc T
				for k := range contractingSize {
					acc += lhs[lhsBase+row*contractingSize+k] * rhs[rhsBase+k*rhsCrossSize+col]
				}
				outIdx := outBase + row*rhsCrossSize + col
				if beta == 0 {
					output[outIdx] = alpha * acc
				} else {
					output[outIdx] = alpha*acc + beta*output[outIdx]
				}
			}
		}
	}
}

func TestEngineBlocked(t *testing.T) {
	e := &engine[float32]{kernel: newGenericKernel[float32](), params: &tinyParams}
	rng := rand.New(rand.NewSource(42))

	// Dimensions chosen to leave partial panels and partial tiles at every
	// level of the blocked schedule.
	for _, dims := range []struct {
		batch, m, n, k int
	}{
		{1, 8, 8, 16},   // Exact tiles, one panel.
		{1, 9, 7, 16},   // One row past a full tile, one column short.
		{1, 19, 21, 37}, // Partial tiles everywhere.
		{3, 5, 33, 18},  // Batched, wide.
		{2, 40, 7, 50},  // Batched, tall, K spans several panels.
		{2, 1, 33, 40},  // Single-row LHS, GEMV fast path.
	} {
		for _, coeffs := range []struct {
			alpha, beta float32
		}{
			{1, 0},
			{1, 1},
			{2, 3},
			{0.5, 0},
		} {
			lhs := make([]float32, dims.batch*dims.m*dims.k)
			rhs := make([]float32, dims.batch*dims.k*dims.n)
			for i := range lhs {
				lhs[i] = rng.Float32() - 0.5
			}
			for i := range rhs {
				rhs[i] = rng.Float32() - 0.5
			}
			output := make([]float32, dims.batch*dims.m*dims.n)
			want := make([]float32, len(output))
			if coeffs.beta != 0 {
				for i := range output {
					v := rng.Float32()
					output[i] = v
					want[i] = v
				}
			}

			naiveGEMM(coeffs.alpha, coeffs.beta, lhs, rhs, want, dims.batch, dims.m, dims.n, dims.k)
			err := e.run(coeffs.alpha, coeffs.beta, lhs, rhs, dims.batch, dims.m, dims.n, dims.k,
				output, testBufAllocFn[float32], testBufReleaseFn, nil)
			require.NoErrorf(t, err, "dims=%+v coeffs=%+v", dims, coeffs)
			require.NoErrorf(t, xslices.MustSlicesInRelData(output, want, 1e-4),
				"dims=%+v coeffs=%+v", dims, coeffs)
		}
	}
}

func TestEngineVsGonum(t *testing.T) {
	// Independent float64 cross-check against gonum's reference multiply.
	const m, n, k = 23, 31, 41
	e := &engine[float64]{kernel: newGenericKernel[float64](), params: &tinyParams}
	rng := rand.New(rand.NewSource(7))

	lhs := make([]float64, m*k)
	rhs := make([]float64, k*n)
	for i := range lhs {
		lhs[i] = rng.NormFloat64()
	}
	for i := range rhs {
		rhs[i] = rng.NormFloat64()
	}

	var want mat.Dense
	want.Mul(mat.NewDense(m, k, lhs), mat.NewDense(k, n, rhs))

	output := make([]float64, m*n)
	err := e.run(1, 0, lhs, rhs, 1, m, n, k, output, testBufAllocFn[float64], testBufReleaseFn, nil)
	require.NoError(t, err)
	require.NoError(t, xslices.MustSlicesInRelData(output, want.RawMatrix().Data, 1e-10))
}

// mustPackKernel wraps a kernel to demand a packed LHS panel, so the engine's
// A-packing path runs with the portable kernel too.
type mustPackKernel[T dtypes.NumberNotComplex] struct {
	Kernel[T, T, T]
}

func (k mustPackKernel[T]) PackedALayout(rows, depth int) PackedLayout {
	layout := k.Kernel.PackedALayout(rows, depth)
	layout.MustPack = true
	return layout
}

func TestEngineBlockedPackedLHS(t *testing.T) {
	e := &engine[float32]{
		kernel: mustPackKernel[float32]{newGenericKernel[float32]()},
		params: &tinyParams,
	}
	rng := rand.New(rand.NewSource(11))

	const batch, m, n, k = 2, 19, 21, 37
	lhs := make([]float32, batch*m*k)
	rhs := make([]float32, batch*k*n)
	for i := range lhs {
		lhs[i] = rng.Float32() - 0.5
	}
	for i := range rhs {
		rhs[i] = rng.Float32() - 0.5
	}
	output := make([]float32, batch*m*n)
	want := make([]float32, len(output))
	for i := range output {
		v := rng.Float32()
		output[i] = v
		want[i] = v
	}

	naiveGEMM(float32(2), float32(0.5), lhs, rhs, want, batch, m, n, k)
	err := e.run(2, 0.5, lhs, rhs, batch, m, n, k, output, testBufAllocFn[float32], testBufReleaseFn, nil)
	require.NoError(t, err)
	require.NoError(t, xslices.MustSlicesInRelData(output, want, 1e-4))
}

func TestGenericKernelPackedVsUnpacked(t *testing.T) {
	// The portable kernel accepts the LHS both as a packed panel and as a
	// strided view of the source matrix; both must agree.
	const rows, depth = 7, 13 // Partial tile: rows < MR.
	rng := rand.New(rand.NewSource(3))
	kernel := newGenericKernel[float32]()

	lhsData := make([]float32, rows*depth)
	for i := range lhsData {
		lhsData[i] = rng.Float32()
	}
	rhsPanel := make([]float32, depth*genericNR)
	for i := range rhsPanel {
		rhsPanel[i] = rng.Float32()
	}

	packed := make([]float32, kernel.PackedALayout(rows, depth).Size)
	kernel.PackABlock(packed, Matrix[float32]{Data: lhsData, Rows: rows, Cols: depth, Stride: depth},
		Range{0, rows}, Range{0, depth})

	outPacked := make([]float32, rows*genericNR)
	outUnpacked := make([]float32, rows*genericNR)
	kernel.Tile(outPacked, genericNR, Lhs[float32]{Data: packed, Packed: true},
		rhsPanel, depth, rows, genericNR, 1, 0)
	kernel.Tile(outUnpacked, genericNR, Lhs[float32]{Data: lhsData, Stride: depth},
		rhsPanel, depth, rows, genericNR, 1, 0)

	require.NoError(t, xslices.MustSlicesInRelData(outPacked, outUnpacked, 1e-6))
}

func TestTileContractViolations(t *testing.T) {
	kernel := newGenericKernel[float32]()
	out := make([]float32, genericMR*genericNR)
	lhs := Lhs[float32]{Data: make([]float32, 4*genericMR), Packed: true}
	rhs := make([]float32, 4*genericNR)

	// usedRows and usedCols outside [1, MR] / [1, NR] are caller bugs and
	// must fail fast.
	assert.Panics(t, func() {
		kernel.Tile(out, genericNR, lhs, rhs, 4, 0, genericNR, 1, 0)
	})
	assert.Panics(t, func() {
		kernel.Tile(out, genericNR, lhs, rhs, 4, genericMR+1, genericNR, 1, 0)
	})
	assert.Panics(t, func() {
		kernel.Tile(out, genericNR, lhs, rhs, 4, genericMR, 0, 1, 0)
	})
	assert.Panics(t, func() {
		kernel.Tile(out, genericNR, lhs, rhs, 4, genericMR, genericNR+1, 1, 0)
	})
}

func TestValidateGEMMShapes(t *testing.T) {
	lhs := make([]float32, 2*3)
	rhs := make([]float32, 3*4)
	out := make([]float32, 2*4)

	assert.NotPanics(t, func() { validateGEMMShapes(lhs, rhs, out, 1, 2, 4, 3) })
	// Undersized buffers and non-positive dimensions are contract violations.
	assert.Panics(t, func() { validateGEMMShapes(lhs[:5], rhs, out, 1, 2, 4, 3) })
	assert.Panics(t, func() { validateGEMMShapes(lhs, rhs[:11], out, 1, 2, 4, 3) })
	assert.Panics(t, func() { validateGEMMShapes(lhs, rhs, out[:7], 1, 2, 4, 3) })
	assert.Panics(t, func() { validateGEMMShapes(lhs, rhs, out, 0, 2, 4, 3) })
	assert.Panics(t, func() { validateGEMMShapes(lhs, rhs, out, 1, -2, 4, 3) })
}

func TestRegistryOrder(t *testing.T) {
	// Registered implementations must come back sorted by decreasing
	// priority, the first entry is what BestGEMM hands out.
	for pair, regs := range DTypeToGEMM {
		require.NotEmptyf(t, regs, "empty registration list for %v", pair)
		for i := 1; i < len(regs); i++ {
			assert.GreaterOrEqualf(t, regs[i-1].Priority, regs[i].Priority,
				"registrations for %v not sorted by priority: %q before %q", pair, regs[i-1].Name, regs[i].Name)
		}
		for _, reg := range regs {
			assert.Samef(t, reg.Params, knownVariations[reg.Name],
				"registration %q for %v and knownVariations disagree on cache params", reg.Name, pair)
		}
	}
}
