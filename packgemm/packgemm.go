// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package packgemm implements cache-blocked batched GEMM (General Matrix
// Multiplication) kernels for the CPU:
//
//	output = alpha * (lhs x rhs) + beta * output
//
// Inputs are given as flat row-major slices shaped [batchSize, lhsCrossSize,
// contractingSize] (LHS), [batchSize, contractingSize, rhsCrossSize] (RHS) and
// [batchSize, lhsCrossSize, rhsCrossSize] (output). When beta == 0 the output
// buffer is treated as uninitialized and is never read.
//
// Implementations register themselves per dtype pair in DTypeToGEMM, ordered
// by priority: SIMD-specialized kernels register at init when the CPU supports
// them, and a portable kernel is always registered, so lookups never come back
// empty for the supported dtypes. Use BestGEMM to pick the highest-priority
// implementation, or iterate DTypeToGEMM to select a named one.
//
// The kernels themselves are synchronous. Parallelism, if any, comes from the
// caller through a *workerspool.Pool (nil or a disabled pool runs everything
// sequentially), and scratch buffers come from the caller through
// BufAllocFn/BufReleaseFn hooks so buffer pooling stays outside the compute
// core.
package packgemm

import (
	"sort"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/simdgemm/internal/workerspool"
	"github.com/gomlx/simdgemm/pkg/core/dtypes"
)

// BufAllocFn is a function that allocates a buffer of type T, of the given size.
type BufAllocFn[T any] func(size int) (ref any, data []T)

// BufReleaseFn is a function that releases a buffer allocated with BufAllocFn.
type BufReleaseFn func(ref any)

// GEMMFn is the signature of a registered symmetric (input and output dtypes
// are the same) GEMM implementation.
type GEMMFn[T any] func(alpha, beta T, lhsFlat, rhsFlat []T,
	batchSize, lhsCrossSize, rhsCrossSize, contractingSize int,
	outputFlat []T,
	bufAllocFn BufAllocFn[T], bufReleaseFn BufReleaseFn, pool *workerspool.Pool) error

// CacheParams are the block/pack parameters of one kernel for the current
// architecture.
type CacheParams struct {
	LHSL1KernelRows int // or Mr: number of lhs kernel rows going to registers.
	RHSL1KernelCols int // or Nr: Register Block Width

	PanelContractingSize int // Kc: L1 Block Depth
	LHSPanelCrossSize    int // Mc: L2 Block Height, multiple of LHSL1KernelRows.
	RHSPanelCrossSize    int // Nc: L3 Block Width, multiple of RHSL1KernelCols.
}

// Priorities for registered GEMM implementations: the highest priority
// registration for a dtype pair wins. Ties are broken by registration order.
const (
	// PriorityBase is used by the portable implementations, always available.
	PriorityBase = iota

	// PriorityDTypeSIMD is used by implementations specialized both on the
	// dtype and the SIMD capabilities of the CPU.
	PriorityDTypeSIMD = 100
)

// DTypePair keys the GEMM registry: Input is the dtype of the LHS operand and
// Output the dtype of the output. Most implementations are symmetric
// (Input == Output); the quantized path registers under {Uint8, Int32}.
type DTypePair struct {
	Input, Output dtypes.DType
}

// GEMMRegistration describes one registered GEMM implementation.
//
// GEMMFn holds a GEMMFn[T] for symmetric registrations, with T the Go type of
// the dtype pair; callers type-assert it back to the concrete signature. The
// quantized path stores its own signature (see QuantizedGEMMFn).
type GEMMRegistration struct {
	Name     string
	GEMMFn   any
	Params   *CacheParams
	Priority int
}

// DTypeToGEMM maps dtype pairs to the registered implementations, sorted by
// decreasing priority.
var DTypeToGEMM = make(map[DTypePair][]GEMMRegistration)

// knownVariations maps registered implementation names to their cache
// parameters. Testing purpose only.
var knownVariations = make(map[string]*CacheParams)

// RegisterGEMM registers a symmetric GEMM implementation for the dtype
// corresponding to T. It is meant to be called at init time, optionally gated
// by a CPU feature check, and is not safe for concurrent use.
func RegisterGEMM[T dtypes.Supported](name string, fn GEMMFn[T], params *CacheParams, priority int) {
	dtype := dtypes.FromGenericsType[T]()
	registerGEMM(DTypePair{dtype, dtype}, name, fn, params, priority)
}

// registerGEMM appends the registration and keeps the slice sorted by
// decreasing priority, preserving registration order among equal priorities.
func registerGEMM(pair DTypePair, name string, fn any, params *CacheParams, priority int) {
	regs := append(DTypeToGEMM[pair], GEMMRegistration{
		Name:     name,
		GEMMFn:   fn,
		Params:   params,
		Priority: priority,
	})
	sort.SliceStable(regs, func(i, j int) bool { return regs[i].Priority > regs[j].Priority })
	DTypeToGEMM[pair] = regs
	knownVariations[name] = params
	klog.V(1).Infof("packgemm: registered %q for %s x %s (priority %d)", name, pair.Input, pair.Output, priority)
}

// BestGEMM returns the highest-priority GEMM implementation registered for the
// given dtype pair.
//
// It returns an error if nothing supports the pair: the caller is expected to
// handle it (usually by keeping the data in a wider dtype), not to panic.
func BestGEMM(pair DTypePair) (GEMMRegistration, error) {
	regs := DTypeToGEMM[pair]
	if len(regs) == 0 {
		return GEMMRegistration{}, errors.Errorf("no GEMM kernel registered for input dtype %s and output dtype %s", pair.Input, pair.Output)
	}
	return regs[0], nil
}
