// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

import (
	"github.com/gomlx/simdgemm/pkg/core/dtypes"
)

// accumulateTile merges the [usedRows, usedCols] window of a fully computed
// scratch tile into the output:
//
//	out[r*outRowStride+c] = alpha*tile[r*tileRowStride+c] + beta*out[...]
//
// Kernels compute edge tiles at full register width into a zeroed scratch and
// merge through here, so the result is bit-identical to a full-width tile
// restricted to the used window. With beta == 0 the output is never read.
// Elements outside the window are never touched.
func accumulateTile[O dtypes.NumberNotComplex](out []O, outRowStride int, tile []O, tileRowStride,
	usedRows, usedCols int, alpha, beta O) {
	if alpha == 1 && beta == 0 {
		for r := range usedRows {
			outIdx := r * outRowStride
			tileIdx := r * tileRowStride
			copy(out[outIdx:outIdx+usedCols], tile[tileIdx:tileIdx+usedCols])
		}
		return
	}
	for r := range usedRows {
		outRow := out[r*outRowStride : r*outRowStride+usedCols]
		tileRow := tile[r*tileRowStride : r*tileRowStride+usedCols]
		if beta == 0 {
			for c, v := range tileRow {
				outRow[c] = alpha * v
			}
		} else {
			for c, v := range tileRow {
				outRow[c] = alpha*v + beta*outRow[c]
			}
		}
	}
}
