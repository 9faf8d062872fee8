// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

import (
	"github.com/gomlx/simdgemm/pkg/core/dtypes"
)

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// packedPanelElements returns the number of elements a packed panel holding
// cross x depth source elements occupies, with cross padded up to a multiple
// of kernelSize.
func packedPanelElements(cross, depth, kernelSize int) int {
	return ceilDiv(cross, kernelSize) * kernelSize * depth
}

// packRHS packs a [contractingRows, numCols] block from RHS into the panel
// reshaped+transposed to [ceil(numCols/kernelCols), contractingRows, kernelCols],
// padding the cols of the last strip with zeros if necessary.
//
//   - src: row-major, srcRowStride elements per row
//   - dst: a slice with enough size to hold the panel
//   - srcRowStart, srcColStart: top-left corner of the block in src
//   - contractingRows: number of rows copied into the panel (k)
//   - numCols: number of columns copied (excluding padding), padded to a
//     kernelCols multiple with zeros
//   - kernelCols: number of columns in each "L1 kernel" (nr)
func packRHS[T dtypes.NumberNotComplex](src, dst []T, srcRowStart, srcColStart, srcRowStride,
	contractingRows, numCols, kernelCols int) {
	dstIdx := 0
	numFullStrips := numCols / kernelCols
	fullStripsCol := numFullStrips * kernelCols
	srcStartRowIdx := srcRowStart * srcRowStride
	// Iterate over strips of width kernelCols (nr)
	for stripColIdx := 0; stripColIdx < fullStripsCol; stripColIdx += kernelCols {
		// Iterate over rows (k)
		srcIdx := srcStartRowIdx + srcColStart + stripColIdx
		for range contractingRows {
			copy(dst[dstIdx:], src[srcIdx:srcIdx+kernelCols])
			dstIdx += kernelCols
			srcIdx += srcRowStride
		}
	}

	// Last strip, with incomplete number of columns.
	validCols := numCols - fullStripsCol
	if validCols == 0 {
		// We are done.
		return
	}
	srcIdx := srcStartRowIdx + srcColStart + fullStripsCol
	for range contractingRows {
		// Copy valid columns
		copy(dst[dstIdx:], src[srcIdx:srcIdx+validCols])
		dstIdx += validCols
		srcIdx += srcRowStride
		// Zero-pad if strip is incomplete (edge of matrix)
		for c := validCols; c < kernelCols; c++ {
			dst[dstIdx] = 0
			dstIdx++
		}
	}
}

// packLHS packs a [numRows, contractingCols] block from LHS into the panel
// reshaped+transposed to [ceil(numRows/kernelRows), contractingCols, kernelRows],
// padding the rows of the last strip with zeros if necessary.
//
// The kernel wants LHS traversed k-first, so within each strip the rows become
// the innermost axis.
//
//   - src: row-major, srcRowStride elements per row
//   - srcRowStart, srcColStart: top-left corner of the block in src
//   - numRows: number of rows copied (excluding padding), padded to a
//     kernelRows multiple with zeros
//   - contractingCols: number of columns copied into the panel (k)
//   - kernelRows: number of rows in each "L1 kernel" (mr)
func packLHS[T dtypes.NumberNotComplex](src, dst []T, srcRowStart, srcColStart, srcRowStride,
	numRows, contractingCols, kernelRows int) {
	dstIdx := 0
	// Iterate over strips of height kernelRows (mr)
	for stripRowIdx := 0; stripRowIdx < numRows; stripRowIdx += kernelRows {
		validRows := min(kernelRows, numRows-stripRowIdx)
		srcStripIdx := (srcRowStart+stripRowIdx)*srcRowStride + srcColStart

		if validRows == kernelRows {
			// Full strip.
			for col := range contractingCols {
				srcIdx := srcStripIdx + col
				for range kernelRows {
					dst[dstIdx] = src[srcIdx]
					dstIdx++
					srcIdx += srcRowStride
				}
			}
			continue
		}

		// Last strip, with incomplete number of rows.
		for col := range contractingCols {
			srcIdx := srcStripIdx + col
			for range validRows {
				dst[dstIdx] = src[srcIdx]
				dstIdx++
				srcIdx += srcRowStride
			}
			// Zero-pad if strip is incomplete (edge of matrix)
			for r := validRows; r < kernelRows; r++ {
				dst[dstIdx] = 0
				dstIdx++
			}
		}
	}
}
