// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

// workItem is one unit of parallel work: a contiguous range of batch examples
// restricted to a window of output rows and columns. Items never overlap and
// never split the contracting dimension, so each one can apply beta
// independently.
type workItem struct {
	batchStart, batchEnd   int
	lhsRowStart, lhsRowEnd int
	rhsColStart, rhsColEnd int
}

// feedWorkItems writes the work items covering a [batchSize, lhsCrossSize] x
// [batchSize, rhsCrossSize] output into workChan and closes it.
//
// If there are at least maxWorkers batch examples, batches alone provide the
// parallelism and each item covers whole matrices. Otherwise it splits the
// larger of the two cross dimensions into enough strips to keep maxWorkers
// busy, aligning the strip size down to the panel size so chunks never share
// a cache panel.
func feedWorkItems(batchSize, lhsCrossSize, rhsCrossSize int,
	params *CacheParams, maxWorkers int, workChan chan<- workItem) {
	defer close(workChan)

	if batchSize >= maxWorkers {
		batchSplitSize := ceilDiv(batchSize, maxWorkers)
		for batchIdx := 0; batchIdx < batchSize; batchIdx += batchSplitSize {
			batchEnd := min(batchIdx+batchSplitSize, batchSize)
			workChan <- workItem{
				batchStart: batchIdx, batchEnd: batchEnd,
				lhsRowStart: 0, lhsRowEnd: lhsCrossSize,
				rhsColStart: 0, rhsColEnd: rhsCrossSize,
			}
		}
		return
	}

	// Not enough batches: split the larger cross dimension so that each batch
	// contributes splitFactor items.
	splitFactor := ceilDiv(maxWorkers, batchSize)
	if lhsCrossSize > rhsCrossSize {
		lhsSplitSize := ceilDiv(lhsCrossSize, splitFactor)
		// Align down to whole LHS panels, at least one.
		lhsSplitSize = max(1, lhsSplitSize/params.LHSPanelCrossSize) * params.LHSPanelCrossSize
		for rowStart := 0; rowStart < lhsCrossSize; rowStart += lhsSplitSize {
			rowEnd := min(rowStart+lhsSplitSize, lhsCrossSize)
			for batchIdx := range batchSize {
				workChan <- workItem{
					batchStart: batchIdx, batchEnd: batchIdx + 1,
					lhsRowStart: rowStart, lhsRowEnd: rowEnd,
					rhsColStart: 0, rhsColEnd: rhsCrossSize,
				}
			}
		}
		return
	}

	rhsSplitSize := ceilDiv(rhsCrossSize, splitFactor)
	// Align down to whole RHS panels, at least one.
	rhsSplitSize = max(1, rhsSplitSize/params.RHSPanelCrossSize) * params.RHSPanelCrossSize
	for colStart := 0; colStart < rhsCrossSize; colStart += rhsSplitSize {
		colEnd := min(colStart+rhsSplitSize, rhsCrossSize)
		for batchIdx := range batchSize {
			workChan <- workItem{
				batchStart: batchIdx, batchEnd: batchIdx + 1,
				lhsRowStart: 0, lhsRowEnd: lhsCrossSize,
				rhsColStart: colStart, rhsColEnd: colEnd,
			}
		}
	}
}
