package repository

import (
	"context"

	"torusscan/internal/models"
)

// PartitionBounds returns the inclusive height range owned by partition k
// for partition size p: [kP, (k+1)P-1].
func PartitionBounds(k, p uint64) (start, end uint64) {
	return k * p, (k+1)*p - 1
}

// PartitionFor returns the partition that owns the given height.
func PartitionFor(height, p uint64) uint64 {
	return height / p
}

// ComputePartitionStatus derives the progress report for one partition from
// its sorted distinct indexed heights. A partition is completed only when
// every height in its range is present: full count, last height at the
// partition end and no interior gaps.
func ComputePartitionStatus(k, p uint64, heights []uint64) models.PartitionStatus {
	start, end := PartitionBounds(k, p)
	st := models.PartitionStatus{
		Partition:      k,
		Start:          start,
		End:            end,
		ExpectedBlocks: p,
	}

	if len(heights) == 0 {
		st.Status = models.PartitionNotStarted
		st.RemainingBlocks = p
		st.RemainingRanges = []models.HeightRange{{Start: start, End: end}}
		return st
	}

	st.BlockCount = uint64(len(heights))
	st.FirstIndexed = heights[0]
	st.LastIndexed = heights[len(heights)-1]
	st.RemainingBlocks = p - st.BlockCount
	st.RemainingRanges = missingRanges(start, end, heights)
	st.HasGaps = st.LastIndexed-st.FirstIndexed+1 != st.BlockCount

	switch {
	case st.BlockCount == p && st.LastIndexed == end && !st.HasGaps:
		st.Status = models.PartitionCompleted
	case st.HasGaps:
		st.Status = models.PartitionIncompleteWithGaps
	default:
		st.Status = models.PartitionIncomplete
	}
	return st
}

// missingRanges lists the inclusive sub-ranges of [start, end] absent from
// the sorted distinct heights.
func missingRanges(start, end uint64, heights []uint64) []models.HeightRange {
	var out []models.HeightRange
	next := start
	for _, h := range heights {
		if h > next {
			out = append(out, models.HeightRange{Start: next, End: h - 1})
		}
		next = h + 1
	}
	if next <= end {
		out = append(out, models.HeightRange{Start: next, End: end})
	}
	return out
}

// GetIndexingStatus reports progress for each partition from 0 through the
// partition owning chainHead.
func (r *Repository) GetIndexingStatus(ctx context.Context, p, chainHead uint64) ([]models.PartitionStatus, error) {
	headPartition := PartitionFor(chainHead, p)
	statuses := make([]models.PartitionStatus, 0, headPartition+1)
	for k := uint64(0); k <= headPartition; k++ {
		start, end := PartitionBounds(k, p)
		heights, err := r.IndexedHeightsInRange(ctx, start, end)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, ComputePartitionStatus(k, p, heights))
	}
	return statuses, nil
}
