package repository

import (
	"reflect"
	"testing"

	"torusscan/internal/models"
)

func TestPartitionBounds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		k, p       uint64
		start, end uint64
	}{
		{k: 0, p: 324000, start: 0, end: 323999},
		{k: 1, p: 324000, start: 324000, end: 647999},
		{k: 3, p: 216000, start: 648000, end: 863999},
	}
	for _, tc := range cases {
		start, end := PartitionBounds(tc.k, tc.p)
		if start != tc.start || end != tc.end {
			t.Fatalf("PartitionBounds(%d, %d)=(%d, %d) want (%d, %d)", tc.k, tc.p, start, end, tc.start, tc.end)
		}
	}
}

func TestPartitionFor(t *testing.T) {
	t.Parallel()

	if got := PartitionFor(0, 324000); got != 0 {
		t.Fatalf("got %d", got)
	}
	if got := PartitionFor(323999, 324000); got != 0 {
		t.Fatalf("got %d", got)
	}
	if got := PartitionFor(324000, 324000); got != 1 {
		t.Fatalf("got %d", got)
	}
}

func seq(from, to uint64) []uint64 {
	out := make([]uint64, 0, to-from+1)
	for h := from; h <= to; h++ {
		out = append(out, h)
	}
	return out
}

func TestComputePartitionStatusFreshBackfill(t *testing.T) {
	t.Parallel()

	// Partition 0 on a young chain: heights 0..50 indexed.
	st := ComputePartitionStatus(0, 324000, seq(0, 50))

	if st.Start != 0 || st.End != 323999 {
		t.Fatalf("bounds (%d, %d)", st.Start, st.End)
	}
	if st.BlockCount != 51 || st.FirstIndexed != 0 || st.LastIndexed != 50 {
		t.Fatalf("count=%d first=%d last=%d", st.BlockCount, st.FirstIndexed, st.LastIndexed)
	}
	if st.Status != models.PartitionIncomplete {
		t.Fatalf("status=%q", st.Status)
	}
	if st.RemainingBlocks != 323949 {
		t.Fatalf("remaining=%d", st.RemainingBlocks)
	}
	want := []models.HeightRange{{Start: 51, End: 323999}}
	if !reflect.DeepEqual(st.RemainingRanges, want) {
		t.Fatalf("ranges=%v", st.RemainingRanges)
	}
}

func TestComputePartitionStatusCompleted(t *testing.T) {
	t.Parallel()

	st := ComputePartitionStatus(0, 100, seq(0, 99))
	if st.Status != models.PartitionCompleted {
		t.Fatalf("status=%q", st.Status)
	}
	if st.RemainingBlocks != 0 || len(st.RemainingRanges) != 0 {
		t.Fatalf("remaining=%d ranges=%v", st.RemainingBlocks, st.RemainingRanges)
	}
	if st.HasGaps {
		t.Fatal("unexpected gaps")
	}
}

func TestComputePartitionStatusWithGaps(t *testing.T) {
	t.Parallel()

	heights := append(seq(100, 120), seq(150, 160)...)
	st := ComputePartitionStatus(1, 100, heights)

	if st.Status != models.PartitionIncompleteWithGaps {
		t.Fatalf("status=%q", st.Status)
	}
	if !st.HasGaps {
		t.Fatal("expected gaps")
	}
	want := []models.HeightRange{
		{Start: 121, End: 149},
		{Start: 161, End: 199},
	}
	if !reflect.DeepEqual(st.RemainingRanges, want) {
		t.Fatalf("ranges=%v", st.RemainingRanges)
	}
}

func TestComputePartitionStatusNotStarted(t *testing.T) {
	t.Parallel()

	st := ComputePartitionStatus(2, 100, nil)
	if st.Status != models.PartitionNotStarted {
		t.Fatalf("status=%q", st.Status)
	}
	if st.RemainingBlocks != 100 {
		t.Fatalf("remaining=%d", st.RemainingBlocks)
	}
	want := []models.HeightRange{{Start: 200, End: 299}}
	if !reflect.DeepEqual(st.RemainingRanges, want) {
		t.Fatalf("ranges=%v", st.RemainingRanges)
	}
}

func TestMissingRangesLeadingGap(t *testing.T) {
	t.Parallel()

	got := missingRanges(0, 9, []uint64{3, 4, 5})
	want := []models.HeightRange{
		{Start: 0, End: 2},
		{Start: 6, End: 9},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v", got)
	}
}
