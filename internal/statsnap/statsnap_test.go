package statsnap

import (
	"testing"
	"time"
)

func TestRecorderComputePrunesOldEvents(t *testing.T) {
	rec := NewRecorder()
	base := time.Unix(1_700_000_000, 0)
	rec.Record("R1", base.Add(-2*time.Hour))
	rec.Record("R1", base.Add(-time.Minute))
	rec.Record("R2", base.Add(-time.Minute))

	snap := rec.compute(base, 10*time.Minute)
	if snap.Counts["R1"] != 1 {
		t.Fatalf("expected R1 count 1 after pruning, got %d", snap.Counts["R1"])
	}
	if snap.Counts["R2"] != 1 {
		t.Fatalf("expected R2 count 1, got %d", snap.Counts["R2"])
	}
	if snap.Mean != 1 {
		t.Fatalf("expected mean 1, got %f", snap.Mean)
	}
}

func TestIsOutlier(t *testing.T) {
	snap := &Snapshot{
		Counts: map[string]int64{"R1": 30, "R2": 5, "R3": 5},
		Mean:   (30.0 + 5 + 5) / 3,
	}
	if !snap.IsOutlier("R1", 3) {
		t.Fatalf("expected R1 to be flagged as an outlier")
	}
	if snap.IsOutlier("R2", 3) {
		t.Fatalf("did not expect R2 to be flagged as an outlier")
	}
}

func TestIsOutlierWithZeroMeanNeverFlags(t *testing.T) {
	snap := &Snapshot{Counts: map[string]int64{}, Mean: 0}
	if snap.IsOutlier("R1", 3) {
		t.Fatalf("zero mean should never flag an outlier")
	}
}

func TestStoreRefreshAndLoad(t *testing.T) {
	rec := NewRecorder()
	base := time.Unix(1_700_000_000, 0)
	rec.Record("R1", base)

	var store Store
	if empty := store.Load(); len(empty.Counts) != 0 {
		t.Fatalf("expected empty snapshot before first refresh")
	}

	store.Refresh(rec, base, time.Hour)
	snap := store.Load()
	if snap.Counts["R1"] != 1 {
		t.Fatalf("expected R1 count 1 after refresh, got %d", snap.Counts["R1"])
	}
}
