package progress

import "testing"

func TestTrackerEmitsSnapshotOnAdd(t *testing.T) {
	tr := New("source+postgresql://ns/public/customers", 100)

	var last Snapshot
	tr.Subscribe(func(s Snapshot) { last = s })

	tr.Add(29, "")

	if last.Processed != 29 {
		t.Fatalf("expected processed=29, got %d", last.Processed)
	}
	if last.Percent != 29 {
		t.Fatalf("expected percent=29, got %v", last.Percent)
	}
}

func TestAggregatorSumsDestinationEntitiesOnly(t *testing.T) {
	agg := NewAggregator()
	agg.Observe(Snapshot{Entity: "source+postgresql://ns/public/customers", Processed: 100})
	agg.Observe(Snapshot{Entity: "destination+postgresql://ns/public/customers", Processed: 40})
	agg.Observe(Snapshot{Entity: "destination+s3://ns/public/orders", Processed: 10})

	if got := agg.DestinationRowsProcessed(); got != 50 {
		t.Fatalf("expected destination rows = 50, got %d", got)
	}
}

func TestMessageDoesNotChangeProcessed(t *testing.T) {
	tr := New("destination+console://ns/public/orders", 0)
	tr.Add(5, "")
	tr.Message("empty stream skip")

	snap := tr.Snapshot()
	if snap.Processed != 5 {
		t.Fatalf("expected processed unchanged at 5, got %d", snap.Processed)
	}
}
