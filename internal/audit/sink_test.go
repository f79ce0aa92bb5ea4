package audit

import (
	"context"
	"testing"
	"time"
)

func TestInMemorySinkAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	sink := NewInMemorySink()

	day1 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)

	entries := []Entry{
		{LogID: NewLogID(), Event: EventClaimProcessed, Actor: "uid-1", RequestID: "req-1", Timestamp: day1},
		{LogID: NewLogID(), Event: EventClaimExpired, Actor: ActorSystem, RequestID: "req-2", Timestamp: day1.Add(time.Hour)},
		{LogID: NewLogID(), Event: EventClaimProcessed, Actor: "uid-2", RequestID: "req-3", Timestamp: day2},
	}
	for _, e := range entries {
		if err := sink.Append(ctx, e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := sink.QueryByPartition(ctx, "20260310")
	if err != nil {
		t.Fatalf("QueryByPartition() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("partition 20260310 entries = %d, want 2", len(got))
	}

	byEvent := sink.ByEvent(EventClaimProcessed)
	if len(byEvent) != 2 {
		t.Errorf("claim.processed entries = %d, want 2", len(byEvent))
	}
}

func TestInMemorySinkRequiresLogID(t *testing.T) {
	sink := NewInMemorySink()
	err := sink.Append(context.Background(), Entry{Event: EventClaimProcessed})
	if err == nil {
		t.Fatal("Append() without log_id succeeded, want error")
	}
}

func TestInMemorySinkCopiesMetadata(t *testing.T) {
	ctx := context.Background()
	sink := NewInMemorySink()

	metadata := map[string]string{"outcome": OutcomeDenied}
	entry := Entry{
		LogID:     NewLogID(),
		Event:     EventCrossTenantDenied,
		Actor:     "uid-1",
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}
	if err := sink.Append(ctx, entry); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// Mutating the caller's map must not reach the stored entry.
	metadata["outcome"] = "tampered"

	stored := sink.Entries()
	if len(stored) != 1 {
		t.Fatalf("entries = %d, want 1", len(stored))
	}
	if stored[0].Metadata["outcome"] != OutcomeDenied {
		t.Error("stored metadata mutated through caller's map")
	}
}
