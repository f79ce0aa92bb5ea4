package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func seededReader(t *testing.T) *InMemorySink {
	t.Helper()
	sink := NewInMemorySink()
	day := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	entries := []Entry{
		{
			LogID:     "log-1",
			Event:     EventClaimProcessed,
			Actor:     "uid-1",
			Tenant:    "acme",
			LpID:      "landing",
			RequestID: "req-1",
			EmailHash: HashEmail("recipient@example.com"),
			Metadata:  map[string]string{"memory_id": "mem-1"},
			Timestamp: day,
		},
		{
			LogID:     "log-2",
			Event:     EventClaimExpired,
			Actor:     ActorSystem,
			Tenant:    "acme",
			LpID:      "landing",
			RequestID: "req-2",
			Timestamp: day.Add(time.Hour),
		},
		{
			LogID:     "log-3",
			Event:     EventClaimExpired,
			Actor:     ActorSystem,
			Tenant:    "acme",
			LpID:      "landing",
			RequestID: "req-3",
			Timestamp: day.Add(2 * time.Hour),
		},
	}
	for _, e := range entries {
		if err := sink.Append(context.Background(), e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	return sink
}

func TestExportCSV(t *testing.T) {
	reader := seededReader(t)

	data, err := Export(context.Background(), reader, ExportOptions{
		Format:    ExportFormatCSV,
		Partition: "20260310",
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("parsing exported CSV: %v", err)
	}
	if len(records) != 4 { // header + 3 rows
		t.Fatalf("CSV records = %d, want 4", len(records))
	}
	if records[1][0] != "log-1" || records[1][2] != EventClaimProcessed {
		t.Errorf("first row = %v", records[1])
	}
	if strings.Contains(string(data), "recipient@example.com") {
		t.Error("export leaks raw email address")
	}
}

func TestExportJSON(t *testing.T) {
	reader := seededReader(t)

	data, err := Export(context.Background(), reader, ExportOptions{
		Format:    ExportFormatJSON,
		Partition: "20260310",
		Event:     EventClaimExpired,
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	var out []map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("parsing exported JSON: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("filtered entries = %d, want 2", len(out))
	}
	for _, e := range out {
		if e["event"] != EventClaimExpired {
			t.Errorf("entry event = %v, want claim.expired", e["event"])
		}
	}
}

func TestExportLimit(t *testing.T) {
	reader := seededReader(t)

	data, err := Export(context.Background(), reader, ExportOptions{
		Format:    ExportFormatJSON,
		Partition: "20260310",
		Limit:     1,
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	var out []map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("parsing exported JSON: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("limited entries = %d, want 1", len(out))
	}
}

func TestExportValidation(t *testing.T) {
	reader := seededReader(t)

	if _, err := Export(context.Background(), reader, ExportOptions{Format: "xml", Partition: "20260310"}); err == nil {
		t.Error("Export() with unsupported format succeeded, want error")
	}
	if _, err := Export(context.Background(), reader, ExportOptions{Format: ExportFormatJSON}); err == nil {
		t.Error("Export() without partition succeeded, want error")
	}
}

func TestExportEmptyPartition(t *testing.T) {
	reader := seededReader(t)

	data, err := Export(context.Background(), reader, ExportOptions{
		Format:    ExportFormatJSON,
		Partition: "20991231",
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	var out []map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("parsing exported JSON: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("entries = %d, want 0", len(out))
	}
}
