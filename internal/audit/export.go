package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// ExportFormat defines supported export formats.
type ExportFormat string

const (
	// ExportFormatCSV exports entries as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports entries as a JSON array.
	ExportFormatJSON ExportFormat = "json"
)

// ExportOptions configures an audit export.
type ExportOptions struct {
	Format    ExportFormat // Export format (csv or json)
	Partition string       // Day partition to export (YYYYMMDD)
	Event     string       // Filter by event tag (optional)
	Limit     int          // Maximum number of entries to export (0 = no limit)
}

// Export reads one day partition from a Reader and renders it in the
// requested format for operator reporting.
func Export(ctx context.Context, reader Reader, opts ExportOptions) ([]byte, error) {
	if opts.Format != ExportFormatCSV && opts.Format != ExportFormatJSON {
		return nil, fmt.Errorf("unsupported export format: %s", opts.Format)
	}
	if opts.Partition == "" {
		return nil, fmt.Errorf("export partition is required")
	}

	entries, err := reader.QueryByPartition(ctx, opts.Partition)
	if err != nil {
		return nil, fmt.Errorf("failed to query partition %s: %w", opts.Partition, err)
	}

	if opts.Event != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Event == opts.Event {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	switch opts.Format {
	case ExportFormatCSV:
		return exportToCSV(entries)
	default:
		return exportToJSON(entries)
	}
}

// exportToCSV renders entries as CSV.
func exportToCSV(entries []Entry) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	header := []string{
		"Log ID",
		"Timestamp (UTC)",
		"Event",
		"Actor",
		"Tenant",
		"LP ID",
		"Request ID",
		"Email Hash",
		"Metadata",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		metadata := ""
		if e.Metadata != nil {
			data, err := json.Marshal(e.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal metadata for %s: %w", e.LogID, err)
			}
			metadata = string(data)
		}

		row := []string{
			e.LogID,
			e.Timestamp.UTC().Format(time.RFC3339),
			e.Event,
			e.Actor,
			e.Tenant,
			e.LpID,
			e.RequestID,
			e.EmailHash,
			metadata,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// exportToJSON renders entries as an indented JSON array.
func exportToJSON(entries []Entry) ([]byte, error) {
	type exportEntry struct {
		LogID     string            `json:"log_id"`
		Timestamp string            `json:"timestamp"`
		Event     string            `json:"event"`
		Actor     string            `json:"actor"`
		Tenant    string            `json:"tenant"`
		LpID      string            `json:"lp_id"`
		RequestID string            `json:"request_id"`
		EmailHash string            `json:"email_hash,omitempty"`
		Metadata  map[string]string `json:"metadata,omitempty"`
	}

	out := make([]exportEntry, len(entries))
	for i, e := range entries {
		out[i] = exportEntry{
			LogID:     e.LogID,
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			Event:     e.Event,
			Actor:     e.Actor,
			Tenant:    e.Tenant,
			LpID:      e.LpID,
			RequestID: e.RequestID,
			EmailHash: e.EmailHash,
			Metadata:  e.Metadata,
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return data, nil
}
