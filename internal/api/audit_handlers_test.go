package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keepsakehq/keepsake/internal/audit"
	"github.com/keepsakehq/keepsake/internal/middleware"
	"github.com/keepsakehq/keepsake/internal/session"
)

func seededAuditSink(t *testing.T) *audit.InMemorySink {
	t.Helper()

	sink := audit.NewInMemorySink()
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	entries := []audit.Entry{
		{
			LogID:     audit.NewLogID(),
			Event:     audit.EventClaimProcessed,
			Actor:     "uid-1",
			Tenant:    "acme",
			LpID:      "landing",
			RequestID: "req-1",
			EmailHash: audit.HashEmail("holder@example.com"),
			Timestamp: at,
		},
		{
			LogID:     audit.NewLogID(),
			Event:     audit.EventClaimExpired,
			Actor:     audit.ActorSystem,
			Tenant:    "acme",
			LpID:      "landing",
			RequestID: "req-2",
			Timestamp: at.Add(time.Hour),
		},
	}
	for _, e := range entries {
		if err := sink.Append(t.Context(), e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	return sink
}

func doExport(t *testing.T, authority *session.Authority, reader audit.Reader, credential, query string) *httptest.ResponseRecorder {
	t.Helper()

	handler := middleware.Auth(authority, nil)(http.HandlerFunc(NewAuditHandler(reader, nil).Export))

	req := httptest.NewRequest(http.MethodGet, "/v1/audit/export"+query, nil)
	if credential != "" {
		token, err := authority.IssueSession(t.Context(), credential)
		if err != nil {
			t.Fatalf("IssueSession() error = %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAuditExportJSON(t *testing.T) {
	authority := newTestAuthority(t)
	sink := seededAuditSink(t)

	rec := doExport(t, authority, sink, "cred-admin", "?partition=20260310")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %s", ct)
	}

	var entries []audit.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("parsing export: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("exported %d entries, want 2", len(entries))
	}
	if strings.Contains(rec.Body.String(), "holder@example.com") {
		t.Error("raw email address leaked into export payload")
	}
}

func TestAuditExportCSV(t *testing.T) {
	authority := newTestAuthority(t)
	sink := seededAuditSink(t)

	rec := doExport(t, authority, sink, "cred-admin", "?partition=20260310&format=csv")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "audit-20260310.csv") {
		t.Errorf("Content-Disposition = %s", cd)
	}
}

func TestAuditExportEventFilter(t *testing.T) {
	authority := newTestAuthority(t)
	sink := seededAuditSink(t)

	rec := doExport(t, authority, sink, "cred-admin", "?partition=20260310&event=claim.expired")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var entries []audit.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("parsing export: %v", err)
	}
	if len(entries) != 1 || entries[0].Event != audit.EventClaimExpired {
		t.Errorf("entries = %+v", entries)
	}
}

func TestAuditExportValidation(t *testing.T) {
	authority := newTestAuthority(t)
	sink := seededAuditSink(t)

	tests := []struct {
		name  string
		query string
	}{
		{"missing partition", ""},
		{"bad format", "?partition=20260310&format=xml"},
		{"negative limit", "?partition=20260310&limit=-1"},
		{"non-numeric limit", "?partition=20260310&limit=ten"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doExport(t, authority, sink, "cred-admin", tt.query)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestAuditExportRequiresAdmin(t *testing.T) {
	authority := newTestAuthority(t)

	rec := doExport(t, authority, seededAuditSink(t), "cred-user", "?partition=20260310")

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestAuditExportUnauthenticated(t *testing.T) {
	rec := doExport(t, newTestAuthority(t), seededAuditSink(t), "", "?partition=20260310")

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
