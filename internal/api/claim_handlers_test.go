package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/keepsakehq/keepsake/internal/claim"
	"github.com/keepsakehq/keepsake/internal/memory"
	"github.com/keepsakehq/keepsake/internal/middleware"
)

// fakeProcessor returns a canned result or error.
type fakeProcessor struct {
	mem *memory.Memory
	err error

	gotRequestID string
	gotClaimKey  string
	gotUID       string
	gotOrigin    string
}

func (f *fakeProcessor) ProcessClaim(ctx context.Context, requestID, claimKey, authenticatedUID, requestOrigin string) (*memory.Memory, error) {
	f.gotRequestID = requestID
	f.gotClaimKey = claimKey
	f.gotUID = authenticatedUID
	f.gotOrigin = requestOrigin
	if f.err != nil {
		return nil, f.err
	}
	return f.mem, nil
}

func doProcessClaim(t *testing.T, processor ClaimProcessor, requestID, body string, authenticated bool) *httptest.ResponseRecorder {
	t.Helper()

	handler := NewClaimHandler(processor, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/claims/{id}/process", handler.ProcessClaim)

	req := httptest.NewRequest(http.MethodPost, "/v1/claims/"+requestID+"/process", strings.NewReader(body))
	req.Header.Set("Origin", "https://landing.acme.keepsake.app")
	if authenticated {
		req = req.WithContext(middleware.SetUserID(req.Context(), "uid-1"))
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parsing error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestProcessClaimHandlerSuccess(t *testing.T) {
	processor := &fakeProcessor{
		mem: &memory.Memory{ID: "mem-1", OwnerUID: "uid-1", Tenant: "acme", LpID: "landing"},
	}

	rec := doProcessClaim(t, processor, "req-1", `{"claim_key":"0123456789abcdef"}`, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parsing body: %v", err)
	}
	if resp["memory_id"] != "mem-1" || resp["request_id"] != "req-1" || resp["status"] != "claimed" {
		t.Errorf("body = %v", resp)
	}

	if processor.gotRequestID != "req-1" || processor.gotClaimKey != "0123456789abcdef" {
		t.Errorf("processor args = %q %q", processor.gotRequestID, processor.gotClaimKey)
	}
	if processor.gotUID != "uid-1" {
		t.Errorf("uid = %s", processor.gotUID)
	}
	if processor.gotOrigin != "https://landing.acme.keepsake.app" {
		t.Errorf("origin = %s", processor.gotOrigin)
	}
}

func TestProcessClaimHandlerUnauthenticated(t *testing.T) {
	rec := doProcessClaim(t, &fakeProcessor{}, "req-1", `{"claim_key":"k"}`, false)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestProcessClaimHandlerBadBody(t *testing.T) {
	rec := doProcessClaim(t, &fakeProcessor{}, "req-1", `{not-json`, true)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProcessClaimHandlerErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid key", claim.ErrInvalidClaimKey, http.StatusBadRequest, ErrCodeValidation},
		{"tenant mismatch", claim.ErrTenantMismatch, http.StatusForbidden, ErrCodeForbidden},
		{"not found", claim.ErrClaimNotFound, http.StatusConflict, ErrCodeClaimNotClaimable},
		{"not claimable", claim.ErrClaimNotClaimable, http.StatusConflict, ErrCodeClaimNotClaimable},
		{"store failure", claim.ErrStoreUnavailable, http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doProcessClaim(t, &fakeProcessor{err: tt.err}, "req-1", `{"claim_key":"0123456789abcdef"}`, true)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			resp := decodeError(t, rec)
			if resp.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", resp.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestProcessClaimHandlerIndistinguishableResponses(t *testing.T) {
	// Unknown and expired claims must be indistinguishable to the caller.
	notFound := doProcessClaim(t, &fakeProcessor{err: claim.ErrClaimNotFound}, "req-1", `{"claim_key":"0123456789abcdef"}`, true)
	notClaimable := doProcessClaim(t, &fakeProcessor{err: claim.ErrClaimNotClaimable}, "req-1", `{"claim_key":"0123456789abcdef"}`, true)

	if notFound.Code != notClaimable.Code {
		t.Errorf("status codes differ: %d vs %d", notFound.Code, notClaimable.Code)
	}
	if notFound.Body.String() != notClaimable.Body.String() {
		t.Errorf("bodies differ:\n%s\n%s", notFound.Body.String(), notClaimable.Body.String())
	}
}
