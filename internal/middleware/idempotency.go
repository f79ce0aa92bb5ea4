package middleware

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/keepsakehq/keepsake/internal/idempotency"
)

// IdempotencyKeyHeader is the HTTP header carrying the idempotency key.
const IdempotencyKeyHeader = "Idempotency-Key"

// idempotencyKeyContextKey is the context key for the idempotency key.
type idempotencyKeyContextKey struct{}

// GetIdempotencyKey retrieves the idempotency key from context. Returns the
// empty string if the request carried none.
func GetIdempotencyKey(ctx context.Context) string {
	if key, ok := ctx.Value(idempotencyKeyContextKey{}).(string); ok {
		return key
	}
	return ""
}

// idempotencyResponseWriter captures the response for caching.
type idempotencyResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

func (w *idempotencyResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// setContext forwards derived contexts through to the logging middleware's
// writer so error codes still land in the request log line.
func (w *idempotencyResponseWriter) setContext(ctx context.Context) {
	UpdateResponseContext(w.ResponseWriter, ctx)
}

// Idempotency replays cached responses for repeated POSTs carrying the same
// Idempotency-Key. A retried request that already succeeded gets the original
// response back instead of performing the mutation again. The header is
// optional: requests without one pass through untouched. Only 2xx responses
// are cached, so a failed attempt can be retried with the same key.
func Idempotency(repo idempotency.Repository, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if err := idempotency.ValidateKey(key); err != nil {
				writeIdempotencyError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), idempotencyKeyContextKey{}, key)
			r = r.WithContext(ctx)

			existing, err := repo.Get(ctx, key)
			if err == nil {
				logger.Info("replaying cached idempotent response",
					"key", key,
					"status", existing.ResponseStatusCode)
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(existing.ResponseStatusCode)
				_, _ = w.Write([]byte(existing.ResponseBody))
				return
			}
			if err != idempotency.ErrKeyNotFound {
				// Storage trouble must not block the mutation; proceed without
				// idempotency for this request.
				logger.Error("idempotency lookup failed", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			capture := &idempotencyResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.statusCode < 200 || capture.statusCode >= 300 {
				return
			}

			body := capture.body.String()
			record := &idempotency.Record{
				Key:                key,
				Method:             r.Method,
				Route:              r.URL.Path,
				Status:             idempotency.StatusCompleted,
				ResponseHash:       idempotency.ResponseHash(body),
				ResponseBody:       body,
				ResponseStatusCode: capture.statusCode,
			}
			if err := repo.Store(ctx, record); err != nil {
				// Response already sent; the retry will simply re-execute.
				logger.Error("failed to store idempotency record", "key", key, "error", err)
			}
		})
	}
}

// writeIdempotencyError writes a 400 for a malformed key using the api error
// envelope, inline to avoid an import cycle between middleware and api.
func writeIdempotencyError(w http.ResponseWriter, err error) {
	message := "Idempotency-Key header is malformed"
	if err == idempotency.ErrKeyTooLong {
		message = fmt.Sprintf("Idempotency-Key exceeds maximum length of %d characters", idempotency.MaxKeyLength)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write([]byte(`{"error":{"code":"validation_error","message":"` + message + `"}}`))
}
