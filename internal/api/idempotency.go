package api

import (
	"bytes"
	"net/http"
	"time"

	"github.com/prefctl/prefctl/internal/errs"
	"github.com/prefctl/prefctl/internal/store"
)

// withIdempotency wraps a mutating route handler with spec §4.J's
// idempotency protocol: composite key "userId:Idempotency-Key"; an
// in-flight duplicate gets 409, a completed duplicate replays the stored
// {status,body,headers} verbatim, and a first-time request's response is
// captured and stored once the handler returns.
func (s *Server) withIdempotency(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idemKey := r.Header.Get("Idempotency-Key")
			if idemKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims := claimsFrom(r.Context())
			userID := ""
			if claims != nil {
				userID = claims.Subject
			}
			key := userID + ":" + idemKey

			existing, won, err := s.store.Begin(r.Context(), key)
			if err != nil {
				writeServiceError(w, r, s.obs, err)
				return
			}
			if !won {
				if existing.InProgress {
					writeError(w, r, errs.CodeIdempotencyInFlight, "an identical request is already in progress", nil)
					return
				}
				s.obs.Metrics.IdempotencyHits.Inc()
				replay(w, existing)
				return
			}

			capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r)

			s.obs.Metrics.MutationActions.WithLabelValues(action).Inc()
			_ = s.store.Complete(r.Context(), store.IdempotencyRecord{
				Key: key, StatusCode: capture.status, Body: capture.buf.Bytes(),
				Headers: capture.headerSnapshot(), ExpiresAt: time.Now().Add(s.cfg.IdempotencyTTL),
			})
		})
	}
}

func replay(w http.ResponseWriter, rec *store.IdempotencyRecord) {
	for k, v := range rec.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(rec.StatusCode)
	_, _ = w.Write(rec.Body)
}

// captureWriter buffers a handler's response so it can be persisted as an
// IdempotencyRecord once the handler completes, matching the teacher
// pack's timeoutWriter buffering pattern.
type captureWriter struct {
	http.ResponseWriter
	status  int
	buf     bytes.Buffer
	headers http.Header
}

func (c *captureWriter) WriteHeader(status int) {
	c.status = status
	c.headers = c.ResponseWriter.Header().Clone()
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.buf.Write(p)
	return c.ResponseWriter.Write(p)
}

func (c *captureWriter) headerSnapshot() map[string]string {
	if c.headers == nil {
		c.headers = c.ResponseWriter.Header().Clone()
	}
	out := make(map[string]string, len(c.headers))
	for k := range c.headers {
		out[k] = c.headers.Get(k)
	}
	return out
}
