package api

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prefctl/prefctl/internal/auth"
	"github.com/prefctl/prefctl/internal/errs"
	"github.com/prefctl/prefctl/internal/obs"
)

// roleClaimsKey is the request-context key the auth middleware stores the
// validated *auth.Claims under, for role middleware and handlers to read.
type roleClaimsKey struct{}

func claimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(roleClaimsKey{}).(*auth.Claims)
	return c
}

// withTimeout enforces the request-scoped deadline named in spec §5
// ("Cancellation: a request-scoped deadline (default 30s) cancels the
// handler"). Grounded on the teacher pack's TimeoutMiddleware shape,
// simplified to the spec's single fixed behavior: on timeout, respond
// with the standardized TIMEOUT error envelope rather than a bespoke body.
func (s *Server) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			next.ServeHTTP(w, r.WithContext(ctx))
		}()

		select {
		case <-done:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				writeError(w, r, errs.CodeTimeout, "request exceeded its deadline", nil)
			}
			<-done
		}
	})
}

// withCorrelationID binds a request-scoped correlation id (from the
// inbound X-Correlation-Id header, or freshly minted) into the context
// and echoes it on the response, matching spec §6 ("correlationId echoed
// in X-Correlation-Id").
func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Correlation-Id", id)
		next.ServeHTTP(w, r.WithContext(obs.WithCorrelationID(r.Context(), id)))
	})
}

// withAuth validates the bearer access token and stashes its claims in the
// request context. Login/refresh/logout bypass this (spec §4.J); it is
// mounted only on the authenticated route group.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			s.obs.Metrics.AuthFailures.WithLabelValues("missing_header").Inc()
			writeError(w, r, errs.CodeAuthMissing, "missing or malformed Authorization header", nil)
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		claims, err := s.tokens.ValidateAccessToken(token)
		if err != nil {
			s.obs.Metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
			writeError(w, r, errs.CodeAuthInvalid, "invalid or expired access token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), roleClaimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware gating a route group on action, per the
// role table in spec §4.J (admin ⇒ everything; operator ⇒ read+approve;
// auditor ⇒ read only).
func (s *Server) requireRole(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFrom(r.Context())
			if claims == nil || !auth.HasPermission(claims.Role, action) {
				s.obs.Metrics.AuthFailures.WithLabelValues("forbidden").Inc()
				writeError(w, r, errs.CodeForbidden, "insufficient role permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// withMetrics records the request counter and duration histogram labeled
// by (method, route, status); per spec §4.J, routes containing UUID/ULID
// segments are normalized to ":id" so the label stays low-cardinality.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := normalizeRoute(r.URL.Path)
		s.obs.Metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		s.obs.Metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

var idSegment = regexp.MustCompile(`^(?:[0-9a-fA-F-]{8,}|[0-9A-HJKMNP-TV-Za-hjkmnp-tv-z]{26})$`)

// normalizeRoute replaces path segments that look like a UUID/ULID with
// ":id" so the metrics label cardinality stays bounded.
func normalizeRoute(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if idSegment.MatchString(p) {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

