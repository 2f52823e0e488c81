package api

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/veridata/fieldgate/pkg/actor"
	"github.com/veridata/fieldgate/pkg/engine"
	"github.com/veridata/fieldgate/pkg/httputil"
	"github.com/veridata/fieldgate/pkg/observability"
)

// Actor headers. Authentication happens upstream; these headers are the
// trusted identity assertion the gateway forwards.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
	HeaderRequestID = "X-Request-ID"
)

// actorFromRequest builds the acting party from the identity headers.
// Requests without headers are anonymous; an unknown role is rejected rather
// than downgraded so a misconfigured gateway fails loudly.
func actorFromRequest(r *http.Request) (actor.Actor, error) {
	roleHeader := r.Header.Get(HeaderActorRole)
	if roleHeader == "" {
		return actor.Anonymous(), nil
	}

	role, err := actor.ParseRole(roleHeader)
	if err != nil {
		return actor.Actor{}, err
	}
	return actor.Actor{
		ID:   r.Header.Get(HeaderActorID),
		Role: role,
	}, nil
}

// requestContextFromRequest captures network provenance for consent and audit
func requestContextFromRequest(r *http.Request) engine.RequestContext {
	return engine.RequestContext{
		OriginAddress: originAddress(r),
		RequestID:     r.Header.Get(HeaderRequestID),
	}
}

// originAddress resolves the client address, preferring the first entry of
// X-Forwarded-For when a proxy sits in front.
func originAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestIDMiddleware assigns a request ID when the caller did not send one
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
			r.Header.Set(HeaderRequestID, requestID)
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := observability.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs each request and records HTTP metrics
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		path := routeTemplate(r)
		s.metrics.RecordHTTPRequest(r.Method, path, rw.statusCode, duration)
		s.logger.WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration_ms": duration.Milliseconds(),
			"request_id":  r.Header.Get(HeaderRequestID),
		}).Info("request")
	})
}

// routeTemplate returns the mux route pattern to keep metric cardinality
// bounded regardless of path values.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// recoveryMiddleware converts handler panics into a 500
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.WithField("panic", fmt.Sprintf("%v", rec)).
					WithField("stack", string(debug.Stack())).
					Error("handler panic")
				httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
