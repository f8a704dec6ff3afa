package fakeapi

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/c0deZ3R0/go-offline-kit/transport/httptransport"
)

// Fault describes an injected failure for one route.
type Fault struct {
	// Status is written with a {"detail": ...} body. Ignored when Drop is set.
	Status int
	// Drop closes the connection without a response.
	Drop bool
	// Delay is applied before the fault or the real handler.
	Delay time.Duration
	// Times limits how many requests are affected. Zero means until cleared.
	Times int
}

// Inject registers f for requests matching method and path exactly.
func (s *Server) Inject(method, path string, f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fault := f
	s.faults[method+" "+path] = &fault
}

// ClearFaults removes every injected fault.
func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[string]*Fault)
}

// Calls reports how many requests reached method and path, faulted ones included.
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+path]
}

func (s *Server) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.Method+" "+r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) takeFault(key string) (Fault, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.faults[key]
	if !ok {
		return Fault{}, false
	}
	taken := *f
	if f.Times > 0 {
		f.Times--
		if f.Times == 0 {
			delete(s.faults, key)
		}
	}
	return taken, true
}

func (s *Server) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := s.takeFault(r.Method + " " + r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if f.Delay > 0 {
			select {
			case <-time.After(f.Delay):
			case <-r.Context().Done():
				return
			}
		}
		switch {
		case f.Drop:
			hj, ok := w.(http.Hijacker)
			if !ok {
				writeError(w, http.StatusInternalServerError, "connection cannot be dropped")
				return
			}
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
			}
		case f.Status != 0:
			writeError(w, f.Status, "injected failure")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start))
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFrom(r)
		user := GuestUser
		switch {
		case s.tokens != nil && !s.tokens[token]:
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		case token != "":
			user = token
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

// ReplayHeader is set on responses served from the idempotency cache.
const ReplayHeader = "Idempotent-Replayed"

type recordedResponse struct {
	status  int
	version string
	body    []byte
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}

// idempotent replays the first non-5xx response recorded for a user and
// Idempotency-Key pair.
func (s *Server) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(httptransport.IdempotencyHeader)
		if key == "" || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		cacheKey := userFrom(r) + "/" + key

		s.mu.Lock()
		prev, seen := s.replays[cacheKey]
		s.mu.Unlock()
		if seen {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(ReplayHeader, "true")
			if prev.version != "" {
				w.Header().Set(httptransport.VersionHeader, prev.version)
			}
			w.WriteHeader(prev.status)
			_, _ = w.Write(prev.body)
			return
		}

		rec := &recorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status != 0 && rec.status < http.StatusInternalServerError {
			s.mu.Lock()
			s.replays[cacheKey] = recordedResponse{
				status:  rec.status,
				version: w.Header().Get(httptransport.VersionHeader),
				body:    rec.body.Bytes(),
			}
			s.mu.Unlock()
		}
	})
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }
