// Package api implements the embedded admin HTTP surface: health probes,
// Prometheus metrics, LDIF ingest, and change-log revert. It is a thin
// adapter over the directory service; it never speaks BER/ASN.1 and is not
// an LDAP wire endpoint.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dirsrv/internal/logger"
	"dirsrv/pkg/directory"
	"dirsrv/pkg/metrics"
)

// NewRouter builds the chi router.
//
// Routes:
//   - GET  /healthz          - liveness probe (unauthenticated)
//   - GET  /metrics          - Prometheus exposition (unauthenticated)
//   - POST /v1/ldif          - LDIF ingest (bearer auth)
//   - POST /v1/revert        - change-log revert to a revision (bearer auth)
//   - GET  /v1/revision      - current change-log revision (bearer auth)
func NewRouter(svc *directory.Service, jwtService *JWTService) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"stages": svc.StageNames(),
		})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(jwtAuth(jwtService))
		r.Post("/ldif", applyLDIF(svc))
		r.Post("/revert", revert(svc))
		r.Get("/revision", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"revision": svc.CurrentRevision()})
		})
	})
	return r
}

func applyLDIF(svc *directory.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		if len(body) == 0 {
			http.Error(w, "empty LDIF document", http.StatusBadRequest)
			return
		}
		if err := svc.Apply(r.Context(), string(body), nil); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  err.Error(),
				"result": int(directory.ResultCodeOf(err)),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revision": svc.CurrentRevision()})
	}
}

func revert(svc *directory.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Revision uint64 `json:"revision"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if err := svc.Revert(r.Context(), req.Revision); err != nil {
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revision": svc.CurrentRevision()})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// requestLogger logs each request with method, path, status, and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Info("admin api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", strconv.Itoa(ww.Status()),
			logger.KeyClientIP, r.RemoteAddr,
			logger.KeyDuration, logger.Duration(start),
		)
	})
}
