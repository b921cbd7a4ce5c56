// Package httpapi serves a loaded model over HTTP.
package httpapi

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"omrun/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Status() types.StatusResponse
	Infer(ctx context.Context, data []byte, topK int) (types.RunReport, error)
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Post("/infer", func(w http.ResponseWriter, r *http.Request) {
		lvl := requestLogLevel(r)
		if ct := r.Header.Get("Content-Type"); ct != "" {
			if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/octet-stream" {
				rejectInfer("content_type")
				writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/octet-stream")
				return
			}
		}
		topK := 0
		if v := r.URL.Query().Get("top_k"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				rejectInfer("top_k")
				writeJSONError(w, http.StatusBadRequest, "top_k must be a non-negative integer")
				return
			}
			topK = n
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		data, err := io.ReadAll(r.Body)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				rejectInfer("too_large")
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			rejectInfer("body")
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		if len(data) == 0 {
			rejectInfer("empty")
			writeJSONError(w, http.StatusBadRequest, "request body is empty")
			return
		}

		inferRequestBytes.Observe(float64(len(data)))

		start := time.Now()
		requestEvent(r, lvl, LevelInfo).Int("bytes", len(data)).Int("top_k", topK).Msg("infer start")
		ctx, cancel := withShutdown(r.Context())
		defer cancel()
		if inferTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, time.Duration(inferTimeout)*time.Second)
			defer tcancel()
		}
		rep, err := svc.Infer(ctx, data, topK)
		if err != nil {
			// If the client went away there is nobody to answer.
			if r.Context().Err() != nil {
				return
			}
			status := statusFor(err)
			writeJSONError(w, status, err.Error())
			requestEvent(r, lvl, LevelInfo).Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("infer end")
			return
		}
		writeJSON(w, http.StatusOK, types.InferResponse{RunReport: rep})
		requestEvent(r, lvl, LevelInfo).Int("status", http.StatusOK).Dur("dur", time.Since(start)).
			Str("run_id", rep.RunID).Msg("infer end")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
