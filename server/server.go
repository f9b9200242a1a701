// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the scanner over HTTP. Scans run asynchronously:
// POST /scan returns a job id and the remaining endpoints read job state
// through the registry.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/google/depscan"
	"github.com/google/depscan/inventory"
	"github.com/google/depscan/jobs"
	"github.com/google/depscan/log"
	"github.com/google/depscan/resolver"
)

const (
	// DefaultMaxBodyBytes bounds the request body size.
	DefaultMaxBodyBytes = 8 << 20
	// DefaultMaxFiles bounds the number of files per scan request.
	DefaultMaxFiles = 16
)

// Config is the server's configuration.
type Config struct {
	// Scanner runs the scans. Required.
	Scanner *depscan.Scanner
	// Registry tracks jobs. Defaults to a fresh registry.
	Registry *jobs.Registry
	// MaxBodyBytes bounds request bodies. Defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
	// MaxFiles bounds files per request. Defaults to DefaultMaxFiles.
	MaxFiles int
	// AllowedOrigins lists origins allowed to make cross-origin requests.
	// Empty disallows CORS.
	AllowedOrigins []string
	// Metrics is where the server registers its Prometheus collectors.
	// Defaults to the process-wide default registerer.
	Metrics prometheus.Registerer
}

// Server handles the scan API.
type Server struct {
	scanner        *depscan.Scanner
	registry       *jobs.Registry
	maxBodyBytes   int64
	maxFiles       int
	allowedOrigins []string

	requestsTotal *prometheus.CounterVec
	scansTotal    *prometheus.CounterVec
	startTime     time.Time
}

// New returns a Server with the given config and registers its metrics on
// cfg.Metrics.
func New(cfg Config) *Server {
	if cfg.Registry == nil {
		cfg.Registry = jobs.NewRegistry(jobs.Config{})
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultMaxFiles
	}
	if cfg.Metrics == nil {
		cfg.Metrics = prometheus.DefaultRegisterer
	}

	s := &Server{
		scanner:        cfg.Scanner,
		registry:       cfg.Registry,
		maxBodyBytes:   cfg.MaxBodyBytes,
		maxFiles:       cfg.MaxFiles,
		allowedOrigins: cfg.AllowedOrigins,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "depscan_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"endpoint", "method"},
		),
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "depscan_scans_total",
				Help: "Scans started, by final admission outcome",
			},
			[]string{"outcome"},
		),
		startTime: time.Now(),
	}
	cfg.Metrics.MustRegister(s.requestsTotal, s.scansTotal)
	cfg.Metrics.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "depscan_active_scans",
			Help: "Number of scans currently running",
		},
		func() float64 { return float64(cfg.Registry.ActiveCount()) },
	))
	return s
}

// Handler returns the server's routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			s.requestsTotal.WithLabelValues(req.URL.Path, req.Method).Inc()
			next.ServeHTTP(w, req)
		})
	})

	r.HandleFunc("/scan", s.handleScan).Methods("POST")
	r.HandleFunc("/status/{job_id}", s.handleStatus).Methods("GET")
	r.HandleFunc("/report/{job_id}", s.handleReport).Methods("GET")
	r.HandleFunc("/scan/{job_id}", s.handleCancel).Methods("DELETE")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())

	// CORS wraps the router itself so preflight requests are answered before
	// method matching rejects them.
	return s.corsMiddleware(r)
}

type scanRequest struct {
	ManifestFiles map[string]string `json:"manifest_files"`
	Options       *struct {
		IncludeDevDependencies *bool    `json:"include_dev_dependencies"`
		IgnoreSeverities       []string `json:"ignore_severities"`
	} `json:"options"`
}

func (s *Server) handleScan(w http.ResponseWriter, req *http.Request) {
	req.Body = http.MaxBytesReader(w, req.Body, s.maxBodyBytes)

	var body scanRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(body.ManifestFiles) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "manifest_files is empty")
		return
	}
	if len(body.ManifestFiles) > s.maxFiles {
		writeError(w, http.StatusBadRequest, "too_many_files", "")
		return
	}

	opts := inventory.DefaultScanOptions()
	if body.Options != nil {
		if body.Options.IncludeDevDependencies != nil {
			opts.IncludeDevDependencies = *body.Options.IncludeDevDependencies
		}
		for _, sev := range body.Options.IgnoreSeverities {
			opts.IgnoreSeverities = append(opts.IgnoreSeverities, inventory.ParseSeverity(sev))
		}
	}

	var files []resolver.File
	for name, content := range body.ManifestFiles {
		files = append(files, resolver.File{Name: name, Content: []byte(content)})
	}
	slices.SortFunc(files, func(a, b resolver.File) int {
		return strings.Compare(a.Name, b.Name)
	})

	// The scan outlives the request; it runs under the registry's context,
	// not the request's.
	jobID, scanCtx, _, err := s.registry.Create(context.Background())
	if errors.Is(err, jobs.ErrBusy) {
		s.scansTotal.WithLabelValues("busy").Inc()
		writeError(w, http.StatusServiceUnavailable, "busy", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	s.scansTotal.WithLabelValues("started").Inc()
	go func() {
		report := s.scanner.Scan(scanCtx, jobID, files, opts, s.registry.Sink(jobID))
		if report != nil {
			s.registry.StoreReport(jobID, report)
		}
	}()

	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
}

func (s *Server) handleStatus(w http.ResponseWriter, req *http.Request) {
	progress, err := s.registry.Status(mux.Vars(req)["job_id"])
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "")
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleReport(w http.ResponseWriter, req *http.Request) {
	report, status, err := s.registry.Report(mux.Vars(req)["job_id"])
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "")
		return
	}
	if report == nil && status == inventory.JobFailed {
		progress, _ := s.registry.Status(mux.Vars(req)["job_id"])
		writeJSON(w, http.StatusOK, map[string]string{
			"job_id": progress.JobID,
			"status": string(status),
			"error":  progress.ErrorMessage,
		})
		return
	}
	if report == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "not_ready", "status": string(status)})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCancel(w http.ResponseWriter, req *http.Request) {
	err := s.registry.Cancel(mux.Vars(req)["job_id"])
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
	})
}

// corsMiddleware allows cross-origin requests from the configured origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		if origin != "" && slices.Contains(s.allowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("server: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	body := map[string]string{"error": code}
	if detail != "" {
		body["detail"] = detail
	}
	writeJSON(w, status, body)
}
