package dashboard

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anishahaha07/myfi-scanner/internal/extract"
	"github.com/anishahaha07/myfi-scanner/internal/scan"
)

// Refresher starts a scan and acknowledges immediately.
type Refresher interface {
	Refresh(ctx context.Context) error
	Running() bool
}

// ResultReader reads the persisted scan state.
type ResultReader interface {
	LoadResult() (*scan.ScanResult, error)
}

// BasicAuth holds optional basic authentication credentials.
type BasicAuth struct {
	Username string
	Password string
}

// Server exposes the dashboard API: records, summary, scan status, and
// the refresh trigger.
type Server struct {
	results   ResultReader
	refresher Refresher
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// NewServer creates a Server with its routes registered.
func NewServer(results ResultReader, refresher Refresher, basicAuth BasicAuth) *Server {
	s := &Server{
		results:   results,
		refresher: refresher,
		basicAuth: basicAuth,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/receipts", s.requireAuth(s.handleReceipts))
	s.mux.HandleFunc("GET /api/summary", s.requireAuth(s.handleSummary))
	s.mux.HandleFunc("GET /api/status", s.requireAuth(s.handleStatus))
	s.mux.HandleFunc("POST /api/refresh", s.requireAuth(s.handleRefresh))
}

// Start starts the HTTP server with CORS applied to every request.
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.mux.ServeHTTP(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}
	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}
	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="MyFi Scanner"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// handleReceipts returns the persisted record list with zero-amount and
// degraded records filtered out.
func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	result, err := s.loadResult()
	if err != nil {
		slog.Error("Error loading scan result", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	receipts := make([]extract.Receipt, 0, len(result.Records))
	for _, rec := range result.Records {
		if rec.Amount > 0 && !rec.Error {
			receipts = append(receipts, rec)
		}
	}
	writeJSON(w, receipts)
}

// handleSummary returns the aggregated spend view.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	result, err := s.loadResult()
	if err != nil {
		slog.Error("Error loading scan result", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, BuildSummary(result.Records, result.ScannedAt, result.Error))
}

// handleStatus exposes the last-scan timestamp and error state for
// completion polling.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.loadResult()
	if err != nil {
		slog.Error("Error loading scan result", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"scanning":     s.refresher.Running(),
		"last_scanned": result.ScannedAt,
		"error":        result.Error,
	})
}

// handleRefresh starts a scan and acknowledges immediately; completion
// is observed by polling /api/status for a fresh timestamp.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.refresher.Refresh(r.Context()); err != nil {
		if errors.Is(err, scan.ErrScanInProgress) {
			http.Error(w, "already scanning", http.StatusConflict)
			return
		}
		slog.Error("Error starting scan", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "scanning"}); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// loadResult treats a missing result as an empty one, so the dashboard
// renders before the first scan completes.
func (s *Server) loadResult() (*scan.ScanResult, error) {
	result, err := s.results.LoadResult()
	if errors.Is(err, scan.ErrNoResult) {
		return &scan.ScanResult{ScannedAt: time.Time{}}, nil
	}
	return result, err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}
