// Package statusapi serves a small read-only HTTP view of the watchman state
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/curtbushko/zoom-watchman/internal/cycle"
	"github.com/curtbushko/zoom-watchman/internal/failures"
	"github.com/curtbushko/zoom-watchman/internal/ledger"
	"github.com/curtbushko/zoom-watchman/internal/logging"
	"github.com/curtbushko/zoom-watchman/internal/policy"
)

// SummarySource publishes the last cycle summary
type SummarySource interface {
	LastSummary() (cycle.Summary, bool)
}

// LedgerSource lists completed meetings
type LedgerSource interface {
	Records() []ledger.Record
	Len() int
}

// FailureSource lists journaled resolution failures
type FailureSource interface {
	List(ctx context.Context) ([]failures.Entry, error)
}

// PolicySource serves the current owner policy
type PolicySource interface {
	Snapshot() *policy.Snapshot
}

// Sources are the state the endpoints read. Any of them may be nil.
type Sources struct {
	Version  string
	Summary  SummarySource
	Ledger   LedgerSource
	Failures FailureSource
	Policy   PolicySource
}

// Status is the /status document
type Status struct {
	Version       string         `json:"version"`
	StartedAt     time.Time      `json:"started_at"`
	Uptime        string         `json:"uptime"`
	LastCycle     *cycle.Summary `json:"last_cycle"`
	LedgerRecords int            `json:"ledger_records"`
	Policy        *policy.Stats  `json:"policy,omitempty"`
}

// NewRouter mounts the status routes on a chi mux
func NewRouter(src Sources) *chi.Mux {
	h := &handlers{src: src, startedAt: time.Now()}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(10 * time.Second))

	r.Get("/healthz", h.healthz)
	r.Get("/status", h.status)
	r.Get("/ledger", h.ledger)
	r.Get("/failures", h.failures)
	return r
}

type handlers struct {
	src       Sources
	startedAt time.Time
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	st := Status{
		Version:   h.src.Version,
		StartedAt: h.startedAt,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
	}
	if h.src.Summary != nil {
		if s, ok := h.src.Summary.LastSummary(); ok {
			st.LastCycle = &s
		}
	}
	if h.src.Ledger != nil {
		st.LedgerRecords = h.src.Ledger.Len()
	}
	if h.src.Policy != nil {
		if snap := h.src.Policy.Snapshot(); snap != nil {
			stats := snap.Stats()
			st.Policy = &stats
		}
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) ledger(w http.ResponseWriter, r *http.Request) {
	records := []ledger.Record{}
	if h.src.Ledger != nil {
		records = append(records, h.src.Ledger.Records()...)
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handlers) failures(w http.ResponseWriter, r *http.Request) {
	if h.src.Failures == nil {
		writeJSON(w, http.StatusOK, []failures.Entry{})
		return
	}
	entries, err := h.src.Failures.List(r.Context())
	if err != nil {
		logging.WarnWithContext(r.Context(), "Listing failures for status endpoint: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []failures.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// Server is a thin wrapper over chi and http.Server
type Server struct {
	srv *http.Server
}

// NewServer creates a status server listening on addr
func NewServer(addr string, src Sources) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(src),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info("Status endpoint listening on %s", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
