package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/curtbushko/zoom-watchman/internal/cycle"
	"github.com/curtbushko/zoom-watchman/internal/failures"
	"github.com/curtbushko/zoom-watchman/internal/ledger"
	"github.com/curtbushko/zoom-watchman/internal/policy"
)

type staticSummary struct {
	summary cycle.Summary
	ok      bool
}

func (s staticSummary) LastSummary() (cycle.Summary, bool) { return s.summary, s.ok }

type staticLedger []ledger.Record

func (l staticLedger) Records() []ledger.Record { return l }

func (l staticLedger) Len() int { return len(l) }

type staticFailures struct {
	entries []failures.Entry
	err     error
}

func (f staticFailures) List(ctx context.Context) ([]failures.Entry, error) { return f.entries, f.err }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := get(t, NewRouter(Sources{}), "/healthz")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "ok" {
		t.Errorf("Unexpected response %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatus(t *testing.T) {
	src := Sources{
		Version: "1.2.3",
		Summary: staticSummary{summary: cycle.Summary{Users: 4, Completed: 2, Duration: time.Second}, ok: true},
		Ledger:  staticLedger{{ID: "a"}, {ID: "b"}},
		Policy:  policy.NewStaticManager(policy.File{IgnoreOwners: []string{"bot@example.com"}}),
	}

	rec := get(t, NewRouter(src), "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status code %d", rec.Code)
	}

	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if st.Version != "1.2.3" || st.LedgerRecords != 2 {
		t.Errorf("Unexpected status %+v", st)
	}
	if st.LastCycle == nil || st.LastCycle.Completed != 2 || st.LastCycle.Users != 4 {
		t.Errorf("Unexpected last cycle %+v", st.LastCycle)
	}
	if st.Policy == nil || st.Policy.IgnoredOwners != 1 {
		t.Errorf("Unexpected policy stats %+v", st.Policy)
	}
}

func TestStatusBeforeFirstCycle(t *testing.T) {
	rec := get(t, NewRouter(Sources{Summary: staticSummary{}}), "/status")
	if !strings.Contains(rec.Body.String(), `"last_cycle": null`) {
		t.Errorf("Expected null last cycle, got %s", rec.Body.String())
	}
}

func TestLedger(t *testing.T) {
	rec := get(t, NewRouter(Sources{}), "/ledger")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("Expected empty array, got %s", rec.Body.String())
	}

	src := Sources{Ledger: staticLedger{{ID: "m1", Topic: "Acme x Widgets", Status: ledger.StatusUploaded}}}
	rec = get(t, NewRouter(src), "/ledger")

	var records []ledger.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(records) != 1 || records[0].ID != "m1" || records[0].Status != ledger.StatusUploaded {
		t.Errorf("Unexpected records %+v", records)
	}
}

func TestFailures(t *testing.T) {
	src := Sources{Failures: staticFailures{entries: []failures.Entry{{Failure: failures.Failure{RecordingID: "r1", Brand: "Gadgets"}, Attempts: 3}}}}
	rec := get(t, NewRouter(src), "/failures")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"Gadgets"`) {
		t.Errorf("Unexpected response %d %s", rec.Code, rec.Body.String())
	}

	src = Sources{Failures: staticFailures{err: errors.New("db closed")}}
	rec = get(t, NewRouter(src), "/failures")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	rec := get(t, NewRouter(Sources{}), "/nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}
