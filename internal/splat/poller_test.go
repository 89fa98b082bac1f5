package splat

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	want := []time.Duration{
		1200 * time.Millisecond,
		1400 * time.Millisecond,
		1600 * time.Millisecond,
		1800 * time.Millisecond,
		2000 * time.Millisecond,
	}
	for i, exp := range want {
		if got := DefaultBackoff.Interval(i + 1); got != exp {
			t.Fatalf("interval(%d) = %s, want %s", i+1, got, exp)
		}
	}
	// capped at MAX once BASE + attempt*STEP exceeds it
	if got := DefaultBackoff.Interval(25); got != 5000*time.Millisecond {
		t.Fatalf("interval(25) = %s, want 5s", got)
	}
}

// fakeBackend serves a scripted sequence of status responses for one job.
type fakeBackend struct {
	mu           sync.Mutex
	statuses     []StatusResponse
	statusHits   int
	resultHits   int
	result       Result
	resultStatus int
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case r.URL.Path == "/v1/jobs/req-1/result":
			f.resultHits++
			if f.resultStatus >= 400 {
				w.WriteHeader(f.resultStatus)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "asset expired"})
				return
			}
			_ = json.NewEncoder(w).Encode(f.result)
		case r.URL.Path == "/v1/jobs/req-1":
			idx := f.statusHits
			if idx >= len(f.statuses) {
				idx = len(f.statuses) - 1
			}
			f.statusHits++
			_ = json.NewEncoder(w).Encode(f.statuses[idx])
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	})
}

func newTestPoller(t *testing.T, backend *fakeBackend, timeout time.Duration) (*Poller, *Tracker) {
	t.Helper()
	srv := httptest.NewServer(backend.handler(t))
	t.Cleanup(srv.Close)
	tracker := NewTracker()
	tracker.Register("req-1", "cat.jpg")
	client, err := NewClient(ClientConfig{BaseURL: srv.URL, Tracker: tracker})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	poller, err := NewPoller(PollerConfig{
		Client:  client,
		Tracker: tracker,
		Backoff: Backoff{Base: time.Millisecond, Step: time.Millisecond, Max: 5 * time.Millisecond},
		Timeout: timeout,
	})
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	return poller, tracker
}

func TestAwaitCompletedFetchesResultOnceAndRemoves(t *testing.T) {
	backend := &fakeBackend{
		statuses: []StatusResponse{
			{Status: StatusPending},
			{Status: StatusProcessing},
			{Status: StatusCompleted},
		},
		result: Result{AssetURL: "https://x/y.ply", Filename: "y.ply", SizeBytes: 12345},
	}
	poller, tracker := newTestPoller(t, backend, time.Minute)

	var progress []Status
	result, err := poller.Await("req-1", func(ev Event) {
		progress = append(progress, ev.Status)
	})
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if result.AssetURL != "https://x/y.ply" || result.Filename != "y.ply" || result.SizeBytes != 12345 {
		t.Fatalf("result = %+v", result)
	}
	if backend.resultHits != 1 {
		t.Fatalf("result fetches = %d, want exactly 1", backend.resultHits)
	}
	if tracker.Len() != 0 {
		t.Fatalf("completed job must be removed from the tracker")
	}
	if len(progress) != 2 || progress[0] != StatusPending || progress[1] != StatusProcessing {
		t.Fatalf("progress = %v, want [pending processing]", progress)
	}
}

func TestAwaitFailedRemovesWithoutResultFetch(t *testing.T) {
	backend := &fakeBackend{
		statuses: []StatusResponse{
			{Status: StatusPending},
			{Status: StatusFailed, Error: "nerf diverged"},
		},
	}
	poller, tracker := newTestPoller(t, backend, time.Minute)

	_, err := poller.Await("req-1", nil)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v, want GenerationError", err)
	}
	if genErr.Message != "nerf diverged" {
		t.Fatalf("message = %q, want backend-supplied message", genErr.Message)
	}
	if backend.resultHits != 0 {
		t.Fatalf("failed jobs must not fetch a result")
	}
	if tracker.Len() != 0 {
		t.Fatalf("failed job must be removed from the tracker")
	}
}

func TestAwaitFailedWithoutMessageUsesGeneric(t *testing.T) {
	backend := &fakeBackend{statuses: []StatusResponse{{Status: StatusFailed}}}
	poller, _ := newTestPoller(t, backend, time.Minute)
	_, err := poller.Await("req-1", nil)
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Message != "generation failed" {
		t.Fatalf("err = %v, want generic GenerationError", err)
	}
}

func TestAwaitTimeoutLeavesTrackerEntry(t *testing.T) {
	backend := &fakeBackend{statuses: []StatusResponse{{Status: StatusPending}}}
	poller, tracker := newTestPoller(t, backend, 30*time.Millisecond)

	_, err := poller.Await("req-1", nil)
	var toErr *TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if _, ok := tracker.Get("req-1"); !ok {
		t.Fatalf("timed-out job must remain in the tracker for manual reaping")
	}
	if backend.resultHits != 0 {
		t.Fatalf("no result fetch on timeout")
	}
}

func TestAwaitAbsorbsTransientStatusFailures(t *testing.T) {
	backend := &fakeBackend{
		statuses: []StatusResponse{{Status: StatusCompleted}},
		result:   Result{AssetURL: "https://x/z.ply", Filename: "z.ply", SizeBytes: 9},
	}
	srvHits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/jobs/req-1" {
			srvHits++
			if srvHits <= 2 {
				// two transient failures before the backend recovers
				http.Error(w, "upstream hiccup", http.StatusServiceUnavailable)
				return
			}
		}
		backend.handler(t).ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	tracker := NewTracker()
	tracker.Register("req-1", "cat.jpg")
	client, err := NewClient(ClientConfig{BaseURL: srv.URL, Tracker: tracker})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	poller, err := NewPoller(PollerConfig{
		Client:  client,
		Tracker: tracker,
		Backoff: Backoff{Base: time.Millisecond, Step: time.Millisecond, Max: 5 * time.Millisecond},
		Timeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}

	result, err := poller.Await("req-1", nil)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if result.AssetURL != "https://x/z.ply" {
		t.Fatalf("result = %+v", result)
	}
	if srvHits != 3 {
		t.Fatalf("status queries = %d, want 3 (two transient retries)", srvHits)
	}
}

func TestAwaitResultFetchFailureIsHard(t *testing.T) {
	backend := &fakeBackend{
		statuses:     []StatusResponse{{Status: StatusCompleted}},
		resultStatus: http.StatusGone,
	}
	poller, tracker := newTestPoller(t, backend, time.Minute)

	_, err := poller.Await("req-1", nil)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v, want GenerationError", err)
	}
	if backend.resultHits != 1 {
		t.Fatalf("result fetches = %d, want exactly 1 (no retry)", backend.resultHits)
	}
	if tracker.Len() != 0 {
		t.Fatalf("job must be removed once completed was observed")
	}
}

func TestWatchStreamOrder(t *testing.T) {
	backend := &fakeBackend{
		statuses: []StatusResponse{
			{Status: StatusPending},
			{Status: StatusProcessing},
			{Status: StatusCompleted},
		},
		result: Result{AssetURL: "https://x/y.ply", Filename: "y.ply", SizeBytes: 1},
	}
	poller, _ := newTestPoller(t, backend, time.Minute)

	var seen []Status
	for ev := range poller.Watch("req-1") {
		seen = append(seen, ev.Status)
	}
	want := []Status{StatusPending, StatusProcessing, StatusCompleted}
	if len(seen) != len(want) {
		t.Fatalf("events = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("events = %v, want %v", seen, want)
		}
	}
}
