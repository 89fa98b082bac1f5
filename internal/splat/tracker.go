package splat

import (
	"sync"
	"time"
)

// Job is one outstanding remote generation request. Entries are ephemeral:
// they live from submission until terminal resolution or a manual reap.
type Job struct {
	RequestID string    `json:"requestId"`
	ImageRef  string    `json:"imageRef"`
	PhotoID   string    `json:"photoId,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// Tracker is the in-memory registry of in-flight jobs, keyed by the
// backend-assigned request id. It carries no durability; nothing here
// survives a restart.
type Tracker struct {
	mu   sync.Mutex
	jobs map[string]Job
	now  func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]Job), now: time.Now}
}

// Register records a new job with start time = now.
func (t *Tracker) Register(requestID, imageRef string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[requestID] = Job{
		RequestID: requestID,
		ImageRef:  imageRef,
		StartedAt: t.now(),
	}
}

// AttachEntity binds a photo to a job. The bind is idempotent and later
// calls overwrite; unknown request ids are ignored.
func (t *Tracker) AttachEntity(requestID, photoID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[requestID]
	if !ok {
		return
	}
	job.PhotoID = photoID
	t.jobs[requestID] = job
}

// LookupEntity returns the photo bound to a job, if any.
func (t *Tracker) LookupEntity(requestID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[requestID]
	if !ok || job.PhotoID == "" {
		return "", false
	}
	return job.PhotoID, true
}

// Get returns a job entry.
func (t *Tracker) Get(requestID string) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[requestID]
	return job, ok
}

// ListActive returns a snapshot of outstanding request ids.
func (t *Tracker) ListActive() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.jobs))
	for id := range t.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns copies of all outstanding jobs.
func (t *Tracker) Snapshot() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	jobs := make([]Job, 0, len(t.jobs))
	for _, job := range t.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// Remove ends an entry's lifecycle; no further status queries are expected
// against it afterward.
func (t *Tracker) Remove(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, requestID)
}

// Reap removes entries older than maxAge and reports how many were swept.
// It runs only on explicit caller request; there is no internal schedule.
func (t *Tracker) Reap(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-maxAge)
	removed := 0
	for id, job := range t.jobs {
		if job.StartedAt.Before(cutoff) {
			delete(t.jobs, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of outstanding entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}
