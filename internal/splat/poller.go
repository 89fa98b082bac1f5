package splat

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backoff is the deterministic polling schedule: the wait before attempt n
// is min(Max, Base+n*Step), counting attempts from 1. No jitter.
type Backoff struct {
	Base time.Duration
	Step time.Duration
	Max  time.Duration
}

// Interval returns the wait before the given attempt.
func (b Backoff) Interval(attempt int) time.Duration {
	d := b.Base + time.Duration(attempt)*b.Step
	if d > b.Max {
		return b.Max
	}
	return d
}

var DefaultBackoff = Backoff{
	Base: 1000 * time.Millisecond,
	Step: 200 * time.Millisecond,
	Max:  5000 * time.Millisecond,
}

// DefaultTimeout is the per-job polling budget.
const DefaultTimeout = 180 * time.Second

// Event is one observation in a job's status stream. Non-terminal events
// carry only Status and Elapsed; the final event carries either Result or
// Err.
type Event struct {
	Status  Status
	Elapsed time.Duration
	Result  *Result
	Err     error
}

// Message renders the observation for progress reporting.
func (e Event) Message() string {
	return fmt.Sprintf("splat job %s (%ds elapsed)", e.Status, int(e.Elapsed.Seconds()))
}

// PollerConfig wires the poller. Zero Backoff/Timeout get the defaults.
type PollerConfig struct {
	Client  *Client
	Tracker *Tracker
	Backoff Backoff
	Timeout time.Duration
	Logger  *slog.Logger
}

// Poller runs the per-job status state machine. Each watched job produces
// a lazy, finite, non-restartable sequence of status events, terminated by
// a terminal backend state or the timeout budget. There is no cancellation:
// a watch only ends through one of those two outcomes, even when nothing is
// observing it anymore.
type Poller struct {
	client  *Client
	tracker *Tracker
	backoff Backoff
	timeout time.Duration
	logger  *slog.Logger
}

func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.Client == nil || cfg.Tracker == nil {
		return nil, fmt.Errorf("poller requires client and tracker")
	}
	backoff := cfg.Backoff
	if backoff == (Backoff{}) {
		backoff = DefaultBackoff
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client:  cfg.Client,
		tracker: cfg.Tracker,
		backoff: backoff,
		timeout: timeout,
		logger:  logger.With("component", "splat.poller"),
	}, nil
}

// Watch begins polling and returns the job's event stream. The channel is
// unbuffered: events are produced as the consumer takes them and the
// channel closes after the terminal event.
func (p *Poller) Watch(requestID string) <-chan Event {
	ch := make(chan Event)
	go p.run(requestID, ch)
	return ch
}

// Await blocks until the job resolves, invoking onProgress for every
// non-terminal observation. Callback failures are the caller's concern.
func (p *Poller) Await(requestID string, onProgress func(Event)) (Result, error) {
	for ev := range p.Watch(requestID) {
		switch {
		case ev.Err != nil:
			return Result{}, ev.Err
		case ev.Result != nil:
			return *ev.Result, nil
		default:
			if onProgress != nil {
				onProgress(ev)
			}
		}
	}
	return Result{}, &GenerationError{RequestID: requestID, Message: "status stream ended without a terminal event"}
}

func (p *Poller) run(requestID string, ch chan<- Event) {
	defer close(ch)
	start := time.Now()
	budget := time.NewTimer(p.timeout)
	defer budget.Stop()

	for attempt := 1; ; attempt++ {
		resp, err := p.client.Status(context.Background(), requestID)
		switch {
		case err != nil:
			// Transient by classification: no state change, retried on
			// the next tick.
			p.logger.Debug("status query failed", "request_id", requestID, "err", err)

		case resp.Status == StatusCompleted:
			result, err := p.client.Result(context.Background(), requestID)
			p.tracker.Remove(requestID)
			if err != nil {
				ch <- Event{
					Status:  StatusCompleted,
					Elapsed: time.Since(start),
					Err:     &GenerationError{RequestID: requestID, Message: "result fetch failed: " + err.Error()},
				}
				return
			}
			ch <- Event{Status: StatusCompleted, Elapsed: time.Since(start), Result: &result}
			return

		case resp.Status == StatusFailed:
			p.tracker.Remove(requestID)
			msg := resp.Error
			if msg == "" {
				msg = "generation failed"
			}
			ch <- Event{
				Status:  StatusFailed,
				Elapsed: time.Since(start),
				Err:     &GenerationError{RequestID: requestID, Message: msg},
			}
			return

		default:
			ch <- Event{Status: resp.Status, Elapsed: time.Since(start)}
		}

		select {
		case <-time.After(p.backoff.Interval(attempt)):
		case <-budget.C:
			// The entry stays in the tracker, eligible only for manual
			// reaping.
			ch <- Event{
				Status:  StatusTimedOut,
				Elapsed: time.Since(start),
				Err:     &TimeoutError{RequestID: requestID, Budget: p.timeout},
			}
			return
		}
	}
}
