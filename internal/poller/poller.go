// Package poller watches submissions until the backend settles them.
//
// Each Subscription owns one goroutine that fetches the submission once
// immediately and then on every tick of a fixed interval, never running two
// fetches at once. Subscriptions share nothing with each other.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joescharf/revu/internal/apperr"
	"github.com/joescharf/revu/internal/logging"
	"github.com/joescharf/revu/internal/metrics"
	"github.com/joescharf/revu/internal/models"
)

// DefaultInterval is the delay between two status fetches.
const DefaultInterval = 5 * time.Second

// Fetcher reads the current state of a submission.
type Fetcher interface {
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
}

// State is the lifecycle state of a Subscription.
type State string

const (
	StateIdle     State = "idle"
	StatePolling  State = "polling"
	StateSettled  State = "settled"
	StateCanceled State = "canceled"
)

// Observer receives subscription events. Nil callbacks are skipped.
// Callbacks run on the subscription's goroutine, one at a time, and must not
// call Cancel on their own subscription.
type Observer struct {
	// OnStatus is called for every accepted observation, terminal or not.
	OnStatus func(sub *models.Submission)
	// OnSettled is called exactly once when polling ends without a cancel:
	// with the terminal submission, or with a nil submission and a
	// not-found or validation error.
	OnSettled func(sub *models.Submission, err error)
	// OnError is called for fetch failures that do not end polling.
	OnError func(err error)
}

// Scheduler creates subscriptions.
type Scheduler struct {
	fetcher  Fetcher
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the fetch interval. Non-positive values keep the default.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New returns a Scheduler fetching through f.
func New(f Fetcher, opts ...Option) *Scheduler {
	s := &Scheduler{fetcher: f, interval: DefaultInterval}
	for _, o := range opts {
		o(s)
	}
	s.logger = logging.OrNop(s.logger)
	return s
}

// Interval returns the configured fetch interval.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Subscription tracks one submission until it settles or is canceled.
type Subscription struct {
	id     string
	sched  *Scheduler
	obs    Observer
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   State
	last    models.Status
	latest  *models.Submission
	err     error
	fetches int
	skipped int
}

type fetchResult struct {
	sub *models.Submission
	err error
}

// Subscribe starts polling submission id. Canceling ctx has the same effect
// as calling Cancel on the returned Subscription.
func (s *Scheduler) Subscribe(ctx context.Context, id string, obs Observer) *Subscription {
	sub := &Subscription{
		id:    id,
		sched: s,
		obs:   obs,
		done:  make(chan struct{}),
		state: StateIdle,
	}
	sub.ctx, sub.cancel = context.WithCancel(ctx)
	sub.state = StatePolling

	go sub.run()
	return sub
}

func (s *Subscription) run() {
	defer close(s.done)
	defer s.cancel()

	log := s.sched.logger.With(zap.String("submission", s.id))
	results := make(chan fetchResult, 1)
	inFlight := false

	dispatch := func() {
		if inFlight {
			s.mu.Lock()
			s.skipped++
			s.mu.Unlock()
			s.sched.metrics.PollSkipped()
			log.Debug("tick skipped, fetch in flight")
			return
		}
		s.mu.Lock()
		if s.state != StatePolling {
			s.mu.Unlock()
			return
		}
		s.fetches++
		s.mu.Unlock()

		inFlight = true
		go func() {
			sub, err := s.sched.fetcher.GetSubmission(s.ctx, s.id)
			results <- fetchResult{sub: sub, err: err}
		}()
	}

	dispatch()
	ticker := time.NewTicker(s.sched.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.markCanceled()
			return
		case <-ticker.C:
			dispatch()
		case r := <-results:
			inFlight = false
			if s.handle(log, r) {
				return
			}
		}
	}
}

// handle applies one fetch result and reports whether polling is over.
// Callbacks run with mu held so Cancel cannot return while one is running.
func (s *Subscription) handle(log *zap.Logger, r fetchResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePolling {
		s.sched.metrics.PollFetch("discarded")
		return true
	}
	if s.ctx.Err() != nil {
		s.state = StateCanceled
		s.sched.metrics.PollFetch("discarded")
		return true
	}

	if r.err != nil {
		if result, final := finalError(r.err); final {
			s.sched.metrics.PollFetch(result)
			s.state = StateSettled
			s.err = r.err
			log.Debug("fetch cannot succeed, settling", zap.Error(r.err))
			if s.obs.OnSettled != nil {
				s.obs.OnSettled(nil, r.err)
			}
			return true
		}
		s.sched.metrics.PollFetch("error")
		log.Debug("fetch failed", zap.Error(r.err))
		if s.obs.OnError != nil {
			s.obs.OnError(r.err)
		}
		return false
	}

	next := r.sub.Status
	if !s.last.Advances(next) {
		s.sched.metrics.PollFetch("regressed")
		log.Debug("ignoring status regression", zap.String("from", string(s.last)), zap.String("to", string(next)))
		return false
	}
	s.sched.metrics.PollFetch(string(next))
	s.last = next
	s.latest = r.sub

	if s.obs.OnStatus != nil {
		s.obs.OnStatus(r.sub)
	}
	if !next.IsTerminal() {
		return false
	}

	s.state = StateSettled
	log.Debug("submission settled", zap.String("status", string(next)))
	if s.obs.OnSettled != nil {
		s.obs.OnSettled(r.sub, nil)
	}
	return true
}

// finalError reports whether err will repeat on every fetch: an unknown id
// or a request the gateway refuses to send.
func finalError(err error) (string, bool) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found", true
	case errors.Is(err, apperr.ErrValidation):
		return "invalid", true
	default:
		return "", false
	}
}

func (s *Subscription) markCanceled() {
	s.mu.Lock()
	if s.state == StatePolling || s.state == StateIdle {
		s.state = StateCanceled
	}
	s.mu.Unlock()
}

// Cancel stops polling. Once it returns no callback runs and no fetch is
// dispatched; a response still in flight is discarded. Calling it again,
// or after the subscription settled, does nothing.
func (s *Subscription) Cancel() {
	s.markCanceled()
	s.cancel()
}

// Wait blocks until the subscription settles or is canceled.
func (s *Subscription) Wait() { <-s.done }

// Done is closed when the subscription's goroutine exits.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Latest returns the last accepted observation, or nil before the first.
func (s *Subscription) Latest() *models.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Err returns the error that settled the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Fetches is the number of fetches dispatched so far.
func (s *Subscription) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// Skipped is the number of ticks dropped because a fetch was in flight.
func (s *Subscription) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}
