package poller

import (
	"context"
	"sync"
	"time"

	"feedloop/ingest"
	"feedloop/models"

	log "github.com/sirupsen/logrus"
)

// DefaultInterval is the delay before the first cycle and between cycles,
// measured from cycle completion.
const DefaultInterval = 5000 * time.Millisecond

// State of the scheduler. There is no terminal state; Stop returns the
// scheduler to Idle and it can be started again.
type State string

const (
	// Idle means no timer pending and no cycle running.
	Idle State = "idle"
	// Scheduled means a timer is pending for the next cycle.
	Scheduled State = "scheduled"
	// Running means a cycle's fetches are in flight.
	Running State = "running"
)

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// TimerFactory creates a timer that invokes fn once after d. Tests swap in
// fake timers and fire them by hand instead of waiting on the wall clock.
type TimerFactory func(d time.Duration, fn func()) Timer

type realTimer struct {
	timer *time.Timer
}

func (t *realTimer) Stop() bool {
	return t.timer.Stop()
}

func newRealTimer(d time.Duration, fn func()) Timer {
	return &realTimer{timer: time.AfterFunc(d, fn)}
}

// Ingester refreshes a single feed URL into a snapshot.
type Ingester interface {
	Ingest(ctx context.Context, feedURL string) (models.FeedSnapshot, error)
}

// Sink is the state layer the scheduler reads feeds from and merges
// snapshots into. In the assembled service this is the change notifier.
type Sink interface {
	Snapshot() ([]models.Feed, []models.Post)
	MergePosts(feedID string, candidates []models.CandidatePost) []models.Post
}

// Scheduler drives repeated ingestion of all known feeds. Each cycle fans
// out one ingest per feed, merges every success as it completes, and only
// reschedules once all outcomes are known, so two cycles never overlap no
// matter how slow the network is.
type Scheduler struct {
	ingester Ingester
	sink     Sink
	interval time.Duration
	newTimer TimerFactory

	mu      sync.Mutex
	state   State
	alive   bool
	running bool
	timer   Timer
}

// Option tweaks scheduler construction.
type Option func(*Scheduler)

// WithTimerFactory replaces the wall-clock timer. Intended for tests.
func WithTimerFactory(factory TimerFactory) Option {
	return func(s *Scheduler) {
		s.newTimer = factory
	}
}

func NewScheduler(ingester Ingester, sink Sink, interval time.Duration, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Scheduler{
		ingester: ingester,
		sink:     sink,
		interval: interval,
		newTimer: newRealTimer,
		state:    Idle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports the current scheduler state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start schedules the first cycle after the configured interval. The first
// cycle never runs synchronously with Start. Starting a scheduler that is
// already scheduled or running is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		return
	}
	s.alive = true
	s.scheduleLocked()

	log.WithFields(log.Fields{
		"interval": s.interval,
	}).Info("Scheduler started")
}

// Stop cancels any pending timer and returns the scheduler to Idle. A
// cycle already in flight is not aborted, but the liveness flag keeps its
// completion from arming new timers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alive = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = Idle

	log.Info("Scheduler stopped")
}

// scheduleLocked arms the next-cycle timer. Caller holds s.mu.
func (s *Scheduler) scheduleLocked() {
	s.state = Scheduled
	s.timer = s.newTimer(s.interval, s.runCycle)
}

// runCycle is the timer callback. The re-entrancy guard should never fire
// given completion-based rescheduling, but a cycle arriving while another
// is mid-merge is skipped and rescheduled rather than overlapped.
func (s *Scheduler) runCycle() {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	if s.running {
		s.scheduleLocked()
		s.mu.Unlock()
		return
	}
	s.running = true
	s.state = Running
	s.timer = nil
	s.mu.Unlock()

	feeds, _ := s.sink.Snapshot()
	s.refreshAll(feeds)

	s.mu.Lock()
	s.running = false
	switch {
	case !s.alive:
		s.state = Idle
	case s.timer == nil:
		// A skipped overlapping fire may have rearmed already; never hold
		// two pending timers.
		s.scheduleLocked()
	}
	s.mu.Unlock()
}

// refreshAll fans out one ingest per feed and merges each snapshot as it
// completes. A feed's failure is logged and otherwise ignored; it neither
// cancels the other fetches nor removes the feed, which is simply retried
// on the next cycle.
func (s *Scheduler) refreshAll(feeds []models.Feed) {
	cyclesTotal.Inc()

	var wg sync.WaitGroup
	for _, feed := range feeds {
		wg.Add(1)
		go func(feed models.Feed) {
			defer wg.Done()

			snapshot, err := s.ingester.Ingest(context.Background(), feed.URL)
			if err != nil {
				ingestFailures.WithLabelValues(string(ingest.KindOf(err))).Inc()
				log.WithFields(log.Fields{
					"url":   feed.URL,
					"error": err,
				}).Warn("Failed to refresh feed")
				return
			}

			inserted := s.sink.MergePosts(feed.ID, snapshot.Posts)
			postsMerged.Add(float64(len(inserted)))
		}(feed)
	}
	wg.Wait()
}
