package poller_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"feedloop/ingest"
	"feedloop/models"
	"feedloop/notify"
	"feedloop/poller"
	"feedloop/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTimer records its delay and callback so tests can fire cycles by
// hand instead of sleeping.
type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) factory(d time.Duration, fn func()) poller.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{d: d, fn: fn}
	c.timers = append(c.timers, timer)
	return timer
}

func (c *fakeClock) timer(i int) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[i]
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type recordingIngester struct {
	mu        sync.Mutex
	calls     []string
	snapshots map[string]models.FeedSnapshot
	errs      map[string]error
}

func (r *recordingIngester) Ingest(ctx context.Context, feedURL string) (models.FeedSnapshot, error) {
	r.mu.Lock()
	r.calls = append(r.calls, feedURL)
	r.mu.Unlock()
	if err := r.errs[feedURL]; err != nil {
		return models.FeedSnapshot{}, err
	}
	return r.snapshots[feedURL], nil
}

func (r *recordingIngester) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// gatedIngester blocks inside Ingest until the test releases it, letting
// tests hold a cycle open.
type gatedIngester struct {
	entered chan string
	release chan struct{}
}

func (g *gatedIngester) Ingest(ctx context.Context, feedURL string) (models.FeedSnapshot, error) {
	g.entered <- feedURL
	<-g.release
	return models.FeedSnapshot{}, nil
}

type fakeSink struct {
	mu     sync.Mutex
	feeds  []models.Feed
	merged map[string][]models.CandidatePost
}

func newFakeSink(feeds ...models.Feed) *fakeSink {
	return &fakeSink{feeds: feeds, merged: map[string][]models.CandidatePost{}}
}

func (s *fakeSink) Snapshot() ([]models.Feed, []models.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Feed{}, s.feeds...), nil
}

func (s *fakeSink) MergePosts(feedID string, candidates []models.CandidatePost) []models.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merged[feedID] = append(s.merged[feedID], candidates...)
	posts := make([]models.Post, len(candidates))
	return posts
}

func (s *fakeSink) mergedFor(feedID string) []models.CandidatePost {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merged[feedID]
}

func TestStartSchedulesFirstCycle(t *testing.T) {
	clock := &fakeClock{}
	ingester := &recordingIngester{}
	scheduler := poller.NewScheduler(ingester, newFakeSink(), 5*time.Second, poller.WithTimerFactory(clock.factory))

	assert.Equal(t, poller.Idle, scheduler.State())

	scheduler.Start()

	// The first cycle is armed, never run synchronously with Start
	assert.Equal(t, poller.Scheduled, scheduler.State())
	require.Equal(t, 1, clock.count())
	assert.Equal(t, 5*time.Second, clock.timer(0).d)
	assert.Zero(t, ingester.callCount())
}

func TestStartWhileScheduledIsNoOp(t *testing.T) {
	clock := &fakeClock{}
	scheduler := poller.NewScheduler(&recordingIngester{}, newFakeSink(), time.Second, poller.WithTimerFactory(clock.factory))

	scheduler.Start()
	scheduler.Start()

	assert.Equal(t, 1, clock.count())
}

func TestCycleRefreshesAllFeedsAndReschedules(t *testing.T) {
	clock := &fakeClock{}
	ingester := &recordingIngester{
		snapshots: map[string]models.FeedSnapshot{
			"https://a.example/feed": {Posts: []models.CandidatePost{{Title: "A1", Link: "https://a/1"}}},
			"https://b.example/feed": {Posts: []models.CandidatePost{{Title: "B1", Link: "https://b/1"}}},
		},
	}
	sink := newFakeSink(
		models.Feed{ID: "feed-a", URL: "https://a.example/feed"},
		models.Feed{ID: "feed-b", URL: "https://b.example/feed"},
	)
	scheduler := poller.NewScheduler(ingester, sink, time.Second, poller.WithTimerFactory(clock.factory))

	scheduler.Start()
	clock.timer(0).fn()

	assert.Equal(t, 2, ingester.callCount())
	require.Len(t, sink.mergedFor("feed-a"), 1)
	assert.Equal(t, "https://a/1", sink.mergedFor("feed-a")[0].Link)
	require.Len(t, sink.mergedFor("feed-b"), 1)

	// The next cycle is armed only after this one completed
	assert.Equal(t, poller.Scheduled, scheduler.State())
	assert.Equal(t, 2, clock.count())
}

func TestFailedFeedIsIsolatedAndRetried(t *testing.T) {
	clock := &fakeClock{}
	ingester := &recordingIngester{
		snapshots: map[string]models.FeedSnapshot{
			"https://ok.example/feed": {Posts: []models.CandidatePost{{Title: "OK", Link: "https://ok/1"}}},
		},
		errs: map[string]error{
			"https://down.example/feed": errors.New("connection refused"),
		},
	}
	sink := newFakeSink(
		models.Feed{ID: "feed-ok", URL: "https://ok.example/feed"},
		models.Feed{ID: "feed-down", URL: "https://down.example/feed"},
	)
	scheduler := poller.NewScheduler(ingester, sink, time.Second, poller.WithTimerFactory(clock.factory))

	scheduler.Start()
	clock.timer(0).fn()

	// The healthy feed merged; the failed one did not but stays registered
	assert.Len(t, sink.mergedFor("feed-ok"), 1)
	assert.Empty(t, sink.mergedFor("feed-down"))

	// The failed feed is simply attempted again next cycle
	clock.timer(1).fn()
	assert.Equal(t, 4, ingester.callCount())
}

func TestStopCancelsPendingCycle(t *testing.T) {
	clock := &fakeClock{}
	ingester := &recordingIngester{}
	scheduler := poller.NewScheduler(ingester, newFakeSink(models.Feed{ID: "f", URL: "https://a.example/feed"}), time.Second, poller.WithTimerFactory(clock.factory))

	scheduler.Start()
	scheduler.Stop()

	assert.Equal(t, poller.Idle, scheduler.State())
	assert.True(t, clock.timer(0).stopped)

	// A stale callback firing after Stop must not start a cycle
	clock.timer(0).fn()
	assert.Zero(t, ingester.callCount())
	assert.Equal(t, 1, clock.count())
}

func TestStopDuringCycleSuppressesReschedule(t *testing.T) {
	clock := &fakeClock{}
	ingester := &gatedIngester{entered: make(chan string), release: make(chan struct{})}
	sink := newFakeSink(models.Feed{ID: "f", URL: "https://a.example/feed"})
	scheduler := poller.NewScheduler(ingester, sink, time.Second, poller.WithTimerFactory(clock.factory))

	scheduler.Start()

	done := make(chan struct{})
	go func() {
		clock.timer(0).fn()
		close(done)
	}()
	<-ingester.entered
	assert.Equal(t, poller.Running, scheduler.State())

	scheduler.Stop()
	close(ingester.release)
	<-done

	// Completion after Stop arms nothing
	assert.Equal(t, poller.Idle, scheduler.State())
	assert.Equal(t, 1, clock.count())
}

func TestOverlappingFireIsSkipped(t *testing.T) {
	clock := &fakeClock{}
	ingester := &gatedIngester{entered: make(chan string), release: make(chan struct{})}
	sink := newFakeSink(models.Feed{ID: "f", URL: "https://a.example/feed"})
	scheduler := poller.NewScheduler(ingester, sink, time.Second, poller.WithTimerFactory(clock.factory))

	scheduler.Start()

	done := make(chan struct{})
	go func() {
		clock.timer(0).fn()
		close(done)
	}()
	<-ingester.entered

	// A second fire while the cycle is in flight skips and rearms instead
	// of running a concurrent cycle
	clock.timer(0).fn()
	assert.Equal(t, 2, clock.count())

	close(ingester.release)
	<-done
}

func TestSchedulerIsRestartable(t *testing.T) {
	clock := &fakeClock{}
	ingester := &recordingIngester{
		snapshots: map[string]models.FeedSnapshot{"https://a.example/feed": {}},
	}
	scheduler := poller.NewScheduler(ingester, newFakeSink(models.Feed{ID: "f", URL: "https://a.example/feed"}), time.Second, poller.WithTimerFactory(clock.factory))

	scheduler.Start()
	scheduler.Stop()
	scheduler.Start()

	assert.Equal(t, poller.Scheduled, scheduler.State())
	require.Equal(t, 2, clock.count())

	clock.timer(1).fn()
	assert.Equal(t, 1, ingester.callCount())
}

type staticFetcher struct {
	payload string
}

func (f *staticFetcher) Fetch(ctx context.Context, feedURL string) (string, error) {
	return f.payload, nil
}

const stableRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Stable Feed</title>
    <item>
      <title>Only post</title>
      <link>https://example.com/p1</link>
    </item>
  </channel>
</rss>`

// End-to-end over the real pipeline, store and notifier: adding a feed,
// viewing its post, then re-polling unchanged content.
func TestRepollOfUnchangedFeedAddsNothing(t *testing.T) {
	notifier := notify.New(store.New(store.ScopeGlobal))
	pipeline := ingest.NewPipeline(&staticFetcher{payload: stableRSS}, ingest.NewFeedParser(), notifier)

	clock := &fakeClock{}
	scheduler := poller.NewScheduler(pipeline, notifier, time.Second, poller.WithTimerFactory(clock.factory))

	feed, inserted, err := pipeline.AddNewFeed(context.Background(), "https://example.com/feed")
	require.NoError(t, err)
	require.Len(t, inserted, 1)

	feeds, posts := notifier.Snapshot()
	require.Len(t, feeds, 1)
	require.Len(t, posts, 1)
	assert.False(t, posts[0].Viewed)

	require.True(t, notifier.MarkViewed(posts[0].ID))
	_, posts = notifier.Snapshot()
	assert.True(t, posts[0].Viewed)

	scheduler.Start()
	clock.timer(0).fn()

	// The cycle re-fetched identical content; nothing new landed and the
	// viewed flag survived
	_, posts = notifier.Snapshot()
	require.Len(t, posts, 1)
	assert.Equal(t, feed.ID, posts[0].FeedID)
	assert.True(t, posts[0].Viewed)
}
