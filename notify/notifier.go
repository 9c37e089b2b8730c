package notify

import (
	"sync"

	"feedloop/models"
	"feedloop/store"

	log "github.com/sirupsen/logrus"
)

// Path tokens carried by change events.
const (
	PathFeeds      = "feeds"
	PathPosts      = "posts"
	PathPostViewed = "post.viewed"
)

// Event is one state change: a path token plus the new value or slice.
type Event struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Observer receives events synchronously, in mutation order.
type Observer func(Event)

// Notifier wraps the store's mutation entry points and delivers an event
// after each effective mutation. The store mutation always lands before
// any observer runs, so a misbehaving observer cannot undo it. Holding the
// notifier mutex across mutate-then-publish keeps delivery in mutation
// order; there is no batching or coalescing.
type Notifier struct {
	mu        sync.Mutex
	store     *store.Store
	observers []Observer
}

func New(s *store.Store) *Notifier {
	return &Notifier{store: s}
}

// Subscribe registers an observer for all subsequent mutations.
func (n *Notifier) Subscribe(observer Observer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers = append(n.observers, observer)
}

// AddFeed stores the feed and emits a "feeds" event on success.
func (n *Notifier) AddFeed(candidate store.FeedCandidate) (models.Feed, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	feed, err := n.store.AddFeed(candidate)
	if err != nil {
		return models.Feed{}, err
	}
	n.publish(Event{Path: PathFeeds, Value: models.FeedAddedEvent{Feed: feed}})
	return feed, nil
}

// MergePosts merges the candidates and emits a "posts" event carrying the
// inserted slice. A merge where everything was a duplicate emits nothing.
func (n *Notifier) MergePosts(feedID string, candidates []models.CandidatePost) []models.Post {
	n.mu.Lock()
	defer n.mu.Unlock()

	inserted := n.store.MergePosts(feedID, candidates)
	if len(inserted) > 0 {
		n.publish(Event{Path: PathPosts, Value: models.PostsMergedEvent{FeedID: feedID, Posts: inserted}})
	}
	return inserted
}

// MarkViewed flags the post and emits a "post.viewed" event when the flag
// actually changed. Unknown ids stay a silent no-op.
func (n *Notifier) MarkViewed(postID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	changed := n.store.MarkViewed(postID)
	if changed {
		n.publish(Event{Path: PathPostViewed, Value: models.PostViewedEvent{PostID: postID}})
	}
	return changed
}

// ListFeedURLs passes through to the store.
func (n *Notifier) ListFeedURLs() []string {
	return n.store.ListFeedURLs()
}

// Snapshot passes through to the store.
func (n *Notifier) Snapshot() ([]models.Feed, []models.Post) {
	return n.store.Snapshot()
}

func (n *Notifier) publish(event Event) {
	for _, observer := range n.observers {
		deliver(observer, event)
	}
}

func deliver(observer Observer, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"path":  event.Path,
				"panic": r,
			}).Warn("Observer panicked, event dropped for it")
		}
	}()
	observer(event)
}
