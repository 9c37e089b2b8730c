package store

import (
	"fmt"
	"sync"
	"time"

	"feedloop/models"

	"github.com/google/uuid"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// DedupScope controls how widely post links are deduplicated.
// The source snapshots this engine replaces disagreed on the scope, so it
// is an explicit setting instead of an accident of code structure.
type DedupScope string

const (
	// ScopeGlobal drops a candidate post if its link exists anywhere in the store.
	ScopeGlobal DedupScope = "global"
	// ScopeFeed drops a candidate post only if its link exists within the same feed.
	ScopeFeed DedupScope = "feed"
)

// DuplicateFeedError is returned by AddFeed when the URL is already registered.
type DuplicateFeedError struct {
	URL string
}

func (e *DuplicateFeedError) Error() string {
	return fmt.Sprintf("feed already exists: %s", e.URL)
}

// FeedCandidate is the input to AddFeed. The store allocates the id and
// creation timestamp itself.
type FeedCandidate struct {
	URL         string
	Title       string
	Description string
}

// Store is the sole owner of canonical feed/post state and its dedup
// indices. All mutations take the store mutex, so no caller can observe a
// half-applied merge even though poll cycles complete in arbitrary order.
type Store struct {
	mu       sync.Mutex
	scope    DedupScope
	feeds    []models.Feed
	posts    []models.Post
	feedURLs map[string]struct{}
	links    map[string]struct{}
}

func New(scope DedupScope) *Store {
	if scope != ScopeFeed {
		scope = ScopeGlobal
	}
	return &Store{
		scope:    scope,
		feedURLs: make(map[string]struct{}),
		links:    make(map[string]struct{}),
	}
}

// AddFeed registers a new feed. It fails with DuplicateFeedError when the
// URL is already present and leaves the store untouched in that case.
func (s *Store) AddFeed(candidate FeedCandidate) (models.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.feedURLs[candidate.URL]; ok {
		return models.Feed{}, &DuplicateFeedError{URL: candidate.URL}
	}

	feed := models.Feed{
		ID:          uuid.NewString(),
		URL:         candidate.URL,
		Title:       candidate.Title,
		Description: candidate.Description,
		CreatedAt:   time.Now(),
	}
	s.feeds = append(s.feeds, feed)
	s.feedURLs[candidate.URL] = struct{}{}

	log.WithFields(log.Fields{
		"id":    feed.ID,
		"url":   feed.URL,
		"title": feed.Title,
	}).Info("Added feed")

	return feed, nil
}

// MergePosts inserts the candidates for the given feed, in input order,
// skipping any candidate whose link is empty or already indexed. Each
// inserted post is prepended, so the collection stays ordered by ingestion
// time, most recent first. Returns exactly the inserted posts; an empty
// result means everything was a duplicate.
func (s *Store) MergePosts(feedID string, candidates []models.CandidatePost) []models.Post {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted []models.Post
	for _, candidate := range candidates {
		if candidate.Link == "" {
			continue
		}
		key := s.linkKey(feedID, candidate.Link)
		if _, ok := s.links[key]; ok {
			continue
		}

		post := models.Post{
			ID:          uuid.NewString(),
			FeedID:      feedID,
			Title:       candidate.Title,
			Description: candidate.Description,
			Link:        candidate.Link,
			PubDate:     candidate.PubDate,
			Viewed:      false,
		}
		s.posts = append([]models.Post{post}, s.posts...)
		s.links[key] = struct{}{}
		inserted = append(inserted, post)
	}

	if len(inserted) > 0 {
		log.WithFields(log.Fields{
			"feedId": feedID,
			"count":  len(inserted),
		}).Info("Merged posts")
	}

	return inserted
}

// MarkViewed flags the post as viewed. An unknown id is a no-op, not an
// error, so UI-driven calls stay race tolerant. Returns whether a post
// actually transitioned to viewed.
func (s *Store) MarkViewed(postID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.posts {
		if s.posts[i].ID == postID {
			if s.posts[i].Viewed {
				return false
			}
			s.posts[i].Viewed = true
			return true
		}
	}
	return false
}

// ListFeedURLs returns a snapshot of all registered feed URLs for
// duplicate checks upstream of AddFeed.
func (s *Store) ListFeedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return lo.Map(s.feeds, func(feed models.Feed, _ int) string {
		return feed.URL
	})
}

// Snapshot returns copies of the feed and post collections. Callers can
// hold onto the result without aliasing back into the store.
func (s *Store) Snapshot() ([]models.Feed, []models.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()

	feeds := make([]models.Feed, len(s.feeds))
	copy(feeds, s.feeds)
	posts := make([]models.Post, len(s.posts))
	copy(posts, s.posts)
	return feeds, posts
}

func (s *Store) linkKey(feedID, link string) string {
	if s.scope == ScopeFeed {
		return feedID + "\x00" + link
	}
	return link
}
