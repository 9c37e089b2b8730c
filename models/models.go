package models

import "time"

// Feed is a remote syndication source identified by a unique URL.
// Immutable once stored; there is no removal operation.
type Feed struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Post is a single syndicated item belonging to exactly one feed.
// Viewed is the only field mutated after creation.
type Post struct {
	ID          string `json:"id"`
	FeedID      string `json:"feedId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
	PubDate     string `json:"pubDate,omitempty"`
	Viewed      bool   `json:"viewed"`
}

// FeedSnapshot is the result of one ingestion: the feed's own metadata
// plus the candidate posts as parsed from the payload. Candidates carry
// no id or feed reference until they are merged into the store.
type FeedSnapshot struct {
	Feed  FeedMeta        `json:"feed"`
	Posts []CandidatePost `json:"posts"`
}

type FeedMeta struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type CandidatePost struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
	PubDate     string `json:"pubDate,omitempty"`
}

// FeedAddedEvent fired after a feed is stored
type FeedAddedEvent struct {
	Feed Feed `json:"feed"`
}

// PostsMergedEvent fired after a merge inserts at least one post
type PostsMergedEvent struct {
	FeedID string `json:"feedId"`
	Posts  []Post `json:"posts"`
}

// PostViewedEvent fired after a post is marked as viewed
type PostViewedEvent struct {
	PostID string `json:"postId"`
}
