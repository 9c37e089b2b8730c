package ingest

import (
	"context"
	"strings"

	"feedloop/models"
	"feedloop/store"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Fallback titles substituted during normalization. The store never holds
// a blank title, so the substitution is part of the ingestion contract.
const (
	DefaultFeedTitle = "Untitled feed"
	DefaultPostTitle = "Untitled post"
)

// Sink is the slice of the state layer the pipeline writes through.
// In the assembled service this is the change notifier wrapping the store.
type Sink interface {
	ListFeedURLs() []string
	AddFeed(candidate store.FeedCandidate) (models.Feed, error)
	MergePosts(feedID string, candidates []models.CandidatePost) []models.Post
}

// Pipeline orchestrates one feed's refresh: fetch, parse, normalize.
// Ingest itself performs no state writes; the caller decides how to merge.
type Pipeline struct {
	fetcher Fetcher
	parser  Parser
	sink    Sink
}

func NewPipeline(fetcher Fetcher, parser Parser, sink Sink) *Pipeline {
	return &Pipeline{fetcher: fetcher, parser: parser, sink: sink}
}

// Ingest turns a URL into a normalized snapshot. Any failure comes back as
// a classified error and leaves no trace in the state layer.
func (p *Pipeline) Ingest(ctx context.Context, feedURL string) (models.FeedSnapshot, error) {
	raw, err := p.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		return models.FeedSnapshot{}, err
	}

	snapshot, err := p.parser.Parse(raw)
	if err != nil {
		return models.FeedSnapshot{}, err
	}

	return normalize(snapshot), nil
}

// AddNewFeed handles the interactive add: the local uniqueness check runs
// before any network I/O, so a duplicate URL never costs a fetch. On
// success the feed and its first batch of posts land in the sink.
func (p *Pipeline) AddNewFeed(ctx context.Context, feedURL string) (models.Feed, []models.Post, error) {
	if lo.Contains(p.sink.ListFeedURLs(), feedURL) {
		return models.Feed{}, nil, &store.DuplicateFeedError{URL: feedURL}
	}

	snapshot, err := p.Ingest(ctx, feedURL)
	if err != nil {
		return models.Feed{}, nil, err
	}

	feed, err := p.sink.AddFeed(store.FeedCandidate{
		URL:         feedURL,
		Title:       snapshot.Feed.Title,
		Description: snapshot.Feed.Description,
	})
	if err != nil {
		return models.Feed{}, nil, err
	}

	posts := p.sink.MergePosts(feed.ID, snapshot.Posts)

	log.WithFields(log.Fields{
		"url":   feedURL,
		"posts": len(posts),
	}).Info("Added new feed")

	return feed, posts, nil
}

// normalize trims every string field and substitutes fallback titles.
// Posts without a link are kept as-is here; the store drops them at merge.
func normalize(snapshot models.FeedSnapshot) models.FeedSnapshot {
	out := models.FeedSnapshot{
		Feed: models.FeedMeta{
			Title:       fallback(snapshot.Feed.Title, DefaultFeedTitle),
			Description: strings.TrimSpace(snapshot.Feed.Description),
		},
		Posts: make([]models.CandidatePost, 0, len(snapshot.Posts)),
	}
	for _, post := range snapshot.Posts {
		out.Posts = append(out.Posts, models.CandidatePost{
			Title:       fallback(post.Title, DefaultPostTitle),
			Description: strings.TrimSpace(post.Description),
			Link:        strings.TrimSpace(post.Link),
			PubDate:     strings.TrimSpace(post.PubDate),
		})
	}
	return out
}

func fallback(value, def string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return def
	}
	return trimmed
}
