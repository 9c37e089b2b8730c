package ingest

import (
	"feedloop/models"

	"github.com/mmcdole/gofeed"
)

// Parser turns a raw payload into a feed snapshot.
type Parser interface {
	Parse(raw string) (models.FeedSnapshot, error)
}

// FeedParser parses RSS/Atom/JSON feed payloads with gofeed. A fresh
// gofeed parser is created per call; poll cycles parse concurrently.
type FeedParser struct{}

func NewFeedParser() *FeedParser {
	return &FeedParser{}
}

// Parse returns the snapshot, or *Error with KindInvalidFormat when the
// payload has no recognizable feed root. The pubDate stays a raw string;
// it is source controlled and the engine never orders by it.
func (p *FeedParser) Parse(raw string) (models.FeedSnapshot, error) {
	parsed, err := gofeed.NewParser().ParseString(raw)
	if err != nil {
		return models.FeedSnapshot{}, newError(KindInvalidFormat, "", err)
	}

	snapshot := models.FeedSnapshot{
		Feed: models.FeedMeta{
			Title:       parsed.Title,
			Description: parsed.Description,
		},
		Posts: make([]models.CandidatePost, 0, len(parsed.Items)),
	}
	for _, item := range parsed.Items {
		snapshot.Posts = append(snapshot.Posts, models.CandidatePost{
			Title:       item.Title,
			Description: item.Description,
			Link:        item.Link,
			PubDate:     item.Published,
		})
	}
	return snapshot, nil
}
