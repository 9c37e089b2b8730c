package validate

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/samber/lo"
)

// Reason is the closed set of validation failure causes.
type Reason string

const (
	ReasonRequired     Reason = "required"
	ReasonMalformedURL Reason = "malformedUrl"
	ReasonDuplicateURL Reason = "duplicateUrl"
)

// ValidationError is a structured validation failure for a candidate URL.
type ValidationError struct {
	Reason Reason
	URL    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %q", e.Reason, e.URL)
}

// FeedURL checks a candidate feed URL against the add-feed rules: it must
// be present, a well-formed absolute http(s) URL, and not already
// registered. Only the add-feed entry point runs this; the scheduler never
// does.
func FeedURL(candidate string, existing []string) error {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return &ValidationError{Reason: ReasonRequired, URL: candidate}
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return &ValidationError{Reason: ReasonMalformedURL, URL: trimmed}
	}

	if lo.Contains(existing, trimmed) {
		return &ValidationError{Reason: ReasonDuplicateURL, URL: trimmed}
	}

	return nil
}
