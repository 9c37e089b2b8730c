package ingest

import (
	"errors"
	"fmt"
)

// Kind is the closed set of ingestion failure categories. Anything a
// fetcher or parser returns is classified into exactly one of these.
type Kind string

const (
	// KindNetwork covers connection failures and non-2xx responses.
	KindNetwork Kind = "network"
	// KindTimeout means the fixed fetch deadline was exceeded.
	KindTimeout Kind = "timeout"
	// KindEmptyResponse means the transport succeeded but carried no payload.
	KindEmptyResponse Kind = "emptyResponse"
	// KindInvalidFormat means the payload is not a recognizable feed document.
	KindInvalidFormat Kind = "invalidFeedFormat"
	// KindUnknown is the catch-all for anything not classified above.
	KindUnknown Kind = "unknown"
)

// Error is a classified ingestion failure for a single URL.
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.URL)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, url string, err error) *Error {
	return &Error{Kind: kind, URL: url, Err: err}
}

// KindOf classifies any error into the taxonomy. Errors that did not come
// out of an ingestion step map to KindUnknown.
func KindOf(err error) Kind {
	var ingestErr *Error
	if errors.As(err, &ingestErr) {
		return ingestErr.Kind
	}
	return KindUnknown
}
