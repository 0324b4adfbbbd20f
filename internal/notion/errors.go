package notion

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Errors returned by the client. Check them with errors.Is:
//
//	if errors.Is(err, notion.ErrUnauthorized) {
//	    // credentials are bad, stop the run
//	}
var (
	// ErrNoCredential is returned when the client is built without a token.
	ErrNoCredential = errors.New("notion: no API token configured")

	// ErrNoDatabase is returned when an operation needs a database id and
	// none is configured.
	ErrNoDatabase = errors.New("notion: no database id configured")

	// ErrUnauthorized matches 401 and 403 responses.
	ErrUnauthorized = errors.New("notion: unauthorized")

	// ErrNotFound matches 404 responses: the page or database is gone or
	// not shared with the integration.
	ErrNotFound = errors.New("notion: not found")

	// ErrRateLimited matches 429 responses.
	ErrRateLimited = errors.New("notion: rate limited")
)

// APIError is a non-2xx response from the Notion API.
type APIError struct {
	Status  int
	Code    string
	Message string
	After   time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion API error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("notion API error %d: %s", e.Status, e.Message)
}

// HTTPStatus implements retry.StatusCoder.
func (e *APIError) HTTPStatus() int { return e.Status }

// RetryAfter implements retry.RetryAfterer.
func (e *APIError) RetryAfter() time.Duration { return e.After }

// Is maps the status code onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	}
	return false
}

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsNotFound reports whether err means the remote record is gone.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsRateLimited reports whether err is a 429 that survived retries.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }
