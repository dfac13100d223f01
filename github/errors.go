package github

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v62/github"
)

// Category buckets transport, REST and GraphQL failures into the small set of
// conditions the presentation layer branches on. Raw errors stay wrapped
// underneath for logs.
type Category int

const (
	// CategoryTransient covers timeouts, 5xx and other failures worth a
	// retry through the fallback path.
	CategoryTransient Category = iota
	// CategoryAuth covers 401s and bad credentials. Never retried silently;
	// the stored token must be discarded.
	CategoryAuth
	// CategoryRateLimited is distinct from auth: the token is still valid
	// and must be kept for after the window resets.
	CategoryRateLimited
	// CategoryNotFound covers missing repositories and owners.
	CategoryNotFound
	// CategoryConflict covers 409 responses.
	CategoryConflict
	// CategoryValidation covers 422 responses with a human-readable message.
	CategoryValidation
)

func (c Category) String() string {
	switch c {
	case CategoryAuth:
		return "auth"
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryNotFound:
		return "not_found"
	case CategoryConflict:
		return "conflict"
	case CategoryValidation:
		return "validation"
	default:
		return "transient"
	}
}

// APIError is a normalized API failure.
type APIError struct {
	Category Category
	Op       string
	Message  string
	// RetryAfter is set for rate-limit errors when the reset time is known.
	RetryAfter time.Time
	Err        error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// CategoryOf extracts the category from err, defaulting to transient.
func CategoryOf(err error) Category {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return CategoryTransient
}

// wrapREST normalizes a go-github error.
func wrapREST(op string, err error) error {
	if err == nil {
		return nil
	}

	var rateErr *gogithub.RateLimitError
	if errors.As(err, &rateErr) {
		return &APIError{
			Category:   CategoryRateLimited,
			Op:         op,
			Message:    "API rate limit exceeded",
			RetryAfter: rateErr.Rate.Reset.Time,
			Err:        err,
		}
	}

	var abuseErr *gogithub.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		apiErr := &APIError{
			Category: CategoryRateLimited,
			Op:       op,
			Message:  "secondary rate limit hit",
			Err:      err,
		}
		if abuseErr.RetryAfter != nil {
			apiErr.RetryAfter = time.Now().Add(*abuseErr.RetryAfter)
		}
		return apiErr
	}

	var respErr *gogithub.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &APIError{Category: CategoryAuth, Op: op, Message: respErr.Message, Err: err}
		case http.StatusNotFound:
			return &APIError{Category: CategoryNotFound, Op: op, Message: respErr.Message, Err: err}
		case http.StatusConflict:
			return &APIError{Category: CategoryConflict, Op: op, Message: respErr.Message, Err: err}
		case http.StatusUnprocessableEntity:
			return &APIError{Category: CategoryValidation, Op: op, Message: validationMessage(respErr), Err: err}
		}
	}

	return &APIError{Category: CategoryTransient, Op: op, Err: err}
}

// validationMessage flattens a 422 response into a single readable line.
func validationMessage(respErr *gogithub.ErrorResponse) string {
	parts := []string{}
	if respErr.Message != "" {
		parts = append(parts, respErr.Message)
	}
	for _, e := range respErr.Errors {
		if e.Message != "" {
			parts = append(parts, e.Message)
		}
	}
	return strings.Join(parts, "; ")
}

// wrapGraphQL normalizes a githubv4 error. The GraphQL transport flattens
// error arrays into message strings, so classification is by message.
func wrapGraphQL(op string, err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "rate limit"):
		return &APIError{Category: CategoryRateLimited, Op: op, Message: msg, Err: err}
	case strings.Contains(lower, "bad credentials"),
		strings.Contains(lower, "401"),
		strings.Contains(lower, "forbidden"):
		return &APIError{Category: CategoryAuth, Op: op, Message: msg, Err: err}
	case strings.Contains(lower, "could not resolve"),
		strings.Contains(lower, "not found"):
		return &APIError{Category: CategoryNotFound, Op: op, Message: msg, Err: err}
	}
	return &APIError{Category: CategoryTransient, Op: op, Message: msg, Err: err}
}
