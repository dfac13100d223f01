package github

import (
	"errors"
	"net/http"
	"testing"
	"time"

	gogithub "github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/require"
)

func restError(status int, message string) error {
	return &gogithub.ErrorResponse{
		Response: &http.Response{StatusCode: status},
		Message:  message,
	}
}

func TestWrapREST_NilPassesThrough(t *testing.T) {
	require.NoError(t, wrapREST("op", nil))
}

func TestWrapREST_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   Category
	}{
		{"unauthorized", http.StatusUnauthorized, CategoryAuth},
		{"forbidden", http.StatusForbidden, CategoryAuth},
		{"not found", http.StatusNotFound, CategoryNotFound},
		{"conflict", http.StatusConflict, CategoryConflict},
		{"unprocessable", http.StatusUnprocessableEntity, CategoryValidation},
		{"server error", http.StatusBadGateway, CategoryTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapREST("op", restError(tt.status, "boom"))
			require.Equal(t, tt.want, CategoryOf(err))
		})
	}
}

func TestWrapREST_RateLimitCarriesReset(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	err := wrapREST("op", &gogithub.RateLimitError{
		Rate: gogithub.Rate{Reset: gogithub.Timestamp{Time: reset}},
	})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, CategoryRateLimited, apiErr.Category)
	require.Equal(t, reset, apiErr.RetryAfter)
}

func TestWrapREST_ValidationFlattensSubErrors(t *testing.T) {
	respErr := &gogithub.ErrorResponse{
		Response: &http.Response{StatusCode: http.StatusUnprocessableEntity},
		Message:  "Validation Failed",
		Errors: []gogithub.Error{
			{Message: "name already exists on this account"},
		},
	}

	err := wrapREST("renaming repository", respErr)
	require.Contains(t, err.Error(), "Validation Failed")
	require.Contains(t, err.Error(), "name already exists")
}

func TestWrapGraphQL_MessageClassification(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want Category
	}{
		{"rate limit", "API rate limit exceeded for user", CategoryRateLimited},
		{"bad credentials", "Bad credentials", CategoryAuth},
		{"unresolved org", "Could not resolve to an Organization with the login of 'ghost'.", CategoryNotFound},
		{"anything else", "connection reset by peer", CategoryTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapGraphQL("op", errors.New(tt.msg))
			require.Equal(t, tt.want, CategoryOf(err))
		})
	}
}

func TestCategoryOf_UnwrappedErrorIsTransient(t *testing.T) {
	require.Equal(t, CategoryTransient, CategoryOf(errors.New("plain")))
}

func TestSplitNameWithOwner(t *testing.T) {
	owner, name, err := splitNameWithOwner("alice/widget")
	require.NoError(t, err)
	require.Equal(t, "alice", owner)
	require.Equal(t, "widget", name)

	_, _, err = splitNameWithOwner("justaname")
	require.Error(t, err)
	_, _, err = splitNameWithOwner("/widget")
	require.Error(t, err)
}
