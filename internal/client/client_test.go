package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/civic-issues/internal/models"
)

const listBody = `{
	"success": true,
	"data": [
		{
			"id": "a1",
			"title": "Broken streetlight",
			"description": "Out for a week",
			"category": "lighting",
			"status": "reported",
			"severity": "low",
			"location": {"lat": 40.7130, "lng": -74.0055, "address": "Broadway"},
			"images": [],
			"anonymous": true,
			"reporter": {"name": "Jane", "email": "jane@example.com"},
			"voteCount": 2,
			"commentCount": 0,
			"createdAt": "2024-05-01T12:00:00Z",
			"updatedAt": "2024-05-01T12:00:00Z"
		},
		{"id": "bad", "category": "weather", "status": "reported", "location": {"lat": 1, "lng": 1}}
	],
	"pagination": {"page": 1, "limit": 100, "total": 2, "pages": 1, "hasNext": false, "hasPrev": false}
}`

func serve(t *testing.T, status int, body string) (*Client, *http.Request) {
	t.Helper()
	captured := &http.Request{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = *r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, 5*time.Second, "tok"), captured
}

func TestFetchIssues(t *testing.T) {
	c, req := serve(t, http.StatusOK, listBody)

	filter := models.FilterState{Status: models.StatusReported, RadiusKm: 3}
	page, err := c.FetchIssues(context.Background(), filter, &models.Coordinate{Lat: 40.7128, Lng: -74.006})
	require.NoError(t, err)

	q := req.URL.Query()
	assert.Equal(t, "/api/issues", req.URL.Path)
	assert.Equal(t, "40.7128", q.Get("lat"))
	assert.Equal(t, "-74.006", q.Get("lng"))
	assert.Equal(t, "3", q.Get("radius"))
	assert.Equal(t, "reported", q.Get("status"))
	assert.Equal(t, "all", q.Get("category"))
	assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))

	// the malformed second issue is dropped
	require.Len(t, page.Issues, 1)
	issue := page.Issues[0]
	assert.Equal(t, "a1", issue.ID)
	assert.Equal(t, models.CategoryLighting, issue.Category)
	assert.Equal(t, "Anonymous", issue.Reporter.Name)
	assert.Nil(t, issue.Reporter.Email)
	assert.Equal(t, 2, page.Pagination.Total)
}

func TestFetchIssues_NoCenter(t *testing.T) {
	c, req := serve(t, http.StatusOK, `{"success": true, "data": [], "pagination": {}}`)

	page, err := c.FetchIssues(context.Background(), models.DefaultFilter(), nil)
	require.NoError(t, err)
	assert.Empty(t, page.Issues)
	assert.Empty(t, req.URL.Query().Get("lat"))
	assert.Empty(t, req.URL.Query().Get("radius"))
}

func TestFetchIssues_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"validation", http.StatusBadRequest, `{"success":false,"error":"validation failed","details":[{"field":"lat","message":"bad"}]}`, ErrValidation},
		{"not found", http.StatusNotFound, `{"success":false,"error":"route not found"}`, ErrNotFound},
		{"rate limited", http.StatusTooManyRequests, `{"success":false,"error":"rate limit exceeded"}`, ErrRateLimited},
		{"server error", http.StatusInternalServerError, `oops`, ErrUnexpected},
		{"bad gateway", http.StatusBadGateway, ``, ErrUnexpected},
		{"garbage body", http.StatusOK, `<html>`, ErrUnexpected},
		{"not successful", http.StatusOK, `{"success": false}`, ErrUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := serve(t, tt.status, tt.body)
			_, err := c.FetchIssues(context.Background(), models.DefaultFilter(), nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetchIssues_ValidationDetails(t *testing.T) {
	c, _ := serve(t, http.StatusBadRequest, `{"success":false,"error":"validation failed","details":[{"field":"lat","message":"must be a number between -90 and 90"}]}`)

	_, err := c.FetchIssues(context.Background(), models.DefaultFilter(), nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Len(t, apiErr.Details, 1)
	assert.Equal(t, "lat", apiErr.Details[0].Field)
}

func TestFetchIssues_NetworkUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, time.Second, "")
	_, err := c.FetchIssues(context.Background(), models.DefaultFilter(), nil)
	assert.ErrorIs(t, err, ErrNetworkUnavailable)
}

func TestFetchIssues_Cancelled(t *testing.T) {
	c, _ := serve(t, http.StatusOK, listBody)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchIssues(ctx, models.DefaultFilter(), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNetworkUnavailable)
}

func TestCreateIssue(t *testing.T) {
	body := `{"success": true, "data": {"id": "n1", "title": "t", "category": "roads", "status": "reported",
		"location": {"lat": 1, "lng": 2}, "reporter": {"name": "Anonymous", "email": null}}}`
	c, req := serve(t, http.StatusCreated, body)

	issue, err := c.CreateIssue(context.Background(), NewIssue{
		Title:    "t",
		Category: models.CategoryRoads,
		Location: models.IssueLocation{Lat: 1, Lng: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "n1", issue.ID)
	assert.Equal(t, models.SeverityMedium, issue.Severity)
}

func TestDeleteIssue(t *testing.T) {
	c, req := serve(t, http.StatusOK, `{"success": true}`)

	require.NoError(t, c.DeleteIssue(context.Background(), "abc"))
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "/api/issues/abc", req.URL.Path)
}

func TestVote(t *testing.T) {
	c, req := serve(t, http.StatusOK, `{"success": true, "data": {"id": "abc", "voteCount": 4}}`)

	votes, err := c.Vote(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, 4, votes)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/issues/abc/vote", req.URL.Path)
	assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
}

func TestVote_NotFound(t *testing.T) {
	c, _ := serve(t, http.StatusNotFound, `{"success": false, "error": "issue not found"}`)

	_, err := c.Vote(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func pagedServer(t *testing.T, pages int) (*Client, *[]string) {
	t.Helper()
	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("page"))
		requested = append(requested, r.URL.Query().Get("page"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"success": true, "data": [
			{"id": "p%d", "title": "t", "category": "roads", "status": "reported", "location": {"lat": 1, "lng": 2}}
		], "pagination": {"page": %d, "limit": 1, "total": %d, "pages": %d, "hasNext": %t, "hasPrev": %t}}`,
			n, n, pages, pages, n < pages, n > 1)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", 5*time.Second, ""), &requested
}

func TestFetchIssues_FollowsPages(t *testing.T) {
	c, requested := pagedServer(t, 3)

	page, err := c.FetchIssues(context.Background(), models.DefaultFilter(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, *requested)
	require.Len(t, page.Issues, 3)
	assert.Equal(t, "p3", page.Issues[2].ID)
	assert.Equal(t, 3, page.Pagination.Total)
}

func TestFetchIssues_StopsAtPageCap(t *testing.T) {
	c, requested := pagedServer(t, MaxFetchPages+5)

	page, err := c.FetchIssues(context.Background(), models.DefaultFilter(), nil)
	require.NoError(t, err)
	assert.Len(t, *requested, MaxFetchPages)
	assert.Len(t, page.Issues, MaxFetchPages)
}

func TestNew_TrimsBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", New("http://localhost:8080/", time.Second, "").BaseURL())
}
