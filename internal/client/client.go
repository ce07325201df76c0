// Package client talks to the civic issues HTTP API and maps every failure
// onto a small set of sentinel errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mr1hm/civic-issues/internal/format"
	"github.com/mr1hm/civic-issues/internal/models"
	"github.com/mr1hm/civic-issues/internal/query"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrNotFound           = errors.New("not found")
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrUnexpected         = errors.New("unexpected server response")
)

// APIError carries the server's message. It unwraps to one of the sentinels.
type APIError struct {
	StatusCode int
	Message    string
	Details    []query.FieldError
	kind       error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v (status %d)", e.kind, e.StatusCode)
	}
	return fmt.Sprintf("%v (status %d): %s", e.kind, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

func New(baseURL string, timeout time.Duration, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		token:   token,
	}
}

// BaseURL is the server root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

type IssuePage struct {
	Issues     []models.Issue
	Pagination query.Pagination
}

type listResponse struct {
	Success    bool              `json:"success"`
	Data       []json.RawMessage `json:"data"`
	Pagination query.Pagination  `json:"pagination"`
}

type issueResponse struct {
	Success bool             `json:"success"`
	Data    format.WireIssue `json:"data"`
}

type errorResponse struct {
	Error   string             `json:"error"`
	Details []query.FieldError `json:"details"`
}

// MaxFetchPages bounds how many result pages FetchIssues follows.
const MaxFetchPages = 10

// FetchIssues lists issues matching filter, following hasNext up to
// MaxFetchPages pages. A nil center lists without a radius constraint.
// Malformed issues in an otherwise valid response are skipped.
func (c *Client) FetchIssues(ctx context.Context, filter models.FilterState, center *models.Coordinate) (*IssuePage, error) {
	params := url.Values{}
	params.Set("status", filter.StatusParam())
	params.Set("category", filter.CategoryParam())
	params.Set("limit", strconv.Itoa(query.MaxLimit))
	if center != nil {
		params.Set("lat", strconv.FormatFloat(center.Lat, 'f', -1, 64))
		params.Set("lng", strconv.FormatFloat(center.Lng, 'f', -1, 64))
		params.Set("radius", strconv.FormatFloat(filter.RadiusKm, 'f', -1, 64))
	}

	result := &IssuePage{Issues: []models.Issue{}}
	for n := 1; ; n++ {
		params.Set("page", strconv.Itoa(n))
		data, err := c.fetchPage(ctx, params)
		if err != nil {
			return nil, err
		}
		result.Pagination = data.Pagination
		result.Issues = append(result.Issues, decodeIssues(data.Data)...)

		if !data.Pagination.HasNext {
			return result, nil
		}
		if n == MaxFetchPages {
			slog.Warn("issue list truncated", "pages", n, "total", data.Pagination.Total, "fetched", len(result.Issues))
			return result, nil
		}
	}
}

func (c *Client) fetchPage(ctx context.Context, params url.Values) (*listResponse, error) {
	var data listResponse
	if err := c.do(ctx, http.MethodGet, "/api/issues?"+params.Encode(), nil, &data); err != nil {
		return nil, err
	}
	if !data.Success {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "response not marked successful", kind: ErrUnexpected}
	}
	return &data, nil
}

func decodeIssues(raws []json.RawMessage) []models.Issue {
	issues := make([]models.Issue, 0, len(raws))
	for _, raw := range raws {
		var w format.WireIssue
		if err := json.Unmarshal(raw, &w); err != nil {
			slog.Warn("skipping undecodable issue", "error", err)
			continue
		}
		issue, err := format.FromWire(w)
		if err != nil {
			slog.Warn("skipping malformed issue", "error", err)
			continue
		}
		issues = append(issues, issue)
	}
	return issues
}

type NewIssue struct {
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Category    models.Category      `json:"category"`
	Severity    models.Severity      `json:"severity,omitempty"`
	Location    models.IssueLocation `json:"location"`
	Images      []string             `json:"images,omitempty"`
	Anonymous   bool                 `json:"anonymous"`
}

type IssueUpdate struct {
	Title       *string               `json:"title,omitempty"`
	Description *string               `json:"description,omitempty"`
	Category    *models.Category      `json:"category,omitempty"`
	Status      *models.Status        `json:"status,omitempty"`
	Severity    *models.Severity      `json:"severity,omitempty"`
	Location    *models.IssueLocation `json:"location,omitempty"`
}

func (c *Client) CreateIssue(ctx context.Context, in NewIssue) (models.Issue, error) {
	return c.sendIssue(ctx, http.MethodPost, "/api/issues", in)
}

func (c *Client) UpdateIssue(ctx context.Context, id string, in IssueUpdate) (models.Issue, error) {
	return c.sendIssue(ctx, http.MethodPut, "/api/issues/"+url.PathEscape(id), in)
}

func (c *Client) sendIssue(ctx context.Context, method, path string, body any) (models.Issue, error) {
	var data issueResponse
	if err := c.do(ctx, method, path, body, &data); err != nil {
		return models.Issue{}, err
	}
	issue, err := format.FromWire(data.Data)
	if err != nil {
		return models.Issue{}, fmt.Errorf("%w: %v", ErrUnexpected, err)
	}
	return issue, nil
}

func (c *Client) DeleteIssue(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/issues/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Vote(ctx context.Context, id string) (int, error) {
	var data struct {
		Data struct {
			VoteCount int `json:"voteCount"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/issues/"+url.PathEscape(id)+"/vote", nil, &data); err != nil {
		return 0, err
	}
	return data.Data.VoteCount, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// a cancelled fetch is not an outage
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: "error decoding response: " + err.Error(), kind: ErrUnexpected}
	}
	return nil
}

func statusError(resp *http.Response) error {
	var body errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body)

	e := &APIError{StatusCode: resp.StatusCode, Message: body.Error, Details: body.Details}
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		e.kind = ErrValidation
	case resp.StatusCode == http.StatusNotFound:
		e.kind = ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		e.kind = ErrRateLimited
	default:
		e.kind = ErrUnexpected
	}
	return e
}
