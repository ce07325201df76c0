// Package format maps issues between their stored shape (GeoJSON-style point,
// optional reporter reference) and the shape clients see.
package format

import (
	"fmt"
	"time"

	"github.com/mr1hm/civic-issues/internal/models"
)

const (
	PointType     = "Point"
	AnonymousName = "Anonymous"
)

func ToPoint(loc models.IssueLocation) models.GeoPoint {
	return models.GeoPoint{
		Type:        PointType,
		Coordinates: [2]float64{loc.Lng, loc.Lat},
		Address:     loc.Address,
	}
}

func FromPoint(p models.GeoPoint) models.IssueLocation {
	return models.IssueLocation{
		Lat:     p.Coordinates[1],
		Lng:     p.Coordinates[0],
		Address: p.Address,
	}
}

// Reporter returns the client-visible reporter. Anonymous issues and issues
// without a reporter reference never expose a name or email.
func Reporter(anonymous bool, ref *models.ReporterRef) models.Reporter {
	if anonymous || ref == nil {
		return models.Reporter{Name: AnonymousName}
	}
	r := models.Reporter{Name: ref.Name}
	if r.Name == "" {
		r.Name = AnonymousName
	}
	if ref.Email != "" {
		email := ref.Email
		r.Email = &email
	}
	return r
}

func ToClient(s *models.StoredIssue) models.Issue {
	images := s.Images
	if images == nil {
		images = []string{}
	}
	return models.Issue{
		ID:           s.ID,
		Title:        s.Title,
		Description:  s.Description,
		Category:     s.Category,
		Status:       s.Status,
		Severity:     s.Severity,
		Location:     FromPoint(s.Location),
		Images:       images,
		Anonymous:    s.Anonymous,
		Reporter:     Reporter(s.Anonymous, s.Reporter),
		VoteCount:    s.VoteCount,
		CommentCount: s.CommentCount,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func ToClientList(stored []models.StoredIssue) []models.Issue {
	issues := make([]models.Issue, 0, len(stored))
	for i := range stored {
		issues = append(issues, ToClient(&stored[i]))
	}
	return issues
}

// ToStored turns a client issue back into its stored shape. The reporter
// reference is dropped for anonymous issues. reporterID identifies the
// account the issue is filed under.
func ToStored(issue models.Issue, reporterID string) models.StoredIssue {
	stored := models.StoredIssue{
		ID:           issue.ID,
		Title:        issue.Title,
		Description:  issue.Description,
		Category:     issue.Category,
		Status:       issue.Status,
		Severity:     issue.Severity,
		Location:     ToPoint(issue.Location),
		Images:       append([]string{}, issue.Images...),
		Anonymous:    issue.Anonymous,
		VoteCount:    issue.VoteCount,
		CommentCount: issue.CommentCount,
		Active:       true,
		CreatedAt:    issue.CreatedAt,
		UpdatedAt:    issue.UpdatedAt,
	}
	if !issue.Anonymous && issue.Reporter.Name != AnonymousName {
		ref := &models.ReporterRef{ID: reporterID, Name: issue.Reporter.Name}
		if issue.Reporter.Email != nil {
			ref.Email = *issue.Reporter.Email
		}
		stored.Reporter = ref
	}
	return stored
}

// WireIssue is an issue as it arrives over HTTP, before validation. Older
// servers send the id as _id.
type WireIssue struct {
	ID           string        `json:"id"`
	MongoID      string        `json:"_id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Category     string        `json:"category"`
	Status       string        `json:"status"`
	Severity     string        `json:"severity"`
	Location     *WireLocation `json:"location"`
	Images       []string      `json:"images"`
	Anonymous    bool          `json:"anonymous"`
	Reporter     *WireReporter `json:"reporter"`
	VoteCount    int           `json:"voteCount"`
	CommentCount int           `json:"commentCount"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

type WireLocation struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Address string   `json:"address"`
}

type WireReporter struct {
	Name  string  `json:"name"`
	Email *string `json:"email"`
}

// FromWire validates a wire issue and turns it into a typed issue. The
// reporter is re-anonymized regardless of what the server sent.
func FromWire(w WireIssue) (models.Issue, error) {
	id := w.ID
	if id == "" {
		id = w.MongoID
	}
	if id == "" {
		return models.Issue{}, fmt.Errorf("issue without id")
	}
	category, err := models.ParseCategory(w.Category)
	if err != nil {
		return models.Issue{}, fmt.Errorf("issue %s: %w", id, err)
	}
	status, err := models.ParseStatus(w.Status)
	if err != nil {
		return models.Issue{}, fmt.Errorf("issue %s: %w", id, err)
	}
	severity, err := models.ParseSeverity(w.Severity)
	if err != nil {
		return models.Issue{}, fmt.Errorf("issue %s: %w", id, err)
	}
	if w.Location == nil || w.Location.Lat == nil || w.Location.Lng == nil {
		return models.Issue{}, fmt.Errorf("issue %s: missing location", id)
	}
	loc := models.IssueLocation{Lat: *w.Location.Lat, Lng: *w.Location.Lng, Address: w.Location.Address}
	if err := loc.Coordinate().Validate(); err != nil {
		return models.Issue{}, fmt.Errorf("issue %s: %w", id, err)
	}

	var reporter models.Reporter
	if w.Anonymous || w.Reporter == nil {
		reporter = models.Reporter{Name: AnonymousName}
	} else {
		reporter = models.Reporter{Name: w.Reporter.Name, Email: w.Reporter.Email}
		if reporter.Name == "" {
			reporter.Name = AnonymousName
		}
	}

	images := w.Images
	if images == nil {
		images = []string{}
	}

	return models.Issue{
		ID:           id,
		Title:        w.Title,
		Description:  w.Description,
		Category:     category,
		Status:       status,
		Severity:     severity,
		Location:     loc,
		Images:       images,
		Anonymous:    w.Anonymous,
		Reporter:     reporter,
		VoteCount:    w.VoteCount,
		CommentCount: w.CommentCount,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}, nil
}
