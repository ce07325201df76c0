package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/civic-issues/internal/models"
)

func ptr[T any](v T) *T { return &v }

func TestPointRoundTrip(t *testing.T) {
	loc := models.IssueLocation{Lat: 40.7128, Lng: -74.0060, Address: "City Hall"}

	p := ToPoint(loc)
	assert.Equal(t, "Point", p.Type)
	assert.Equal(t, [2]float64{-74.0060, 40.7128}, p.Coordinates, "longitude goes first")

	assert.Equal(t, loc, FromPoint(p))
}

func TestReporter_Anonymization(t *testing.T) {
	ref := &models.ReporterRef{ID: "u1", Name: "Jane", Email: "jane@example.com"}

	anon := Reporter(true, ref)
	assert.Equal(t, AnonymousName, anon.Name)
	assert.Nil(t, anon.Email)

	missing := Reporter(false, nil)
	assert.Equal(t, AnonymousName, missing.Name)
	assert.Nil(t, missing.Email)

	named := Reporter(false, ref)
	assert.Equal(t, "Jane", named.Name)
	require.NotNil(t, named.Email)
	assert.Equal(t, "jane@example.com", *named.Email)
}

func TestToClient(t *testing.T) {
	now := time.Now()
	stored := models.StoredIssue{
		ID:        "i1",
		Title:     "Pothole",
		Category:  models.CategoryRoads,
		Status:    models.StatusReported,
		Severity:  models.SeverityHigh,
		Location:  models.GeoPoint{Type: PointType, Coordinates: [2]float64{-74.0, 40.7}, Address: "Main St"},
		Anonymous: true,
		Reporter:  &models.ReporterRef{Name: "Jane", Email: "jane@example.com"},
		VoteCount: 4,
		CreatedAt: now,
	}

	issue := ToClient(&stored)
	assert.Equal(t, 40.7, issue.Location.Lat)
	assert.Equal(t, -74.0, issue.Location.Lng)
	assert.Equal(t, "Main St", issue.Location.Address)
	assert.Equal(t, models.Reporter{Name: AnonymousName}, issue.Reporter)
	assert.NotNil(t, issue.Images)
	assert.Equal(t, 4, issue.VoteCount)
}

func TestToStored(t *testing.T) {
	issue := models.Issue{
		ID:       "demo-1",
		Title:    "Pothole",
		Category: models.CategoryRoads,
		Status:   models.StatusReported,
		Severity: models.SeverityHigh,
		Location: models.IssueLocation{Lat: 40.7, Lng: -74.0, Address: "Main St"},
		Reporter: models.Reporter{Name: "Jane", Email: ptr("jane@example.com")},
	}

	stored := ToStored(issue, "demo")
	assert.True(t, stored.Active)
	assert.Equal(t, [2]float64{-74.0, 40.7}, stored.Location.Coordinates)
	require.NotNil(t, stored.Reporter)
	assert.Equal(t, models.ReporterRef{ID: "demo", Name: "Jane", Email: "jane@example.com"}, *stored.Reporter)
	assert.Equal(t, issue.Reporter, ToClient(&stored).Reporter)

	issue.Anonymous = true
	assert.Nil(t, ToStored(issue, "demo").Reporter)
}

func TestFromWire(t *testing.T) {
	w := WireIssue{
		MongoID:   "abc",
		Title:     "Broken light",
		Category:  "lighting",
		Status:    "in_progress",
		Location:  &WireLocation{Lat: ptr(40.7), Lng: ptr(-74.0)},
		Anonymous: true,
		Reporter:  &WireReporter{Name: "Leaky", Email: ptr("leak@example.com")},
	}

	issue, err := FromWire(w)
	require.NoError(t, err)
	assert.Equal(t, "abc", issue.ID)
	assert.Equal(t, models.SeverityMedium, issue.Severity)
	assert.Equal(t, AnonymousName, issue.Reporter.Name)
	assert.Nil(t, issue.Reporter.Email)
}

func TestFromWire_Rejects(t *testing.T) {
	valid := func() WireIssue {
		return WireIssue{
			ID:       "x",
			Category: "roads",
			Status:   "reported",
			Location: &WireLocation{Lat: ptr(1.0), Lng: ptr(2.0)},
		}
	}

	tests := []struct {
		name   string
		mutate func(*WireIssue)
	}{
		{"no id", func(w *WireIssue) { w.ID = "" }},
		{"bad category", func(w *WireIssue) { w.Category = "graffiti" }},
		{"bad status", func(w *WireIssue) { w.Status = "open" }},
		{"bad severity", func(w *WireIssue) { w.Severity = "urgent" }},
		{"no location", func(w *WireIssue) { w.Location = nil }},
		{"no lat", func(w *WireIssue) { w.Location.Lat = nil }},
		{"lat out of range", func(w *WireIssue) { w.Location.Lat = ptr(95.0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := valid()
			tt.mutate(&w)
			_, err := FromWire(w)
			assert.Error(t, err)
		})
	}
}
