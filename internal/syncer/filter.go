package syncer

import (
	"github.com/mr1hm/civic-issues/internal/fixtures"
	"github.com/mr1hm/civic-issues/internal/geo"
	"github.com/mr1hm/civic-issues/internal/models"
)

// FilterIssues applies status, category and radius locally. Without a
// center the radius is not applied.
func FilterIssues(issues []models.Issue, f models.FilterState, center *models.Coordinate) []models.Issue {
	out := make([]models.Issue, 0, len(issues))
	for _, issue := range issues {
		if f.Status != "" && issue.Status != f.Status {
			continue
		}
		if f.Category != "" && issue.Category != f.Category {
			continue
		}
		if center != nil {
			point := issue.Location.Coordinate()
			if !geo.IsWithinRadius(&point, center, f.RadiusKm) {
				continue
			}
		}
		out = append(out, fixtures.Clone(issue))
	}
	return out
}
