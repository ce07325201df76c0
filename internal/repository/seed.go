package repository

import (
	"context"
	"fmt"

	"github.com/mr1hm/civic-issues/internal/format"
	"github.com/mr1hm/civic-issues/internal/models"
)

// SeedReporterID owns every seeded issue that names a reporter.
const SeedReporterID = "seed"

// Seed loads issues into an empty store. It does nothing, and returns 0,
// when the store already holds issues.
func Seed(ctx context.Context, repo IssueRepository, issues []models.Issue) (int, error) {
	n, err := repo.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	for _, issue := range issues {
		stored := format.ToStored(issue, SeedReporterID)
		if err := repo.Create(ctx, &stored); err != nil {
			return 0, fmt.Errorf("error seeding issue %s: %w", issue.ID, err)
		}
	}
	return len(issues), nil
}
