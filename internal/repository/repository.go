package repository

import (
	"context"
	"errors"

	"github.com/mr1hm/civic-issues/internal/models"
	"github.com/mr1hm/civic-issues/internal/query"
)

var ErrNotFound = errors.New("issue not found")

type IssueRepository interface {
	Create(ctx context.Context, issue *models.StoredIssue) error
	GetByID(ctx context.Context, id string) (*models.StoredIssue, error)
	Update(ctx context.Context, issue *models.StoredIssue) error
	// Delete is a soft delete; the issue drops out of every active query.
	Delete(ctx context.Context, id string) error
	// Search returns one page of matches plus the total match count.
	Search(ctx context.Context, q query.Query) ([]models.StoredIssue, int, error)
	AddVote(ctx context.Context, issueID, voterID string) (int, error)
	RemoveVote(ctx context.Context, issueID, voterID string) (int, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}
