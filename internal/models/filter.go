package models

import "fmt"

const (
	DefaultRadiusKm = 3.0
	FilterAll       = "all"
)

// FilterState is what the user has selected in the browse view. Status and
// Category are empty when "all" is selected.
type FilterState struct {
	Status   Status   `json:"status,omitempty"`
	Category Category `json:"category,omitempty"`
	RadiusKm float64  `json:"radiusKm"`
}

func DefaultFilter() FilterState {
	return FilterState{RadiusKm: DefaultRadiusKm}
}

func (f FilterState) StatusParam() string {
	if f.Status == "" {
		return FilterAll
	}
	return string(f.Status)
}

func (f FilterState) CategoryParam() string {
	if f.Category == "" {
		return FilterAll
	}
	return string(f.Category)
}

func (f FilterState) Validate() error {
	if !(f.RadiusKm > 0) {
		return fmt.Errorf("radius must be positive, got %v", f.RadiusKm)
	}
	if f.Status != "" {
		if _, err := ParseStatus(string(f.Status)); err != nil {
			return err
		}
	}
	if f.Category != "" {
		if _, err := ParseCategory(string(f.Category)); err != nil {
			return err
		}
	}
	return nil
}

// ParseFilterStatus accepts "all" (or empty) as no filter.
func ParseFilterStatus(s string) (Status, error) {
	if s == "" || s == FilterAll {
		return "", nil
	}
	return ParseStatus(s)
}

func ParseFilterCategory(s string) (Category, error) {
	if s == "" || s == FilterAll {
		return "", nil
	}
	return ParseCategory(s)
}

type EventType string

const (
	EventIssueCreated EventType = "issue.created"
	EventIssueUpdated EventType = "issue.updated"
	EventIssueDeleted EventType = "issue.deleted"
	EventIssueVoted   EventType = "issue.voted"
)

// IssueEvent is published whenever the issue store changes.
type IssueEvent struct {
	Type       EventType `json:"type"`
	Issue      Issue     `json:"issue"`
	OccurredAt int64     `json:"occurredAt"`
}
