package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type Status string

const (
	StatusReported   Status = "reported"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

var Statuses = []Status{StatusReported, StatusInProgress, StatusResolved, StatusClosed}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range Statuses {
		if st == v {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

type Category string

const (
	CategoryRoads        Category = "roads"
	CategoryLighting     Category = "lighting"
	CategoryWater        Category = "water"
	CategoryCleanliness  Category = "cleanliness"
	CategorySafety       Category = "safety"
	CategoryObstructions Category = "obstructions"
)

var Categories = []Category{
	CategoryRoads,
	CategoryLighting,
	CategoryWater,
	CategoryCleanliness,
	CategorySafety,
	CategoryObstructions,
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range Categories {
		if c == v {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity treats an empty string as medium, which is what the
// reporting form submits when the field is left alone.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return SeverityMedium, nil
	case SeverityLow:
		return SeverityLow, nil
	case SeverityMedium:
		return SeverityMedium, nil
	case SeverityHigh:
		return SeverityHigh, nil
	case SeverityCritical:
		return SeverityCritical, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", c.Lat)
	}
	if math.IsNaN(c.Lng) || math.IsInf(c.Lng, 0) || c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", c.Lng)
	}
	return nil
}

type LocationSource string

const (
	SourceDevice  LocationSource = "device"
	SourceManual  LocationSource = "manual"
	SourceDefault LocationSource = "default"
	SourceStored  LocationSource = "stored"
)

// Location is where the user is looking from.
type Location struct {
	Coordinate `yaml:",inline"`
	Address    string         `json:"address,omitempty" yaml:"address,omitempty"`
	Source     LocationSource `json:"source,omitempty" yaml:"-"`
	AcquiredAt time.Time      `json:"acquiredAt,omitempty" yaml:"-"`
}

type IssueLocation struct {
	Lat     float64 `json:"lat" yaml:"lat"`
	Lng     float64 `json:"lng" yaml:"lng"`
	Address string  `json:"address" yaml:"address"`
}

func (l IssueLocation) Coordinate() Coordinate {
	return Coordinate{Lat: l.Lat, Lng: l.Lng}
}

// Reporter is the client-visible reporter. Email is nil for anonymous issues.
type Reporter struct {
	Name  string  `json:"name" yaml:"name"`
	Email *string `json:"email" yaml:"email"`
}

type Issue struct {
	ID           string        `json:"id" yaml:"id"`
	Title        string        `json:"title" yaml:"title"`
	Description  string        `json:"description" yaml:"description"`
	Category     Category      `json:"category" yaml:"category"`
	Status       Status        `json:"status" yaml:"status"`
	Severity     Severity      `json:"severity" yaml:"severity"`
	Location     IssueLocation `json:"location" yaml:"location"`
	Images       []string      `json:"images" yaml:"images"`
	Anonymous    bool          `json:"anonymous" yaml:"anonymous"`
	Reporter     Reporter      `json:"reporter" yaml:"reporter"`
	VoteCount    int           `json:"voteCount" yaml:"voteCount"`
	CommentCount int           `json:"commentCount" yaml:"commentCount"`
	CreatedAt    time.Time     `json:"createdAt" yaml:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt" yaml:"updatedAt"`
}

// GeoPoint is the storage geometry. Coordinates are [lng, lat].
type GeoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
	Address     string     `json:"address,omitempty"`
}

type ReporterRef struct {
	ID    string
	Name  string
	Email string
}

// StoredIssue is the persisted form of an issue.
type StoredIssue struct {
	ID           string
	Title        string
	Description  string
	Category     Category
	Status       Status
	Severity     Severity
	Location     GeoPoint
	Images       []string
	Anonymous    bool
	Reporter     *ReporterRef
	VoteCount    int
	CommentCount int
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s *StoredIssue) Lng() float64 { return s.Location.Coordinates[0] }
func (s *StoredIssue) Lat() float64 { return s.Location.Coordinates[1] }
