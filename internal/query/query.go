// Package query turns issue list parameters into a validated store query:
// filter predicates, a spherical containment region and a deterministic
// sort order.
package query

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/mr1hm/civic-issues/internal/geo"
	"github.com/mr1hm/civic-issues/internal/models"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Sort string

const (
	SortNewest        Sort = "newest"
	SortOldest        Sort = "oldest"
	SortMostVoted     Sort = "most_voted"
	SortMostCommented Sort = "most_commented"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid query: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Sphere is a spherical cap around Center. Center is stored longitude-first
// when handed to the store, matching the point geometry.
type Sphere struct {
	Center        models.Coordinate
	RadiusKm      float64
	RadiusRadians float64
}

// CenterLngLat is the center in storage order.
func (s Sphere) CenterLngLat() [2]float64 {
	return [2]float64{s.Center.Lng, s.Center.Lat}
}

func (s Sphere) Contains(c models.Coordinate) bool {
	return geo.CentralAngle(s.Center, c) <= s.RadiusRadians
}

// BoundingBox is the lat/lng rectangle enclosing the cap. HasLng is false
// when the cap reaches a pole or crosses the antimeridian.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
	HasLng         bool
}

func (s Sphere) BoundingBox() BoundingBox {
	d := s.RadiusRadians * 180 / math.Pi
	box := BoundingBox{MinLat: s.Center.Lat - d, MaxLat: s.Center.Lat + d}
	if box.MinLat <= -90 || box.MaxLat >= 90 {
		box.MinLat = math.Max(box.MinLat, -90)
		box.MaxLat = math.Min(box.MaxLat, 90)
		return box
	}
	latRad := s.Center.Lat * math.Pi / 180
	dLng := math.Asin(math.Sin(s.RadiusRadians)/math.Cos(latRad)) * 180 / math.Pi
	box.MinLng = s.Center.Lng - dLng
	box.MaxLng = s.Center.Lng + dLng
	box.HasLng = box.MinLng >= -180 && box.MaxLng <= 180
	return box
}

type Order struct {
	Column string
	Desc   bool
}

type Query struct {
	Status   models.Status
	Category models.Category
	Near     *Sphere
	Sort     Sort
	Page     int
	Limit    int
}

// Parse validates raw list parameters. Every invalid field is reported; no
// query is built unless all of them are valid.
func Parse(values url.Values) (Query, error) {
	verr := &ValidationError{}
	q := Query{Sort: SortNewest, Page: 1, Limit: DefaultLimit}

	latStr, lngStr := strings.TrimSpace(values.Get("lat")), strings.TrimSpace(values.Get("lng"))
	radiusStr := strings.TrimSpace(values.Get("radius"))

	var lat, lng float64
	hasCenter := latStr != "" || lngStr != ""
	if hasCenter {
		var err error
		if lat, err = strconv.ParseFloat(latStr, 64); err != nil || math.IsNaN(lat) || lat < -90 || lat > 90 {
			verr.add("lat", "must be a number between -90 and 90")
		}
		if lng, err = strconv.ParseFloat(lngStr, 64); err != nil || math.IsNaN(lng) || lng < -180 || lng > 180 {
			verr.add("lng", "must be a number between -180 and 180")
		}
	}

	radiusKm := models.DefaultRadiusKm
	if radiusStr != "" {
		r, err := strconv.ParseFloat(radiusStr, 64)
		if err != nil || !(r > 0) || math.IsInf(r, 0) {
			verr.add("radius", "must be a positive number of kilometers")
		} else {
			radiusKm = r
		}
	}

	if s, err := models.ParseFilterStatus(strings.TrimSpace(values.Get("status"))); err != nil {
		verr.add("status", "must be one of all, reported, in_progress, resolved, closed")
	} else {
		q.Status = s
	}
	if c, err := models.ParseFilterCategory(strings.TrimSpace(values.Get("category"))); err != nil {
		verr.add("category", "must be one of all, roads, lighting, water, cleanliness, safety, obstructions")
	} else {
		q.Category = c
	}

	if s := strings.TrimSpace(values.Get("sort")); s != "" {
		switch Sort(s) {
		case SortNewest, SortOldest, SortMostVoted, SortMostCommented:
			q.Sort = Sort(s)
		default:
			verr.add("sort", "must be one of newest, oldest, most_voted, most_commented")
		}
	}
	if p := strings.TrimSpace(values.Get("page")); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			verr.add("page", "must be a positive integer")
		} else {
			q.Page = n
		}
	}
	if l := strings.TrimSpace(values.Get("limit")); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > MaxLimit {
			verr.add("limit", "must be an integer between 1 and %d", MaxLimit)
		} else {
			q.Limit = n
		}
	}

	if len(verr.Fields) > 0 {
		return Query{}, verr
	}

	if hasCenter {
		q.Near = NewSphere(models.Coordinate{Lat: lat, Lng: lng}, radiusKm)
	}
	return q, nil
}

func NewSphere(center models.Coordinate, radiusKm float64) *Sphere {
	return &Sphere{
		Center:        center,
		RadiusKm:      radiusKm,
		RadiusRadians: geo.RadiusRadians(radiusKm),
	}
}

// Orders maps the sort option to columns. Every order ends on created_at
// and then id so pages never shuffle between requests.
func (q Query) Orders() []Order {
	switch q.Sort {
	case SortOldest:
		return []Order{{"created_at", false}, {"id", false}}
	case SortMostVoted:
		return []Order{{"vote_count", true}, {"created_at", true}, {"id", true}}
	case SortMostCommented:
		return []Order{{"comment_count", true}, {"created_at", true}, {"id", true}}
	default:
		return []Order{{"created_at", true}, {"id", true}}
	}
}

func (q Query) OrderBy() string {
	orders := q.Orders()
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts = append(parts, o.Column+" "+dir)
	}
	return strings.Join(parts, ", ")
}

// Where renders the predicates with ? placeholders. The containment region
// is rendered as its bounding box; callers finish with Sphere.Contains.
func (q Query) Where() (string, []any) {
	clauses := []string{"is_active = ?"}
	args := []any{true}

	if q.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, string(q.Category))
	}
	if q.Near != nil {
		box := q.Near.BoundingBox()
		clauses = append(clauses, "lat BETWEEN ? AND ?")
		args = append(args, box.MinLat, box.MaxLat)
		if box.HasLng {
			clauses = append(clauses, "lng BETWEEN ? AND ?")
			args = append(args, box.MinLng, box.MaxLng)
		}
	}
	return strings.Join(clauses, " AND "), args
}

func (q Query) Offset() int {
	return (q.Page - 1) * q.Limit
}

// Filters echoes the effective filters back to the caller.
func (q Query) Filters() map[string]any {
	f := map[string]any{
		"status":   statusOrAll(q.Status),
		"category": categoryOrAll(q.Category),
		"sort":     string(q.Sort),
	}
	if q.Near != nil {
		f["lat"] = q.Near.Center.Lat
		f["lng"] = q.Near.Center.Lng
		f["radius"] = q.Near.RadiusKm
	}
	return f
}

// Key is a canonical string for the query, used for caching.
func (q Query) Key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "s=%s&c=%s&o=%s&p=%d&l=%d", statusOrAll(q.Status), categoryOrAll(q.Category), q.Sort, q.Page, q.Limit)
	if q.Near != nil {
		fmt.Fprintf(&b, "&lat=%.6f&lng=%.6f&r=%.4f", q.Near.Center.Lat, q.Near.Center.Lng, q.Near.RadiusKm)
	}
	return b.String()
}

func statusOrAll(s models.Status) string {
	if s == "" {
		return models.FilterAll
	}
	return string(s)
}

func categoryOrAll(c models.Category) string {
	if c == "" {
		return models.FilterAll
	}
	return string(c)
}

type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	HasNext bool `json:"hasNext"`
	HasPrev bool `json:"hasPrev"`
}

func Paginate(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{
		Page:    page,
		Limit:   limit,
		Total:   total,
		Pages:   pages,
		HasNext: page < pages,
		HasPrev: page > 1,
	}
}
