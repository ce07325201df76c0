package query

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/civic-issues/internal/models"
)

func fieldsOf(t *testing.T, err error) []string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	out := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		out = append(out, f.Field)
	}
	return out
}

func TestParse_Defaults(t *testing.T) {
	q, err := Parse(url.Values{})
	require.NoError(t, err)

	assert.Equal(t, SortNewest, q.Sort)
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, DefaultLimit, q.Limit)
	assert.Nil(t, q.Near)
	assert.Empty(t, q.Status)
	assert.Empty(t, q.Category)
}

func TestParse_GeoQuery(t *testing.T) {
	q, err := Parse(url.Values{"lat": {"40.7128"}, "lng": {"-74.0060"}, "radius": {"3"}})
	require.NoError(t, err)
	require.NotNil(t, q.Near)

	assert.InDelta(t, 0.00047036, q.Near.RadiusRadians, 1e-8)
	assert.Equal(t, 3000/6378137.0, q.Near.RadiusRadians)
	assert.Equal(t, [2]float64{-74.0060, 40.7128}, q.Near.CenterLngLat())
}

func TestParse_DefaultRadius(t *testing.T) {
	q, err := Parse(url.Values{"lat": {"10"}, "lng": {"10"}})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRadiusKm, q.Near.RadiusKm)
}

func TestParse_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		values url.Values
		fields []string
	}{
		{"lat too high", url.Values{"lat": {"95"}, "lng": {"0"}}, []string{"lat"}},
		{"lng too low", url.Values{"lat": {"0"}, "lng": {"-200"}}, []string{"lng"}},
		{"lat not a number", url.Values{"lat": {"north"}, "lng": {"0"}}, []string{"lat"}},
		{"lng missing", url.Values{"lat": {"10"}}, []string{"lng"}},
		{"zero radius", url.Values{"lat": {"0"}, "lng": {"0"}, "radius": {"0"}}, []string{"radius"}},
		{"negative radius", url.Values{"radius": {"-1"}}, []string{"radius"}},
		{"status", url.Values{"status": {"open"}}, []string{"status"}},
		{"category", url.Values{"category": {"graffiti"}}, []string{"category"}},
		{"sort", url.Values{"sort": {"random"}}, []string{"sort"}},
		{"page", url.Values{"page": {"0"}}, []string{"page"}},
		{"limit", url.Values{"limit": {"1000"}}, []string{"limit"}},
		{"several", url.Values{"lat": {"95"}, "lng": {"500"}, "radius": {"-3"}}, []string{"lat", "lng", "radius"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.values)
			require.Error(t, err)
			assert.Equal(t, tt.fields, fieldsOf(t, err))
		})
	}
}

func TestParse_AllIsNoOp(t *testing.T) {
	q, err := Parse(url.Values{"status": {"all"}, "category": {"all"}})
	require.NoError(t, err)

	where, args := q.Where()
	assert.Equal(t, "is_active = ?", where)
	assert.Equal(t, []any{true}, args)
}

func TestWhere_ComposesPredicates(t *testing.T) {
	q, err := Parse(url.Values{
		"lat": {"40.7128"}, "lng": {"-74.0060"}, "radius": {"3"},
		"status": {"reported"}, "category": {"roads"},
	})
	require.NoError(t, err)

	where, args := q.Where()
	assert.Equal(t, "is_active = ? AND status = ? AND category = ? AND lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?", where)
	require.Len(t, args, 7)
	assert.Equal(t, "reported", args[1])
	assert.Equal(t, "roads", args[2])
	assert.Less(t, args[3].(float64), 40.7128)
	assert.Greater(t, args[4].(float64), 40.7128)
	assert.Less(t, args[5].(float64), -74.0060)
	assert.Greater(t, args[6].(float64), -74.0060)
}

func TestOrderBy(t *testing.T) {
	tests := map[Sort]string{
		SortNewest:        "created_at DESC, id DESC",
		SortOldest:        "created_at ASC, id ASC",
		SortMostVoted:     "vote_count DESC, created_at DESC, id DESC",
		SortMostCommented: "comment_count DESC, created_at DESC, id DESC",
	}
	for sort, want := range tests {
		assert.Equal(t, want, Query{Sort: sort}.OrderBy(), string(sort))
	}
}

func TestSphere_Contains(t *testing.T) {
	s := NewSphere(models.Coordinate{Lat: 40.7128, Lng: -74.0060}, 3)

	assert.True(t, s.Contains(models.Coordinate{Lat: 40.7130, Lng: -74.0055}))
	assert.False(t, s.Contains(models.Coordinate{Lat: 40.9, Lng: -74.3}))
}

func TestSphere_BoundingBoxContainsCap(t *testing.T) {
	s := NewSphere(models.Coordinate{Lat: 60, Lng: 10}, 50)
	box := s.BoundingBox()
	require.True(t, box.HasLng)

	// points just inside the cap along each axis must fall in the box
	for _, c := range []models.Coordinate{
		{Lat: 60.44, Lng: 10}, {Lat: 59.56, Lng: 10},
		{Lat: 60, Lng: 10.89}, {Lat: 60, Lng: 9.11},
	} {
		require.True(t, s.Contains(c), "%v should be inside the cap", c)
		assert.True(t, c.Lat >= box.MinLat && c.Lat <= box.MaxLat, "%v lat", c)
		assert.True(t, c.Lng >= box.MinLng && c.Lng <= box.MaxLng, "%v lng", c)
	}
}

func TestSphere_BoundingBoxEdges(t *testing.T) {
	polar := NewSphere(models.Coordinate{Lat: 89.99, Lng: 0}, 5).BoundingBox()
	assert.False(t, polar.HasLng)
	assert.Equal(t, 90.0, polar.MaxLat)

	dateline := NewSphere(models.Coordinate{Lat: 0, Lng: 179.99}, 5).BoundingBox()
	assert.False(t, dateline.HasLng)
}

func TestPaginate(t *testing.T) {
	assert.Equal(t, Pagination{Page: 1, Limit: 20, Total: 45, Pages: 3, HasNext: true, HasPrev: false}, Paginate(1, 20, 45))
	assert.Equal(t, Pagination{Page: 3, Limit: 20, Total: 45, Pages: 3, HasNext: false, HasPrev: true}, Paginate(3, 20, 45))
	assert.Equal(t, Pagination{Page: 1, Limit: 20, Total: 0, Pages: 0}, Paginate(1, 20, 0))
}

func TestKey_Canonical(t *testing.T) {
	a, err := Parse(url.Values{"lat": {"40.71280"}, "lng": {"-74.006"}, "status": {"all"}})
	require.NoError(t, err)
	b, err := Parse(url.Values{"lng": {"-74.0060"}, "lat": {"40.7128"}})
	require.NoError(t, err)
	assert.Equal(t, a.Key(), b.Key())
}
