package clientstate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/civic-issues/internal/geo"
	"github.com/mr1hm/civic-issues/internal/models"
)

var _ geo.LocationStore = (*Store)(nil)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLocationRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	loc, err := s.LoadLocation(ctx)
	require.NoError(t, err)
	assert.Nil(t, loc)

	acquired := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveLocation(ctx, models.Location{
		Coordinate: models.Coordinate{Lat: 40.7128, Lng: -74.006},
		Address:    "New York, NY",
		Source:     models.SourceDevice,
		AcquiredAt: acquired,
	}))

	loc, err = s.LoadLocation(ctx)
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, 40.7128, loc.Lat)
	assert.Equal(t, "New York, NY", loc.Address)
	assert.Equal(t, models.SourceStored, loc.Source)
	assert.True(t, acquired.Equal(loc.AcquiredAt))
}

func TestSaveLocationOverwrites(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.SaveLocation(ctx, models.Location{Coordinate: models.Coordinate{Lat: 1, Lng: 1}}))
	require.NoError(t, s.SaveLocation(ctx, models.Location{Coordinate: models.Coordinate{Lat: 2, Lng: 2}}))

	loc, err := s.LoadLocation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, loc.Lat)
}

func TestToken(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	token, err := s.LoadToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, s.SaveToken(ctx, "abc.def.ghi"))
	token, err = s.LoadToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)
}

func TestFilter(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	f, err := s.LoadFilter(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultFilter(), f)

	want := models.FilterState{Status: models.StatusResolved, Category: models.CategoryWater, RadiusKm: 5}
	require.NoError(t, s.SaveFilter(ctx, want))
	f, err = s.LoadFilter(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, f)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveToken(ctx, "tok"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	token, err := s.LoadToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
}

func TestLocationServiceUsesStore(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	svc := geo.NewLocationService(geo.DefaultServiceConfig(), geo.DeniedLocator{}, s)
	got := svc.AcquireLocation(ctx)
	assert.Equal(t, models.SourceDefault, got.Source)

	restored := geo.NewLocationService(geo.DefaultServiceConfig(), nil, s)
	loc, err := restored.LastKnown(ctx)
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, got.Lat, loc.Lat)
}
