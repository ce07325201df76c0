package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/civic-issues/internal/models"
)

var (
	ErrPermissionDenied = errors.New("geolocation permission denied")
	ErrUnsupported      = errors.New("geolocation unsupported")
)

type Permission string

const (
	PermissionPrompt  Permission = "prompt"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Geolocator asks the host for the device position.
type Geolocator interface {
	Locate(ctx context.Context) (models.Location, error)
}

// LocationStore persists the last known location across sessions.
type LocationStore interface {
	SaveLocation(ctx context.Context, loc models.Location) error
	LoadLocation(ctx context.Context) (*models.Location, error)
}

type ServiceConfig struct {
	Default models.Location
	Timeout time.Duration
	MaxAge  time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Default: models.Location{
			Coordinate: models.Coordinate{Lat: 40.7128, Lng: -74.0060},
			Address:    "New York, NY",
		},
		Timeout: 10 * time.Second,
		MaxAge:  5 * time.Minute,
	}
}

type LocationService struct {
	cfg     ServiceConfig
	locator Geolocator
	store   LocationStore
	now     func() time.Time

	mu         sync.Mutex
	permission Permission
	current    *models.Location
}

func NewLocationService(cfg ServiceConfig, locator Geolocator, store LocationStore) *LocationService {
	if locator == nil {
		locator = UnsupportedLocator{}
	}
	cfg.Default.Source = models.SourceDefault
	return &LocationService{
		cfg:        cfg,
		locator:    locator,
		store:      store,
		now:        time.Now,
		permission: PermissionPrompt,
	}
}

func (s *LocationService) Permission() Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

// Regrant is called when the host platform tells us the user allowed
// location access again.
func (s *LocationService) Regrant() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permission == PermissionDenied {
		s.permission = PermissionPrompt
	}
}

func (s *LocationService) Current() *models.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	loc := *s.current
	return &loc
}

// LastKnown restores the persisted location, if any.
func (s *LocationService) LastKnown(ctx context.Context) (*models.Location, error) {
	if s.store == nil {
		return nil, nil
	}
	loc, err := s.store.LoadLocation(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading last location: %w", err)
	}
	if loc == nil {
		return nil, nil
	}
	if err := loc.Validate(); err != nil {
		slog.Warn("ignoring invalid stored location", "error", err)
		return nil, nil
	}
	s.mu.Lock()
	if s.current == nil {
		cp := *loc
		s.current = &cp
	}
	s.mu.Unlock()
	return loc, nil
}

// AcquireLocation resolves the user's position. It never fails: any problem
// getting a device fix resolves to the configured default location.
func (s *LocationService) AcquireLocation(ctx context.Context) models.Location {
	s.mu.Lock()
	cached := s.current
	perm := s.permission
	s.mu.Unlock()

	if cached != nil && cached.Source == models.SourceDevice && s.now().Sub(cached.AcquiredAt) <= s.cfg.MaxAge {
		return *cached
	}

	if perm == PermissionDenied {
		return s.resolve(ctx, s.cfg.Default, PermissionDenied)
	}

	lctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	loc, err := s.locator.Locate(lctx)
	switch {
	case errors.Is(err, ErrPermissionDenied):
		slog.Info("location permission denied, using default")
		return s.resolve(ctx, s.cfg.Default, PermissionDenied)
	case err != nil:
		slog.Warn("location unavailable, using default", "error", err)
		return s.resolve(ctx, s.cfg.Default, PermissionPrompt)
	}

	if err := loc.Validate(); err != nil {
		slog.Warn("device returned invalid coordinates, using default", "error", err)
		return s.resolve(ctx, s.cfg.Default, PermissionPrompt)
	}

	loc.Source = models.SourceDevice
	loc.AcquiredAt = s.now()
	return s.resolve(ctx, loc, PermissionGranted)
}

// SetManualLocation overrides the position with one the user picked.
func (s *LocationService) SetManualLocation(ctx context.Context, loc models.Location) (models.Location, error) {
	if err := loc.Validate(); err != nil {
		return models.Location{}, err
	}
	loc.Source = models.SourceManual
	loc.AcquiredAt = s.now()

	s.mu.Lock()
	cp := loc
	s.current = &cp
	s.mu.Unlock()

	s.persist(ctx, loc)
	return loc, nil
}

func (s *LocationService) resolve(ctx context.Context, loc models.Location, perm Permission) models.Location {
	if loc.AcquiredAt.IsZero() {
		loc.AcquiredAt = s.now()
	}
	s.mu.Lock()
	s.permission = perm
	cp := loc
	s.current = &cp
	s.mu.Unlock()

	s.persist(ctx, loc)
	return loc
}

func (s *LocationService) persist(ctx context.Context, loc models.Location) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveLocation(ctx, loc); err != nil {
		slog.Warn("failed to persist location", "error", err)
	}
}

// StaticLocator reports a fixed device position.
type StaticLocator struct {
	Location models.Location
}

func (l StaticLocator) Locate(ctx context.Context) (models.Location, error) {
	if err := ctx.Err(); err != nil {
		return models.Location{}, err
	}
	return l.Location, nil
}

type UnsupportedLocator struct{}

func (UnsupportedLocator) Locate(context.Context) (models.Location, error) {
	return models.Location{}, ErrUnsupported
}

// DeniedLocator models a host that refuses location access.
type DeniedLocator struct{}

func (DeniedLocator) Locate(context.Context) (models.Location, error) {
	return models.Location{}, ErrPermissionDenied
}
