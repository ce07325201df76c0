// Package main provides civic-sync, a terminal client that browses nearby
// civic issues and keeps working on demo data when the server is away.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mr1hm/civic-issues/internal/client"
	"github.com/mr1hm/civic-issues/internal/clientstate"
	"github.com/mr1hm/civic-issues/internal/config"
	"github.com/mr1hm/civic-issues/internal/geo"
	internalgrpc "github.com/mr1hm/civic-issues/internal/grpc"
	"github.com/mr1hm/civic-issues/internal/health"
	"github.com/mr1hm/civic-issues/internal/logging"
	"github.com/mr1hm/civic-issues/internal/models"
	"github.com/mr1hm/civic-issues/internal/syncer"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var flags struct {
	apiURL   string
	status   string
	category string
	radius   float64
	lat      float64
	lng      float64
	address  string
}

var rootCmd = &cobra.Command{
	Use:   "civic-sync",
	Short: "Browse and report civic issues near you",
	Long: `civic-sync lists civic issues around your location from a civic-issues
server. When the server cannot be reached it shows a built-in demo dataset
and keeps checking until the server is back.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.apiURL, "api-url", "", "server base URL (overrides CIVIC_API_URL)")
	pf.Float64Var(&flags.lat, "lat", 0, "look from this latitude instead of the device location")
	pf.Float64Var(&flags.lng, "lng", 0, "look from this longitude instead of the device location")
	pf.StringVar(&flags.address, "address", "", "address for --lat/--lng")

	rootCmd.AddCommand(listCmd, watchCmd, reportCmd, distanceCmd, voteCmd, loginCmd)
}

func addFilterFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&flags.status, "status", "", "status filter: all, reported, in_progress, resolved, closed")
	f.StringVar(&flags.category, "category", "", "category filter: all, roads, lighting, water, cleanliness, safety, obstructions")
	f.Float64Var(&flags.radius, "radius", 0, "search radius in km")
}

// app is everything a command needs, wired from config.
type app struct {
	cfg       *config.ClientConfig
	state     *clientstate.Store
	api       *client.Client
	locations *geo.LocationService
	hasDevice bool
	closers   []io.Closer
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.apiURL != "" {
		cfg.APIURL = flags.apiURL
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	// stdout carries the issue list
	logging.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	if cfg.StatePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	state, err := clientstate.Open(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, state: state, closers: []io.Closer{state}}

	token := cfg.Token
	if token == "" {
		if token, err = state.LoadToken(ctx); err != nil {
			slog.Warn("failed to load saved token", "error", err)
		}
	}
	a.api = client.New(cfg.APIURL, cfg.HTTPTimeout, token)

	var device geo.Geolocator = geo.UnsupportedLocator{}
	if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
		fixed := models.Location{
			Coordinate: models.Coordinate{Lat: flags.lat, Lng: flags.lng},
			Address:    flags.address,
		}
		if err := fixed.Validate(); err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid --lat/--lng: %w", err)
		}
		device = geo.StaticLocator{Location: fixed}
		a.hasDevice = true
	} else if cfg.Location.GeoIPDB != "" {
		l, err := geo.NewGeoIPLocator(cfg.Location.GeoIPDB, cfg.Location.GeoIPAddr)
		if err != nil {
			slog.Warn("geoip locator unavailable, using default location", "error", err)
		} else {
			device = l
			a.hasDevice = true
			a.closers = append(a.closers, l)
		}
	}
	a.locations = geo.NewLocationService(geo.ServiceConfig{
		Default: cfg.Location.Default,
		Timeout: cfg.Location.Timeout,
		MaxAge:  cfg.Location.MaxAge,
	}, device, state)
	if _, err := a.locations.LastKnown(ctx); err != nil {
		slog.Warn("failed to restore last location", "error", err)
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}

func (a *app) probe() health.Probe {
	httpProbe := health.NewHTTPProbe(a.api.BaseURL(), a.cfg.HTTPTimeout)
	if a.cfg.GRPCHealthAddr == "" {
		return httpProbe
	}
	grpcProbe, err := health.NewGRPCProbe(a.cfg.GRPCHealthAddr, internalgrpc.ServiceName, a.cfg.HTTPTimeout)
	if err != nil {
		slog.Warn("gRPC health probe unavailable", "addr", a.cfg.GRPCHealthAddr, "error", err)
		return httpProbe
	}
	a.closers = append(a.closers, grpcProbe)
	return health.First{grpcProbe, httpProbe}
}

func (a *app) savedFilter(ctx context.Context) models.FilterState {
	f, err := a.state.LoadFilter(ctx)
	if err != nil {
		slog.Warn("failed to load saved filter", "error", err)
	}
	return f
}

// filter starts from the saved filter and applies the filter flags.
func (a *app) filter(ctx context.Context, cmd *cobra.Command) (models.FilterState, error) {
	f := a.savedFilter(ctx)
	var err error
	if cmd.Flags().Changed("status") {
		if f.Status, err = models.ParseFilterStatus(flags.status); err != nil {
			return f, err
		}
	}
	if cmd.Flags().Changed("category") {
		if f.Category, err = models.ParseFilterCategory(flags.category); err != nil {
			return f, err
		}
	}
	if cmd.Flags().Changed("radius") {
		f.RadiusKm = flags.radius
	}
	return f, f.Validate()
}

// locator keeps a manual location when one is set. Without a device
// locator a location saved by an earlier session beats the default.
type locator struct {
	svc       *geo.LocationService
	hasDevice bool
}

func (l locator) AcquireLocation(ctx context.Context) models.Location {
	if cur := l.svc.Current(); cur != nil {
		if cur.Source == models.SourceManual || (cur.Source == models.SourceStored && !l.hasDevice) {
			return *cur
		}
	}
	return l.svc.AcquireLocation(ctx)
}

func (a *app) controller(f models.FilterState, notify syncer.Notifier) *syncer.Controller {
	return syncer.NewController(syncer.Config{
		Debounce:           a.cfg.Sync.Debounce,
		MaxRetries:         a.cfg.Sync.MaxRetries,
		RetryBase:          a.cfg.Sync.RetryBase,
		ReprobeEnabled:     a.cfg.Sync.ReprobeEnabled,
		ReprobeInterval:    a.cfg.Sync.ReprobeInterval,
		ReprobeMaxInterval: a.cfg.Sync.ReprobeMaxInterval,
	}, syncer.Deps{
		API:      a.api,
		Probe:    a.probe(),
		Locator:  locator{svc: a.locations, hasDevice: a.hasDevice},
		Notifier: notify,
		Filters:  a.state,
	}, f)
}
