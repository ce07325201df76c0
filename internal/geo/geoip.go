package geo

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"

	"github.com/mr1hm/civic-issues/internal/models"
)

// GeoIPLocator approximates the device position from an IP address using a
// MaxMind City database. It is the CLI's stand-in for a GPS fix.
type GeoIPLocator struct {
	db *geoip2.Reader
	ip net.IP
}

func NewGeoIPLocator(dbPath, ip string) (*GeoIPLocator, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return nil, fmt.Errorf("invalid ip address %q", ip)
	}
	db, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening geoip database: %w", err)
	}
	return &GeoIPLocator{db: db, ip: parsed}, nil
}

func (l *GeoIPLocator) Locate(ctx context.Context) (models.Location, error) {
	if err := ctx.Err(); err != nil {
		return models.Location{}, err
	}
	rec, err := l.db.City(l.ip)
	if err != nil {
		return models.Location{}, fmt.Errorf("geoip lookup failed: %w", err)
	}
	if rec.Location.Latitude == 0 && rec.Location.Longitude == 0 {
		return models.Location{}, ErrUnsupported
	}

	parts := make([]string, 0, 2)
	if name := rec.City.Names["en"]; name != "" {
		parts = append(parts, name)
	}
	if name := rec.Country.Names["en"]; name != "" {
		parts = append(parts, name)
	}

	return models.Location{
		Coordinate: models.Coordinate{
			Lat: rec.Location.Latitude,
			Lng: rec.Location.Longitude,
		},
		Address: strings.Join(parts, ", "),
	}, nil
}

func (l *GeoIPLocator) Close() error {
	return l.db.Close()
}
