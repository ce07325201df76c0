package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/mr1hm/civic-issues/internal/models"
)

// ClientConfig configures the civic-sync client.
type ClientConfig struct {
	APIURL         string
	GRPCHealthAddr string
	StatePath      string
	Token          string
	HTTPTimeout    time.Duration
	Location       LocationConfig
	Sync           SyncConfig
	Logging        LoggingConfig
}

type LocationConfig struct {
	Default   models.Location
	GeoIPDB   string
	GeoIPAddr string
	Timeout   time.Duration
	MaxAge    time.Duration
}

type SyncConfig struct {
	Debounce           time.Duration
	MaxRetries         int
	RetryBase          time.Duration
	ReprobeEnabled     bool
	ReprobeInterval    time.Duration
	ReprobeMaxInterval time.Duration
}

func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		APIURL:         getEnv("CIVIC_API_URL", "http://localhost:8080"),
		GRPCHealthAddr: getEnv("CIVIC_GRPC_HEALTH_ADDR", ""),
		StatePath:      getEnv("CIVIC_STATE_PATH", "./data/civic-sync.db"),
		Token:          getEnv("CIVIC_TOKEN", ""),
		HTTPTimeout:    getEnvDuration("HTTP_TIMEOUT", 15*time.Second),
		Location: LocationConfig{
			Default: models.Location{
				Coordinate: models.Coordinate{
					Lat: getEnvFloat("CIVIC_DEFAULT_LAT", 40.7128),
					Lng: getEnvFloat("CIVIC_DEFAULT_LNG", -74.0060),
				},
				Address: getEnv("CIVIC_DEFAULT_ADDRESS", "New York, NY"),
				Source:  models.SourceDefault,
			},
			GeoIPDB:   getEnv("CIVIC_GEOIP_DB", ""),
			GeoIPAddr: getEnv("CIVIC_GEOIP_IP", ""),
			Timeout:   getEnvDuration("GEOLOCATION_TIMEOUT", 10*time.Second),
			MaxAge:    getEnvDuration("GEOLOCATION_MAX_AGE", 5*time.Minute),
		},
		Sync: SyncConfig{
			Debounce:           getEnvDuration("SYNC_DEBOUNCE", 500*time.Millisecond),
			MaxRetries:         getEnvInt("SYNC_MAX_RETRIES", 3),
			RetryBase:          getEnvDuration("SYNC_RETRY_BASE", time.Second),
			ReprobeEnabled:     getEnvBool("SYNC_REPROBE_ENABLED", true),
			ReprobeInterval:    getEnvDuration("SYNC_REPROBE_INTERVAL", 30*time.Second),
			ReprobeMaxInterval: getEnvDuration("SYNC_REPROBE_MAX_INTERVAL", 5*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate is exported so flag overrides can be re-checked.
func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid API URL: %q", c.APIURL)
	}
	if err := c.Location.Default.Validate(); err != nil {
		return fmt.Errorf("invalid default location: %w", err)
	}
	if c.Location.Timeout <= 0 {
		return fmt.Errorf("geolocation timeout must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP timeout must be positive")
	}
	if c.Sync.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.Sync.RetryBase <= 0 {
		return fmt.Errorf("retry base must be positive")
	}
	if c.Sync.ReprobeEnabled {
		if c.Sync.ReprobeInterval <= 0 {
			return fmt.Errorf("reprobe interval must be positive")
		}
		if c.Sync.ReprobeMaxInterval < c.Sync.ReprobeInterval {
			return fmt.Errorf("reprobe max interval must be at least the reprobe interval")
		}
	}
	return validateLogging(c.Logging)
}
