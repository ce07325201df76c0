// Package locwatch turns edits of a small YAML file into manual location
// overrides:
//
//	lat: 40.7128
//	lng: -74.0060
//	address: City Hall, New York
package locwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/mr1hm/civic-issues/internal/models"
)

// ErrIncomplete is returned for a file missing lat or lng, which is also
// what a half-written file looks like.
var ErrIncomplete = errors.New("location file needs both lat and lng")

type locationFile struct {
	Lat     *float64 `yaml:"lat"`
	Lng     *float64 `yaml:"lng"`
	Address string   `yaml:"address"`
}

// ApplyFunc receives every valid location read from the file.
type ApplyFunc func(ctx context.Context, loc models.Location) error

type Watcher struct {
	path    string
	apply   ApplyFunc
	watcher *fsnotify.Watcher
}

// New watches the file's directory so editors that replace the file on
// save are still seen.
func New(path string, apply ApplyFunc) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("error resolving %s: %w", path, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("error creating watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("error watching %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{path: abs, apply: apply, watcher: fsw}, nil
}

// Load reads and validates a location file.
func Load(path string) (models.Location, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Location{}, err
	}
	var f locationFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return models.Location{}, fmt.Errorf("error parsing %s: %w", path, err)
	}
	if f.Lat == nil || f.Lng == nil {
		return models.Location{}, fmt.Errorf("%s: %w", path, ErrIncomplete)
	}
	loc := models.Location{
		Coordinate: models.Coordinate{Lat: *f.Lat, Lng: *f.Lng},
		Address:    f.Address,
	}
	if err := loc.Validate(); err != nil {
		return models.Location{}, fmt.Errorf("invalid location in %s: %w", path, err)
	}
	loc.Source = models.SourceManual
	return loc, nil
}

// Run applies the current file, if any, then every change until ctx is done.
// It closes the underlying watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if _, err := os.Stat(w.path); err == nil {
		w.reload(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.reload(ctx)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("location file watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	loc, err := Load(w.path)
	if err != nil {
		// editors often truncate before writing
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, ErrIncomplete) {
			slog.Warn("ignoring location file", "path", w.path, "error", err)
		}
		return
	}
	slog.Info("location file changed", "lat", loc.Lat, "lng", loc.Lng, "address", loc.Address)
	if err := w.apply(ctx, loc); err != nil {
		slog.Warn("failed to apply location", "error", err)
	}
}
