package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"gatewarden/internal/domain"
)

// Thresholds is the similarity-score configuration the Match Evaluator reads
// on every request. The struct is immutable once loaded; updates swap the
// whole snapshot atomically so matchers never observe a half-applied reload.
type Thresholds struct {
	// Visitor is the minimum score for a visitor credential match.
	Visitor float64 `yaml:"visitor"`

	// Watchlist holds the default watchlist threshold plus per-severity
	// overrides; high-severity subjects typically match at a lower bar.
	Watchlist WatchlistThresholds `yaml:"watchlist"`

	// HighConfidence labels matches at or above this score on the entry log.
	HighConfidence float64 `yaml:"high_confidence"`
}

// WatchlistThresholds configures watchlist matching per severity.
type WatchlistThresholds struct {
	Default  float64                     `yaml:"default"`
	Severity map[domain.Severity]float64 `yaml:"severity"`
}

// ForSeverity returns the matching threshold for a severity, falling back to
// the default when no override is configured.
func (w WatchlistThresholds) ForSeverity(s domain.Severity) float64 {
	if t, ok := w.Severity[s]; ok {
		return t
	}
	return w.Default
}

// Validate rejects threshold files the evaluator cannot serve with.
func (t Thresholds) Validate() error {
	check := func(name string, v float64) error {
		if v <= 0 || v > 1 {
			return fmt.Errorf("invalid config: threshold %q must be in (0, 1], got %v", name, v)
		}
		return nil
	}
	if err := check("visitor", t.Visitor); err != nil {
		return err
	}
	if err := check("watchlist.default", t.Watchlist.Default); err != nil {
		return err
	}
	for sev, v := range t.Watchlist.Severity {
		if err := check("watchlist.severity."+string(sev), v); err != nil {
			return err
		}
	}
	if err := check("high_confidence", t.HighConfidence); err != nil {
		return err
	}
	return nil
}

// DefaultThresholds mirrors the tuned production values for a cosine-style
// similarity score.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Visitor: 0.35,
		Watchlist: WatchlistThresholds{
			Default: 0.40,
			Severity: map[domain.Severity]float64{
				domain.SeverityCritical: 0.30,
				domain.SeverityHigh:     0.35,
			},
		},
		HighConfidence: 0.55,
	}
}

// ThresholdSource hands out the current threshold snapshot. Matchers call
// Current on every evaluation; Watch replaces the snapshot when the backing
// file changes.
type ThresholdSource struct {
	current atomic.Pointer[Thresholds]
	path    string
	logger  *slog.Logger
}

// LoadThresholds reads and validates the threshold file, falling back to
// defaults when the path does not exist.
func LoadThresholds(path string, logger *slog.Logger) (*ThresholdSource, error) {
	src := &ThresholdSource{path: path, logger: logger}

	t, err := readThresholdFile(path)
	if os.IsNotExist(err) {
		logger.Warn("threshold file missing, using defaults", "path", path)
		d := DefaultThresholds()
		src.current.Store(&d)
		return src, nil
	}
	if err != nil {
		return nil, err
	}
	src.current.Store(t)
	return src, nil
}

// Current returns the active threshold snapshot. The returned pointer must
// be treated as read-only.
func (s *ThresholdSource) Current() Thresholds {
	return *s.current.Load()
}

// Watch reloads the threshold file whenever it changes, swapping the active
// snapshot atomically. Invalid files are logged and skipped; the previous
// snapshot stays in force. Blocks until ctx is done.
func (s *ThresholdSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create threshold watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.path); err != nil {
		return fmt.Errorf("watch threshold file: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			t, err := readThresholdFile(s.path)
			if err != nil {
				s.logger.ErrorContext(ctx, "threshold reload rejected",
					"path", s.path,
					"error", err,
				)
				continue
			}
			s.current.Store(t)
			s.logger.InfoContext(ctx, "thresholds reloaded",
				"path", s.path,
				"visitor", t.Visitor,
				"watchlist_default", t.Watchlist.Default,
			)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.ErrorContext(ctx, "threshold watcher error", "error", err)
		}
	}
}

func readThresholdFile(path string) (*Thresholds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t Thresholds
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse thresholds: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}
