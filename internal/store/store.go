// Package store is the range tracker and writer for the columnar dataset.
// Files live at <root>/<asset_class>/<symbol>/<granularity>_<start>_<end>.parquet
// and coverage is always re-derived from the files actually present, so the
// tracker can never drift out of sync with storage.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"marketgrab/internal/series"
)

const (
	dataExt   = ".parquet"
	emptyExt  = ".empty"
	dayLayout = "20060102"
)

// Store tracks and writes per-(instrument, granularity) datasets.
type Store struct {
	root         string
	emptyRecheck time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithEmptyRecheck makes confirmed-empty markers expire after d, so the
// window is requested again on a later run. Zero keeps markers forever.
func WithEmptyRecheck(d time.Duration) Option {
	return func(s *Store) { s.emptyRecheck = d }
}

// New creates a Store rooted at the given directory.
func New(root string, opts ...Option) *Store {
	s := &Store{root: root, locks: make(map[string]*sync.Mutex)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the dataset root directory.
func (s *Store) Root() string { return s.root }

// Dir returns the directory holding one instrument's files.
func (s *Store) Dir(assetClass, symbol string) string {
	return filepath.Join(s.root, assetClass, symbol)
}

// keyLock returns the mutex serializing commits for one
// (asset class, symbol, granularity) key.
func (s *Store) keyLock(assetClass, symbol string, g series.Granularity) *sync.Mutex {
	key := assetClass + "/" + symbol + "/" + string(g)
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// rangeFile is one stored file (data or empty marker) plus the interval its
// name declares.
type rangeFile struct {
	path  string
	named series.Interval
	empty bool
}

// listFiles returns the stored files for one key, data and markers both.
func (s *Store) listFiles(assetClass, symbol string, g series.Granularity) ([]rangeFile, error) {
	dir := s.Dir(assetClass, symbol)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []rangeFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if ext != dataExt && ext != emptyExt {
			continue
		}
		iv, ok := parseRangeName(strings.TrimSuffix(name, ext), g)
		if !ok {
			continue
		}
		out = append(out, rangeFile{
			path:  filepath.Join(dir, name),
			named: iv,
			empty: ext == emptyExt,
		})
	}
	return out, nil
}

// Coverage re-derives the covered intervals for one key from the files on
// disk. Data-file coverage comes from the actual row timestamps; filename
// ranges are only a discovery hint. Unexpired empty markers count as covered.
func (s *Store) Coverage(assetClass, symbol string, g series.Granularity) ([]series.Interval, error) {
	files, err := s.listFiles(assetClass, symbol, g)
	if err != nil {
		return nil, err
	}
	var covered []series.Interval
	now := time.Now()
	for _, f := range files {
		if f.empty {
			if s.markerExpired(f.path, now) {
				continue
			}
			covered = append(covered, f.named)
			continue
		}
		bars, err := readBarsFile(f.path)
		if err != nil {
			slog.Warn("unreadable dataset file skipped for coverage",
				"path", f.path, "error", err)
			continue
		}
		if iv, ok := series.BarsInterval(bars); ok {
			covered = append(covered, iv)
		}
	}
	return series.Normalize(covered, g.Step()), nil
}

// PlanFetch returns the sub-ranges of req not yet backed by stored data.
// An empty result means the request is already fully covered.
func (s *Store) PlanFetch(assetClass, symbol string, g series.Granularity, req series.Interval) ([]series.Interval, error) {
	covered, err := s.Coverage(assetClass, symbol, g)
	if err != nil {
		return nil, err
	}
	return series.Subtract(req, covered, g.Step()), nil
}

func (s *Store) markerExpired(path string, now time.Time) bool {
	if s.emptyRecheck <= 0 {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return now.Sub(info.ModTime()) > s.emptyRecheck
}

// buildName returns the canonical file name for a covered interval.
func buildName(g series.Granularity, iv series.Interval, ext string) string {
	return fmt.Sprintf("%s_%s_%s%s",
		g, iv.Start.UTC().Format(dayLayout), iv.End.UTC().Format(dayLayout), ext)
}

// parseRangeName parses "<granularity>_<YYYYMMDD>_<YYYYMMDD>" for one
// granularity; names for other granularities or with foreign shapes are
// rejected.
func parseRangeName(stem string, g series.Granularity) (series.Interval, bool) {
	parts := strings.Split(stem, "_")
	if len(parts) != 3 || parts[0] != string(g) {
		return series.Interval{}, false
	}
	start, err := time.ParseInLocation(dayLayout, parts[1], time.UTC)
	if err != nil {
		return series.Interval{}, false
	}
	end, err := time.ParseInLocation(dayLayout, parts[2], time.UTC)
	if err != nil {
		return series.Interval{}, false
	}
	return series.Interval{Start: start, End: end}, true
}
