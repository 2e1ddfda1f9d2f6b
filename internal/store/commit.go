package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"marketgrab/internal/series"
)

// Commit merges newly fetched bars into the stored dataset for one key.
// Bars are deduplicated by timestamp (last occurrence wins), merged with
// every existing file that overlaps or sits adjacent to the new range, and
// published with a temp-file write plus atomic rename, so no reader ever
// observes a partial file. Commits to the same key are serialized; different
// keys proceed independently.
func (s *Store) Commit(assetClass, symbol string, g series.Granularity, bars []series.Bar) error {
	merged := series.DedupeBars(bars)
	if len(merged) == 0 {
		return nil
	}

	lock := s.keyLock(assetClass, symbol, g)
	lock.Lock()
	defer lock.Unlock()

	newIv, _ := series.BarsInterval(merged)
	files, err := s.listFiles(assetClass, symbol, g)
	if err != nil {
		return err
	}

	// Pull in every stored file the new range touches so adjacent coverage
	// collapses into a single file. Existing rows go first: the incoming
	// bars win timestamp collisions.
	var absorb []rangeFile
	reach := newIv
	for _, f := range files {
		if f.empty {
			continue
		}
		if f.named.Touches(reach, g.Step()) {
			absorb = append(absorb, f)
			reach = reach.Union(f.named)
		}
	}
	var all []series.Bar
	for _, f := range absorb {
		existing, err := readBarsFile(f.path)
		if err != nil {
			return fmt.Errorf("read existing %s: %w", f.path, err)
		}
		all = append(all, existing...)
	}
	all = append(all, merged...)
	all = series.DedupeBars(all)

	outIv, _ := series.BarsInterval(all)
	dir := s.Dir(assetClass, symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	outPath := filepath.Join(dir, buildName(g, outIv, dataExt))
	if err := writeBarsFile(outPath, all); err != nil {
		return err
	}

	// Superseded inputs and any empty markers the new data disproves.
	for _, f := range absorb {
		if f.path == outPath {
			continue
		}
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			slog.Warn("superseded file not removed", "path", f.path, "error", err)
		}
	}
	for _, f := range files {
		if f.empty && f.named.Overlaps(outIv) {
			if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
				slog.Warn("stale empty marker not removed", "path", f.path, "error", err)
			}
		}
	}
	return nil
}

// MarkEmpty records that the upstream confirmed it has no data for the
// window, so later runs stop re-requesting it. No rows are synthesized.
func (s *Store) MarkEmpty(assetClass, symbol string, g series.Granularity, iv series.Interval) error {
	lock := s.keyLock(assetClass, symbol, g)
	lock.Lock()
	defer lock.Unlock()

	dir := s.Dir(assetClass, symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, buildName(g, iv, emptyExt))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(iv.String()+"\n"), 0o644); err != nil {
		return fmt.Errorf("write empty marker: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish empty marker: %w", err)
	}
	return nil
}

// writeBarsFile writes bars to path via a temp file and atomic rename.
// The temp file is removed on every failure path.
func writeBarsFile(path string, bars []series.Bar) (err error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	w := parquet.NewGenericWriter[series.Bar](f)
	if _, werr := w.Write(bars); werr != nil {
		return fmt.Errorf("write parquet rows: %w", werr)
	}
	if cerr := w.Close(); cerr != nil {
		return fmt.Errorf("finalize parquet: %w", cerr)
	}
	if serr := f.Sync(); serr != nil {
		return fmt.Errorf("sync temp file: %w", serr)
	}
	if cerr := f.Close(); cerr != nil {
		return fmt.Errorf("close temp file: %w", cerr)
	}
	if rerr := os.Rename(tmp, path); rerr != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish %s: %w", path, rerr)
	}
	return nil
}

// readBarsFile loads a dataset file written by writeBarsFile.
func readBarsFile(path string) ([]series.Bar, error) {
	bars, err := parquet.ReadFile[series.Bar](path)
	if err != nil {
		return nil, err
	}
	return series.DedupeBars(bars), nil
}

// ReadBars returns the merged, sorted rows stored for one key.
func (s *Store) ReadBars(assetClass, symbol string, g series.Granularity) ([]series.Bar, error) {
	files, err := s.listFiles(assetClass, symbol, g)
	if err != nil {
		return nil, err
	}
	var all []series.Bar
	for _, f := range files {
		if f.empty {
			continue
		}
		bars, err := readBarsFile(f.path)
		if err != nil {
			return nil, err
		}
		all = append(all, bars...)
	}
	return series.DedupeBars(all), nil
}
