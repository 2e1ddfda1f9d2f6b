// Package catalog supplies the instrument universe. The pipeline only
// consumes identifiers; catalog acquisition, caching, and staleness are the
// catalog's own concern.
package catalog

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"marketgrab/internal/source"
)

// Catalog yields the instruments to download for an asset class.
type Catalog interface {
	Instruments(ctx context.Context, assetClass string) ([]string, error)
}

// FileCatalog reads a symbol list: one symbol per line, blank lines and
// `#` comments ignored.
type FileCatalog struct {
	Path            string
	IncludePrefixes []string
	ExcludePrefixes []string
}

// Instruments loads and filters the symbol list.
func (c *FileCatalog) Instruments(ctx context.Context, assetClass string) ([]string, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("open symbol list: %w", err)
	}
	defer f.Close()

	var symbols []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !c.keep(line) {
			continue
		}
		symbols = append(symbols, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read symbol list: %w", err)
	}
	return symbols, nil
}

func (c *FileCatalog) keep(symbol string) bool {
	for _, p := range c.ExcludePrefixes {
		if p != "" && strings.HasPrefix(symbol, p) {
			return false
		}
	}
	if len(c.IncludePrefixes) == 0 {
		return true
	}
	for _, p := range c.IncludePrefixes {
		if p != "" && strings.HasPrefix(symbol, p) {
			return true
		}
	}
	return false
}

// SourceCatalog adapts a provider's own symbol listing to the Catalog
// interface.
type SourceCatalog struct {
	Source source.DataSource
}

// Instruments lists symbols via the provider.
func (c *SourceCatalog) Instruments(ctx context.Context, assetClass string) ([]string, error) {
	infos, err := c.Source.ListSymbols(ctx, assetClass)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(infos))
	for _, info := range infos {
		symbols = append(symbols, info.Symbol)
	}
	return symbols, nil
}
