// Package source defines the boundary between the download pipeline and a
// concrete market-data provider. Raw provider shapes never cross this
// boundary: every fetch resolves to a FetchResult or a classified FetchError.
package source

import (
	"context"

	"marketgrab/internal/series"
)

// FetchRequest describes one window of history to retrieve.
type FetchRequest struct {
	Symbol      string
	Granularity series.Granularity
	Window      series.Interval
	Adjust      series.AdjustMode
}

// FetchResult is the outcome of a successful provider call. Empty marks a
// window the upstream genuinely has no data for; it is not an error and must
// not be retried.
type FetchResult struct {
	Bars       []series.Bar
	Empty      bool
	Adjustment series.AdjustMode
}

// SymbolInfo describes one instrument in a provider's catalog.
type SymbolInfo struct {
	Symbol     string
	Name       string
	Exchange   string
	AssetClass string
	IsETF      bool
}

// DataSource is the capability set every concrete provider implements.
type DataSource interface {
	// ListSymbols returns the instrument universe for an asset class.
	ListSymbols(ctx context.Context, assetClass string) ([]SymbolInfo, error)

	// FetchOHLCV retrieves bars for one window. Errors are always
	// *FetchError so callers can classify them.
	FetchOHLCV(ctx context.Context, req FetchRequest) (*FetchResult, error)
}
