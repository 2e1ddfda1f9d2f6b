// Package testutil provides mocks and builders shared by the package tests.
package testutil

import (
	"context"
	"time"

	"marketgrab/internal/series"
	"marketgrab/internal/source"
)

// MockSource is a mock implementation of source.DataSource for testing.
type MockSource struct {
	ListFunc  func(ctx context.Context, assetClass string) ([]source.SymbolInfo, error)
	FetchFunc func(ctx context.Context, req source.FetchRequest) (*source.FetchResult, error)
}

// ListSymbols implements source.DataSource.
func (m *MockSource) ListSymbols(ctx context.Context, assetClass string) ([]source.SymbolInfo, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, assetClass)
	}
	return nil, nil
}

// FetchOHLCV implements source.DataSource.
func (m *MockSource) FetchOHLCV(ctx context.Context, req source.FetchRequest) (*source.FetchResult, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, req)
	}
	return &source.FetchResult{Empty: true, Adjustment: req.Adjust}, nil
}

// WindowSource fetches synthetic daily bars covering exactly the requested
// window, a convenient default for pipeline tests.
func WindowSource() *MockSource {
	return &MockSource{
		FetchFunc: func(ctx context.Context, req source.FetchRequest) (*source.FetchResult, error) {
			bars := DailyBars(req.Window.Start, req.Window.End, 100.0)
			if len(bars) == 0 {
				return &source.FetchResult{Empty: true, Adjustment: req.Adjust}, nil
			}
			return &source.FetchResult{Bars: bars, Adjustment: req.Adjust}, nil
		},
	}
}

// DailyBars builds one bar per day over the inclusive [start, end] range.
func DailyBars(start, end time.Time, base float64) []series.Bar {
	var bars []series.Bar
	for d := start; !d.After(end); d = d.Add(24 * time.Hour) {
		price := base + float64(len(bars))
		bars = append(bars, series.Bar{
			Timestamp: series.Millis(d),
			Open:      price - 0.5,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    1000,
		})
	}
	return bars
}

// Day returns midnight UTC for a date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
