// Package yahoo implements the market-data source against the Yahoo Finance
// v8 chart API. Provider quirks stay inside this package: the chart endpoint
// occasionally answers 200 with a null result for symbols that do have data,
// and the client absorbs that with one fallback request in an alternate
// shape before reporting the window as empty.
package yahoo

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"

	"marketgrab/internal/series"
	"marketgrab/internal/source"
)

const (
	defaultBaseURL  = "https://query1.finance.yahoo.com"
	fallbackBaseURL = "https://query2.finance.yahoo.com"
	chartPath       = "/v8/finance/chart/{symbol}"
)

// SymbolLister supplies the instrument universe; Yahoo has no cheap listing
// endpoint, so the catalog collaborator provides one.
type SymbolLister func(ctx context.Context, assetClass string) ([]source.SymbolInfo, error)

// Client fetches OHLCV history from Yahoo Finance.
type Client struct {
	primary  *resty.Client
	fallback *resty.Client
	lister   SymbolLister
}

// Option configures a Client.
type Option func(*Client)

// WithSymbolLister wires the catalog-backed symbol listing.
func WithSymbolLister(fn SymbolLister) Option {
	return func(c *Client) { c.lister = fn }
}

// NewClient creates a Client. Empty URLs use the public Yahoo hosts.
// Retries are deliberately not configured on the HTTP client: the executor
// owns the retry policy so every attempt passes through the rate limiter.
func NewClient(baseURL, altBaseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if altBaseURL == "" {
		altBaseURL = fallbackBaseURL
	}
	c := &Client{
		primary:  newHTTPClient(baseURL),
		fallback: newHTTPClient(altBaseURL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newHTTPClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "marketgrab/1.0").
		SetTimeout(30 * time.Second)
}

// ListSymbols returns the instrument universe for an asset class.
func (c *Client) ListSymbols(ctx context.Context, assetClass string) ([]source.SymbolInfo, error) {
	if c.lister == nil {
		return nil, source.NewValidationError("yahoo serves no symbol listing; configure a catalog")
	}
	return c.lister(ctx, assetClass)
}

// FetchOHLCV retrieves one window of history. The outcome is always a
// FetchResult or a classified *source.FetchError.
func (c *Client) FetchOHLCV(ctx context.Context, req source.FetchRequest) (*source.FetchResult, error) {
	switch req.Adjust {
	case series.AdjustAuto, series.AdjustNone:
	default:
		return nil, source.NewValidationError(
			fmt.Sprintf("yahoo supports adjustment auto|none, got %q", req.Adjust))
	}

	res, err := c.fetchChart(ctx, c.primary, req, periodParams(req))
	if err == nil || !isMalformed(err) {
		return res, err
	}

	// Known anomaly: retry once with the range-based request shape against
	// the alternate host, then filter back down to the requested window.
	res, err = c.fetchChart(ctx, c.fallback, req, rangeParams(req))
	if err != nil {
		if isMalformed(err) {
			return &source.FetchResult{Empty: true, Adjustment: req.Adjust}, nil
		}
		return nil, err
	}
	if !res.Empty {
		res.Bars = clipBars(res.Bars, req.Window)
		res.Empty = len(res.Bars) == 0
	}
	return res, nil
}

func periodParams(req source.FetchRequest) map[string]string {
	return map[string]string{
		"period1":              strconv.FormatInt(req.Window.Start.Unix(), 10),
		"period2":              strconv.FormatInt(req.Window.End.Unix(), 10),
		"interval":             string(req.Granularity),
		"events":               "div,split",
		"includeAdjustedClose": "true",
	}
}

func rangeParams(req source.FetchRequest) map[string]string {
	return map[string]string{
		"range":                rangeFor(time.Since(req.Window.Start)),
		"interval":             string(req.Granularity),
		"events":               "div,split",
		"includeAdjustedClose": "true",
	}
}

// rangeFor picks the smallest chart range covering a lookback duration.
func rangeFor(lookback time.Duration) string {
	day := 24 * time.Hour
	switch {
	case lookback <= day:
		return "1d"
	case lookback <= 5*day:
		return "5d"
	case lookback <= 30*day:
		return "1mo"
	case lookback <= 91*day:
		return "3mo"
	case lookback <= 182*day:
		return "6mo"
	case lookback <= 365*day:
		return "1y"
	case lookback <= 2*365*day:
		return "2y"
	case lookback <= 5*365*day:
		return "5y"
	case lookback <= 10*365*day:
		return "10y"
	}
	return "max"
}

func (c *Client) fetchChart(ctx context.Context, client *resty.Client, req source.FetchRequest, params map[string]string) (*source.FetchResult, error) {
	var out chartResponse
	resp, err := client.R().
		SetContext(ctx).
		SetPathParam("symbol", req.Symbol).
		SetQueryParams(params).
		SetResult(&out).
		Get(chartPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, source.NewTimeoutError(err)
		}
		return nil, source.NewNetworkError(err)
	}
	if !resp.IsSuccess() {
		body := resp.String()
		if isNoDataBody(body) {
			return &source.FetchResult{Empty: true, Adjustment: req.Adjust}, nil
		}
		if strings.Contains(body, "Too Many Requests") {
			return nil, source.NewThrottleError(resp.StatusCode())
		}
		return nil, source.ClassifyHTTPStatus(resp.StatusCode())
	}
	return decodeChart(&out, req.Adjust)
}

func isNoDataBody(body string) bool {
	return strings.Contains(body, "No data found") ||
		strings.Contains(body, "symbol may be delisted")
}

func isMalformed(err error) bool {
	fe, ok := err.(*source.FetchError)
	return ok && fe.Kind == source.KindMalformed
}

func clipBars(bars []series.Bar, window series.Interval) []series.Bar {
	lo, hi := series.Millis(window.Start), series.Millis(window.End)
	out := bars[:0]
	for _, b := range bars {
		if b.Timestamp >= lo && b.Timestamp <= hi {
			out = append(out, b)
		}
	}
	return out
}
