package yahoo

import (
	"strings"

	"marketgrab/internal/series"
	"marketgrab/internal/source"
)

// chartResponse mirrors just the parts of the v8 chart payload the decoder
// needs. Fields arrive as pointer slices because Yahoo nulls out individual
// entries for halted sessions.
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Symbol   string `json:"symbol"`
		Timezone string `json:"timezone"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

// decodeChart turns a chart payload into a FetchResult, classifying the
// known degenerate shapes instead of leaking them to the caller.
func decodeChart(out *chartResponse, adjust series.AdjustMode) (*source.FetchResult, error) {
	if apiErr := out.Chart.Error; apiErr != nil {
		desc := apiErr.Description
		if isNoDataBody(desc) || strings.EqualFold(apiErr.Code, "Not Found") {
			return &source.FetchResult{Empty: true, Adjustment: adjust}, nil
		}
		return nil, source.NewMalformedError("chart error: " + desc)
	}
	if len(out.Chart.Result) == 0 {
		return nil, source.NewMalformedError("chart result is null")
	}
	result := out.Chart.Result[0]
	if len(result.Timestamp) == 0 {
		return &source.FetchResult{Empty: true, Adjustment: adjust}, nil
	}
	if len(result.Indicators.Quote) == 0 {
		return nil, source.NewMalformedError("chart result has no quote block")
	}

	quote := result.Indicators.Quote[0]
	var adjClose []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adjClose = result.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]series.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		closeVal := at(quote.Close, i)
		if closeVal == nil {
			continue
		}
		bar := series.Bar{
			Timestamp: ts * 1000,
			Close:     *closeVal,
		}
		if v := at(quote.Open, i); v != nil {
			bar.Open = *v
		}
		if v := at(quote.High, i); v != nil {
			bar.High = *v
		}
		if v := at(quote.Low, i); v != nil {
			bar.Low = *v
		}
		if v := atInt(quote.Volume, i); v != nil {
			bar.Volume = *v
		}
		if v := at(adjClose, i); v != nil {
			bar.AdjClose = *v
			if adjust == series.AdjustAuto && bar.Close != 0 {
				// Scale OHLC by the adjustment factor so the whole bar is
				// consistent with the adjusted close.
				factor := *v / bar.Close
				bar.Open *= factor
				bar.High *= factor
				bar.Low *= factor
				bar.Close = *v
			}
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return &source.FetchResult{Empty: true, Adjustment: adjust}, nil
	}
	return &source.FetchResult{Bars: series.DedupeBars(bars), Adjustment: adjust}, nil
}

func at(vals []*float64, i int) *float64 {
	if i < len(vals) {
		return vals[i]
	}
	return nil
}

func atInt(vals []*int64, i int) *int64 {
	if i < len(vals) {
		return vals[i]
	}
	return nil
}
