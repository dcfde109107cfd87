// Package rating scores candidate symbols for the overnight hold. A symbol's
// score blends its five-day momentum with how far yesterday-to-today volume
// moved relative to the volume spread earlier in the window.
package rating

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"overnight/internal/market"
)

// DataSource supplies tradable assets and daily bar history. A zero end time
// on DailyBars means "most recent data available".
type DataSource interface {
	ListAssets(ctx context.Context) ([]market.Asset, error)
	DailyBars(ctx context.Context, symbols []string, limit int, end time.Time) (map[string][]market.Bar, error)
}

type Params struct {
	WindowSize   int
	BatchSize    int
	StocksToHold int
	MinPrice     float64
	MaxPrice     float64
	MaxBarLag    time.Duration
}

type Engine struct {
	data   DataSource
	params Params
	now    func() time.Time
}

func New(data DataSource, params Params) *Engine {
	return &Engine{data: data, params: params, now: time.Now}
}

// Rate returns the ranked ratings for all tradable assets as of the given
// time. A zero asOf rates against live data. The result is sorted by score
// descending and holds at most StocksToHold entries; it is empty, not an
// error, when every candidate is filtered out.
func (e *Engine) Rate(ctx context.Context, asOf time.Time) ([]market.Rating, error) {
	assets, err := e.data.ListAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	symbols := make([]string, 0, len(assets))
	for _, asset := range assets {
		if asset.Tradable {
			symbols = append(symbols, asset.Symbol)
		}
	}

	cutoff := asOf
	if cutoff.IsZero() {
		cutoff = e.now().UTC()
	}

	var ratings []market.Rating
	for start := 0; start < len(symbols); start += e.params.BatchSize {
		batch := symbols[start:min(start+e.params.BatchSize, len(symbols))]
		windows, err := e.data.DailyBars(ctx, batch, e.params.WindowSize, asOf)
		if err != nil {
			return nil, fmt.Errorf("daily bars: %w", err)
		}
		for _, symbol := range batch {
			if r, ok := e.score(symbol, windows[symbol], cutoff); ok {
				ratings = append(ratings, r)
			}
		}
	}

	sort.SliceStable(ratings, func(i, j int) bool {
		return ratings[i].Score > ratings[j].Score
	})
	if len(ratings) > e.params.StocksToHold {
		ratings = ratings[:e.params.StocksToHold]
	}
	return ratings, nil
}

// score rates one symbol's bar window, reporting ok=false for any window the
// quality filters exclude: short history, a latest bar lagging the cutoff by
// more than a full day, a close outside the price band, or zero variance in
// the leading volumes.
func (e *Engine) score(symbol string, window []market.Bar, cutoff time.Time) (market.Rating, bool) {
	if len(window) < e.params.WindowSize {
		return market.Rating{}, false
	}
	window = window[len(window)-e.params.WindowSize:]
	latest := window[len(window)-1]

	if cutoff.Sub(latest.Timestamp) >= e.params.MaxBarLag {
		return market.Rating{}, false
	}
	if latest.Close < e.params.MinPrice || latest.Close > e.params.MaxPrice {
		return market.Rating{}, false
	}

	volumes := make([]float64, len(window)-1)
	for i := range volumes {
		volumes[i] = float64(window[i].Volume)
	}
	stdev := sampleStdev(volumes)
	if stdev == 0 {
		return market.Rating{}, false
	}

	priceChange := latest.Close - window[0].Close
	volumeChange := float64(latest.Volume - window[len(window)-2].Volume)
	volumeFactor := volumeChange / stdev

	raw := priceChange / window[0].Close * volumeFactor
	score := 0.5*raw + 0.5*priceChange
	if score <= 0 {
		return market.Rating{}, false
	}
	return market.Rating{Symbol: symbol, Score: score, Price: latest.Close}, true
}

func sampleStdev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
