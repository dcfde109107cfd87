// Package backtest replays the overnight strategy across a historical window
// of trading days, buying the dominant allocation at each close and selling
// it at the next open.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"overnight/internal/allocation"
	"overnight/internal/market"
)

type Rater interface {
	Rate(ctx context.Context, asOf time.Time) ([]market.Rating, error)
}

type Calendar interface {
	TradingDays(ctx context.Context, start, end time.Time) ([]time.Time, error)
}

type BarSource interface {
	DailyBars(ctx context.Context, symbols []string, limit int, end time.Time) (map[string][]market.Bar, error)
}

type DayValue struct {
	Date  time.Time
	Value float64
}

type Result struct {
	FinalValue      float64
	Change          float64
	BenchmarkChange float64
	Days            []DayValue
}

type Simulator struct {
	rater     Rater
	calendar  Calendar
	bars      BarSource
	benchmark string
	out       io.Writer
}

func New(rater Rater, calendar Calendar, bars BarSource, benchmark string, out io.Writer) *Simulator {
	return &Simulator{rater: rater, calendar: calendar, bars: bars, benchmark: benchmark, out: out}
}

// Run walks every trading day in [start, end]. Each day it credits the
// previous pick at that day's opening price, reports the portfolio value,
// and (except on the last day) sizes and "buys" a new dominant pick as of
// that day's close. Days where nothing scores positive simply hold cash.
func (s *Simulator) Run(ctx context.Context, startCash float64, start, end time.Time) (Result, error) {
	days, err := s.calendar.TradingDays(ctx, start, end)
	if err != nil {
		return Result{}, fmt.Errorf("trading calendar: %w", err)
	}
	if len(days) == 0 {
		return Result{}, fmt.Errorf("no trading days between %s and %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	result := Result{}
	cash := startCash
	held := map[string]int{}

	for i, day := range days {
		cash += s.liquidationValue(ctx, held, day)
		held = map[string]int{}
		fmt.Fprintf(s.out, "Portfolio value on %s: $%.2f\n", day.Format("2006-01-02"), cash)
		result.Days = append(result.Days, DayValue{Date: day, Value: cash})

		if i == len(days)-1 {
			break
		}

		ratings, err := s.rater.Rate(ctx, day)
		if err != nil {
			return Result{}, fmt.Errorf("ratings for %s: %w", day.Format("2006-01-02"), err)
		}
		plan, err := allocation.Plan(ratings, cash)
		if errors.Is(err, allocation.ErrInvalidInput) {
			continue
		}
		if err != nil {
			return Result{}, err
		}
		pick, ok := plan.Dominant()
		if !ok || pick.Shares <= 0 {
			continue
		}
		cash -= float64(pick.Shares) * pick.Price
		held[pick.Symbol] = pick.Shares
	}

	benchChange, err := s.benchmarkChange(ctx, len(days), days[len(days)-1])
	if err != nil {
		return Result{}, err
	}

	result.FinalValue = cash
	result.Change = (cash - startCash) / startCash
	result.BenchmarkChange = benchChange
	return result, nil
}

// liquidationValue prices held shares at the day's open. A symbol with no
// bar that day contributes zero rather than aborting the run.
func (s *Simulator) liquidationValue(ctx context.Context, held map[string]int, day time.Time) float64 {
	if len(held) == 0 {
		return 0
	}
	symbols := make([]string, 0, len(held))
	for symbol := range held {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	windows, err := s.bars.DailyBars(ctx, symbols, 1, day)
	if err != nil {
		log.Printf("valuation bars for %s failed: %v", day.Format("2006-01-02"), err)
		return 0
	}
	var value float64
	for _, symbol := range symbols {
		bars := windows[symbol]
		if len(bars) == 0 {
			continue
		}
		value += float64(held[symbol]) * bars[len(bars)-1].Open
	}
	return value
}

func (s *Simulator) benchmarkChange(ctx context.Context, tradingDays int, lastDay time.Time) (float64, error) {
	windows, err := s.bars.DailyBars(ctx, []string{s.benchmark}, tradingDays, lastDay)
	if err != nil {
		return 0, fmt.Errorf("benchmark bars: %w", err)
	}
	bars := windows[s.benchmark]
	if len(bars) < 2 {
		return 0, fmt.Errorf("benchmark %s: not enough bars", s.benchmark)
	}
	return (bars[len(bars)-1].Close - bars[0].Close) / bars[0].Close, nil
}
