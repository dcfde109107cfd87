// Package trader runs the live overnight loop: liquidate at the open, rate
// and buy the dominant allocation shortly before the close, sleep in
// between. One instance, single-threaded, cancellable between sleeps.
package trader

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"overnight/internal/allocation"
	"overnight/internal/broker"
	"overnight/internal/config"
	"overnight/internal/market"
	"overnight/internal/risk"
)

type Broker interface {
	Clock(ctx context.Context) (market.Clock, error)
	AccountCash(ctx context.Context) (float64, error)
	SubmitLimitBuy(ctx context.Context, symbol string, qty, limitPrice int, clientOrderID string) (market.Order, error)
	CloseAllPositions(ctx context.Context) error
	RecentOrders(ctx context.Context, since time.Time, limit int) ([]market.Order, error)
}

type Rater interface {
	Rate(ctx context.Context, asOf time.Time) ([]market.Rating, error)
}

type Loop struct {
	cfg      config.Config
	broker   Broker
	rater    Rater
	gate     risk.Gate
	journal  *Journal
	runID    string
	orderSeq uint64
	now      func() time.Time

	boughtToday bool
	soldToday   bool
	cycle       int
}

func New(cfg config.Config, b Broker, rater Rater, journal *Journal, runID string) *Loop {
	return &Loop{
		cfg:     cfg,
		broker:  b,
		rater:   rater,
		journal: journal,
		runID:   runID,
		now:     time.Now,
	}
}

// Run polls the market clock until cancelled. It returns ctx.Err() on
// cancellation and a broker error only when the credentials are rejected;
// transient failures are logged and the loop carries on.
func (l *Loop) Run(ctx context.Context) error {
	l.restoreSession(ctx)

	for {
		clock, err := l.fetchClock(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if broker.IsAuthError(err) {
				return fmt.Errorf("market clock: %w", err)
			}
			log.Printf("market clock unavailable: %v", err)
			if err := broker.WaitForContext(ctx, l.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}

		if clock.IsOpen {
			if err := l.session(ctx); err != nil {
				return err
			}
			continue
		}

		l.boughtToday = false
		l.soldToday = false
		if l.cycle%60 == 0 {
			log.Printf("waiting for next market day")
		}
		l.cycle++
		if err := broker.WaitForContext(ctx, l.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// session covers one open market day: liquidate once, then watch the clock
// until the buy window before the close.
func (l *Loop) session(ctx context.Context) error {
	if !l.soldToday {
		log.Printf("liquidating positions")
		err := l.withRetry(ctx, "close all positions", func() error {
			return l.broker.CloseAllPositions(ctx)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("liquidation failed, will not retry this session: %v", err)
		} else {
			l.journal.Append(Entry{Timestamp: l.now().UTC(), Event: "liquidate"})
		}
		l.soldToday = true
	}

	for {
		clock, err := l.fetchClock(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("market clock unavailable mid-session: %v", err)
			return nil
		}
		if !clock.IsOpen {
			return nil
		}

		if clock.NextClose.Sub(clock.Timestamp) <= l.cfg.BuyWindow && !l.boughtToday {
			l.buy(ctx)
			l.boughtToday = true
			// Long pause so a slow fill cannot trigger a second submission
			// within the same closing window.
			if err := broker.WaitForContext(ctx, l.cfg.PostBuyPause); err != nil {
				return err
			}
			return nil
		}

		if err := broker.WaitForContext(ctx, l.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// buy runs one rating+sizing cycle and submits a single limit order for the
// dominant allocation. Every failure path logs and returns; the next session
// gets a fresh attempt.
func (l *Loop) buy(ctx context.Context) {
	log.Printf("buying positions")

	var cash float64
	err := l.withRetry(ctx, "account cash", func() error {
		var err error
		cash, err = l.broker.AccountCash(ctx)
		return err
	})
	if err != nil {
		log.Printf("account cash unavailable, skipping buy: %v", err)
		return
	}

	ratings, err := l.rater.Rate(ctx, time.Time{})
	if err != nil {
		log.Printf("ratings unavailable, skipping buy: %v", err)
		return
	}

	plan, err := allocation.Plan(ratings, cash)
	if err != nil {
		log.Printf("nothing to buy today: %v", err)
		l.journal.Append(Entry{Timestamp: l.now().UTC(), Event: "skip", Cash: cash, Detail: err.Error()})
		return
	}
	pick, ok := plan.Dominant()
	if !ok {
		return
	}

	if err := l.gate.Evaluate(pick, cash); err != nil {
		log.Printf("order rejected by gate: %v", err)
		l.journal.Append(Entry{Timestamp: l.now().UTC(), Event: "skip", Symbol: pick.Symbol, Qty: pick.Shares, Cash: cash, Detail: err.Error()})
		return
	}

	order, err := l.broker.SubmitLimitBuy(ctx, pick.Symbol, pick.Shares, pick.LimitPrice, l.nextClientOrderID())
	if err != nil {
		log.Printf("failed to buy %d shares of %s at limit %d: %v", pick.Shares, pick.Symbol, pick.LimitPrice, err)
		l.journal.Append(Entry{Timestamp: l.now().UTC(), Event: "buy_failed", Symbol: pick.Symbol, Qty: pick.Shares, LimitPrice: pick.LimitPrice, Cash: cash, Detail: err.Error()})
		return
	}

	log.Printf("positions bought symbol=%s qty=%d limit=%d order_id=%s", pick.Symbol, pick.Shares, pick.LimitPrice, order.ID)
	l.journal.Append(Entry{Timestamp: l.now().UTC(), Event: "buy", Symbol: pick.Symbol, Qty: pick.Shares, LimitPrice: pick.LimitPrice, Cash: cash, OrderID: order.ID})
}

// restoreSession recovers the bought/sold flags from recent order history so
// a restart during market hours does not liquidate or buy twice.
func (l *Loop) restoreSession(ctx context.Context) {
	orders, err := l.broker.RecentOrders(ctx, l.now().Add(-l.cfg.SessionLookback), l.cfg.OrderHistory)
	if err != nil {
		log.Printf("order history unavailable, assuming a fresh session: %v", err)
		return
	}
	for _, order := range orders {
		switch order.Side {
		case market.SideSell:
			l.soldToday = true
		case market.SideBuy:
			l.boughtToday = true
		}
	}
	if l.soldToday || l.boughtToday {
		log.Printf("restored session state sold=%t bought=%t", l.soldToday, l.boughtToday)
	}
}

func (l *Loop) fetchClock(ctx context.Context) (market.Clock, error) {
	var clock market.Clock
	err := l.withRetry(ctx, "market clock", func() error {
		var err error
		clock, err = l.broker.Clock(ctx)
		return err
	})
	return clock, err
}

// withRetry runs fn up to MaxRetries times with RetryDelay between attempts.
// Cancellation and credential rejections stop the retries immediately.
func (l *Loop) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= l.cfg.MaxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if broker.IsAuthError(err) {
			return err
		}
		if attempt == l.cfg.MaxRetries {
			break
		}
		log.Printf("%s failed (attempt %d/%d), retrying in %s: %v", op, attempt, l.cfg.MaxRetries, l.cfg.RetryDelay, err)
		if werr := broker.WaitForContext(ctx, l.cfg.RetryDelay); werr != nil {
			return werr
		}
	}
	return err
}

func (l *Loop) nextClientOrderID() string {
	seq := atomic.AddUint64(&l.orderSeq, 1)
	return fmt.Sprintf("%s-%d", l.runID, seq)
}
