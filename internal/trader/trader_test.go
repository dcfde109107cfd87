package trader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"overnight/internal/config"
	"overnight/internal/market"
)

func testConfig() config.Config {
	return config.Config{
		StocksToHold:    50,
		WindowSize:      5,
		BatchSize:       200,
		MinStockPrice:   20,
		MaxStockPrice:   50,
		MaxBarLag:       48 * time.Hour,
		PollInterval:    time.Millisecond,
		BuyWindow:       120 * time.Second,
		PostBuyPause:    time.Millisecond,
		RetryDelay:      0,
		MaxRetries:      3,
		SessionLookback: 12 * time.Hour,
		OrderHistory:    400,
	}
}

type submittedOrder struct {
	Symbol     string
	Qty        int
	LimitPrice int
}

type fakeBroker struct {
	clocks    []market.Clock
	clockErr  error
	clockIdx  int
	cash      float64
	recent    []market.Order
	recentErr error
	closed    int
	closeErr  error
	submitted []submittedOrder
	submitErr error
}

func (f *fakeBroker) Clock(ctx context.Context) (market.Clock, error) {
	if f.clockErr != nil {
		return market.Clock{}, f.clockErr
	}
	if f.clockIdx >= len(f.clocks) {
		return market.Clock{}, nil
	}
	clock := f.clocks[f.clockIdx]
	f.clockIdx++
	return clock, nil
}

func (f *fakeBroker) AccountCash(ctx context.Context) (float64, error) {
	return f.cash, nil
}

func (f *fakeBroker) SubmitLimitBuy(ctx context.Context, symbol string, qty, limitPrice int, clientOrderID string) (market.Order, error) {
	if f.submitErr != nil {
		return market.Order{}, f.submitErr
	}
	f.submitted = append(f.submitted, submittedOrder{Symbol: symbol, Qty: qty, LimitPrice: limitPrice})
	return market.Order{ID: "order-1", Symbol: symbol, Side: market.SideBuy, Qty: qty}, nil
}

func (f *fakeBroker) CloseAllPositions(ctx context.Context) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closed++
	return nil
}

func (f *fakeBroker) RecentOrders(ctx context.Context, since time.Time, limit int) ([]market.Order, error) {
	return f.recent, f.recentErr
}

type stubRater struct {
	ratings []market.Rating
	err     error
}

func (s stubRater) Rate(ctx context.Context, asOf time.Time) ([]market.Rating, error) {
	return s.ratings, s.err
}

func clockAt(open bool, untilClose time.Duration) market.Clock {
	now := time.Date(2024, 6, 14, 15, 58, 0, 0, time.UTC)
	return market.Clock{Timestamp: now, NextClose: now.Add(untilClose), IsOpen: open}
}

func TestSessionLiquidatesThenBuysOnce(t *testing.T) {
	b := &fakeBroker{
		cash: 1000,
		clocks: []market.Clock{
			clockAt(true, 60*time.Second), // inside the buy window
			clockAt(false, 0),
		},
	}
	loop := New(testConfig(), b, stubRater{ratings: []market.Rating{{Symbol: "UP", Score: 2, Price: 20}}}, nil, "test-run")

	if err := loop.session(context.Background()); err != nil {
		t.Fatalf("session: %v", err)
	}

	if b.closed != 1 {
		t.Fatalf("expected one liquidation, got %d", b.closed)
	}
	if len(b.submitted) != 1 {
		t.Fatalf("expected one order, got %d", len(b.submitted))
	}
	order := b.submitted[0]
	// Full 1000 at price 20 -> 50 shares, limit floor(20*1.5) = 30.
	if order.Symbol != "UP" || order.Qty != 50 || order.LimitPrice != 30 {
		t.Fatalf("unexpected order: %+v", order)
	}
}

func TestSessionIsIdempotent(t *testing.T) {
	b := &fakeBroker{
		cash: 1000,
		clocks: []market.Clock{
			clockAt(true, 60*time.Second),
			clockAt(false, 0),
			// Second session: still open inside the buy window, then closed.
			clockAt(true, 60*time.Second),
			clockAt(false, 0),
		},
	}
	loop := New(testConfig(), b, stubRater{ratings: []market.Rating{{Symbol: "UP", Score: 2, Price: 20}}}, nil, "test-run")

	if err := loop.session(context.Background()); err != nil {
		t.Fatalf("first session: %v", err)
	}
	if err := loop.session(context.Background()); err != nil {
		t.Fatalf("second session: %v", err)
	}

	if b.closed != 1 {
		t.Fatalf("liquidation not idempotent: %d", b.closed)
	}
	if len(b.submitted) != 1 {
		t.Fatalf("buy not idempotent: %d orders", len(b.submitted))
	}
}

func TestSessionWaitsOutsideBuyWindow(t *testing.T) {
	b := &fakeBroker{
		cash: 1000,
		clocks: []market.Clock{
			clockAt(true, 3*time.Hour), // too early to buy
			clockAt(false, 0),
		},
	}
	loop := New(testConfig(), b, stubRater{ratings: []market.Rating{{Symbol: "UP", Score: 2, Price: 20}}}, nil, "test-run")

	if err := loop.session(context.Background()); err != nil {
		t.Fatalf("session: %v", err)
	}
	if len(b.submitted) != 0 {
		t.Fatalf("expected no order outside buy window, got %d", len(b.submitted))
	}
}

func TestRestoreSessionFromOrderHistory(t *testing.T) {
	b := &fakeBroker{
		recent: []market.Order{
			{ID: "1", Symbol: "OLD", Side: market.SideSell, Qty: 5},
			{ID: "2", Symbol: "OLD", Side: market.SideBuy, Qty: 5},
		},
	}
	loop := New(testConfig(), b, stubRater{}, nil, "test-run")
	loop.restoreSession(context.Background())

	if !loop.soldToday || !loop.boughtToday {
		t.Fatalf("expected restored flags, got sold=%t bought=%t", loop.soldToday, loop.boughtToday)
	}
}

func TestRestoreSessionToleratesHistoryFailure(t *testing.T) {
	b := &fakeBroker{recentErr: errors.New("connection refused")}
	loop := New(testConfig(), b, stubRater{}, nil, "test-run")
	loop.restoreSession(context.Background())

	if loop.soldToday || loop.boughtToday {
		t.Fatalf("expected fresh session on history failure")
	}
}

func TestBuySkipsOnEmptyRatings(t *testing.T) {
	b := &fakeBroker{cash: 1000}
	loop := New(testConfig(), b, stubRater{}, nil, "test-run")
	loop.buy(context.Background())

	if len(b.submitted) != 0 {
		t.Fatalf("expected no order for empty ratings, got %d", len(b.submitted))
	}
}

func TestBuyGateRejectsZeroShares(t *testing.T) {
	// Price above cash: the sizer floors to zero shares and the gate
	// blocks the order.
	b := &fakeBroker{cash: 10}
	loop := New(testConfig(), b, stubRater{ratings: []market.Rating{{Symbol: "UP", Score: 2, Price: 20}}}, nil, "test-run")
	loop.buy(context.Background())

	if len(b.submitted) != 0 {
		t.Fatalf("expected gate rejection, got %d orders", len(b.submitted))
	}
}

func TestBuyLogsRejectionWithoutRetry(t *testing.T) {
	b := &fakeBroker{cash: 1000, submitErr: errors.New("rejected")}
	loop := New(testConfig(), b, stubRater{ratings: []market.Rating{{Symbol: "UP", Score: 2, Price: 20}}}, nil, "test-run")
	loop.buy(context.Background())

	if len(b.submitted) != 0 {
		t.Fatalf("expected no recorded order after rejection")
	}
	// buy itself does not flip the flag; the session does.
	if loop.boughtToday {
		t.Fatalf("buy must not flip boughtToday")
	}
}

func TestWithRetryIsBounded(t *testing.T) {
	loop := New(testConfig(), &fakeBroker{}, stubRater{}, nil, "test-run")
	attempts := 0
	err := loop.withRetry(context.Background(), "op", func() error {
		attempts++
		return errors.New("transient")
	})
	if err == nil {
		t.Fatalf("expected the final error")
	}
	if attempts != testConfig().MaxRetries {
		t.Fatalf("attempts = %d, want %d", attempts, testConfig().MaxRetries)
	}
}

func TestWithRetryStopsOnAuthError(t *testing.T) {
	loop := New(testConfig(), &fakeBroker{}, stubRater{}, nil, "test-run")
	attempts := 0
	authErr := &alpaca.APIError{StatusCode: 401, Message: "unauthorized"}
	err := loop.withRetry(context.Background(), "op", func() error {
		attempts++
		return authErr
	})
	if !errors.Is(err, authErr) {
		t.Fatalf("expected the auth error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("auth errors must not be retried, got %d attempts", attempts)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	b := &fakeBroker{clocks: []market.Clock{clockAt(false, 0)}}
	loop := New(testConfig(), b, stubRater{}, nil, "test-run")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err := loop.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestRunFailsFastOnAuthError(t *testing.T) {
	b := &fakeBroker{clockErr: &alpaca.APIError{StatusCode: 403, Message: "forbidden"}}
	loop := New(testConfig(), b, stubRater{}, nil, "test-run")

	err := loop.Run(context.Background())
	if err == nil || errors.Is(err, context.Canceled) {
		t.Fatalf("expected a fatal auth error, got %v", err)
	}
}
