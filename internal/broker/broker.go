package broker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"overnight/internal/market"
)

// Client wraps the Alpaca trading and market data APIs behind the small
// collaborator surface the strategy needs.
type Client struct {
	trading *alpaca.Client
	data    *marketdata.Client
}

func New(apiKey, apiSecret, baseURL string) *Client {
	return &Client{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
		}),
	}
}

func (c *Client) ListAssets(ctx context.Context) ([]market.Asset, error) {
	assets, err := c.trading.GetAssets(alpaca.GetAssetsRequest{Status: "active"})
	if err != nil {
		slog.Error("fetch assets failed", "error", err)
		return nil, err
	}
	out := make([]market.Asset, 0, len(assets))
	for _, asset := range assets {
		out = append(out, market.Asset{Symbol: asset.Symbol, Tradable: asset.Tradable})
	}
	slog.Info("assets fetched", "count", len(out))
	return out, nil
}

// DailyBars returns up to limit daily bars per symbol ending at end. A zero
// end means "through the most recent session". The request window is padded
// with calendar days so that weekends and holidays still leave enough bars.
func (c *Client) DailyBars(ctx context.Context, symbols []string, limit int, end time.Time) (map[string][]market.Bar, error) {
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start := end.AddDate(0, 0, -(limit*2 + 10))

	multi, err := c.data.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
	})
	if err != nil {
		slog.Error("fetch daily bars failed", "symbols", len(symbols), "error", err)
		return nil, err
	}

	out := make(map[string][]market.Bar, len(multi))
	for symbol, bars := range multi {
		if len(bars) > limit {
			bars = bars[len(bars)-limit:]
		}
		window := make([]market.Bar, 0, len(bars))
		for _, bar := range bars {
			window = append(window, market.Bar{
				Open:      bar.Open,
				High:      bar.High,
				Low:       bar.Low,
				Close:     bar.Close,
				Volume:    int64(bar.Volume),
				Timestamp: bar.Timestamp,
			})
		}
		out[symbol] = window
	}
	return out, nil
}

func (c *Client) TradingDays(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	calendar, err := c.trading.GetCalendar(alpaca.GetCalendarRequest{Start: start, End: end})
	if err != nil {
		slog.Error("fetch calendar failed", "error", err)
		return nil, err
	}
	days := make([]time.Time, 0, len(calendar))
	for _, day := range calendar {
		date, err := time.Parse("2006-01-02", day.Date)
		if err != nil {
			slog.Error("calendar date unparseable", "date", day.Date, "error", err)
			continue
		}
		days = append(days, date.UTC())
	}
	return days, nil
}

func (c *Client) Clock(ctx context.Context) (market.Clock, error) {
	clock, err := c.trading.GetClock()
	if err != nil {
		slog.Error("fetch clock failed", "error", err)
		return market.Clock{}, err
	}
	return market.Clock{
		Timestamp: clock.Timestamp,
		NextClose: clock.NextClose,
		IsOpen:    clock.IsOpen,
	}, nil
}

func (c *Client) AccountCash(ctx context.Context) (float64, error) {
	account, err := c.trading.GetAccount()
	if err != nil {
		slog.Error("fetch account failed", "error", err)
		return 0, err
	}
	cash, _ := account.Cash.Float64()
	slog.Info("account fetched", "cash", cash)
	return cash, nil
}

func (c *Client) SubmitLimitBuy(ctx context.Context, symbol string, qty, limitPrice int, clientOrderID string) (market.Order, error) {
	qtyDec := decimal.NewFromInt(int64(qty))
	limitDec := decimal.NewFromInt(int64(limitPrice))
	order, err := c.trading.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        symbol,
		Qty:           &qtyDec,
		Side:          alpaca.Buy,
		Type:          alpaca.Limit,
		TimeInForce:   alpaca.Day,
		LimitPrice:    &limitDec,
		ClientOrderID: clientOrderID,
	})
	if err != nil {
		slog.Error("place order failed", "symbol", symbol, "qty", qty, "limit", limitPrice, "error", err)
		return market.Order{}, err
	}
	slog.Info("place order success", "order_id", order.ID, "symbol", symbol, "qty", qty, "limit", limitPrice, "status", order.Status)
	return market.Order{ID: order.ID, Symbol: symbol, Side: market.SideBuy, Qty: qty}, nil
}

func (c *Client) CloseAllPositions(ctx context.Context) error {
	if _, err := c.trading.CloseAllPositions(alpaca.CloseAllPositionsRequest{CancelOrders: true}); err != nil {
		slog.Error("close all positions failed", "error", err)
		return err
	}
	slog.Info("all positions closed")
	return nil
}

func (c *Client) RecentOrders(ctx context.Context, since time.Time, limit int) ([]market.Order, error) {
	orders, err := c.trading.GetOrders(alpaca.GetOrdersRequest{
		Status: "all",
		After:  since,
		Limit:  limit,
	})
	if err != nil {
		slog.Error("fetch orders failed", "error", err)
		return nil, err
	}
	out := make([]market.Order, 0, len(orders))
	for _, order := range orders {
		qty := 0
		if order.Qty != nil {
			qty = int(order.Qty.IntPart())
		}
		out = append(out, market.Order{
			ID:     order.ID,
			Symbol: order.Symbol,
			Side:   string(order.Side),
			Qty:    qty,
		})
	}
	return out, nil
}

// IsAuthError reports whether err is a credential rejection, which no amount
// of retrying will fix.
func IsAuthError(err error) bool {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 401 || apiErr.StatusCode == 403
	}
	return false
}

// WaitForContext sleeps for delay unless the context is cancelled first.
func WaitForContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
