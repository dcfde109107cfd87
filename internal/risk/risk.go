package risk

import (
	"fmt"
	"log/slog"

	"overnight/internal/allocation"
)

// Gate sanity-checks the dominant position before an order leaves the
// process. Rejections are ordinary errors; the caller logs and skips the
// cycle.
type Gate struct{}

func (g Gate) Evaluate(pick allocation.Position, cash float64) error {
	cost := float64(pick.Shares) * pick.Price

	if pick.Shares <= 0 {
		slog.Info("order rejected", "reason", "zero_share_allocation", "symbol", pick.Symbol)
		return fmt.Errorf("zero_share_allocation")
	}
	if cost > cash {
		slog.Info("order rejected", "reason", "allocation_exceeds_cash", "symbol", pick.Symbol, "cost", cost, "cash", cash)
		return fmt.Errorf("allocation_exceeds_cash")
	}
	if float64(pick.LimitPrice) < pick.Price {
		slog.Info("order rejected", "reason", "limit_below_price", "symbol", pick.Symbol, "limit", pick.LimitPrice, "price", pick.Price)
		return fmt.Errorf("limit_below_price")
	}

	slog.Info("order approved", "symbol", pick.Symbol, "qty", pick.Shares, "limit", pick.LimitPrice)
	return nil
}
