// Package allocation sizes positions from a rating set against available
// cash, and applies the dominant-allocation policy: of all sized positions,
// only the one with the most shares is ever acted on.
package allocation

import (
	"errors"
	"math"

	"overnight/internal/market"
)

// ErrInvalidInput reports a rating set that cannot be sized: empty, or with
// a zero total score.
var ErrInvalidInput = errors.New("allocation: rating set has no positive total score")

// Position is one sized entry. Price is the rated price used for cost
// accounting; LimitPrice is the willing-to-pay ceiling (1.5x price, floored
// to whole dollars) meant to avoid missing fills on a fast-moving name.
type Position struct {
	Symbol     string
	Shares     int
	Price      float64
	LimitPrice int
}

// Allocation preserves rating order.
type Allocation []Position

// Plan splits cash across ratings proportionally to score. The sum of
// Shares*Price never exceeds cash.
func Plan(ratings []market.Rating, cash float64) (Allocation, error) {
	var total float64
	for _, r := range ratings {
		total += r.Score
	}
	if total <= 0 {
		return nil, ErrInvalidInput
	}

	alloc := make(Allocation, 0, len(ratings))
	for _, r := range ratings {
		alloc = append(alloc, Position{
			Symbol:     r.Symbol,
			Shares:     int(r.Score / total * cash / r.Price),
			Price:      r.Price,
			LimitPrice: int(math.Floor(r.Price * 1.5)),
		})
	}
	return alloc, nil
}

// Dominant selects the single position with the highest share count, the one
// the strategy actually buys. Ties go to the higher-rated symbol. ok is
// false for an empty allocation.
func (a Allocation) Dominant() (Position, bool) {
	if len(a) == 0 {
		return Position{}, false
	}
	best := a[0]
	for _, p := range a[1:] {
		if p.Shares > best.Shares {
			best = p
		}
	}
	return best, true
}
