package risk

import (
	"testing"

	"overnight/internal/allocation"
)

func TestGateRejectsZeroShares(t *testing.T) {
	gate := Gate{}
	pick := allocation.Position{Symbol: "UP", Shares: 0, Price: 25, LimitPrice: 37}
	if err := gate.Evaluate(pick, 1000); err == nil {
		t.Fatalf("expected zero-share rejection")
	}
}

func TestGateRejectsOverspend(t *testing.T) {
	gate := Gate{}
	pick := allocation.Position{Symbol: "UP", Shares: 100, Price: 25, LimitPrice: 37}
	if err := gate.Evaluate(pick, 1000); err == nil {
		t.Fatalf("expected overspend rejection")
	}
}

func TestGateRejectsLimitBelowPrice(t *testing.T) {
	gate := Gate{}
	pick := allocation.Position{Symbol: "UP", Shares: 10, Price: 25, LimitPrice: 20}
	if err := gate.Evaluate(pick, 1000); err == nil {
		t.Fatalf("expected limit-below-price rejection")
	}
}

func TestGateApprovesValidOrder(t *testing.T) {
	gate := Gate{}
	pick := allocation.Position{Symbol: "UP", Shares: 10, Price: 25, LimitPrice: 37}
	if err := gate.Evaluate(pick, 1000); err != nil {
		t.Fatalf("expected approval, got %v", err)
	}
}
