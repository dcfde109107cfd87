package market

import "time"

// Bar is one day's aggregated OHLCV for a symbol.
type Bar struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	Timestamp time.Time
}

type Asset struct {
	Symbol   string
	Tradable bool
}

// Rating scores one symbol for the overnight hold. Score blends relative
// momentum with the absolute price move; Price is the latest close.
type Rating struct {
	Symbol string
	Score  float64
	Price  float64
}

type Clock struct {
	Timestamp time.Time
	NextClose time.Time
	IsOpen    bool
}

type Order struct {
	ID     string
	Symbol string
	Side   string
	Qty    int
}

const (
	SideBuy  = "buy"
	SideSell = "sell"
)
