package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Strategy parameters.
	StocksToHold  int
	WindowSize    int
	BatchSize     int
	MinStockPrice float64
	MaxStockPrice float64
	MaxBarLag     time.Duration

	// Live loop timing.
	PollInterval    time.Duration
	BuyWindow       time.Duration
	PostBuyPause    time.Duration
	RetryDelay      time.Duration
	MaxRetries      int
	SessionLookback time.Duration
	OrderHistory    int

	BenchmarkSymbol string
	JournalPath     string

	BaseURL   string
	APIKey    string
	APISecret string
}

// Load parses flags from args (everything after the subcommand) and pulls
// credentials from the environment, honoring a .env file if one is present.
// Remaining positional arguments are returned for the caller to interpret.
func Load(args []string) (Config, []string, error) {
	var cfg Config

	_ = godotenv.Load()

	fs := flag.NewFlagSet("overnight", flag.ContinueOnError)
	fs.IntVar(&cfg.StocksToHold, "stocks-to-hold", 50, "max symbols kept in a rating set")
	fs.IntVar(&cfg.WindowSize, "window-size", 5, "daily bars per scoring window")
	fs.IntVar(&cfg.BatchSize, "batch-size", 200, "max symbols per bar request")
	fs.Float64Var(&cfg.MinStockPrice, "min-price", 20, "lowest eligible close price")
	fs.Float64Var(&cfg.MaxStockPrice, "max-price", 50, "highest eligible close price")
	fs.DurationVar(&cfg.MaxBarLag, "max-bar-lag", 48*time.Hour, "max age of the latest bar before a symbol is stale")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", 30*time.Second, "market clock polling interval")
	fs.DurationVar(&cfg.BuyWindow, "buy-window", 120*time.Second, "time before close to submit the daily buy")
	fs.DurationVar(&cfg.PostBuyPause, "post-buy-pause", 150*time.Second, "pause after submitting the daily order")
	fs.DurationVar(&cfg.RetryDelay, "retry-delay", 15*time.Second, "delay between retries of failed broker calls")
	fs.IntVar(&cfg.MaxRetries, "max-retries", 4, "attempts per broker call before giving up for the cycle")
	fs.DurationVar(&cfg.SessionLookback, "session-lookback", 12*time.Hour, "order history window for session restore")
	fs.IntVar(&cfg.OrderHistory, "order-history", 400, "max orders fetched during session restore")
	fs.StringVar(&cfg.BenchmarkSymbol, "benchmark", "SPY", "benchmark symbol for backtest comparison")
	fs.StringVar(&cfg.JournalPath, "journal-path", "trades.ndjson", "trade journal path, empty to disable")
	fs.StringVar(&cfg.BaseURL, "base-url", "https://paper-api.alpaca.markets", "trading API base URL")
	if err := fs.Parse(args); err != nil {
		return cfg, nil, err
	}

	cfg.APIKey = os.Getenv("APCA_API_KEY_ID")
	cfg.APISecret = os.Getenv("APCA_API_SECRET_KEY")

	if err := validate(cfg); err != nil {
		return cfg, nil, err
	}
	return cfg, fs.Args(), nil
}

func validate(cfg Config) error {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return fmt.Errorf("APCA_API_KEY_ID and APCA_API_SECRET_KEY are required")
	}
	if cfg.StocksToHold <= 0 {
		return fmt.Errorf("stocks-to-hold must be > 0")
	}
	if cfg.WindowSize < 3 {
		return fmt.Errorf("window-size must be >= 3")
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be > 0")
	}
	if cfg.MinStockPrice < 0 || cfg.MaxStockPrice <= cfg.MinStockPrice {
		return fmt.Errorf("price band [%v, %v] is invalid", cfg.MinStockPrice, cfg.MaxStockPrice)
	}
	if cfg.MaxBarLag <= 0 {
		return fmt.Errorf("max-bar-lag must be > 0")
	}
	if cfg.PollInterval <= 0 || cfg.BuyWindow <= 0 || cfg.PostBuyPause <= 0 {
		return fmt.Errorf("poll-interval, buy-window and post-buy-pause must be > 0")
	}
	if cfg.RetryDelay < 0 {
		return fmt.Errorf("retry-delay must be >= 0")
	}
	if cfg.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be > 0")
	}
	if cfg.SessionLookback <= 0 {
		return fmt.Errorf("session-lookback must be > 0")
	}
	if cfg.OrderHistory <= 0 {
		return fmt.Errorf("order-history must be > 0")
	}
	if cfg.BenchmarkSymbol == "" {
		return fmt.Errorf("benchmark symbol is required")
	}
	return nil
}
