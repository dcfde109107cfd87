package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"overnight/internal/backtest"
	"overnight/internal/broker"
	"overnight/internal/config"
	"overnight/internal/rating"
	"overnight/internal/trader"
)

const usage = `usage: overnight <command> [flags]

commands:
  run                     enter the live trading loop
  backtest <cash> <days>  simulate the strategy over the trailing <days> calendar days
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]
	if command != "run" && command != "backtest" {
		fmt.Fprintf(os.Stderr, "unrecognized command %q\n\n%s", command, usage)
		os.Exit(2)
	}

	cfg, args, err := config.Load(os.Args[2:])
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	client := broker.New(cfg.APIKey, cfg.APISecret, cfg.BaseURL)
	engine := rating.New(client, rating.Params{
		WindowSize:   cfg.WindowSize,
		BatchSize:    cfg.BatchSize,
		StocksToHold: cfg.StocksToHold,
		MinPrice:     cfg.MinStockPrice,
		MaxPrice:     cfg.MaxStockPrice,
		MaxBarLag:    cfg.MaxBarLag,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChan
		log.Printf("shutdown signal received")
		cancel()
	}()

	switch command {
	case "run":
		runLive(ctx, cfg, client, engine)
	case "backtest":
		runBacktest(ctx, cfg, client, engine, args)
	}
}

func runLive(ctx context.Context, cfg config.Config, client *broker.Client, engine *rating.Engine) {
	runID := generateRunID()
	journal, err := trader.NewJournal(cfg.JournalPath, runID)
	if err != nil {
		log.Fatalf("journal error: %v", err)
	}
	defer func() {
		if err := journal.Close(); err != nil {
			log.Printf("failed to close journal: %v", err)
		}
	}()

	loop := trader.New(cfg, client, engine, journal, runID)
	log.Printf("starting live loop run_id=%s", runID)
	if err := loop.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("live loop: %v", err)
	}
	log.Printf("shutdown complete")
}

func runBacktest(ctx context.Context, cfg config.Config, client *broker.Client, engine *rating.Engine, args []string) {
	if len(args) != 2 {
		fmt.Fprintf(os.Stderr, "backtest requires <cash> and <days>\n\n%s", usage)
		os.Exit(2)
	}
	startCash, err := strconv.ParseFloat(args[0], 64)
	if err != nil || startCash <= 0 {
		log.Fatalf("invalid starting cash %q", args[0])
	}
	days, err := strconv.Atoi(args[1])
	if err != nil || days <= 0 {
		log.Fatalf("invalid days to test %q", args[1])
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)

	sim := backtest.New(engine, client, client, cfg.BenchmarkSymbol, os.Stdout)
	result, err := sim.Run(ctx, startCash, start, end)
	if err != nil {
		log.Fatalf("backtest: %v", err)
	}

	fmt.Printf("Portfolio change: %.4f%%\n", result.Change*100)
	fmt.Printf("%s change during backtesting window: %.4f%%\n", cfg.BenchmarkSymbol, result.BenchmarkChange*100)
}

func generateRunID() string {
	timestamp := time.Now().UTC().Format("20060102T150405")
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return timestamp
	}
	return timestamp + "-" + hex.EncodeToString(randomBytes)
}
