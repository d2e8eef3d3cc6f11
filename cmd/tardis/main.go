// Command tardis replays one exchange's historical market data to
// stdout as newline-delimited JSON, grounded on ws/main.go's flag parsing
// and signal-driven shutdown shape.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/tardis-go/tardis/internal/config"
	"github.com/tardis-go/tardis/internal/fetchworker"
	"github.com/tardis-go/tardis/internal/logging"

	tardis "github.com/tardis-go/tardis"
)

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	var (
		exchange     = flag.String("exchange", "", "exchange id (required)")
		from         = flag.String("from", "", "replay range start, RFC3339 or YYYY-MM-DD (required)")
		to           = flag.String("to", "", "replay range end, RFC3339 or YYYY-MM-DD (required)")
		channel      = flag.String("channel", "", "channel filter (optional)")
		symbols      = flag.String("symbols", "", "comma-separated symbol filter (optional)")
		skipDecoding = flag.Bool("skip-decoding", false, "skip timestamp/JSON decoding, emit raw bytes")
		disconnects  = flag.Bool("disconnects", false, "emit disconnect sentinels")
		debug        = flag.Bool("debug", false, "enable debug logging (overrides TARDIS_LOG_LEVEL)")
	)
	flag.Parse()

	logger := logging.New(logging.Config{Level: "info", Format: "json"})

	maxProcs := runtime.GOMAXPROCS(0)
	logger.Info().Int("gomaxprocs", maxProcs).Msg("starting tardis")

	cfg, err := config.Load(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	logger = logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)

	if *exchange == "" || *from == "" || *to == "" {
		fmt.Fprintln(os.Stderr, "usage: tardis -exchange <id> -from <date> -to <date> [-channel <c>] [-symbols <a,b>]")
		os.Exit(2)
	}

	tardis.SetLogger(logger)
	if err := tardis.Init(tardis.Config{
		Endpoint: cfg.Endpoint,
		CacheDir: cfg.CacheDir,
		APIKey:   cfg.APIKey,
		FetchConfig: fetchworker.Config{
			MaxConcurrentFetches: cfg.MaxConcurrentFetches,
			MaxFetchRatePerSec:   cfg.MaxFetchRatePerSec,
			CPUPauseThreshold:    cfg.CPUPauseThreshold,
		},
	}); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tardis")
	}

	var filters []tardis.Filter
	if *channel != "" {
		filters = append(filters, tardis.Filter{Channel: *channel, Symbols: splitCSV(*symbols)})
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutting down")
		cancel()
	}()

	r, err := tardis.NewReplay(ctx, tardis.ReplayOptions{
		Exchange:                     *exchange,
		From:                         *from,
		To:                           *to,
		Filters:                      filters,
		SkipDecoding:                 *skipDecoding,
		ReturnDisconnectsAsUndefined: *disconnects,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start replay")
	}
	defer r.Close()

	enc := json.NewEncoder(os.Stdout)
	for r.Next() {
		if err := enc.Encode(r.Message()); err != nil {
			logger.Error().Err(err).Msg("failed to write message")
		}
	}
	if err := r.Err(); err != nil {
		logger.Fatal().Err(err).Msg("replay terminated with error")
	}
}
