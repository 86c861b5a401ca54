package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"skoll/internal/common"
	"skoll/internal/config"
	"skoll/internal/engine"
	"skoll/internal/ledger"
	"skoll/internal/net"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var cfg config.Config
	if _, err := config.LoadAndWatch("server", &cfg); err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	// Setup custody, the matching engine and the TCP server.
	led := ledger.NewMem()
	eng := engine.New(led)
	srv := net.New(cfg.Server.Address, cfg.Server.Port, eng)
	eng.SetReporter(srv)

	if amount := cfg.Faucet.Amount; amount > 0 {
		srv.SetFaucet(func(account common.AccountID) {
			for _, pair := range eng.Pairs() {
				led.Credit(account, pair.Base(), amount)
				led.Credit(account, pair.Quote(), amount)
			}
			log.Info().Str("account", string(account)).Uint64("amount", amount).
				Msg("faucet credited account")
		})
	}

	if cfg.Metrics.Address != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Address, mux); err != nil {
				log.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	go srv.Run(ctx)
	// Block on running the server.
	<-ctx.Done()
}
