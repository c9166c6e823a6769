// Package main implements the mint service: the outbound SV2 Noise
// connection to a pool's mint-quote listener, backed by a minting engine,
// plus the HTTP status endpoint the pool polls for settled quotes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bardlex/hashpool/internal/config"
	"github.com/bardlex/hashpool/internal/mint"
	"github.com/bardlex/hashpool/internal/mintclient"
	"github.com/bardlex/hashpool/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting mint",
		"version", cfg.Version,
		"pool_addr", cfg.MintPoolAddr,
		"status_listen_addr", cfg.MintListenAddr,
	)

	engine := mint.NewEngine()
	client := mintclient.New(cfg.MintPoolAddr, engine, logger)
	statusServer := mint.NewStatusServer(cfg.MintListenAddr, engine, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go client.Run(ctx)
	go func() {
		if err := statusServer.Run(ctx); err != nil {
			logger.WithError(err).Error("mint status server failed")
			cancel()
		}
	}()

	<-sigChan
	logger.Info("shutdown signal received")
	cancel()

	time.Sleep(500 * time.Millisecond)
	logger.Info("mint stopped")
}
