// Package main implements the translator service: an SV1-to-SV2 proxy
// that aggregates classic Stratum miners onto a single extended channel
// opened against a pool.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bardlex/hashpool/internal/config"
	"github.com/bardlex/hashpool/internal/pool/vardiff"
	"github.com/bardlex/hashpool/internal/translator"
	"github.com/bardlex/hashpool/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting translator",
		"version", cfg.Version,
		"listen_addr", cfg.TranslatorListenAddr,
		"upstream_addr", cfg.TranslatorUpstreamAddr,
	)

	var lockingKey [33]byte
	hasLockingKey := false
	if cfg.TranslatorLockingKey != "" {
		raw, err := hex.DecodeString(cfg.TranslatorLockingKey)
		if err != nil {
			logger.WithError(err).Error("invalid TRANSLATOR_LOCKING_KEY")
			os.Exit(1)
		}
		if len(raw) != len(lockingKey) {
			logger.Error("TRANSLATOR_LOCKING_KEY must decode to 33 bytes", "decoded_len", len(raw))
			os.Exit(1)
		}
		copy(lockingKey[:], raw)
		hasLockingKey = true
	}

	wallet := &loggingWallet{logger: logger}

	t := translator.New(translator.Config{
		UpstreamAddr:       cfg.TranslatorUpstreamAddr,
		ListenAddr:         cfg.TranslatorListenAddr,
		UserIdentity:       cfg.TranslatorUserIdentity,
		LockingKey:         lockingKey,
		HasLockingKey:      hasLockingKey,
		SessionPrefixBytes: cfg.SessionPrefixBytes,
		Vardiff: vardiff.Config{
			SharesPerMinute:       cfg.SharesPerMinute,
			WindowSeconds:         cfg.VardiffWindowSeconds,
			MaxFactor:             cfg.VardiffMaxFactor,
			Hysteresis:            cfg.VardiffHysteresis,
			MinIndividualHashrate: cfg.MinIndividualHashrate,
			MaxHashrate:           cfg.MaxHashrate,
		},
	}, wallet, logger)

	listener := translator.NewListener(cfg.TranslatorListenAddr, t, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go t.Run(ctx)
	go func() {
		if err := listener.Serve(ctx); err != nil {
			logger.WithError(err).Error("translator listener failed")
			cancel()
		}
	}()

	<-sigChan
	logger.Info("shutdown signal received")
	cancel()

	time.Sleep(500 * time.Millisecond)
	logger.Info("translator stopped")
}

// loggingWallet is a stand-in for the miner's own ecash wallet, which is
// opaque to the translator: it only logs settled quotes and redemption
// failures rather than redeeming anything itself.
type loggingWallet struct {
	logger *log.Logger
}

func (w *loggingWallet) ReceiveQuote(channelID uint32, quoteID string, amount uint64) {
	w.logger.Info("quote settled", "channel_id", channelID, "quote_id", quoteID, "amount", amount)
}

func (w *loggingWallet) ReceiveQuoteFailure(channelID uint32, sequenceNumber uint32, reason string) {
	w.logger.Warn("quote failed", "channel_id", channelID, "sequence_number", sequenceNumber, "reason", reason)
}
