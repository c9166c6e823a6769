// Package main implements the pool service: the SV2 mining listener, the
// channel engine every connection shares, the block-template watcher that
// feeds it jobs, and the quote-extension pipeline that turns accepted
// shares into ecash quotes against a connected mint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bardlex/hashpool/internal/auditlog"
	"github.com/bardlex/hashpool/internal/bitcoin"
	"github.com/bardlex/hashpool/internal/config"
	"github.com/bardlex/hashpool/internal/database/postgres"
	"github.com/bardlex/hashpool/internal/metrics"
	"github.com/bardlex/hashpool/internal/pool"
	"github.com/bardlex/hashpool/internal/pool/target"
	"github.com/bardlex/hashpool/internal/poolstate"
	"github.com/bardlex/hashpool/internal/quotehub"
	"github.com/bardlex/hashpool/internal/setup"
	"github.com/bardlex/hashpool/internal/sv2/common"
	"github.com/bardlex/hashpool/internal/sv2/noise"
	"github.com/bardlex/hashpool/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting pool",
		"version", cfg.Version,
		"mining_listen_addr", cfg.MiningListenAddr,
		"mintquote_listen_addr", cfg.MintQuoteListenAddr,
		"bitcoin_rpc_host", cfg.BitcoinRPCHost,
	)

	rpcClient, err := bitcoin.NewRPCClient(cfg.BitcoinRPCHost, cfg.BitcoinRPCPort, cfg.BitcoinRPCUser, cfg.BitcoinRPCPassword)
	if err != nil {
		logger.WithError(err).Error("failed to create bitcoin rpc client")
		os.Exit(1)
	}

	var audit *auditlog.Log
	if pgClient, err := postgres.NewClient(&postgres.Config{
		DSN:          cfg.PostgresURL,
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		MaxLifetime:  30 * time.Minute,
	}); err != nil {
		logger.WithError(err).Warn("postgres unreachable, ehash/quote audit log disabled")
	} else if audit, err = auditlog.New(pgClient, logger); err != nil {
		logger.WithError(err).Warn("audit log migration failed, audit log disabled")
	}

	var state *poolstate.Client
	if c, err := poolstate.NewClient(&poolstate.Config{URL: cfg.RedisURL}); err != nil {
		logger.WithError(err).Warn("redis unreachable, channel/job state cache disabled")
	} else {
		state = c
	}

	var metricsClient *metrics.Client
	if c, err := metrics.NewClient(&metrics.Config{
		URL:    cfg.InfluxURL,
		Token:  cfg.InfluxToken,
		Org:    cfg.InfluxOrg,
		Bucket: cfg.InfluxBucket,
	}); err != nil {
		logger.WithError(err).Warn("influxdb unreachable, metrics export disabled")
	} else {
		metricsClient = c
	}

	var hashblock *bitcoin.HashBlockSubscriber
	if hb, err := bitcoin.NewHashBlockSubscriber(cfg.BitcoinZMQAddr, logger.Logger); err != nil {
		logger.WithError(err).Warn("zmq hashblock subscriber disabled")
	} else {
		hashblock = hb
	}

	engine := pool.NewEngine(pool.Config{
		SharesPerMinute:            cfg.SharesPerMinute,
		MinIndividualHashrate:      cfg.MinIndividualHashrate,
		MaxHashrate:                cfg.MaxHashrate,
		MinimumShareDifficultyBits: cfg.MinimumShareDifficultyBits,
		ShareBatchSize:             cfg.ShareBatchSize,
	})
	engine.AmountPerShare = func(_ uint32, shareTarget [32]byte) uint64 {
		hashrate := target.TargetToHashRate(shareTarget, cfg.SharesPerMinute)
		amount := hashrate / 1e9 * float64(cfg.AmountPerShareSat)
		if amount < 1 {
			return cfg.AmountPerShareSat
		}
		return uint64(amount)
	}
	if state != nil {
		engine.OnChannelClosed = func(channelID uint32) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := state.DeleteChannel(ctx, channelID); err != nil {
				logger.WithError(err).Warn("failed to evict cached channel state", "channel_id", channelID)
			}
		}
	}

	registry := setup.NewRegistry()
	table := quotehub.NewTable()
	queue := quotehub.NewQueue(logger)
	engine.DispatchQuote = queue.Enqueue

	watcher := NewWatcher(rpcClient, engine, registry, cfg.PoolAddress, cfg.TemplatePollInterval, logger)
	watcher.audit = audit
	watcher.state = state
	watcher.metricsClient = metricsClient
	watcher.hashblock = hashblock

	server := pool.NewServer(engine, registry, logger)
	server.OnBlockSolution = watcher.onBlockSolution
	server.OnShareResult = func(channelID, sequenceNumber uint32, res pool.SubmitResult) {
		if audit != nil {
			audit.RecordShare(channelID, sequenceNumber, res.JobID, res.HeaderHash, res.Reject == pool.RejectNone, res.Reject.ErrorCode())
		}
		if metricsClient != nil {
			metricsClient.WriteShareMetric(channelID, res.Reject == pool.RejectNone, res.Reject.ErrorCode())
		}
	}

	miningListener := setup.NewListener(cfg.MiningListenAddr, logger)
	miningListener.OnMining = server.Handle

	mintQuoteListener := setup.NewListener(cfg.MintQuoteListenAddr, logger)
	mintQuoteListener.OnMintQuote = func(ctx context.Context, id string, transport *noise.Transport, _ common.SetupConnection) {
		logger.Info("mint connected", "connection_id", id)
		dispatcher := quotehub.NewDispatcher(transport, table, logger)
		dispatcher.OnQuoteID = func(req pool.QuoteRequest, quoteID string) {
			if audit != nil {
				audit.RecordQuote(req.ChannelID, req.SequenceNumber, quoteID, req.LockingKey, true, req.Amount)
			}
			if metricsClient != nil {
				metricsClient.WriteQuoteMetric(req.ChannelID, req.Amount, "dispatched")
			}
		}
		queue.SetDispatcher(dispatcher)
		<-ctx.Done()
		queue.SetDispatcher(nil)
	}

	notifier := quotehub.NewNotifier(table, registry, logger)
	if audit != nil {
		notifier.OnSettled = audit.MarkQuoteSettled
	}
	poller := quotehub.NewPoller(cfg.MintQuoteAPIAddr, table, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go watcher.Run(ctx)
	go watcher.RunHashBlockSubscriber(ctx)
	go queue.Run(ctx)
	go notifier.Run(ctx)
	go poller.Run(ctx)

	go func() {
		if err := miningListener.Serve(ctx); err != nil {
			logger.WithError(err).Error("mining listener failed")
			cancel()
		}
	}()
	go func() {
		if err := mintQuoteListener.Serve(ctx); err != nil {
			logger.WithError(err).Error("mint-quote listener failed")
			cancel()
		}
	}()

	<-sigChan
	logger.Info("shutdown signal received")
	cancel()

	time.Sleep(500 * time.Millisecond)

	if hashblock != nil {
		if err := hashblock.Close(); err != nil {
			logger.WithError(err).Warn("failed to close zmq hashblock subscriber")
		}
	}
	if audit != nil {
		if err := audit.Close(); err != nil {
			logger.WithError(err).Warn("failed to close audit log")
		}
	}
	if state != nil {
		if err := state.Close(); err != nil {
			logger.WithError(err).Warn("failed to close poolstate client")
		}
	}
	if metricsClient != nil {
		metricsClient.Close()
	}

	logger.Info("pool stopped")
}
