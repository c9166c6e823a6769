// The block-template watcher polls Bitcoin Core for new work, turns each
// template into a pool.Job, and distributes it to every open channel.
// When a channel's share also solves the network target, it reassembles
// the winning block from the job's coinbase split plus the template it
// came from and submits it back to Bitcoin Core.
//
// Grounded on the teacher's cmd/jobmanager's poll/detect-new-block/build-
// job loop, adapted from Stratum V1's full-transaction-set job payload to
// SV2's leaner merkle-path-plus-coinbase-split representation.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/hashpool/internal/auditlog"
	"github.com/bardlex/hashpool/internal/bitcoin"
	"github.com/bardlex/hashpool/internal/metrics"
	"github.com/bardlex/hashpool/internal/pool"
	"github.com/bardlex/hashpool/internal/pool/target"
	"github.com/bardlex/hashpool/internal/poolstate"
	"github.com/bardlex/hashpool/internal/setup"
	"github.com/bardlex/hashpool/internal/sv2/frame"
	"github.com/bardlex/hashpool/internal/sv2/mining"
	"github.com/bardlex/hashpool/pkg/log"
)

// Watcher polls Bitcoin Core on a fixed interval, distributes a new job to
// every open channel whenever the template's previous-hash changes, and
// reassembles + submits a full block whenever a channel reports a share
// that also solved the network target.
type Watcher struct {
	rpc          *bitcoin.RPCClient
	engine       *pool.Engine
	registry     *setup.Registry
	logger       *log.Logger
	pollInterval time.Duration
	poolAddress  string

	nextJobID uint32

	mu           sync.Mutex
	templates    map[uint32]*btcjson.GetBlockTemplateResult
	lastPrevHash string

	runCtx context.Context

	// audit, state, metricsClient, and hashblock are all optional: a nil
	// field just skips that side effect. cmd/pool/main.go assigns them
	// after construction once their backing services are reachable.
	audit         *auditlog.Log
	state         *poolstate.Client
	metricsClient *metrics.Client
	hashblock     *bitcoin.HashBlockSubscriber
}

// NewWatcher creates a watcher; Run must be called to start polling.
func NewWatcher(rpc *bitcoin.RPCClient, engine *pool.Engine, registry *setup.Registry, poolAddress string, pollInterval time.Duration, logger *log.Logger) *Watcher {
	return &Watcher{
		rpc:          rpc,
		engine:       engine,
		registry:     registry,
		logger:       logger,
		pollInterval: pollInterval,
		poolAddress:  poolAddress,
		templates:    make(map[uint32]*btcjson.GetBlockTemplateResult),
	}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	w.mu.Lock()
	w.runCtx = ctx
	w.mu.Unlock()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.pollOnce(ctx); err != nil {
				w.logger.WithError(err).Error("block template poll failed")
			}
		}
	}
}

func (w *Watcher) pollOnce(ctx context.Context) error {
	tpl, err := w.rpc.GetBlockTemplate(ctx)
	if err != nil {
		return fmt.Errorf("get_block_template: %w", err)
	}

	w.mu.Lock()
	unchanged := tpl.PreviousHash == w.lastPrevHash
	w.mu.Unlock()
	if unchanged {
		return nil
	}

	return w.activateTemplate(ctx, tpl)
}

// activateTemplate builds a job from tpl, distributes it to every open
// channel, activates it with SetNewPrevHash, and updates the network
// target every channel's shares are now judged against.
func (w *Watcher) activateTemplate(ctx context.Context, tpl *btcjson.GetBlockTemplateResult) error {
	if tpl.CoinbaseValue == nil {
		return fmt.Errorf("block template missing coinbasevalue")
	}

	jobID := w.nextJobID + 1
	w.nextJobID = jobID

	coinbaseTx, coinb1Hex, coinb2Hex, err := w.rpc.CreateCoinbaseTransaction(ctx, tpl.Height, *tpl.CoinbaseValue, mining.ExtraNonceSize, w.poolAddress)
	if err != nil {
		return fmt.Errorf("create_coinbase_transaction: %w", err)
	}
	prefix, err := hex.DecodeString(coinb1Hex)
	if err != nil {
		return fmt.Errorf("decode coinb1: %w", err)
	}
	suffix, err := hex.DecodeString(coinb2Hex)
	if err != nil {
		return fmt.Errorf("decode coinb2: %w", err)
	}

	merklePath, err := w.buildMerklePath(coinbaseTx, tpl.Transactions)
	if err != nil {
		return fmt.Errorf("build merkle path: %w", err)
	}

	nbits, err := parseBits(tpl.Bits)
	if err != nil {
		return fmt.Errorf("parse bits: %w", err)
	}
	prevHash, err := chainhash.NewHashFromStr(tpl.PreviousHash)
	if err != nil {
		return fmt.Errorf("parse previous hash: %w", err)
	}

	job := pool.Job{
		JobID:                 jobID,
		FutureJob:             false,
		Version:               uint32(tpl.Version),
		VersionRollingAllowed: true,
		MerklePath:            merklePath,
		CoinbasePrefix:        prefix,
		CoinbaseSuffix:        suffix,
	}

	for _, msg := range w.engine.DistributeJob(job) {
		w.broadcast(msg.ChannelID, mining.MsgNewExtendedMiningJob, msg)
		w.cacheJob(msg.ChannelID, job)
	}

	networkTarget := target.NBitsToTarget(nbits)
	w.engine.SetNetworkTarget(networkTarget)
	w.cacheNetworkTarget(networkTarget)

	minNTime := uint32(tpl.CurTime)
	var prevHashLE [32]byte
	copy(prevHashLE[:], prevHash[:])
	for _, msg := range w.engine.SetPrevHash(jobID, prevHashLE, minNTime, nbits) {
		w.broadcast(msg.ChannelID, mining.MsgSetNewPrevHash, msg)
	}

	w.mu.Lock()
	w.templates = map[uint32]*btcjson.GetBlockTemplateResult{jobID: tpl}
	w.lastPrevHash = tpl.PreviousHash
	w.mu.Unlock()

	w.logger.Info("activated block template", "job_id", jobID, "height", tpl.Height, "previous_hash", tpl.PreviousHash, "transactions", len(tpl.Transactions))
	return nil
}

// buildMerklePath hashes every template transaction (plus the coinbase
// placeholder at index 0) and returns the sibling path for index 0. The
// coinbase's placeholder extranonce bytes never affect the result: a
// merkle branch is exactly the set of sibling hashes needed to fold a
// leaf's hash upward, and the leaf itself (whatever its final hash turns
// out to be once a channel fills in the real extranonce) is never one of
// its own siblings.
func (w *Watcher) buildMerklePath(coinbaseTx *wire.MsgTx, txs []btcjson.GetBlockTemplateResultTx) ([][32]byte, error) {
	hashes := make([]chainhash.Hash, 0, len(txs)+1)
	hashes = append(hashes, coinbaseTx.TxHash())
	for _, tx := range txs {
		raw, err := hex.DecodeString(tx.Data)
		if err != nil {
			return nil, fmt.Errorf("decode transaction %s: %w", tx.Hash, err)
		}
		msgTx := &wire.MsgTx{}
		if err := msgTx.Deserialize(bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("deserialize transaction %s: %w", tx.Hash, err)
		}
		hashes = append(hashes, msgTx.TxHash())
	}

	branch := bitcoin.GetMerkleBranch(hashes, 0)
	out := make([][32]byte, len(branch))
	for i, h := range branch {
		out[i] = h
	}
	return out, nil
}

// cacheJob best-effort caches a channel's newly distributed job in poolstate.
func (w *Watcher) cacheJob(channelID uint32, j pool.Job) {
	if w.state == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.state.SetJob(ctx, channelID, poolstate.JobState{
		JobID:                 j.JobID,
		FutureJob:             j.FutureJob,
		Version:               j.Version,
		VersionRollingAllowed: j.VersionRollingAllowed,
		MerklePath:            j.MerklePath,
		CoinbasePrefix:        j.CoinbasePrefix,
		CoinbaseSuffix:        j.CoinbaseSuffix,
		PrevHashSet:           j.PrevHashSet,
		PrevHash:              j.PrevHash,
		MinNTime:              j.MinNTime,
		NBits:                 j.NBits,
	}); err != nil {
		w.logger.WithError(err).Warn("failed to cache job state", "channel_id", channelID)
	}
}

// cacheNetworkTarget best-effort caches the pool's current network target.
func (w *Watcher) cacheNetworkTarget(targetLE [32]byte) {
	if w.state == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.state.SetNetworkTarget(ctx, targetLE); err != nil {
		w.logger.WithError(err).Warn("failed to cache network target")
	}
}

// RunHashBlockSubscriber listens for Bitcoin Core's ZMQ hashblock
// notifications and triggers an immediate poll on each one, rather than
// waiting for the next ticker interval. No-ops if no subscriber was wired.
func (w *Watcher) RunHashBlockSubscriber(ctx context.Context) {
	if w.hashblock == nil {
		return
	}
	err := w.hashblock.Listen(ctx, func(blockHash string) {
		w.logger.Info("zmq hashblock notification", "hash", blockHash)
		if err := w.pollOnce(ctx); err != nil {
			w.logger.WithError(err).Error("block template poll after hashblock notification failed")
		}
	})
	if err != nil && ctx.Err() == nil {
		w.logger.WithError(err).Error("hashblock subscriber stopped unexpectedly")
	}
}

func (w *Watcher) broadcast(channelID uint32, msgType uint8, msg encodable) {
	payload, err := msg.Encode()
	if err != nil {
		w.logger.WithError(err).Error("failed to encode job broadcast", "channel_id", channelID, "msg_type", msgType)
		return
	}
	if err := w.registry.SendToChannel(channelID, frame.Frame{MsgType: msgType, Payload: payload}); err != nil {
		w.logger.Warn("failed to deliver job to channel", "channel_id", channelID, "msg_type", msgType, "error", err)
	}
}

// onBlockSolution is wired as the pool.Server's OnBlockSolution hook: it
// reassembles the full block the channel just solved from its originating
// template and submits it to Bitcoin Core.
func (w *Watcher) onBlockSolution(channelID uint32, res pool.SubmitResult) {
	w.mu.Lock()
	ctx := w.runCtx
	w.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	ch, ok := w.engine.Channel(channelID)
	if !ok {
		w.logger.Error("block solution on unknown channel", "channel_id", channelID)
		return
	}
	job, ok := ch.Jobs.Get(res.JobID)
	if !ok {
		w.logger.Error("block solution references unknown job", "channel_id", channelID, "job_id", res.JobID)
		return
	}

	w.mu.Lock()
	tpl, ok := w.templates[res.JobID]
	w.mu.Unlock()
	if !ok {
		w.logger.Error("block solution references unknown template", "job_id", res.JobID)
		return
	}

	blockHex, err := w.reconstructBlock(job, tpl, res)
	if err != nil {
		w.logger.WithError(err).Error("failed to reconstruct solved block", "channel_id", channelID, "job_id", res.JobID)
		return
	}

	var auditID int64
	var auditOK bool
	if w.audit != nil {
		auditID, auditOK = w.audit.RecordBlockSolution(channelID, res.JobID, res.Nonce, res.NTime, res.Version, res.HeaderHash)
	}

	submitErr := w.rpc.SubmitBlock(ctx, blockHex)
	accepted := submitErr == nil

	if auditOK {
		w.audit.MarkBlockSubmitted(auditID, accepted, hex.EncodeToString(res.HeaderHash[:]))
	}
	if w.metricsClient != nil {
		w.metricsClient.WriteBlockSolutionMetric(channelID, hex.EncodeToString(res.HeaderHash[:]), accepted)
	}

	if submitErr != nil {
		w.logger.WithError(submitErr).Error("submit_block failed", "channel_id", channelID, "job_id", res.JobID, "height", tpl.Height)
		return
	}
	w.logger.Info("submitted solved block", "channel_id", channelID, "job_id", res.JobID, "height", tpl.Height, "header_hash", res.HeaderHash)
}

// reconstructBlock splices the channel's extranonce into the job's
// coinbase split, rebuilds the full transaction set and merkle root, and
// serializes the resulting block. It builds the header directly rather
// than through bitcoin.ReconstructBlock so the miner's rolled version
// bits (res.Version) are honored instead of the template's original
// version.
func (w *Watcher) reconstructBlock(job pool.Job, tpl *btcjson.GetBlockTemplateResult, res pool.SubmitResult) (string, error) {
	coinbaseBytes := make([]byte, 0, len(job.CoinbasePrefix)+len(res.Extranonce)+len(job.CoinbaseSuffix))
	coinbaseBytes = append(coinbaseBytes, job.CoinbasePrefix...)
	coinbaseBytes = append(coinbaseBytes, res.Extranonce...)
	coinbaseBytes = append(coinbaseBytes, job.CoinbaseSuffix...)

	coinbaseTx := &wire.MsgTx{}
	if err := coinbaseTx.Deserialize(bytes.NewReader(coinbaseBytes)); err != nil {
		return "", fmt.Errorf("deserialize coinbase: %w", err)
	}

	transactions := make([]*wire.MsgTx, 0, len(tpl.Transactions)+1)
	transactions = append(transactions, coinbaseTx)
	hashes := make([]chainhash.Hash, 0, len(tpl.Transactions)+1)
	hashes = append(hashes, coinbaseTx.TxHash())
	for _, tx := range tpl.Transactions {
		raw, err := hex.DecodeString(tx.Data)
		if err != nil {
			return "", fmt.Errorf("decode transaction %s: %w", tx.Hash, err)
		}
		msgTx := &wire.MsgTx{}
		if err := msgTx.Deserialize(bytes.NewReader(raw)); err != nil {
			return "", fmt.Errorf("deserialize transaction %s: %w", tx.Hash, err)
		}
		transactions = append(transactions, msgTx)
		hashes = append(hashes, msgTx.TxHash())
	}

	merkleRoot := bitcoin.CalculateMerkleRoot(hashes)

	prevHash, err := chainhash.NewHashFromStr(tpl.PreviousHash)
	if err != nil {
		return "", fmt.Errorf("parse previous hash: %w", err)
	}
	nbits, err := parseBits(tpl.Bits)
	if err != nil {
		return "", fmt.Errorf("parse bits: %w", err)
	}

	header := wire.BlockHeader{
		Version:    int32(res.Version),
		PrevBlock:  *prevHash,
		MerkleRoot: merkleRoot,
		Timestamp:  time.Unix(int64(res.NTime), 0),
		Bits:       nbits,
		Nonce:      res.Nonce,
	}
	block := &wire.MsgBlock{Header: header, Transactions: transactions}

	var buf bytes.Buffer
	if err := block.Serialize(&buf); err != nil {
		return "", fmt.Errorf("serialize block: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// parseBits parses a block template's "bits" field, the compact nbits
// value in its plain (not byte-swapped) hex form.
func parseBits(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid bits %q: %w", s, err)
	}
	return uint32(v), nil
}

type encodable interface {
	Encode() ([]byte, error)
}
