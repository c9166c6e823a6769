// Package poolstate caches pool state in Redis: each open channel's active
// job and the pool's current network target, so a second process (a read-only
// status endpoint, or the pool itself recovering from a restart) can see
// what a channel is mining without holding the engine's in-memory state.
package poolstate

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for pool channel/job state.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration. URL is a standard
// redis://[:password@]host:port/db DSN, parsed with redis.ParseURL; pool
// tuning fields override its defaults when non-zero.
type Config struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient creates a new Redis-backed poolstate client.
func NewClient(cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.PoolSize != 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns != 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.MaxRetries != 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.DialTimeout != 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout != 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout != 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// jobSnapshot is the JSON shape a channel's active job is cached as;
// mirrors internal/pool.Job without importing it, to keep poolstate
// dependency-free of the engine's internals.
type jobSnapshot struct {
	JobID                 uint32   `json:"job_id"`
	FutureJob             bool     `json:"future_job"`
	Version               uint32   `json:"version"`
	VersionRollingAllowed bool     `json:"version_rolling_allowed"`
	MerklePath            []string `json:"merkle_path"`
	CoinbasePrefix        string   `json:"coinbase_prefix"`
	CoinbaseSuffix        string   `json:"coinbase_suffix"`
	PrevHashSet           bool     `json:"prev_hash_set"`
	PrevHash              string   `json:"prev_hash"`
	MinNTime              uint32   `json:"min_ntime"`
	NBits                 uint32   `json:"nbits"`
}

// JobState is the caller-facing view of a cached job, decoupled from
// internal/pool.Job's byte-array fields so poolstate stays import-free of
// the engine package.
type JobState struct {
	JobID                 uint32
	FutureJob             bool
	Version               uint32
	VersionRollingAllowed bool
	MerklePath            [][32]byte
	CoinbasePrefix        []byte
	CoinbaseSuffix        []byte
	PrevHashSet           bool
	PrevHash              [32]byte
	MinNTime              uint32
	NBits                 uint32
}

func jobKey(channelID uint32) string {
	return fmt.Sprintf("poolstate:job:%d", channelID)
}

const networkTargetKey = "poolstate:network_target"

// SetJob caches a channel's active job, overwriting any previous one.
func (c *Client) SetJob(ctx context.Context, channelID uint32, j JobState) error {
	path := make([]string, len(j.MerklePath))
	for i, node := range j.MerklePath {
		path[i] = hex.EncodeToString(node[:])
	}
	snap := jobSnapshot{
		JobID:                 j.JobID,
		FutureJob:             j.FutureJob,
		Version:               j.Version,
		VersionRollingAllowed: j.VersionRollingAllowed,
		MerklePath:            path,
		CoinbasePrefix:        hex.EncodeToString(j.CoinbasePrefix),
		CoinbaseSuffix:        hex.EncodeToString(j.CoinbaseSuffix),
		PrevHashSet:           j.PrevHashSet,
		PrevHash:              hex.EncodeToString(j.PrevHash[:]),
		MinNTime:              j.MinNTime,
		NBits:                 j.NBits,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal job state: %w", err)
	}
	if err := c.rdb.Set(ctx, jobKey(channelID), data, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to cache job state: %w", err)
	}
	return nil
}

// GetJob retrieves a channel's cached active job, if any.
func (c *Client) GetJob(ctx context.Context, channelID uint32) (JobState, bool, error) {
	data, err := c.rdb.Get(ctx, jobKey(channelID)).Result()
	if err == redis.Nil {
		return JobState{}, false, nil
	}
	if err != nil {
		return JobState{}, false, fmt.Errorf("failed to get job state: %w", err)
	}

	var snap jobSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return JobState{}, false, fmt.Errorf("failed to unmarshal job state: %w", err)
	}

	path := make([][32]byte, len(snap.MerklePath))
	for i, s := range snap.MerklePath {
		raw, err := hex.DecodeString(s)
		if err != nil || len(raw) != 32 {
			return JobState{}, false, fmt.Errorf("corrupt merkle path entry in cached job state")
		}
		copy(path[i][:], raw)
	}
	prefix, err := hex.DecodeString(snap.CoinbasePrefix)
	if err != nil {
		return JobState{}, false, fmt.Errorf("corrupt coinbase prefix in cached job state")
	}
	suffix, err := hex.DecodeString(snap.CoinbaseSuffix)
	if err != nil {
		return JobState{}, false, fmt.Errorf("corrupt coinbase suffix in cached job state")
	}
	var prevHash [32]byte
	if raw, err := hex.DecodeString(snap.PrevHash); err == nil && len(raw) == 32 {
		copy(prevHash[:], raw)
	}

	return JobState{
		JobID:                 snap.JobID,
		FutureJob:             snap.FutureJob,
		Version:               snap.Version,
		VersionRollingAllowed: snap.VersionRollingAllowed,
		MerklePath:            path,
		CoinbasePrefix:        prefix,
		CoinbaseSuffix:        suffix,
		PrevHashSet:           snap.PrevHashSet,
		PrevHash:              prevHash,
		MinNTime:              snap.MinNTime,
		NBits:                 snap.NBits,
	}, true, nil
}

// SetNetworkTarget caches the pool's current network target, the one every
// channel's block-solution check is judged against.
func (c *Client) SetNetworkTarget(ctx context.Context, targetLE [32]byte) error {
	if err := c.rdb.Set(ctx, networkTargetKey, hex.EncodeToString(targetLE[:]), 0).Err(); err != nil {
		return fmt.Errorf("failed to cache network target: %w", err)
	}
	return nil
}

// GetNetworkTarget retrieves the cached network target, if any.
func (c *Client) GetNetworkTarget(ctx context.Context) (target [32]byte, ok bool, err error) {
	data, err := c.rdb.Get(ctx, networkTargetKey).Result()
	if err == redis.Nil {
		return [32]byte{}, false, nil
	}
	if err != nil {
		return [32]byte{}, false, fmt.Errorf("failed to get network target: %w", err)
	}
	raw, err := hex.DecodeString(data)
	if err != nil || len(raw) != 32 {
		return [32]byte{}, false, fmt.Errorf("corrupt cached network target")
	}
	copy(target[:], raw)
	return target, true, nil
}

// DeleteChannel removes all cached state for a channel, called when the
// engine closes it.
func (c *Client) DeleteChannel(ctx context.Context, channelID uint32) error {
	if err := c.rdb.Del(ctx, jobKey(channelID)).Err(); err != nil {
		return fmt.Errorf("failed to delete cached channel state: %w", err)
	}
	return nil
}
