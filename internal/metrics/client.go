// Package metrics exports pool time-series data to InfluxDB: per-channel
// share and block-solution counters, hash rate, and quote settlement
// outcomes.
package metrics

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Client wraps InfluxDB operations for pool metrics.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB-backed metrics client.
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// Close flushes pending writes and closes the InfluxDB connection.
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity.
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("health check failed: %s", msg)
	}
	return nil
}

// WriteShareMetric records one submit_shares outcome.
func (c *Client) WriteShareMetric(channelID uint32, accepted bool, rejectReason string) {
	tags := map[string]string{
		"channel_id": fmt.Sprintf("%d", channelID),
		"accepted":   fmt.Sprintf("%t", accepted),
	}
	if rejectReason != "" {
		tags["reject_reason"] = rejectReason
	}
	fields := map[string]interface{}{"count": 1}
	c.writeAPI.WritePoint(write.NewPoint("shares", tags, fields, time.Now()))
}

// WriteHashrateMetric records a channel's current estimated hash rate.
func (c *Client) WriteHashrateMetric(channelID uint32, hashrate float64) {
	tags := map[string]string{"channel_id": fmt.Sprintf("%d", channelID)}
	fields := map[string]interface{}{"hashrate": hashrate}
	c.writeAPI.WritePoint(write.NewPoint("hashrate", tags, fields, time.Now()))
}

// WriteBlockSolutionMetric records a block solution found by a channel and
// its eventual submitblock outcome.
func (c *Client) WriteBlockSolutionMetric(channelID uint32, headerHash string, accepted bool) {
	tags := map[string]string{
		"channel_id": fmt.Sprintf("%d", channelID),
		"accepted":   fmt.Sprintf("%t", accepted),
		"hash":       headerHash,
	}
	fields := map[string]interface{}{"count": 1}
	c.writeAPI.WritePoint(write.NewPoint("block_solutions", tags, fields, time.Now()))
}

// WriteQuoteMetric records a pool-mint quote lifecycle transition.
func (c *Client) WriteQuoteMetric(channelID uint32, amountSat uint64, status string) {
	tags := map[string]string{
		"channel_id": fmt.Sprintf("%d", channelID),
		"status":     status,
	}
	fields := map[string]interface{}{
		"amount_sat": amountSat,
		"count":      1,
	}
	c.writeAPI.WritePoint(write.NewPoint("quotes", tags, fields, time.Now()))
}

// Flush forces a write of all pending points.
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// GetShareStats retrieves accepted/rejected share counts for a channel over
// the given window.
func (c *Client) GetShareStats(ctx context.Context, channelID uint32, duration time.Duration) (*ShareStats, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "shares")
		|> filter(fn: (r) => r.channel_id == "%d")
		|> filter(fn: (r) => r._field == "count")
		|> group(columns: ["accepted"])
		|> sum()
	`, c.bucket, duration.String(), channelID)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query share stats: %w", err)
	}
	defer result.Close()

	stats := &ShareStats{}
	for result.Next() {
		record := result.Record()
		count, ok := record.Value().(int64)
		if !ok {
			continue
		}
		if record.ValueByKey("accepted") == "true" {
			stats.Accepted = count
		} else {
			stats.Rejected = count
		}
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}
	return stats, nil
}

// ShareStats is aggregated accepted/rejected share counts for a channel.
type ShareStats struct {
	Accepted int64
	Rejected int64
}
