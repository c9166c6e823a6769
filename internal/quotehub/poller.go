package quotehub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bardlex/hashpool/pkg/circuit"
	"github.com/bardlex/hashpool/pkg/errors"
	"github.com/bardlex/hashpool/pkg/log"
	"github.com/bardlex/hashpool/pkg/retry"
)

// PollInterval is the fixed cadence the pipeline polls the mint for newly
// paid quotes, per the quote extension pipeline's poller.
const PollInterval = 5 * time.Second

type paidQuotesResponse struct {
	Quotes []string `json:"quotes"` // quote_ids reported paid since last poll
}

// Poller periodically asks the mint which quotes it has observed payment
// for and marks the matching PendingQuote records paid in Table, making
// them visible to a Notifier's next sweep.
type Poller struct {
	client  *http.Client
	baseURL string
	table   *Table
	logger  *log.Logger
	breaker *circuit.Breaker
	retry   *retry.Config
}

// NewPoller creates a poller against baseURL (the mint's HTTP status
// endpoint, distinct from its SV2 Noise connection).
func NewPoller(baseURL string, table *Table, logger *log.Logger) *Poller {
	return &Poller{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		table:   table,
		logger:  logger,
		breaker: circuit.New(&circuit.Config{
			MaxFailures:     5,
			SuccessRequired: 3,
			Timeout:         30 * time.Second,
			ResetTimeout:    120 * time.Second,
		}),
		retry: retry.NetworkConfig(),
	}
}

// Run polls every PollInterval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				p.logger.Error("mint quote poll failed", "error", err)
			}
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	quoteIDs, err := circuit.ExecuteWithResult(ctx, p.breaker, func() ([]string, error) {
		return retry.DoWithResult(ctx, p.retry, func() ([]string, error) {
			return p.fetchPaid(ctx)
		})
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuote, "poll", "failed to fetch paid quotes from mint")
	}

	for _, id := range quoteIDs {
		if p.table.MarkPaid(id) {
			p.logger.Debug("quote marked paid", "quote_id", id)
		}
	}
	return nil
}

func (p *Poller) fetchPaid(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/quotes?status=paid", nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "build_request", "failed to build mint poll request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "do_request", "failed to reach mint")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.ErrorTypeNetwork, "poll_status", fmt.Sprintf("mint returned status %d", resp.StatusCode))
	}

	var out paidQuotesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCodec, "decode_response", "malformed mint poll response")
	}
	return out.Quotes, nil
}
