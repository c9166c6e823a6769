package quotehub

import (
	"context"
	"sync"
	"time"

	"github.com/bardlex/hashpool/internal/pool"
	"github.com/bardlex/hashpool/internal/sv2/frame"
	"github.com/bardlex/hashpool/internal/sv2/mintquote"
	"github.com/bardlex/hashpool/pkg/circuit"
	"github.com/bardlex/hashpool/pkg/errors"
	"github.com/bardlex/hashpool/pkg/log"
	"github.com/bardlex/hashpool/pkg/retry"
)

// MintConn is the pool's dedicated connection to the mint, an SV2 Noise
// transport speaking only the mint-quote extension. cmd/pool/main.go passes
// the *noise.Transport that internal/setup's listener hands to its
// mint-quote handler; quotehub depends only on this interface so it never
// needs to know about Noise handshakes.
type MintConn interface {
	WriteFrame(f frame.Frame) error
	ReadFrame() (frame.Frame, error)
}

// Dispatcher turns accepted shares into MintQuoteRequests on the pool→mint
// connection and records each as a PendingQuote. One Dispatcher serves one
// mint connection; a disconnected mint makes every dispatch fail, which is
// reported through MintDispatcherUnavailable rather than crashing the
// channel engine that feeds it.
type Dispatcher struct {
	conn    MintConn
	table   *Table
	logger  *log.Logger
	breaker *circuit.Breaker
	retry   *retry.Config

	mu sync.Mutex // serializes request/response exchange on conn

	// OnQuoteID and OnFailure, if set, mirror a quote's lifecycle into an
	// audit log. cmd/pool/main.go sets OnQuoteID (internal/auditlog.Log and
	// metrics) and leaves OnFailure unset.
	// OnQuoteID fires once the mint assigns a quote_id; OnFailure fires on
	// any dispatch failure, assigned or not.
	OnQuoteID func(req pool.QuoteRequest, quoteID string)
	OnFailure func(req pool.QuoteRequest, reason string)
}

// NewDispatcher wires a Dispatcher to an already-connected mint connection
// and the shared pending-quote table.
func NewDispatcher(conn MintConn, table *Table, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		conn:   conn,
		table:  table,
		logger: logger,
		breaker: circuit.New(&circuit.Config{
			MaxFailures:     5,
			SuccessRequired: 3,
			Timeout:         15 * time.Second,
			ResetTimeout:    60 * time.Second,
		}),
		retry: retry.NetworkConfig(),
	}
}

// Dispatch sends a MintQuoteRequest for the given share and records the
// resulting PendingQuote under its interim key. A failure is returned as a
// *DispatchError, or as an errors.ErrorTypeQuote error if the request
// cannot be encoded; either is for logging, not for the share-submission
// caller — a quote failure never rejects a share.
func (d *Dispatcher) Dispatch(ctx context.Context, req pool.QuoteRequest) error {
	if dispatchErr := validateLockingKey(req.ChannelID, req.LockingKey); dispatchErr != nil {
		d.logger.Info(dispatchErr.Error(), "channel_id", req.ChannelID)
		if d.OnFailure != nil {
			d.OnFailure(req, dispatchErr.Error())
		}
		return dispatchErr
	}

	msg := mintquote.MintQuoteRequest{
		Amount:     req.Amount,
		Unit:       mintquote.UnitHash,
		HeaderHash: req.HeaderHash,
		LockingKey: req.LockingKey,
	}
	payload, err := msg.Encode()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuote, "dispatch_encode", "failed to encode mint quote request")
	}

	d.table.Insert(PendingQuote{
		ChannelID:      req.ChannelID,
		SequenceNumber: req.SequenceNumber,
		LockingKey:     req.LockingKey,
		Amount:         req.Amount,
		HeaderHash:     req.HeaderHash,
		Status:         StatusPending,
		CreatedAt:      time.Now(),
	})

	if d.breaker.GetState() == circuit.StateOpen {
		d.logger.Error("mint dispatcher unavailable", "channel_id", req.ChannelID)
		if d.OnFailure != nil {
			d.OnFailure(req, "mint dispatcher unavailable")
		}
		return &DispatchError{Kind: DispatchErrorMintUnavailable, ChannelID: req.ChannelID}
	}

	err = d.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, d.retry, func() error {
			return d.exchange(req, payload)
		})
	})
	if err != nil {
		d.logger.Error("mint quote dispatch failed", "channel_id", req.ChannelID, "sequence_number", req.SequenceNumber, "error", err)
		if d.OnFailure != nil {
			d.OnFailure(req, err.Error())
		}
		return &DispatchError{Kind: DispatchErrorDispatchFailed, ChannelID: req.ChannelID, Reason: err.Error()}
	}
	return nil
}

func (d *Dispatcher) exchange(req pool.QuoteRequest, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.conn.WriteFrame(frame.Frame{
		ExtensionType: frame.CoreExtensionType,
		MsgType:       mintquote.MsgMintQuoteRequest,
		Payload:       payload,
	}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "write_mint_quote_request", "failed to write frame to mint")
	}

	resp, err := d.conn.ReadFrame()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "read_mint_response", "failed to read frame from mint")
	}

	switch resp.MsgType {
	case mintquote.MsgMintQuoteResponse:
		m, err := mintquote.DecodeMintQuoteResponse(resp.Payload)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeCodec, "decode_mint_quote_response", "malformed mint quote response")
		}
		d.table.AssignQuoteID(req.ChannelID, req.SequenceNumber, m.QuoteID)
		if d.OnQuoteID != nil {
			d.OnQuoteID(req, m.QuoteID)
		}
		if m.Status == mintquote.StatusPaid {
			d.table.MarkPaid(m.QuoteID)
		}
		return nil
	case mintquote.MsgMintQuoteError:
		m, err := mintquote.DecodeMintQuoteError(resp.Payload)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeCodec, "decode_mint_quote_error", "malformed mint quote error")
		}
		return errors.New(errors.ErrorTypeQuote, "mint_rejected_quote", m.ErrorCode)
	default:
		return errors.New(errors.ErrorTypeCodec, "unexpected_response", "mint responded with an unexpected message type")
	}
}
