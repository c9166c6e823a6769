package translator

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/bardlex/hashpool/internal/pool/target"
	"github.com/bardlex/hashpool/internal/setup"
	"github.com/bardlex/hashpool/internal/sv2/common"
	"github.com/bardlex/hashpool/internal/sv2/frame"
	"github.com/bardlex/hashpool/internal/sv2/mining"
	"github.com/bardlex/hashpool/internal/sv2/noise"
	"github.com/bardlex/hashpool/pkg/errors"
	"github.com/bardlex/hashpool/pkg/log"
	"github.com/bardlex/hashpool/pkg/retry"
)

// encodable is satisfied by every outbound SV2 message type; Send accepts
// it directly rather than a pre-encoded payload so callers don't need to
// know about frame.Frame.
type encodable interface {
	Encode() ([]byte, error)
}

// Upstream is the translator's single connection to the pool: a Noise_NX
// initiator handshake, a SetupConnection negotiated for the mining
// protocol, one OpenExtendedMiningChannel shared by every downstream
// session, then a read loop dispatching every subsequent frame back into
// the owning Translator.
//
// Grounded on internal/mintclient/client.go's dial-handshake-serve-redial
// shape, adapted from the mint-quote link's request/response ping-pong to
// the mining connection's push-heavy traffic (jobs, targets, quote
// notifications arrive unprompted).
type Upstream struct {
	addr   string
	t      *Translator
	logger *log.Logger
	retry  *retry.Config

	connMu sync.RWMutex
	conn   *setup.Connection
}

func NewUpstream(addr string, t *Translator, logger *log.Logger) *Upstream {
	return &Upstream{addr: addr, t: t, logger: logger, retry: retry.NetworkConfig()}
}

// Run dials, negotiates, opens the shared channel, and serves until ctx is
// cancelled, redialing after a fixed pause of the retry config's BaseDelay
// whenever the connection drops.
func (u *Upstream) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := u.connectAndServe(ctx); err != nil {
			u.logger.Error("upstream pool connection dropped", "addr", u.addr, "error", err)
		}
		u.t.onChannelClosed()
		select {
		case <-ctx.Done():
			return
		case <-time.After(u.retry.BaseDelay):
		}
	}
}

func (u *Upstream) connectAndServe(ctx context.Context) error {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", u.addr)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "dial_pool", "failed to dial pool mining listener")
	}
	defer raw.Close()

	transport, err := noise.NewInitiatorTransport(raw, raw)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeNoise, "handshake", "Noise handshake with pool failed")
	}

	setupMsg := common.SetupConnection{
		Protocol:   common.ProtocolMining,
		MinVersion: setup.SupportedVersion,
		MaxVersion: setup.SupportedVersion,
		VendorName: "hashpool-translator",
	}
	payload, err := setupMsg.Encode()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCodec, "encode_setup", "failed to encode setup_connection")
	}
	if err := transport.WriteFrame(frame.Frame{MsgType: common.MsgSetupConnection, Payload: payload}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "write_setup", "failed to send setup_connection")
	}
	reply, err := transport.ReadFrame()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "read_setup_reply", "failed to read setup_connection reply")
	}
	if reply.MsgType != common.MsgSetupConnectionSuccess {
		return errors.New(errors.ErrorTypeMessaging, "setup_connection", "pool rejected setup_connection")
	}

	conn := setup.NewConnection("upstream", transport, u.logger)
	go conn.WriteLoop(ctx)
	defer conn.Close()

	u.connMu.Lock()
	u.conn = conn
	u.connMu.Unlock()
	defer func() {
		u.connMu.Lock()
		u.conn = nil
		u.connMu.Unlock()
	}()

	if err := u.openChannel(conn); err != nil {
		return err
	}

	return u.readLoop(conn)
}

func (u *Upstream) openChannel(conn *setup.Connection) error {
	req := mining.OpenExtendedMiningChannel{
		RequestID:             1,
		UserIdentity:          u.t.cfg.UserIdentity,
		NominalHashrate:       u.t.cfg.InitialHashrate,
		MaxTarget:             target.MaximumTarget(),
		MinExtranonceSize:     u.t.cfg.SessionPrefixBytes + 1,
		LockingKey:            u.t.cfg.LockingKey,
		HasLockingKey:         u.t.cfg.HasLockingKey,
		AcknowledgeEveryShare: true,
	}
	payload, err := req.Encode()
	if err != nil {
		return err
	}
	if err := conn.Transport.WriteFrame(frame.Frame{MsgType: mining.MsgOpenExtendedMiningChannel, Payload: payload}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "open_channel", "failed to send open_extended_mining_channel")
	}

	f, err := conn.Transport.ReadFrame()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "open_channel_reply", "failed to read open_extended_mining_channel reply")
	}
	switch f.MsgType {
	case mining.MsgOpenExtendedMiningChannelSuccess:
		resp, err := mining.DecodeOpenExtendedMiningChannelSuccess(f.Payload)
		if err != nil {
			return err
		}
		u.t.onChannelOpen(resp.ChannelID, resp.ExtranoncePrefix, resp.ExtranonceSize)
		return nil
	case mining.MsgOpenMiningChannelError:
		errMsg, _ := mining.DecodeOpenMiningChannelError(f.Payload)
		return errors.New(errors.ErrorTypeMessaging, "open_channel", "pool refused channel open").WithContext("error_code", errMsg.ErrorCode)
	default:
		return errors.New(errors.ErrorTypeMessaging, "open_channel", "unexpected reply to open_extended_mining_channel")
	}
}

func (u *Upstream) readLoop(conn *setup.Connection) error {
	for {
		f, err := conn.Transport.ReadFrame()
		if err != nil {
			return err
		}
		u.dispatch(f)
	}
}

func (u *Upstream) dispatch(f frame.Frame) {
	switch f.MsgType {
	case mining.MsgNewExtendedMiningJob:
		msg, err := mining.DecodeNewExtendedMiningJob(f.Payload)
		if err != nil {
			u.logger.WithError(err).Error("malformed new_extended_mining_job")
			return
		}
		u.t.onNewJob(msg)
	case mining.MsgSetNewPrevHash:
		msg, err := mining.DecodeSetNewPrevHash(f.Payload)
		if err != nil {
			u.logger.WithError(err).Error("malformed set_new_prev_hash")
			return
		}
		u.t.onSetPrevHash(msg)
	case mining.MsgSubmitSharesSuccess:
		msg, err := mining.DecodeSubmitSharesSuccess(f.Payload)
		if err != nil {
			u.logger.WithError(err).Error("malformed submit_shares_success")
			return
		}
		u.t.onSubmitSuccess(msg)
	case mining.MsgSubmitSharesError:
		msg, err := mining.DecodeSubmitSharesError(f.Payload)
		if err != nil {
			u.logger.WithError(err).Error("malformed submit_shares_error")
			return
		}
		u.t.onSubmitError(msg)
	case mining.MsgSetTarget:
		// The shared channel's target reflects the pool's view of aggregate
		// demand; the translator enforces its own per-session targets
		// locally and does not need to track this beyond accepting it.
	default:
		if f.BaseExtensionType() == mining.QuoteExtensionType {
			u.dispatchQuote(f)
			return
		}
		u.logger.Info("unhandled upstream frame", "msg_type", f.MsgType)
	}
}

func (u *Upstream) dispatchQuote(f frame.Frame) {
	switch f.MsgType {
	case mining.MsgMintQuoteNotification:
		msg, err := mining.DecodeMintQuoteNotification(f.Payload)
		if err != nil {
			u.logger.WithError(err).Error("malformed mint_quote_notification")
			return
		}
		u.t.onQuoteNotification(msg)
	case mining.MsgMintQuoteFailure:
		msg, err := mining.DecodeMintQuoteFailure(f.Payload)
		if err != nil {
			u.logger.WithError(err).Error("malformed mint_quote_failure")
			return
		}
		u.t.onQuoteFailure(msg)
	}
}

// Send encodes and enqueues msg on the current upstream connection.
// Returns an error if there is no live connection.
func (u *Upstream) Send(msgType uint8, msg encodable) error {
	u.connMu.RLock()
	conn := u.conn
	u.connMu.RUnlock()
	if conn == nil {
		return errors.New(errors.ErrorTypeNetwork, "send", "no upstream connection")
	}
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	return conn.Send(frame.Frame{MsgType: msgType, Payload: payload})
}
