package mining

import "github.com/bardlex/hashpool/internal/sv2/codec"

// Mining-extension message type bytes (pool -> downstream quote delivery).
// These ride the mining connection's channel-message extension namespace,
// not the core extension type used by the rest of this package.
const (
	MsgMintQuoteNotification uint8 = 0xC0
	MsgMintQuoteFailure      uint8 = 0xC1
)

// QuoteExtensionType is the non-core extension_type these two messages are
// framed under (set on frame.Frame.ExtensionType, OR'd with the channel-msg
// bit since both carry a channel_id).
const QuoteExtensionType uint16 = 0x0001

// MintQuoteNotification delivers a settled quote back to the channel that
// produced the winning share.
type MintQuoteNotification struct {
	ChannelID uint32
	QuoteID   string
	Amount    uint64
}

func (m MintQuoteNotification) Encode() ([]byte, error) {
	w := codec.NewWriter(32)
	w.PutU32(m.ChannelID)
	if err := w.PutStr0255(m.QuoteID); err != nil {
		return nil, err
	}
	w.PutU64(m.Amount)
	return w.Bytes(), nil
}

func DecodeMintQuoteNotification(b []byte) (MintQuoteNotification, error) {
	r := codec.NewReader(b)
	var m MintQuoteNotification
	var err error
	if m.ChannelID, err = r.U32("channel_id"); err != nil {
		return m, err
	}
	if m.QuoteID, err = r.Str0255("quote_id"); err != nil {
		return m, err
	}
	if m.Amount, err = r.U64("amount"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "mint_quote_notification"}
	}
	return m, nil
}

// MintQuoteFailure tells the channel a quote could not be settled. This is
// always non-fatal to the channel; the share itself was already accepted.
type MintQuoteFailure struct {
	ChannelID      uint32
	SequenceNumber uint32
	Reason         string
}

func (m MintQuoteFailure) Encode() ([]byte, error) {
	w := codec.NewWriter(32 + len(m.Reason))
	w.PutU32(m.ChannelID)
	w.PutU32(m.SequenceNumber)
	if err := w.PutStr0255(m.Reason); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func DecodeMintQuoteFailure(b []byte) (MintQuoteFailure, error) {
	r := codec.NewReader(b)
	var m MintQuoteFailure
	var err error
	if m.ChannelID, err = r.U32("channel_id"); err != nil {
		return m, err
	}
	if m.SequenceNumber, err = r.U32("sequence_number"); err != nil {
		return m, err
	}
	if m.Reason, err = r.Str0255("reason"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "mint_quote_failure"}
	}
	return m, nil
}

// Known non-fatal quote-pipeline failure reasons, surfaced to the
// downstream for visibility only.
const (
	ReasonMissingLockingKey      = "missing-locking-key"
	ReasonInvalidLockingKeyFormat = "invalid-locking-key-format"
	ReasonInvalidLockingKey      = "invalid-locking-key"
	ReasonMintDispatcherUnavailable = "mint-dispatcher-unavailable"
	ReasonQuoteDispatchFailed    = "quote-dispatch-failed"
)
