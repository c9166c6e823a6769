// Package mintquote implements the dedicated pool<->mint extension
// protocol: MintQuoteRequest/Response/Error, exchanged over the pool's
// outbound Noise-initiator connection to the mint.
//
// Grounded on the wire conventions established in internal/sv2/mining
// (request/response pairing, Str0255 error codes), applied to the
// quote-request fields described for the pool<->mint pipeline.
package mintquote

import "github.com/bardlex/hashpool/internal/sv2/codec"

// Mint-quote extension message type bytes.
const (
	MsgMintQuoteRequest  uint8 = 0x80
	MsgMintQuoteResponse uint8 = 0x81
	MsgMintQuoteError    uint8 = 0x82
)

// UnitHash is the ecash unit a quote is denominated in. This pipeline only ever
// requests HASH-denominated quotes.
const UnitHash = "HASH"

// MintQuoteRequest asks the mint to open a quote for one accepted share.
// Description is optional; an empty string means absent.
type MintQuoteRequest struct {
	Amount      uint64
	Unit        string
	HeaderHash  [32]byte
	Description string
	LockingKey  [33]byte // compressed secp256k1 pubkey
}

func (m MintQuoteRequest) Encode() ([]byte, error) {
	w := codec.NewWriter(128)
	w.PutU64(m.Amount)
	if err := w.PutStr0255(m.Unit); err != nil {
		return nil, err
	}
	w.PutU256(m.HeaderHash)
	hasDescription := m.Description != ""
	w.PutOptionPresent(hasDescription)
	if hasDescription {
		if err := w.PutStr0255(m.Description); err != nil {
			return nil, err
		}
	}
	w.PutFixed(m.LockingKey[:])
	return w.Bytes(), nil
}

func DecodeMintQuoteRequest(b []byte) (MintQuoteRequest, error) {
	r := codec.NewReader(b)
	var m MintQuoteRequest
	var err error
	if m.Amount, err = r.U64("amount"); err != nil {
		return m, err
	}
	if m.Unit, err = r.Str0255("unit"); err != nil {
		return m, err
	}
	if m.HeaderHash, err = r.U256("header_hash"); err != nil {
		return m, err
	}
	present, err := r.OptionPresent("description")
	if err != nil {
		return m, err
	}
	if present {
		if m.Description, err = r.Str0255("description"); err != nil {
			return m, err
		}
	}
	key, err := r.Fixed("locking_key", 33)
	if err != nil {
		return m, err
	}
	copy(m.LockingKey[:], key)
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "mint_quote_request"}
	}
	return m, nil
}

// Quote status values, as reported by MintQuoteResponse.Status.
const (
	StatusUnpaid = "unpaid"
	StatusPaid   = "paid"
	StatusIssued = "issued"
)

// MintQuoteResponse is the mint's acknowledgement of a quote request.
type MintQuoteResponse struct {
	QuoteID string
	Status  string
	Expiry  uint32 // unix seconds
}

func (m MintQuoteResponse) Encode() ([]byte, error) {
	w := codec.NewWriter(64)
	if err := w.PutStr0255(m.QuoteID); err != nil {
		return nil, err
	}
	if err := w.PutStr0255(m.Status); err != nil {
		return nil, err
	}
	w.PutU32(m.Expiry)
	return w.Bytes(), nil
}

func DecodeMintQuoteResponse(b []byte) (MintQuoteResponse, error) {
	r := codec.NewReader(b)
	var m MintQuoteResponse
	var err error
	if m.QuoteID, err = r.Str0255("quote_id"); err != nil {
		return m, err
	}
	if m.Status, err = r.Str0255("status"); err != nil {
		return m, err
	}
	if m.Expiry, err = r.U32("expiry"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "mint_quote_response"}
	}
	return m, nil
}

// MintQuoteError rejects a quote request.
type MintQuoteError struct {
	ErrorCode string
}

func (m MintQuoteError) Encode() ([]byte, error) {
	w := codec.NewWriter(8 + len(m.ErrorCode))
	if err := w.PutStr0255(m.ErrorCode); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func DecodeMintQuoteError(b []byte) (MintQuoteError, error) {
	r := codec.NewReader(b)
	var m MintQuoteError
	var err error
	if m.ErrorCode, err = r.Str0255("error_code"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "mint_quote_error"}
	}
	return m, nil
}

// Known mint-side rejection codes.
const (
	ErrorUnsupportedUnit   = "unsupported-unit"
	ErrorAmountOutOfRange  = "amount-out-of-range"
	ErrorMintUnavailable   = "mint-unavailable"
	ErrorInvalidLockingKey = "invalid-locking-key"
)
