package mintquote

import "testing"

func TestMintQuoteRequestRoundTripNoDescription(t *testing.T) {
	var headerHash [32]byte
	headerHash[0] = 0x11
	var lockingKey [33]byte
	lockingKey[0] = 0x02
	m := MintQuoteRequest{Amount: 1, Unit: UnitHash, HeaderHash: headerHash, LockingKey: lockingKey}
	b, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeMintQuoteRequest(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != m {
		t.Fatalf("got %+v want %+v", got, m)
	}
}

func TestMintQuoteRequestRoundTripWithDescription(t *testing.T) {
	var lockingKey [33]byte
	m := MintQuoteRequest{Amount: 42, Unit: UnitHash, Description: "share quote", LockingKey: lockingKey}
	b, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeMintQuoteRequest(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Description != m.Description {
		t.Fatalf("got %+v want %+v", got, m)
	}
}

func TestMintQuoteResponseRoundTrip(t *testing.T) {
	m := MintQuoteResponse{QuoteID: "q-123", Status: StatusPaid, Expiry: 1700000000}
	b, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeMintQuoteResponse(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != m {
		t.Fatalf("got %+v want %+v", got, m)
	}
}

func TestMintQuoteErrorRoundTrip(t *testing.T) {
	m := MintQuoteError{ErrorCode: ErrorInvalidLockingKey}
	b, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeMintQuoteError(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != m {
		t.Fatalf("got %+v want %+v", got, m)
	}
}
