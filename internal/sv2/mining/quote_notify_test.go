package mining

import "testing"

func TestMintQuoteNotificationRoundTrip(t *testing.T) {
	m := MintQuoteNotification{ChannelID: 5, QuoteID: "q-1", Amount: 10}
	b, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeMintQuoteNotification(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != m {
		t.Fatalf("got %+v want %+v", got, m)
	}
}

func TestMintQuoteFailureRoundTrip(t *testing.T) {
	m := MintQuoteFailure{ChannelID: 5, SequenceNumber: 9, Reason: ReasonMintDispatcherUnavailable}
	b, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeMintQuoteFailure(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != m {
		t.Fatalf("got %+v want %+v", got, m)
	}
}
