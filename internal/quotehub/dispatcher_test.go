package quotehub

import (
	"context"
	"testing"

	"github.com/bardlex/hashpool/internal/pool"
	"github.com/bardlex/hashpool/internal/sv2/frame"
	"github.com/bardlex/hashpool/internal/sv2/mintquote"
	"github.com/bardlex/hashpool/pkg/log"
)

type fakeMintConn struct {
	written []frame.Frame
	replies []frame.Frame
}

func (f *fakeMintConn) WriteFrame(fr frame.Frame) error {
	f.written = append(f.written, fr)
	return nil
}

func (f *fakeMintConn) ReadFrame() (frame.Frame, error) {
	fr := f.replies[0]
	f.replies = f.replies[1:]
	return fr, nil
}

func testLogger() *log.Logger {
	return log.New("quotehub-test", "test", "error", "text")
}

func TestDispatcherRejectsMissingLockingKey(t *testing.T) {
	conn := &fakeMintConn{}
	d := NewDispatcher(conn, NewTable(), testLogger())

	err := d.Dispatch(context.Background(), pool.QuoteRequest{ChannelID: 1})
	if err == nil {
		t.Fatalf("expected error for missing locking key")
	}
	if len(conn.written) != 0 {
		t.Fatalf("expected no frame written for a rejected dispatch")
	}
}

func TestDispatcherAssignsQuoteIDOnSuccessResponse(t *testing.T) {
	resp := mintquote.MintQuoteResponse{QuoteID: "q-1", Status: mintquote.StatusUnpaid, Expiry: 1000}
	payload, err := resp.Encode()
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}

	conn := &fakeMintConn{replies: []frame.Frame{{MsgType: mintquote.MsgMintQuoteResponse, Payload: payload}}}
	table := NewTable()
	d := NewDispatcher(conn, table, testLogger())

	req := pool.QuoteRequest{ChannelID: 2, SequenceNumber: 3, LockingKey: [33]byte{2, 1}, Amount: 50}
	if err := d.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(conn.written) != 1 {
		t.Fatalf("expected exactly one frame written, got %d", len(conn.written))
	}
	if conn.written[0].MsgType != mintquote.MsgMintQuoteRequest {
		t.Fatalf("expected a MintQuoteRequest frame, got type %#x", conn.written[0].MsgType)
	}

	q, ok := table.Get("q-1")
	if !ok {
		t.Fatalf("expected quote q-1 to be tracked after response")
	}
	if q.Amount != 50 {
		t.Fatalf("amount not carried through: got %d", q.Amount)
	}
}

func TestDispatcherReturnsErrorOnMintQuoteError(t *testing.T) {
	errResp := mintquote.MintQuoteError{ErrorCode: mintquote.ErrorAmountOutOfRange}
	payload, err := errResp.Encode()
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}

	conn := &fakeMintConn{replies: []frame.Frame{{MsgType: mintquote.MsgMintQuoteError, Payload: payload}}}
	d := NewDispatcher(conn, NewTable(), testLogger())

	req := pool.QuoteRequest{ChannelID: 2, SequenceNumber: 1, LockingKey: [33]byte{1}, Amount: 1}
	if err := d.Dispatch(context.Background(), req); err == nil {
		t.Fatalf("expected error when mint rejects the quote")
	}
}
