package noise

import (
	"net"
	"testing"

	"github.com/bardlex/hashpool/internal/sv2/frame"
)

func pipeHandshake(t *testing.T) (*Transport, *Transport) {
	t.Helper()
	initConn, respConn := net.Pipe()

	type result struct {
		tr  *Transport
		err error
	}
	initCh := make(chan result, 1)
	respCh := make(chan result, 1)

	go func() {
		tr, err := NewInitiatorTransport(initConn, initConn)
		initCh <- result{tr, err}
	}()
	go func() {
		tr, err := NewResponderTransport(respConn, respConn)
		respCh <- result{tr, err}
	}()

	initRes := <-initCh
	respRes := <-respCh
	if initRes.err != nil {
		t.Fatalf("initiator handshake: %v", initRes.err)
	}
	if respRes.err != nil {
		t.Fatalf("responder handshake: %v", respRes.err)
	}
	return initRes.tr, respRes.tr
}

func TestHandshakeDerivesMatchingKeys(t *testing.T) {
	initTr, respTr := pipeHandshake(t)
	if initTr.sendKey != respTr.recvKey {
		t.Fatalf("initiator send key != responder recv key")
	}
	if initTr.recvKey != respTr.sendKey {
		t.Fatalf("initiator recv key != responder send key")
	}
}

func TestTransportFrameRoundTripInitiatorToResponder(t *testing.T) {
	initTr, respTr := pipeHandshake(t)

	f := frame.Frame{ExtensionType: frame.CoreExtensionType, MsgType: 0x00, Payload: []byte("setup-connection-body")}
	done := make(chan error, 1)
	go func() { done <- initTr.WriteFrame(f) }()

	got, err := respTr.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if got.MsgType != f.MsgType || string(got.Payload) != string(f.Payload) {
		t.Fatalf("got %+v want %+v", got, f)
	}
}

func TestTransportFrameRoundTripResponderToInitiator(t *testing.T) {
	initTr, respTr := pipeHandshake(t)

	f := frame.Frame{ExtensionType: frame.CoreExtensionType | frame.ChannelMsgBit, MsgType: 0x1c, Payload: []byte{1, 2, 3, 4}}
	done := make(chan error, 1)
	go func() { done <- respTr.WriteFrame(f) }()

	got, err := initTr.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if !got.IsChannelMessage() || got.MsgType != f.MsgType {
		t.Fatalf("got %+v want %+v", got, f)
	}
}

func TestTransportEmptyPayloadFrame(t *testing.T) {
	initTr, respTr := pipeHandshake(t)
	f := frame.Frame{ExtensionType: frame.CoreExtensionType, MsgType: 0x01}
	done := make(chan error, 1)
	go func() { done <- initTr.WriteFrame(f) }()

	got, err := respTr.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if len(got.Payload) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(got.Payload))
	}
}
