package setup

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/bardlex/hashpool/internal/sv2/common"
	"github.com/bardlex/hashpool/internal/sv2/frame"
	"github.com/bardlex/hashpool/internal/sv2/noise"
	"github.com/bardlex/hashpool/pkg/log"
)

func testLogger() *log.Logger {
	return log.New("setup-test", "test", "error", "text")
}

func clientSetup(t *testing.T, conn net.Conn, msg common.SetupConnection) (*noise.Transport, frame.Frame) {
	t.Helper()
	tr, err := noise.NewInitiatorTransport(conn, conn)
	if err != nil {
		t.Fatalf("initiator handshake: %v", err)
	}
	payload, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode setup_connection: %v", err)
	}
	if err := tr.WriteFrame(frame.Frame{MsgType: common.MsgSetupConnection, Payload: payload}); err != nil {
		t.Fatalf("write setup_connection: %v", err)
	}
	reply, err := tr.ReadFrame()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return tr, reply
}

func TestListenerNegotiatesMiningConnection(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	l := NewListener("", testLogger())
	handled := make(chan common.SetupConnection, 1)
	l.OnMining = func(ctx context.Context, conn *Connection, setupMsg common.SetupConnection) {
		handled <- setupMsg
		<-conn.Done() // exit once the test closes the connection
	}

	go l.handle(context.Background(), "test-conn", serverConn)

	_, reply := clientSetup(t, clientConn, common.SetupConnection{
		Protocol:   common.ProtocolMining,
		MinVersion: 2,
		MaxVersion: 2,
		VendorName: "test-miner",
	})
	if reply.MsgType != common.MsgSetupConnectionSuccess {
		t.Fatalf("expected setup_connection_success, got msg_type %#x", reply.MsgType)
	}

	select {
	case got := <-handled:
		if got.Protocol != common.ProtocolMining {
			t.Fatalf("handler saw protocol %v, want mining", got.Protocol)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("mining handler was never invoked")
	}
	clientConn.Close()
}

func TestListenerRejectsUnsupportedVersion(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	l := NewListener("", testLogger())

	go l.handle(context.Background(), "test-conn", serverConn)

	_, reply := clientSetup(t, clientConn, common.SetupConnection{
		Protocol:   common.ProtocolMining,
		MinVersion: 99,
		MaxVersion: 100,
	})
	if reply.MsgType != common.MsgSetupConnectionError {
		t.Fatalf("expected setup_connection_error, got msg_type %#x", reply.MsgType)
	}
	decoded, err := common.DecodeSetupConnectionError(reply.Payload)
	if err != nil {
		t.Fatalf("decode error reply: %v", err)
	}
	if decoded.ErrorCode != common.ErrorProtocolVersionMismatch {
		t.Fatalf("got error code %q, want %q", decoded.ErrorCode, common.ErrorProtocolVersionMismatch)
	}
	clientConn.Close()
}

func TestListenerRejectsUnsupportedProtocol(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	l := NewListener("", testLogger())

	go l.handle(context.Background(), "test-conn", serverConn)

	_, reply := clientSetup(t, clientConn, common.SetupConnection{
		Protocol:   common.ProtocolJobDeclaration,
		MinVersion: 2,
		MaxVersion: 2,
	})
	if reply.MsgType != common.MsgSetupConnectionError {
		t.Fatalf("expected setup_connection_error, got msg_type %#x", reply.MsgType)
	}
	clientConn.Close()
}

func TestRegistrySendToChannelUnknownChannel(t *testing.T) {
	r := NewRegistry()
	if err := r.SendToChannel(42, frame.Frame{}); err == nil {
		t.Fatalf("expected error for unbound channel")
	}
}
