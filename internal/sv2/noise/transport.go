package noise

import (
	"fmt"
	"io"

	"github.com/bardlex/hashpool/internal/sv2/frame"
)

// Transport is a handshaken Noise_NX session that reads/writes whole SV2
// frames, encrypting the 6-byte header and the payload as two separate
// AEAD records per direction (matching the wire's split so a peer can
// learn the payload length before committing to read it).
type Transport struct {
	r io.Reader
	w io.Writer

	sendKey [32]byte
	recvKey [32]byte

	sendNonce uint64
	recvNonce uint64

	Cert Cert
}

// NewResponderTransport performs the responder handshake and returns a
// ready-to-use Transport.
func NewResponderTransport(r io.Reader, w io.Writer) (*Transport, error) {
	keys, cert, err := NewResponderHandshake(r, w).Perform()
	if err != nil {
		return nil, err
	}
	return &Transport{r: r, w: w, sendKey: keys.SendKey, recvKey: keys.RecvKey, Cert: cert}, nil
}

// NewInitiatorTransport performs the initiator handshake and returns a
// ready-to-use Transport.
func NewInitiatorTransport(r io.Reader, w io.Writer) (*Transport, error) {
	keys, cert, err := NewInitiatorHandshake(r, w).Perform()
	if err != nil {
		return nil, err
	}
	return &Transport{r: r, w: w, sendKey: keys.SendKey, recvKey: keys.RecvKey, Cert: cert}, nil
}

// ReadFrame reads, decrypts, and decodes one SV2 frame.
func (t *Transport) ReadFrame() (frame.Frame, error) {
	var encHdr [EncryptedHeaderLen]byte
	if _, err := io.ReadFull(t.r, encHdr[:]); err != nil {
		return frame.Frame{}, err
	}
	hdr, err := open(t.recvKey, t.recvNonce, nil, encHdr[:])
	if err != nil {
		return frame.Frame{}, fmt.Errorf("sv2 noise decrypt header: %w", err)
	}
	t.recvNonce++
	if len(hdr) != frame.HeaderLen {
		return frame.Frame{}, fmt.Errorf("sv2 noise decrypted header len=%d want %d", len(hdr), frame.HeaderLen)
	}

	full := make([]byte, frame.HeaderLen)
	copy(full, hdr)
	payloadLen := int(full[3]) | int(full[4])<<8 | int(full[5])<<16
	if payloadLen > 0 {
		encPayload := make([]byte, payloadLen+16)
		if _, err := io.ReadFull(t.r, encPayload); err != nil {
			return frame.Frame{}, err
		}
		payload, err := open(t.recvKey, t.recvNonce, nil, encPayload)
		if err != nil {
			return frame.Frame{}, fmt.Errorf("sv2 noise decrypt payload: %w", err)
		}
		t.recvNonce++
		full = append(full, payload...)
	}
	return frame.Decode(full)
}

// WriteFrame encodes, encrypts, and writes one SV2 frame.
func (t *Transport) WriteFrame(f frame.Frame) error {
	raw, err := frame.Encode(f)
	if err != nil {
		return err
	}
	encHdr, err := seal(t.sendKey, t.sendNonce, nil, raw[:frame.HeaderLen])
	if err != nil {
		return fmt.Errorf("sv2 noise encrypt header: %w", err)
	}
	t.sendNonce++
	if err := writeAll(t.w, encHdr); err != nil {
		return err
	}
	if len(raw) == frame.HeaderLen {
		return nil
	}
	encPayload, err := seal(t.sendKey, t.sendNonce, nil, raw[frame.HeaderLen:])
	if err != nil {
		return fmt.Errorf("sv2 noise encrypt payload: %w", err)
	}
	t.sendNonce++
	return writeAll(t.w, encPayload)
}
