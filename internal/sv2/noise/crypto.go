// Package noise implements the Noise_NX_Secp256k1+EllSwift_ChaChaPoly_SHA256
// handshake and post-handshake AEAD framing used by every SV2 connection:
// the pool as responder for mining and mint-quote connections, and the
// translator/mint as initiators against it.
//
// Grounded on Distortions81-M45-goPool's sv2_noise_transport.go, which
// implements the responder half of this exact handshake against the
// ESP-Miner reference client. This package keeps its primitive-level
// functions (mixHash, HKDF2, AEAD seal/open, nonce construction) and adds
// the initiator half the teacher's source left unimplemented, so the
// translator and mint roles have a real Noise_NX counterpart to speak to.
package noise

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	Act1Len = 64
	Act2Len = 234

	// EncryptedHeaderLen is the post-handshake frame header ciphertext
	// length: the 6-byte SV2 header plus a 16-byte Poly1305 tag.
	EncryptedHeaderLen = 6 + 16

	// CertPayloadLen is the plaintext TOFU certificate payload length:
	// version(2) + valid_from(4) + not_valid_after(4) + schnorr sig(64).
	CertPayloadLen = 74
)

const protocolName = "Noise_NX_Secp256k1+EllSwift_ChaChaPoly_SHA256"

type handshakeHashState struct {
	h  [32]byte
	ck [32]byte
}

func newHandshakeHash() handshakeHashState {
	sum := sha256.Sum256([]byte(protocolName))
	hs := handshakeHashState{h: sum, ck: sum}
	mixHash(&hs.h, nil) // empty prologue
	return hs
}

func mixHash(h *[32]byte, data []byte) {
	sum := sha256.New()
	_, _ = sum.Write(h[:])
	if len(data) > 0 {
		_, _ = sum.Write(data)
	}
	copy(h[:], sum.Sum(nil))
}

func hkdf2(ck *[32]byte, ikm []byte, out1, out2 *[32]byte) {
	prk := hmacSHA256(ck[:], ikm)
	t1 := hmacSHA256(prk[:], []byte{0x01})
	var t2Input [33]byte
	copy(t2Input[:32], t1[:])
	t2Input[32] = 0x02
	t2 := hmacSHA256(prk[:], t2Input[:])
	if out1 != nil {
		copy(out1[:], t1[:])
	}
	if out2 != nil {
		copy(out2[:], t2[:])
	}
}

func hmacSHA256(key, msg []byte) [32]byte {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write(msg)
	var out [32]byte
	copy(out[:], m.Sum(nil))
	return out
}

func nonceBytes(counter uint64) [12]byte {
	var nonce [12]byte
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	return nonce
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// HandshakeError wraps a failure at a named step of the Noise_NX exchange so
// callers can distinguish transport errors from cryptographic ones.
type HandshakeError struct {
	Step string
	Err  error
}

func (e *HandshakeError) Error() string { return fmt.Sprintf("sv2 noise %s: %v", e.Step, e.Err) }
func (e *HandshakeError) Unwrap() error { return e.Err }

func wrapErr(step string, err error) error {
	if err == nil {
		return nil
	}
	return &HandshakeError{Step: step, Err: err}
}
