package noise

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Cert is the decoded TOFU certificate the responder attaches to its static
// key during Act2. Signature authority pinning is not implemented, and
// Cert does not carry the responder's static key.
type Cert struct {
	Version       uint16
	ValidFrom     time.Time
	NotValidAfter time.Time
	Signature     [64]byte
}

// Valid reports whether now falls within the certificate's validity window.
func (c Cert) Valid(now time.Time) bool {
	return !now.Before(c.ValidFrom) && !now.After(c.NotValidAfter)
}

func buildTOFUCertPayload(staticPriv *btcec.PrivateKey) ([]byte, error) {
	if staticPriv == nil {
		return nil, fmt.Errorf("nil static key")
	}
	payload := make([]byte, CertPayloadLen)
	binary.LittleEndian.PutUint16(payload[0:2], 0)
	now := time.Now().UTC()
	validFrom := uint32(now.Add(-1 * time.Hour).Unix())
	notAfter := uint32(now.Add(365 * 24 * time.Hour).Unix())
	binary.LittleEndian.PutUint32(payload[2:6], validFrom)
	binary.LittleEndian.PutUint32(payload[6:10], notAfter)

	msgHash := certSigningHash(payload[0:10], staticPriv.PubKey())
	sig, err := schnorr.Sign(staticPriv, msgHash[:])
	if err != nil {
		// TOFU connections without a pinned authority key still proceed
		// with an all-zero signature field; decodeCert treats that as
		// "unsigned" rather than failing the handshake.
		return payload, nil
	}
	copy(payload[10:74], sig.Serialize())
	return payload, nil
}

func certSigningHash(header []byte, pub *btcec.PublicKey) [32]byte {
	buf := make([]byte, 0, len(header)+32)
	buf = append(buf, header...)
	buf = append(buf, schnorr.SerializePubKey(pub)...)
	return sha256.Sum256(buf)
}

func decodeCert(payload []byte) (Cert, error) {
	if len(payload) != CertPayloadLen {
		return Cert{}, fmt.Errorf("cert payload len=%d want %d", len(payload), CertPayloadLen)
	}
	var c Cert
	c.Version = binary.LittleEndian.Uint16(payload[0:2])
	validFrom := binary.LittleEndian.Uint32(payload[2:6])
	notAfter := binary.LittleEndian.Uint32(payload[6:10])
	c.ValidFrom = time.Unix(int64(validFrom), 0).UTC()
	c.NotValidAfter = time.Unix(int64(notAfter), 0).UTC()
	copy(c.Signature[:], payload[10:74])
	return c, nil
}
