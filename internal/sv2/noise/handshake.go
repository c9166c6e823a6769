package noise

import (
	"io"

	"github.com/btcsuite/btcd/btcec/v2/ellswift"
)

// Role identifies which side of the Noise_NX pattern a handshake plays.
// The pool is always Responder; the translator and the mint are always
// Initiator against the pool, per this system's single-server topology.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// Keys are the two directional transport keys produced by a completed
// handshake.
type Keys struct {
	SendKey [32]byte
	RecvKey [32]byte
}

// ResponderHandshake runs the responder side of Noise_NX against an
// already-connected io.Reader/io.Writer pair. StaticKey is generated fresh
// per connection (TOFU), matching the grounding source's documented
// limitation — pinning a long-lived static key across restarts is future
// work, not something either the teacher or this handshake does today.
type ResponderHandshake struct {
	r io.Reader
	w io.Writer
}

func NewResponderHandshake(r io.Reader, w io.Writer) *ResponderHandshake {
	return &ResponderHandshake{r: r, w: w}
}

// Perform executes Act1 (read) / Act2 (write) and returns the derived
// transport keys. The returned Cert is the TOFU payload this side emitted;
// nothing pins it to an authority key.
func (h *ResponderHandshake) Perform() (Keys, Cert, error) {
	var initiatorE [Act1Len]byte
	if _, err := io.ReadFull(h.r, initiatorE[:]); err != nil {
		return Keys{}, Cert{}, wrapErr("read act1", err)
	}

	hs := newHandshakeHash()
	mixHash(&hs.h, initiatorE[:])
	mixHash(&hs.h, nil)

	rePriv, reEnc, err := ellswift.EllswiftCreate()
	if err != nil {
		return Keys{}, Cert{}, wrapErr("responder ephemeral", err)
	}
	mixHash(&hs.h, reEnc[:])

	ee, err := ellswift.V2Ecdh(rePriv, initiatorE, reEnc, false)
	if err != nil {
		return Keys{}, Cert{}, wrapErr("ee ecdh", err)
	}
	var tempK1 [32]byte
	hkdf2(&hs.ck, (*ee)[:], &hs.ck, &tempK1)

	rsPriv, rsEnc, err := ellswift.EllswiftCreate()
	if err != nil {
		return Keys{}, Cert{}, wrapErr("responder static", err)
	}
	encStatic, err := seal(tempK1, 0, hs.h[:], rsEnc[:])
	if err != nil {
		return Keys{}, Cert{}, wrapErr("encrypt static", err)
	}
	mixHash(&hs.h, encStatic)

	es, err := ellswift.V2Ecdh(rsPriv, initiatorE, rsEnc, false)
	if err != nil {
		return Keys{}, Cert{}, wrapErr("es ecdh", err)
	}
	var tempK2 [32]byte
	hkdf2(&hs.ck, (*es)[:], &hs.ck, &tempK2)

	certPayload, err := buildTOFUCertPayload(rsPriv)
	if err != nil {
		return Keys{}, Cert{}, wrapErr("build cert", err)
	}
	encCert, err := seal(tempK2, 0, hs.h[:], certPayload)
	if err != nil {
		return Keys{}, Cert{}, wrapErr("encrypt cert", err)
	}
	mixHash(&hs.h, encCert)

	var act2 [Act2Len]byte
	copy(act2[0:64], reEnc[:])
	copy(act2[64:144], encStatic)
	copy(act2[144:234], encCert)
	if err := writeAll(h.w, act2[:]); err != nil {
		return Keys{}, Cert{}, wrapErr("write act2", err)
	}

	var c1, c2 [32]byte
	hkdf2(&hs.ck, nil, &c1, &c2)
	cert, _ := decodeCert(certPayload)
	return Keys{RecvKey: c1, SendKey: c2}, cert, nil
}

// InitiatorHandshake runs the initiator side of Noise_NX: generate an
// ephemeral keypair, send Act1, read and decrypt the responder's Act2.
type InitiatorHandshake struct {
	r io.Reader
	w io.Writer
}

func NewInitiatorHandshake(r io.Reader, w io.Writer) *InitiatorHandshake {
	return &InitiatorHandshake{r: r, w: w}
}

// Perform executes Act1 (write) / Act2 (read) and returns the derived
// transport keys plus the responder's TOFU certificate for the caller to
// log or (if an authority key is configured out-of-band) verify.
func (h *InitiatorHandshake) Perform() (Keys, Cert, error) {
	iePriv, ieEnc, err := ellswift.EllswiftCreate()
	if err != nil {
		return Keys{}, Cert{}, wrapErr("initiator ephemeral", err)
	}

	hs := newHandshakeHash()
	mixHash(&hs.h, ieEnc[:])
	mixHash(&hs.h, nil)

	if err := writeAll(h.w, ieEnc[:]); err != nil {
		return Keys{}, Cert{}, wrapErr("write act1", err)
	}

	var act2 [Act2Len]byte
	if _, err := io.ReadFull(h.r, act2[:]); err != nil {
		return Keys{}, Cert{}, wrapErr("read act2", err)
	}
	var reEnc [64]byte
	copy(reEnc[:], act2[0:64])
	encStatic := act2[64:144]
	encCert := act2[144:234]

	mixHash(&hs.h, reEnc[:])
	ee, err := ellswift.V2Ecdh(iePriv, reEnc, ieEnc, true)
	if err != nil {
		return Keys{}, Cert{}, wrapErr("ee ecdh", err)
	}
	var tempK1 [32]byte
	hkdf2(&hs.ck, (*ee)[:], &hs.ck, &tempK1)

	rsEncBytes, err := open(tempK1, 0, hs.h[:], encStatic)
	if err != nil {
		return Keys{}, Cert{}, wrapErr("decrypt static", err)
	}
	mixHash(&hs.h, encStatic)
	var rsEnc [64]byte
	copy(rsEnc[:], rsEncBytes)

	es, err := ellswift.V2Ecdh(iePriv, rsEnc, ieEnc, true)
	if err != nil {
		return Keys{}, Cert{}, wrapErr("es ecdh", err)
	}
	var tempK2 [32]byte
	hkdf2(&hs.ck, (*es)[:], &hs.ck, &tempK2)

	certPayload, err := open(tempK2, 0, hs.h[:], encCert)
	if err != nil {
		return Keys{}, Cert{}, wrapErr("decrypt cert", err)
	}
	mixHash(&hs.h, encCert)

	var c1, c2 [32]byte
	hkdf2(&hs.ck, nil, &c1, &c2)
	cert, err := decodeCert(certPayload)
	if err != nil {
		return Keys{}, Cert{}, wrapErr("decode cert", err)
	}
	return Keys{SendKey: c1, RecvKey: c2}, cert, nil
}
