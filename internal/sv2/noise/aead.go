package noise

import "golang.org/x/crypto/chacha20poly1305"

func seal(key [32]byte, nonce uint64, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	n := nonceBytes(nonce)
	return aead.Seal(nil, n[:], plaintext, aad), nil
}

func open(key [32]byte, nonce uint64, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	n := nonceBytes(nonce)
	return aead.Open(nil, n[:], ciphertext, aad)
}
