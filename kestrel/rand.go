package kestrel

import (
	"crypto/rand"
	"io"
)

// GenerateKey returns a fresh 32-byte key from the host entropy pool.
func GenerateKey() ([]byte, error) {
	return randomBytes(KeySize)
}

// GenerateNonce returns a fresh 12-byte nonce. Random 12-byte nonces
// collide after roughly 2^48 messages under one key; long-lived keys
// should use a counter scheme or the XChaCha20 variant instead.
func GenerateNonce() ([]byte, error) {
	return randomBytes(NonceSize)
}

// GenerateNonceX returns a fresh 24-byte XChaCha20-Poly1305 nonce. The
// 24-byte space is wide enough that random nonces are safe for any
// realistic message volume.
func GenerateNonceX() ([]byte, error) {
	return randomBytes(NonceSizeX)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}
