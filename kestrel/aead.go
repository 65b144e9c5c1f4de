package kestrel

import (
	"encoding/binary"
	"errors"

	"github.com/kestrelcrypt/kestrel/kestrel/chacha20"
	"github.com/kestrelcrypt/kestrel/kestrel/internal/alias"
	"github.com/kestrelcrypt/kestrel/kestrel/poly1305"
)

const (
	// KeySize is the AEAD key size in bytes.
	KeySize = 32

	// NonceSize is the ChaCha20-Poly1305 nonce size in bytes.
	NonceSize = 12

	// NonceSizeX is the XChaCha20-Poly1305 nonce size in bytes.
	NonceSizeX = 24

	// TagSize is the Poly1305 authentication tag size in bytes.
	TagSize = 16

	// Overhead is the difference between ciphertext and plaintext lengths
	// for the combined Seal/Open API.
	Overhead = TagSize

	// maxMessageSize is the largest payload a single nonce can carry:
	// keystream blocks 1 through 2^32-1 (block 0 keys the MAC).
	maxMessageSize = (1<<32 - 1) * chacha20.BlockSize
)

var (
	// ErrInvalidKeySize is returned when a key is not KeySize bytes.
	ErrInvalidKeySize = errors.New("kestrel: key must be 32 bytes")

	// ErrInvalidNonceSize is returned when a nonce does not match the
	// AEAD's nonce size.
	ErrInvalidNonceSize = errors.New("kestrel: invalid nonce size for this AEAD")

	// ErrInvalidTagSize is returned by the detached API when the tag
	// buffer is not TagSize bytes.
	ErrInvalidTagSize = errors.New("kestrel: tag must be 16 bytes")

	// ErrLengthMismatch is returned by the detached API when the
	// ciphertext and plaintext buffers have different lengths.
	ErrLengthMismatch = errors.New("kestrel: ciphertext and plaintext lengths differ")

	// ErrInvalidOverlap is returned when input and output buffers overlap
	// but are not an exact in-place alias.
	ErrInvalidOverlap = errors.New("kestrel: invalid buffer overlap")

	// ErrCiphertextTooShort is returned by Open when the input cannot
	// even hold a tag.
	ErrCiphertextTooShort = errors.New("kestrel: ciphertext too short")

	// ErrMessageTooLarge is returned when a payload exceeds the keystream
	// capacity of a single nonce.
	ErrMessageTooLarge = errors.New("kestrel: message exceeds keystream capacity")

	// ErrAuthenticationFailed is returned by Open when the tag does not
	// authenticate the message. It is the expected failure mode for any
	// tampered input and carries no information about where the mismatch
	// occurred.
	ErrAuthenticationFailed = errors.New("kestrel: message authentication failed")
)

// AEAD is a ChaCha20-Poly1305 or XChaCha20-Poly1305 context. It is
// independent of any single message: one context may seal and open many
// messages under its key, each with a distinct nonce.
type AEAD struct {
	key       [KeySize]byte
	nonceSize int
	backend   chacha20.Backend
}

// New returns a ChaCha20-Poly1305 AEAD (12-byte nonces) for the given
// 32-byte key.
func New(key []byte) (*AEAD, error) {
	return NewWithBackend(key, chacha20.DefaultBackend())
}

// NewWithBackend is like New but forces a specific keystream backend,
// primarily for cross-backend equivalence testing.
func NewWithBackend(key []byte, backend chacha20.Backend) (*AEAD, error) {
	return newAEAD(key, NonceSize, backend)
}

// NewX returns an XChaCha20-Poly1305 AEAD (24-byte nonces) for the given
// 32-byte key.
func NewX(key []byte) (*AEAD, error) {
	return NewXWithBackend(key, chacha20.DefaultBackend())
}

// NewXWithBackend is like NewX but forces a specific keystream backend.
func NewXWithBackend(key []byte, backend chacha20.Backend) (*AEAD, error) {
	return newAEAD(key, NonceSizeX, backend)
}

func newAEAD(key []byte, nonceSize int, backend chacha20.Backend) (*AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if !backend.Valid() {
		return nil, chacha20.ErrInvalidBackend
	}
	a := &AEAD{nonceSize: nonceSize, backend: backend}
	copy(a.key[:], key)
	return a, nil
}

// NonceSize returns the nonce size this AEAD expects.
func (a *AEAD) NonceSize() int { return a.nonceSize }

// Overhead returns the authentication tag overhead.
func (a *AEAD) Overhead() int { return TagSize }

// Backend returns the keystream backend this AEAD dispatches to.
func (a *AEAD) Backend() chacha20.Backend { return a.backend }

// Reset zeros the key so that it no longer appears in the process's
// memory. The AEAD is unusable afterwards.
func (a *AEAD) Reset() {
	for i := range a.key {
		a.key[i] = 0
	}
}

// Seal encrypts and authenticates plaintext, authenticates aad, and
// appends ciphertext || tag to dst, returning the extended slice.
func (a *AEAD) Seal(dst, nonce, plaintext, aad []byte) ([]byte, error) {
	if uint64(len(plaintext)) > maxMessageSize {
		return nil, ErrMessageTooLarge
	}
	ret, out := sliceForAppend(dst, len(plaintext)+TagSize)
	if alias.InexactOverlap(out, plaintext) {
		return nil, ErrInvalidOverlap
	}
	var tag [TagSize]byte
	if err := a.seal(out[:len(plaintext)], &tag, nonce, plaintext, aad); err != nil {
		return nil, err
	}
	copy(out[len(plaintext):], tag[:])
	return ret, nil
}

// Open verifies the trailing tag of ciphertext against the message and
// aad and, only on success, appends the decrypted plaintext to dst. On
// authentication failure nothing is written and ErrAuthenticationFailed
// is returned.
func (a *AEAD) Open(dst, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < TagSize {
		return nil, ErrCiphertextTooShort
	}
	ct, tag := ciphertext[:len(ciphertext)-TagSize], ciphertext[len(ciphertext)-TagSize:]
	ret, out := sliceForAppend(dst, len(ct))
	if alias.InexactOverlap(out, ciphertext) {
		return nil, ErrInvalidOverlap
	}
	if err := a.open(out, nonce, ct, tag, aad); err != nil {
		return nil, err
	}
	return ret, nil
}

// SealDetached is like Seal but writes the ciphertext and the tag into
// caller-owned buffers. ciphertext must have the same length as plaintext
// and tag must be TagSize bytes.
func (a *AEAD) SealDetached(ciphertext, tag, nonce, plaintext, aad []byte) error {
	if len(ciphertext) != len(plaintext) {
		return ErrLengthMismatch
	}
	if len(tag) != TagSize {
		return ErrInvalidTagSize
	}
	if uint64(len(plaintext)) > maxMessageSize {
		return ErrMessageTooLarge
	}
	if alias.InexactOverlap(ciphertext, plaintext) {
		return ErrInvalidOverlap
	}
	var t [TagSize]byte
	if err := a.seal(ciphertext, &t, nonce, plaintext, aad); err != nil {
		return err
	}
	copy(tag, t[:])
	return nil
}

// OpenDetached is like Open but takes the ciphertext and tag separately.
// plaintext must have the same length as ciphertext; it is untouched when
// authentication fails.
func (a *AEAD) OpenDetached(plaintext, nonce, ciphertext, tag, aad []byte) error {
	if len(plaintext) != len(ciphertext) {
		return ErrLengthMismatch
	}
	if len(tag) != TagSize {
		return ErrInvalidTagSize
	}
	if alias.InexactOverlap(plaintext, ciphertext) {
		return ErrInvalidOverlap
	}
	return a.open(plaintext, nonce, ciphertext, tag, aad)
}

// start builds the per-message cipher and derives the one-time Poly1305
// key from keystream block 0, leaving the cipher positioned at block 1
// for the payload. The returned key must be zeroed by the caller.
func (a *AEAD) start(nonce []byte) (*chacha20.Cipher, *[poly1305.KeySize]byte, error) {
	if len(nonce) != a.nonceSize {
		return nil, nil, ErrInvalidNonceSize
	}
	c, err := chacha20.NewWithBackend(a.key[:], nonce, a.backend)
	if err != nil {
		return nil, nil, err
	}

	var block0 [chacha20.BlockSize]byte
	if err := c.KeyStream(block0[:]); err != nil {
		c.Reset()
		return nil, nil, err
	}
	polyKey := new([poly1305.KeySize]byte)
	copy(polyKey[:], block0[:poly1305.KeySize])
	for i := range block0 {
		block0[i] = 0
	}
	return c, polyKey, nil
}

func (a *AEAD) seal(ciphertext []byte, tag *[TagSize]byte, nonce, plaintext, aad []byte) error {
	c, polyKey, err := a.start(nonce)
	if err != nil {
		return err
	}
	defer c.Reset()
	defer zeroKey(polyKey)

	if err := c.XORKeyStream(ciphertext, plaintext); err != nil {
		return err
	}

	m, err := poly1305.New(polyKey[:])
	if err != nil {
		return err
	}
	authenticate(m, aad, ciphertext)
	return m.Sum(tag)
}

func (a *AEAD) open(plaintext, nonce, ciphertext, tag, aad []byte) error {
	if uint64(len(ciphertext)) > maxMessageSize {
		return ErrMessageTooLarge
	}
	c, polyKey, err := a.start(nonce)
	if err != nil {
		return err
	}
	defer c.Reset()
	defer zeroKey(polyKey)

	// Authenticate before touching plaintext: a failed open must leave
	// the destination exactly as the caller passed it in.
	m, err := poly1305.New(polyKey[:])
	if err != nil {
		return err
	}
	authenticate(m, aad, ciphertext)
	ok, err := m.Verify(tag)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAuthenticationFailed
	}

	return c.XORKeyStream(plaintext, ciphertext)
}

// authenticate absorbs the RFC 8439 MAC input:
// aad || pad16(aad) || ciphertext || pad16(ciphertext) ||
// len(aad) LE64 || len(ciphertext) LE64.
func authenticate(m *poly1305.MAC, aad, ciphertext []byte) {
	writeWithPadding(m, aad)
	writeWithPadding(m, ciphertext)
	writeUint64(m, len(aad))
	writeUint64(m, len(ciphertext))
}

func writeWithPadding(m *poly1305.MAC, b []byte) {
	m.Write(b)
	if rem := len(b) % 16; rem != 0 {
		var pad [16]byte
		m.Write(pad[:16-rem])
	}
}

func writeUint64(m *poly1305.MAC, n int) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(n))
	m.Write(buf[:])
}

func zeroKey(k *[poly1305.KeySize]byte) {
	for i := range k {
		k[i] = 0
	}
}

func sliceForAppend(in []byte, n int) (head, tail []byte) {
	if total := len(in) + n; cap(in) >= total {
		head = in[:total]
	} else {
		head = make([]byte, total)
		copy(head, in)
	}
	tail = head[len(in):]
	return
}
