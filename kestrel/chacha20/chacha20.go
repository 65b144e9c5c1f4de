package chacha20

import (
	"encoding/binary"
	"errors"

	"github.com/kestrelcrypt/kestrel/kestrel/internal/alias"
)

const (
	// KeySize is the ChaCha20 key size in bytes.
	KeySize = 32

	// NonceSize is the RFC 8439 nonce size in bytes.
	NonceSize = 12

	// LegacyNonceSize is the original 64-bit nonce size in bytes.
	LegacyNonceSize = 8

	// XNonceSize is the XChaCha20 nonce size in bytes.
	XNonceSize = 24

	// HNonceSize is the HChaCha20 input size in bytes.
	HNonceSize = 16

	// BlockSize is the ChaCha20 block size in bytes.
	BlockSize = 64

	// maxBlocks is the number of blocks addressable by the 32-bit counter.
	maxBlocks = 1 << 32

	// The constant "expand 32-byte k" as little-endian uint32s.
	sigma0 = uint32(0x61707865)
	sigma1 = uint32(0x3320646e)
	sigma2 = uint32(0x79622d32)
	sigma3 = uint32(0x6b206574)
)

var (
	// ErrInvalidKeySize is returned when a key is not KeySize bytes.
	ErrInvalidKeySize = errors.New("chacha20: key must be 32 bytes")

	// ErrInvalidNonceSize is returned when a nonce is not one of the
	// supported sizes (8, 12 or 24 bytes).
	ErrInvalidNonceSize = errors.New("chacha20: nonce must be 8, 12 or 24 bytes")

	// ErrLengthMismatch is returned by XORKeyStream when dst and src have
	// different lengths.
	ErrLengthMismatch = errors.New("chacha20: dst and src lengths differ")

	// ErrInvalidOverlap is returned when dst and src overlap but are not
	// an exact in-place alias.
	ErrInvalidOverlap = errors.New("chacha20: invalid buffer overlap")

	// ErrKeystreamExhausted is returned when an operation would advance the
	// block counter past 2^32 blocks. The counter never wraps silently.
	ErrKeystreamExhausted = errors.New("chacha20: keystream exhausted")
)

// A Cipher is an instance of ChaCha20 or XChaCha20 using a particular key,
// nonce and backend.
type Cipher struct {
	state [16]uint32

	// ctr mirrors state[12] without wraparound, so exhaustion can be
	// detected before any output is produced.
	ctr uint64

	// buf holds leftover keystream from a partial block read; the bytes at
	// buf[off:] belong to block ctr-1. off == BlockSize means empty.
	buf [BlockSize]byte
	off int

	backend Backend
}

// New returns a ChaCha20 instance for the given key and nonce, using the
// backend chosen by the capability probe. The nonce may be 12 bytes
// (RFC 8439), 8 bytes (classic) or 24 bytes (XChaCha20, handled via an
// internal HChaCha20 derivation).
func New(key, nonce []byte) (*Cipher, error) {
	return NewWithBackend(key, nonce, DefaultBackend())
}

// NewWithBackend is like New but forces a specific backend. It is intended
// primarily for cross-backend equivalence testing; all backends produce
// identical output.
func NewWithBackend(key, nonce []byte, backend Backend) (*Cipher, error) {
	if !backend.Valid() {
		return nil, ErrInvalidBackend
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	c := &Cipher{backend: backend, off: BlockSize}
	if err := c.setup(key, nonce); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cipher) setup(key, nonce []byte) error {
	switch len(nonce) {
	case NonceSize, LegacyNonceSize:
	case XNonceSize:
		sub, err := HChaCha20(key, nonce[:HNonceSize])
		if err != nil {
			return err
		}
		key = sub
		nonce = nonce[HNonceSize:]
		defer zeroBytes(sub)
	default:
		return ErrInvalidNonceSize
	}

	c.state[0], c.state[1], c.state[2], c.state[3] = sigma0, sigma1, sigma2, sigma3
	for i := 0; i < 8; i++ {
		c.state[4+i] = binary.LittleEndian.Uint32(key[4*i:])
	}
	c.state[12] = 0
	if len(nonce) == NonceSize {
		c.state[13] = binary.LittleEndian.Uint32(nonce[0:4])
		c.state[14] = binary.LittleEndian.Uint32(nonce[4:8])
		c.state[15] = binary.LittleEndian.Uint32(nonce[8:12])
	} else {
		// The classic 64-bit nonce occupies words 14 and 15. Word 13 stays
		// zero so the 32-bit counter model matches the original cipher for
		// the first 2^32 blocks.
		c.state[13] = 0
		c.state[14] = binary.LittleEndian.Uint32(nonce[0:4])
		c.state[15] = binary.LittleEndian.Uint32(nonce[4:8])
	}
	c.ctr = 0
	c.off = BlockSize
	return nil
}

// Backend returns the backend this cipher dispatches to.
func (c *Cipher) Backend() Backend { return c.backend }

// Counter returns the index of the next keystream block to be generated.
// Keystream buffered from a partial block read is not reflected here.
func (c *Cipher) Counter() uint32 { return uint32(c.ctr) }

// Seek positions the keystream at the given block index. Any buffered
// partial-block keystream is discarded. O(1).
func (c *Cipher) Seek(block uint32) {
	c.ctr = uint64(block)
	c.state[12] = block
	c.off = BlockSize
}

// KeyStream fills dst with raw keystream, advancing the block counter as
// needed. Reads need not be aligned to the 64-byte block size; leftover
// bytes are retained for the next call.
func (c *Cipher) KeyStream(dst []byte) error {
	return c.process(dst, nil)
}

// XORKeyStream sets dst[i] = src[i] XOR keystream[i]. dst and src must have
// equal lengths and must either be the same slice or not overlap at all.
func (c *Cipher) XORKeyStream(dst, src []byte) error {
	if len(dst) != len(src) {
		return ErrLengthMismatch
	}
	if alias.InexactOverlap(dst, src) {
		return ErrInvalidOverlap
	}
	return c.process(dst, src)
}

// process generates keystream into dst, XORing with src when src is
// non-nil. Exhaustion is checked up front so a failing call produces no
// output and mutates nothing.
func (c *Cipher) process(dst, src []byte) error {
	buffered := 0
	if c.off < BlockSize {
		buffered = BlockSize - c.off
	}
	if n := len(dst); n > buffered {
		fresh := uint64(n-buffered+BlockSize-1) / BlockSize
		if c.ctr+fresh > maxBlocks {
			return ErrKeystreamExhausted
		}
	}

	for remaining := len(dst); remaining > 0; {
		if c.off == BlockSize {
			// Whole blocks go straight to dst.
			if nrBlocks := remaining / BlockSize; nrBlocks > 0 {
				directBytes := nrBlocks * BlockSize
				if src != nil {
					c.blocks(dst[:directBytes], src[:directBytes], nrBlocks)
					src = src[directBytes:]
				} else {
					c.blocks(dst[:directBytes], nil, nrBlocks)
				}
				c.ctr += uint64(nrBlocks)
				dst = dst[directBytes:]
				remaining -= directBytes
				if remaining == 0 {
					return nil
				}
			}

			// Partial block: one block of keystream into the internal
			// buffer, consumed below and on later calls.
			c.blocks(c.buf[:], nil, 1)
			c.ctr++
			c.off = 0
		}

		n := BlockSize - c.off
		if n > remaining {
			n = remaining
		}
		if src != nil {
			for i := 0; i < n; i++ {
				dst[i] = src[i] ^ c.buf[c.off+i]
			}
			src = src[n:]
		} else {
			copy(dst[:n], c.buf[c.off:c.off+n])
		}
		dst = dst[n:]
		remaining -= n
		c.off += n
	}
	return nil
}

// blocks dispatches to the selected backend. The closed switch keeps the
// hot path free of indirect calls.
func (c *Cipher) blocks(dst, src []byte, nrBlocks int) {
	switch c.backend {
	case BackendWide8:
		blocksWide8(&c.state, dst, src, nrBlocks)
	case BackendWide4:
		blocksWide4(&c.state, dst, src, nrBlocks)
	default:
		blocksRef(&c.state, dst, src, nrBlocks)
	}
}

// Reset zeros all key material and buffered keystream so that it no longer
// appears in the process's memory. The cipher is unusable afterwards.
func (c *Cipher) Reset() {
	for i := range c.state {
		c.state[i] = 0
	}
	for i := range c.buf {
		c.buf[i] = 0
	}
	c.ctr = 0
	c.off = BlockSize
}

// HChaCha20 derives a 32-byte subkey from a 32-byte key and a 16-byte
// nonce prefix. It is the re-keying step that extends ChaCha20's nonce
// space to the 24-byte XChaCha20 nonce.
func HChaCha20(key, nonce []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if len(nonce) != HNonceSize {
		return nil, ErrInvalidNonceSize
	}

	var x [16]uint32
	x[0], x[1], x[2], x[3] = sigma0, sigma1, sigma2, sigma3
	for i := 0; i < 8; i++ {
		x[4+i] = binary.LittleEndian.Uint32(key[4*i:])
	}
	for i := 0; i < 4; i++ {
		x[12+i] = binary.LittleEndian.Uint32(nonce[4*i:])
	}

	permute(&x)

	// HChaCha20 outputs words 0..3 and 12..15 with no feed-forward.
	out := make([]byte, KeySize)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(out[4*i:], x[i])
		binary.LittleEndian.PutUint32(out[16+4*i:], x[12+i])
	}
	for i := range x {
		x[i] = 0
	}
	return out, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
