package poly1305

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"math/bits"
)

const (
	// KeySize is the one-time key size in bytes.
	KeySize = 32

	// TagSize is the authentication tag size in bytes.
	TagSize = 16
)

var (
	// ErrInvalidKeySize is returned when a key is not KeySize bytes.
	ErrInvalidKeySize = errors.New("poly1305: key must be 32 bytes")

	// ErrKeyConsumed is returned when a MAC is used after Sum or Verify.
	// A one-time key authenticates exactly one message.
	ErrKeyConsumed = errors.New("poly1305: one-time key already consumed")
)

// MAC computes a one-time tag incrementally. It is consumed by Sum or
// Verify and cannot be reused.
type MAC struct {
	// h is the running accumulator, r the clamped multiplier and s the
	// additive mask, all little-endian 64-bit limbs.
	h [3]uint64
	r [2]uint64
	s [2]uint64

	buffer   [TagSize]byte
	offset   int
	consumed bool
}

// Clamping masks for r, per RFC 8439 §2.5: the top four bits of each
// 32-bit group and the bottom two bits of the upper groups are cleared.
const (
	rMask0 = 0x0FFFFFFC0FFFFFFF
	rMask1 = 0x0FFFFFFC0FFFFFFC
)

// New returns a MAC for the given 32-byte one-time key.
func New(key []byte) (*MAC, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	m := &MAC{}
	m.r[0] = binary.LittleEndian.Uint64(key[0:8]) & rMask0
	m.r[1] = binary.LittleEndian.Uint64(key[8:16]) & rMask1
	m.s[0] = binary.LittleEndian.Uint64(key[16:24])
	m.s[1] = binary.LittleEndian.Uint64(key[24:32])
	return m, nil
}

// Write absorbs more message data. It never fails with a partial write;
// the only error is use after the key was consumed.
func (m *MAC) Write(p []byte) (int, error) {
	if m.consumed {
		return 0, ErrKeyConsumed
	}
	n := len(p)

	if m.offset > 0 {
		fill := copy(m.buffer[m.offset:], p)
		p = p[fill:]
		m.offset += fill
		if m.offset < TagSize {
			return n, nil
		}
		m.updateBlock(m.buffer[:], false)
		m.offset = 0
	}

	for len(p) >= TagSize {
		m.updateBlock(p[:TagSize], false)
		p = p[TagSize:]
	}
	if len(p) > 0 {
		m.offset = copy(m.buffer[:], p)
	}
	return n, nil
}

// Sum finalizes the tag into out and consumes the MAC: the key material is
// zeroed and any further Write, Sum or Verify fails with ErrKeyConsumed.
func (m *MAC) Sum(out *[TagSize]byte) error {
	if m.consumed {
		return ErrKeyConsumed
	}
	if m.offset > 0 {
		m.updateBlock(m.buffer[:m.offset], true)
	}
	m.finalize(out)
	m.wipe()
	return nil
}

// Verify finalizes the tag, compares it to the expected tag in constant
// time and consumes the MAC.
func (m *MAC) Verify(expected []byte) (bool, error) {
	var tag [TagSize]byte
	if err := m.Sum(&tag); err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(expected, tag[:]) == 1, nil
}

// Sum computes the tag of msg under a fresh one-time key.
func Sum(msg, key []byte) ([TagSize]byte, error) {
	var tag [TagSize]byte
	m, err := New(key)
	if err != nil {
		return tag, err
	}
	m.Write(msg)
	err = m.Sum(&tag)
	return tag, err
}

// Verify reports whether tag authenticates msg under key, in constant time.
func Verify(tag, msg, key []byte) (bool, error) {
	m, err := New(key)
	if err != nil {
		return false, err
	}
	m.Write(msg)
	return m.Verify(tag)
}

type uint128 struct {
	lo, hi uint64
}

func mul64(a, b uint64) uint128 {
	hi, lo := bits.Mul64(a, b)
	return uint128{lo, hi}
}

func add128(a, b uint128) uint128 {
	lo, c := bits.Add64(a.lo, b.lo, 0)
	hi, c := bits.Add64(a.hi, b.hi, c)
	if c != 0 {
		panic("poly1305: unexpected overflow")
	}
	return uint128{lo, hi}
}

func shiftRightBy2(a uint128) uint128 {
	a.lo = a.lo>>2 | (a.hi&3)<<62
	a.hi = a.hi >> 2
	return a
}

// updateBlock absorbs one 16-byte chunk: h = (h + chunk + 2^128) * r mod
// 2^130-5, with a partial reduction that keeps h under 2^131. A short
// final chunk is padded with a single 0x01 byte in place of the 2^128
// message bit.
func (m *MAC) updateBlock(chunk []byte, final bool) {
	h0, h1, h2 := m.h[0], m.h[1], m.h[2]
	r0, r1 := m.r[0], m.r[1]

	var c uint64
	if !final {
		h0, c = bits.Add64(h0, binary.LittleEndian.Uint64(chunk[0:8]), 0)
		h1, c = bits.Add64(h1, binary.LittleEndian.Uint64(chunk[8:16]), c)
		h2 += c + 1
	} else {
		var buf [TagSize]byte
		copy(buf[:], chunk)
		buf[len(chunk)] = 1
		h0, c = bits.Add64(h0, binary.LittleEndian.Uint64(buf[0:8]), 0)
		h1, c = bits.Add64(h1, binary.LittleEndian.Uint64(buf[8:16]), c)
		h2 += c
	}

	// Schoolbook 128x128 -> 256 multiply of h by r. h2 and the high bits
	// of r are small, so h2r0 and h2r1 cannot overflow 128 bits.
	h0r0 := mul64(h0, r0)
	h1r0 := mul64(h1, r0)
	h2r0 := mul64(h2, r0)
	h0r1 := mul64(h0, r1)
	h1r1 := mul64(h1, r1)
	h2r1 := mul64(h2, r1)

	m0 := h0r0
	m1 := add128(h1r0, h0r1)
	m2 := add128(h2r0, h1r1)
	m3 := h2r1

	t0 := m0.lo
	t1, c := bits.Add64(m1.lo, m0.hi, 0)
	t2, c := bits.Add64(m2.lo, m1.hi, c)
	t3, _ := bits.Add64(m3.lo, m2.hi, c)

	// Partial reduction: split at 2^130 and fold the top back in as
	// cc * 5 = cc * 4 + cc, using 2^130 = 5 mod 2^130-5.
	h0, h1, h2 = t0, t1, t2&3
	cc := uint128{t2 &^ 3, t3}

	h0, c = bits.Add64(h0, cc.lo, 0)
	h1, c = bits.Add64(h1, cc.hi, c)
	h2 += c

	cc = shiftRightBy2(cc)
	h0, c = bits.Add64(h0, cc.lo, 0)
	h1, c = bits.Add64(h1, cc.hi, c)
	h2 += c

	m.h[0], m.h[1], m.h[2] = h0, h1, h2
}

// The prime 2^130-5 as 64-bit limbs.
const (
	p0 = 0xFFFFFFFFFFFFFFFB
	p1 = 0xFFFFFFFFFFFFFFFF
	p2 = 3
)

// select64 returns x if v is 1 and y if v is 0, without branching.
func select64(v, x, y uint64) uint64 {
	return ^(v-1)&x | (v-1)&y
}

// finalize completes the reduction modulo 2^130-5 in constant time, adds
// the mask s and serializes the low 128 bits little-endian.
func (m *MAC) finalize(out *[TagSize]byte) {
	h0, h1, h2 := m.h[0], m.h[1], m.h[2]

	// h is below 2*(2^130-5) after the partial reductions; subtract the
	// prime and keep h or h-p depending on the borrow.
	hMinusP0, b := bits.Sub64(h0, p0, 0)
	hMinusP1, b := bits.Sub64(h1, p1, b)
	_, b = bits.Sub64(h2, p2, b)

	h0 = select64(b, h0, hMinusP0)
	h1 = select64(b, h1, hMinusP1)

	var c uint64
	h0, c = bits.Add64(h0, m.s[0], 0)
	h1, _ = bits.Add64(h1, m.s[1], c)

	binary.LittleEndian.PutUint64(out[0:8], h0)
	binary.LittleEndian.PutUint64(out[8:16], h1)
}

// wipe clears all key-derived state and marks the MAC consumed.
func (m *MAC) wipe() {
	m.h = [3]uint64{}
	m.r = [2]uint64{}
	m.s = [2]uint64{}
	m.buffer = [TagSize]byte{}
	m.offset = 0
	m.consumed = true
}
