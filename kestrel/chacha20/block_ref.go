package chacha20

import (
	"encoding/binary"
	"math/bits"
)

// quarterRound is the ChaCha add-rotate-xor quarter-round.
func quarterRound(a, b, c, d uint32) (uint32, uint32, uint32, uint32) {
	a += b
	d ^= a
	d = bits.RotateLeft32(d, 16)
	c += d
	b ^= c
	b = bits.RotateLeft32(b, 12)
	a += b
	d ^= a
	d = bits.RotateLeft32(d, 8)
	c += d
	b ^= c
	b = bits.RotateLeft32(b, 7)
	return a, b, c, d
}

// permute applies the 20-round ChaCha permutation to x in place, without
// the final feed-forward addition.
func permute(x *[16]uint32) {
	x0, x1, x2, x3 := x[0], x[1], x[2], x[3]
	x4, x5, x6, x7 := x[4], x[5], x[6], x[7]
	x8, x9, x10, x11 := x[8], x[9], x[10], x[11]
	x12, x13, x14, x15 := x[12], x[13], x[14], x[15]

	for i := 0; i < 10; i++ {
		// Column round.
		x0, x4, x8, x12 = quarterRound(x0, x4, x8, x12)
		x1, x5, x9, x13 = quarterRound(x1, x5, x9, x13)
		x2, x6, x10, x14 = quarterRound(x2, x6, x10, x14)
		x3, x7, x11, x15 = quarterRound(x3, x7, x11, x15)

		// Diagonal round.
		x0, x5, x10, x15 = quarterRound(x0, x5, x10, x15)
		x1, x6, x11, x12 = quarterRound(x1, x6, x11, x12)
		x2, x7, x8, x13 = quarterRound(x2, x7, x8, x13)
		x3, x4, x9, x14 = quarterRound(x3, x4, x9, x14)
	}

	x[0], x[1], x[2], x[3] = x0, x1, x2, x3
	x[4], x[5], x[6], x[7] = x4, x5, x6, x7
	x[8], x[9], x[10], x[11] = x8, x9, x10, x11
	x[12], x[13], x[14], x[15] = x12, x13, x14, x15
}

// blocksRef is the scalar backend: one block of the permutation per pass.
// src may be nil, in which case raw keystream is written to dst. The block
// counter in state[12] advances by nrBlocks (wrapping; the caller tracks
// exhaustion).
func blocksRef(state *[16]uint32, dst, src []byte, nrBlocks int) {
	for blk := 0; blk < nrBlocks; blk++ {
		ws := *state
		permute(&ws)

		out := dst[blk*BlockSize:]
		if src != nil {
			in := src[blk*BlockSize:]
			for i := 0; i < 16; i++ {
				k := ws[i] + state[i]
				binary.LittleEndian.PutUint32(out[4*i:], binary.LittleEndian.Uint32(in[4*i:])^k)
			}
		} else {
			for i := 0; i < 16; i++ {
				binary.LittleEndian.PutUint32(out[4*i:], ws[i]+state[i])
			}
		}
		state[12]++
	}
}
