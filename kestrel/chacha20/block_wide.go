package chacha20

import (
	"encoding/binary"
	"math/bits"
)

// The wide backends interleave several blocks of the permutation so the
// per-word operations become short fixed-trip-count lane loops the
// compiler can unroll and keep in vector registers. Output is
// bit-identical to the scalar backend.

func quarterRound4(a, b, c, d *[4]uint32) {
	for l := 0; l < 4; l++ {
		a[l] += b[l]
		d[l] ^= a[l]
		d[l] = bits.RotateLeft32(d[l], 16)
		c[l] += d[l]
		b[l] ^= c[l]
		b[l] = bits.RotateLeft32(b[l], 12)
		a[l] += b[l]
		d[l] ^= a[l]
		d[l] = bits.RotateLeft32(d[l], 8)
		c[l] += d[l]
		b[l] ^= c[l]
		b[l] = bits.RotateLeft32(b[l], 7)
	}
}

// blocksWide4 processes four consecutive counter values per pass, falling
// back to the scalar backend for the tail.
func blocksWide4(state *[16]uint32, dst, src []byte, nrBlocks int) {
	for nrBlocks >= 4 {
		var x [16][4]uint32
		for i := 0; i < 16; i++ {
			for l := 0; l < 4; l++ {
				x[i][l] = state[i]
			}
		}
		for l := 0; l < 4; l++ {
			x[12][l] = state[12] + uint32(l)
		}

		for r := 0; r < 10; r++ {
			quarterRound4(&x[0], &x[4], &x[8], &x[12])
			quarterRound4(&x[1], &x[5], &x[9], &x[13])
			quarterRound4(&x[2], &x[6], &x[10], &x[14])
			quarterRound4(&x[3], &x[7], &x[11], &x[15])

			quarterRound4(&x[0], &x[5], &x[10], &x[15])
			quarterRound4(&x[1], &x[6], &x[11], &x[12])
			quarterRound4(&x[2], &x[7], &x[8], &x[13])
			quarterRound4(&x[3], &x[4], &x[9], &x[14])
		}

		for l := 0; l < 4; l++ {
			out := dst[l*BlockSize:]
			var in []byte
			if src != nil {
				in = src[l*BlockSize:]
			}
			for i := 0; i < 16; i++ {
				inw := state[i]
				if i == 12 {
					inw += uint32(l)
				}
				k := x[i][l] + inw
				if in != nil {
					binary.LittleEndian.PutUint32(out[4*i:], binary.LittleEndian.Uint32(in[4*i:])^k)
				} else {
					binary.LittleEndian.PutUint32(out[4*i:], k)
				}
			}
		}

		state[12] += 4
		dst = dst[4*BlockSize:]
		if src != nil {
			src = src[4*BlockSize:]
		}
		nrBlocks -= 4
	}
	if nrBlocks > 0 {
		blocksRef(state, dst, src, nrBlocks)
	}
}

func quarterRound8(a, b, c, d *[8]uint32) {
	for l := 0; l < 8; l++ {
		a[l] += b[l]
		d[l] ^= a[l]
		d[l] = bits.RotateLeft32(d[l], 16)
		c[l] += d[l]
		b[l] ^= c[l]
		b[l] = bits.RotateLeft32(b[l], 12)
		a[l] += b[l]
		d[l] ^= a[l]
		d[l] = bits.RotateLeft32(d[l], 8)
		c[l] += d[l]
		b[l] ^= c[l]
		b[l] = bits.RotateLeft32(b[l], 7)
	}
}

// blocksWide8 processes eight consecutive counter values per pass, falling
// back to the four-block backend (and transitively the scalar one) for the
// tail.
func blocksWide8(state *[16]uint32, dst, src []byte, nrBlocks int) {
	for nrBlocks >= 8 {
		var x [16][8]uint32
		for i := 0; i < 16; i++ {
			for l := 0; l < 8; l++ {
				x[i][l] = state[i]
			}
		}
		for l := 0; l < 8; l++ {
			x[12][l] = state[12] + uint32(l)
		}

		for r := 0; r < 10; r++ {
			quarterRound8(&x[0], &x[4], &x[8], &x[12])
			quarterRound8(&x[1], &x[5], &x[9], &x[13])
			quarterRound8(&x[2], &x[6], &x[10], &x[14])
			quarterRound8(&x[3], &x[7], &x[11], &x[15])

			quarterRound8(&x[0], &x[5], &x[10], &x[15])
			quarterRound8(&x[1], &x[6], &x[11], &x[12])
			quarterRound8(&x[2], &x[7], &x[8], &x[13])
			quarterRound8(&x[3], &x[4], &x[9], &x[14])
		}

		for l := 0; l < 8; l++ {
			out := dst[l*BlockSize:]
			var in []byte
			if src != nil {
				in = src[l*BlockSize:]
			}
			for i := 0; i < 16; i++ {
				inw := state[i]
				if i == 12 {
					inw += uint32(l)
				}
				k := x[i][l] + inw
				if in != nil {
					binary.LittleEndian.PutUint32(out[4*i:], binary.LittleEndian.Uint32(in[4*i:])^k)
				} else {
					binary.LittleEndian.PutUint32(out[4*i:], k)
				}
			}
		}

		state[12] += 8
		dst = dst[8*BlockSize:]
		if src != nil {
			src = src[8*BlockSize:]
		}
		nrBlocks -= 8
	}
	if nrBlocks > 0 {
		blocksWide4(state, dst, src, nrBlocks)
	}
}
