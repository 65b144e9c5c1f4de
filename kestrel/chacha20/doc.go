// Package chacha20 implements the ChaCha20 stream cipher (RFC 8439) with
// 12-byte nonces, classic 8-byte nonces, and 24-byte XChaCha20 nonces.
//
// Design goals:
//   - Bit-identical output across all execution backends (scalar and
//     block-interleaved), selected once per cipher at construction
//   - Explicit, seekable 32-bit block counter for resumable streams
//   - No silent counter wraparound: keystream exhaustion is an error
//   - Argument errors are detected before any context mutation
//   - Key material is erasable via Reset
//
// A Cipher must be exclusively owned by one call sequence at a time;
// concurrent use requires external synchronization or per-goroutine
// instances.
package chacha20
