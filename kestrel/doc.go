// Package kestrel provides authenticated encryption with associated data
// (AEAD) built from ChaCha20 and Poly1305: ChaCha20-Poly1305 (RFC 8439)
// and its extended-nonce variant XChaCha20-Poly1305.
//
// Design goals:
//   - Fast on commodity hardware (no AES-NI required), with keystream
//     backends matched to the host's vector capabilities
//   - Fails closed: tampering with the tag, the ciphertext or the
//     associated data independently rejects the message
//   - Constant-time tag comparison; no plaintext is ever written to the
//     destination when authentication fails
//   - Key material erasable via Reset on every context
//
// One AEAD context serves many messages under one key, provided every
// message uses a distinct nonce. Reusing a (key, nonce) pair destroys both
// confidentiality and authenticity; the library cannot detect this, so
// nonce uniqueness is a hard caller contract. With 12-byte nonces use a
// counter scheme; 24-byte XChaCha20 nonces are wide enough to draw at
// random.
package kestrel
