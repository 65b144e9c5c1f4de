// Package poly1305 implements the Poly1305 one-time message authentication
// code (RFC 8439).
//
// Poly1305 evaluates a polynomial over the prime field 2^130-5 keyed by the
// clamped "r" half of the key, then masks the result with the "s" half. The
// key MUST be used for a single message only; authenticating two messages
// under the same key lets an attacker forge tags. A MAC here is therefore
// consumed by Sum or Verify, and further use surfaces ErrKeyConsumed.
//
// All arithmetic uses 64-bit limbs with full-width intermediate products;
// tag finalization and comparison are constant time with respect to secret
// data.
package poly1305
