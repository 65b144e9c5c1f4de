package kestrel

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"testing"

	ref "golang.org/x/crypto/chacha20poly1305"

	"github.com/kestrelcrypt/kestrel/kestrel/chacha20"
)

var sunscreen = []byte("Ladies and Gentlemen of the class of '99: " +
	"If I could offer you only one tip for the future, sunscreen would be it.")

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex literal: %v", err)
	}
	return b
}

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = 0x80 + byte(i)
	}
	return key
}

// RFC 8439 §2.8.2.
func TestSealRFC8439(t *testing.T) {
	key := testKey()
	nonce := mustHex(t, "070000004041424344454647")
	aad := mustHex(t, "50515253c0c1c2c3c4c5c6c7")
	wantCT := mustHex(t,
		"d31a8d34648e60db7b86afbc53ef7ec2"+
			"a4aded51296e08fea9e2b5a736ee62d6"+
			"3dbea45e8ca9671282fafb69da92728b"+
			"1a71de0a9e060b2905d6a5b67ecd3b36"+
			"92ddbd7f2d778b8c9803aee328091b58"+
			"fab324e4fad675945585808b4831d7bc"+
			"3ff4def08e4b7a9de576d26586cec64b"+
			"6116")
	wantTag := mustHex(t, "1ae10b594f09e26a7e902ecbd0600691")

	a, err := New(key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sealed, err := a.Seal(nil, nonce, sunscreen, aad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if got := sealed[:len(sunscreen)]; !bytes.Equal(got, wantCT) {
		t.Fatalf("ciphertext mismatch:\n got %x\nwant %x", got, wantCT)
	}
	if got := sealed[len(sunscreen):]; !bytes.Equal(got, wantTag) {
		t.Fatalf("tag mismatch:\n got %x\nwant %x", got, wantTag)
	}

	opened, err := a.Open(nil, nonce, sealed, aad)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, sunscreen) {
		t.Fatalf("round trip mismatch: %q", opened)
	}
}

// draft-irtf-cfrg-xchacha, XChaCha20-Poly1305 example with the same key,
// AAD and plaintext as the RFC 8439 vector.
func TestSealXChaCha(t *testing.T) {
	key := testKey()
	nonce := mustHex(t, "404142434445464748494a4b4c4d4e4f5051525354555657")
	aad := mustHex(t, "50515253c0c1c2c3c4c5c6c7")
	wantPrefix := mustHex(t, "bd6d179d3e83d43b")
	wantTag := mustHex(t, "c0875924c1c7987947deafd8780acf49")

	a, err := NewX(key)
	if err != nil {
		t.Fatalf("NewX: %v", err)
	}
	sealed, err := a.Seal(nil, nonce, sunscreen, aad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !bytes.HasPrefix(sealed, wantPrefix) {
		t.Fatalf("ciphertext prefix mismatch:\n got %x\nwant %x", sealed[:len(wantPrefix)], wantPrefix)
	}
	if got := sealed[len(sunscreen):]; !bytes.Equal(got, wantTag) {
		t.Fatalf("tag mismatch:\n got %x\nwant %x", got, wantTag)
	}

	// The full output must agree with the x/crypto implementation.
	x, err := ref.NewX(key)
	if err != nil {
		t.Fatalf("reference NewX: %v", err)
	}
	if want := x.Seal(nil, nonce, sunscreen, aad); !bytes.Equal(sealed, want) {
		t.Fatalf("output diverges from reference")
	}
}

func TestRoundTrip(t *testing.T) {
	lengths := []int{0, 1, 15, 16, 63, 64, 65, 300, 1000}
	for _, newFn := range []struct {
		name string
		mk   func([]byte, chacha20.Backend) (*AEAD, error)
	}{
		{"chacha20poly1305", NewWithBackend},
		{"xchacha20poly1305", NewXWithBackend},
	} {
		for _, backend := range chacha20.Backends() {
			key := make([]byte, KeySize)
			rand.Read(key)
			a, err := newFn.mk(key, backend)
			if err != nil {
				t.Fatalf("%s/%v: %v", newFn.name, backend, err)
			}
			nonce := make([]byte, a.NonceSize())

			for _, n := range lengths {
				rand.Read(nonce)
				msg := make([]byte, n)
				aad := make([]byte, n%32)
				rand.Read(msg)
				rand.Read(aad)

				sealed, err := a.Seal(nil, nonce, msg, aad)
				if err != nil {
					t.Fatalf("%s/%v: Seal: %v", newFn.name, backend, err)
				}
				if len(sealed) != n+Overhead {
					t.Fatalf("%s/%v: sealed length %d, want %d", newFn.name, backend, len(sealed), n+Overhead)
				}
				opened, err := a.Open(nil, nonce, sealed, aad)
				if err != nil {
					t.Fatalf("%s/%v: Open: %v", newFn.name, backend, err)
				}
				if !bytes.Equal(opened, msg) {
					t.Fatalf("%s/%v: round trip mismatch at length %d", newFn.name, backend, n)
				}
			}
		}
	}
}

// Flipping any single bit in the tag, the ciphertext or the AAD must each
// independently cause Open to fail.
func TestTamperDetection(t *testing.T) {
	key := testKey()
	nonce := mustHex(t, "070000004041424344454647")
	aad := []byte("header: v1")
	msg := []byte("the payload under protection")

	a, _ := New(key)
	sealed, err := a.Seal(nil, nonce, msg, aad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	for bit := 0; bit < 8*len(sealed); bit++ {
		bad := append([]byte(nil), sealed...)
		bad[bit/8] ^= 1 << (bit % 8)
		if _, err := a.Open(nil, nonce, bad, aad); err != ErrAuthenticationFailed {
			t.Fatalf("bit %d of sealed message: got %v, want ErrAuthenticationFailed", bit, err)
		}
	}
	for bit := 0; bit < 8*len(aad); bit++ {
		bad := append([]byte(nil), aad...)
		bad[bit/8] ^= 1 << (bit % 8)
		if _, err := a.Open(nil, nonce, sealed, bad); err != ErrAuthenticationFailed {
			t.Fatalf("bit %d of aad: got %v, want ErrAuthenticationFailed", bit, err)
		}
	}
	if _, err := a.Open(nil, nonce, sealed[:len(sealed)-1], aad); err != ErrAuthenticationFailed {
		t.Fatalf("truncated ciphertext: got %v", err)
	}
}

// A failed Open must not write any plaintext into the destination.
func TestOpenLeavesDestinationUntouched(t *testing.T) {
	key := testKey()
	nonce := make([]byte, NonceSize)
	msg := []byte("decrypt me if the tag holds")

	a, _ := New(key)
	ct := make([]byte, len(msg))
	tag := make([]byte, TagSize)
	if err := a.SealDetached(ct, tag, nonce, msg, nil); err != nil {
		t.Fatalf("SealDetached: %v", err)
	}

	tag[0] ^= 1
	dst := bytes.Repeat([]byte{0xA5}, len(msg))
	if err := a.OpenDetached(dst, nonce, ct, tag, nil); err != ErrAuthenticationFailed {
		t.Fatalf("OpenDetached: got %v, want ErrAuthenticationFailed", err)
	}
	if !bytes.Equal(dst, bytes.Repeat([]byte{0xA5}, len(msg))) {
		t.Fatalf("destination modified on failed open")
	}

	tag[0] ^= 1
	if err := a.OpenDetached(dst, nonce, ct, tag, nil); err != nil {
		t.Fatalf("OpenDetached: %v", err)
	}
	if !bytes.Equal(dst, msg) {
		t.Fatalf("plaintext mismatch after valid open")
	}
}

func TestDetachedMatchesCombined(t *testing.T) {
	key := testKey()
	nonce := mustHex(t, "070000004041424344454647")
	aad := []byte("aad")
	msg := []byte("same bytes either way")

	a, _ := New(key)
	sealed, err := a.Seal(nil, nonce, msg, aad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	ct := make([]byte, len(msg))
	tag := make([]byte, TagSize)
	if err := a.SealDetached(ct, tag, nonce, msg, aad); err != nil {
		t.Fatalf("SealDetached: %v", err)
	}
	if !bytes.Equal(ct, sealed[:len(msg)]) || !bytes.Equal(tag, sealed[len(msg):]) {
		t.Fatalf("detached and combined outputs differ")
	}

	pt := make([]byte, len(ct))
	if err := a.OpenDetached(pt, nonce, ct, tag, aad); err != nil {
		t.Fatalf("OpenDetached: %v", err)
	}
	if !bytes.Equal(pt, msg) {
		t.Fatalf("detached open mismatch")
	}
}

func TestInPlaceSealOpen(t *testing.T) {
	key := testKey()
	nonce := make([]byte, NonceSize)
	msg := []byte("in place round trip payload")

	a, _ := New(key)
	buf := make([]byte, len(msg), len(msg)+Overhead)
	copy(buf, msg)

	sealed, err := a.Seal(buf[:0], nonce, buf, nil)
	if err != nil {
		t.Fatalf("in-place Seal: %v", err)
	}
	opened, err := a.Open(sealed[:0], nonce, sealed, nil)
	if err != nil {
		t.Fatalf("in-place Open: %v", err)
	}
	if !bytes.Equal(opened, msg) {
		t.Fatalf("in-place round trip mismatch")
	}
}

// Seal and Open must agree with golang.org/x/crypto for both variants on
// random inputs.
func TestDifferentialXCrypto(t *testing.T) {
	cases := []struct {
		name   string
		mine   func([]byte) (*AEAD, error)
		oracle func([]byte) (cipher.AEAD, error)
	}{
		{"chacha20poly1305", New, ref.New},
		{"xchacha20poly1305", NewX, ref.NewX},
	}

	for _, c := range cases {
		name := c.name
		key := make([]byte, KeySize)
		rand.Read(key)
		mine, err := c.mine(key)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		oracle, err := c.oracle(key)
		if err != nil {
			t.Fatalf("%s: reference: %v", name, err)
		}

		for iter := 0; iter < 50; iter++ {
			nonce := make([]byte, mine.NonceSize())
			msg := make([]byte, iter*13%257)
			aad := make([]byte, iter%19)
			rand.Read(nonce)
			rand.Read(msg)
			rand.Read(aad)

			got, err := mine.Seal(nil, nonce, msg, aad)
			if err != nil {
				t.Fatalf("%s: Seal: %v", name, err)
			}
			want := oracle.Seal(nil, nonce, msg, aad)
			if !bytes.Equal(got, want) {
				t.Fatalf("%s: seal output diverges from reference", name)
			}

			// And the reference's output must open here.
			opened, err := mine.Open(nil, nonce, want, aad)
			if err != nil {
				t.Fatalf("%s: Open of reference output: %v", name, err)
			}
			if !bytes.Equal(opened, msg) {
				t.Fatalf("%s: opened plaintext mismatch", name)
			}
		}
	}
}

func TestArgumentErrors(t *testing.T) {
	key := testKey()
	nonce := make([]byte, NonceSize)

	if _, err := New(key[:16]); err != ErrInvalidKeySize {
		t.Fatalf("short key: got %v", err)
	}
	if _, err := NewWithBackend(key, chacha20.Backend(42)); err != chacha20.ErrInvalidBackend {
		t.Fatalf("bogus backend: got %v", err)
	}

	a, _ := New(key)
	if _, err := a.Seal(nil, make([]byte, NonceSizeX), nil, nil); err != ErrInvalidNonceSize {
		t.Fatalf("24-byte nonce on 12-byte AEAD: got %v", err)
	}
	x, _ := NewX(key)
	if _, err := x.Seal(nil, nonce, nil, nil); err != ErrInvalidNonceSize {
		t.Fatalf("12-byte nonce on XChaCha AEAD: got %v", err)
	}
	if _, err := a.Open(nil, nonce, make([]byte, TagSize-1), nil); err != ErrCiphertextTooShort {
		t.Fatalf("short ciphertext: got %v", err)
	}
	if err := a.SealDetached(make([]byte, 3), make([]byte, TagSize), nonce, make([]byte, 4), nil); err != ErrLengthMismatch {
		t.Fatalf("detached length mismatch: got %v", err)
	}
	if err := a.SealDetached(make([]byte, 4), make([]byte, TagSize-1), nonce, make([]byte, 4), nil); err != ErrInvalidTagSize {
		t.Fatalf("detached bad tag buffer: got %v", err)
	}
	buf := make([]byte, 64)
	if err := a.SealDetached(buf[0:32], make([]byte, TagSize), nonce, buf[16:48], nil); err != ErrInvalidOverlap {
		t.Fatalf("detached partial overlap: got %v", err)
	}
}

func TestGenerateHelpers(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if len(key) != KeySize {
		t.Fatalf("key length %d", len(key))
	}
	n1, err := GenerateNonce()
	if err != nil {
		t.Fatalf("GenerateNonce: %v", err)
	}
	n2, _ := GenerateNonce()
	if len(n1) != NonceSize || bytes.Equal(n1, n2) {
		t.Fatalf("suspicious nonces: %x %x", n1, n2)
	}
	nx, err := GenerateNonceX()
	if err != nil {
		t.Fatalf("GenerateNonceX: %v", err)
	}
	if len(nx) != NonceSizeX {
		t.Fatalf("xnonce length %d", len(nx))
	}

	if _, err := New(key); err != nil {
		t.Fatalf("generated key rejected: %v", err)
	}
}

func BenchmarkSeal(b *testing.B) {
	key := make([]byte, KeySize)
	a, _ := New(key)
	nonce := make([]byte, NonceSize)
	msg := make([]byte, 64*1024)
	dst := make([]byte, 0, len(msg)+Overhead)
	b.SetBytes(int64(len(msg)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := a.Seal(dst[:0], nonce, msg, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkOpen(b *testing.B) {
	key := make([]byte, KeySize)
	a, _ := New(key)
	nonce := make([]byte, NonceSize)
	msg := make([]byte, 64*1024)
	sealed, _ := a.Seal(nil, nonce, msg, nil)
	dst := make([]byte, 0, len(msg))
	b.SetBytes(int64(len(msg)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := a.Open(dst[:0], nonce, sealed, nil); err != nil {
			b.Fatal(err)
		}
	}
}
