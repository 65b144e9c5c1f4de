package chacha20

import (
	"errors"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// ErrInvalidBackend is returned when a cipher is constructed with a
// Backend value outside the known set.
var ErrInvalidBackend = errors.New("chacha20: unknown backend")

// Backend identifies one of the functionally equivalent keystream
// generation strategies. Every backend is portable Go and produces
// bit-identical output; they differ only in how many blocks of the
// permutation are computed per pass.
type Backend uint8

const (
	// BackendScalar computes one 64-byte block per pass.
	BackendScalar Backend = iota + 1

	// BackendWide4 interleaves four blocks per pass, sized for 128-bit
	// (SSE2/NEON class) vector units.
	BackendWide4

	// BackendWide8 interleaves eight blocks per pass, sized for 256-bit
	// (AVX2 class) vector units.
	BackendWide8
)

// Valid reports whether b is one of the known backends.
func (b Backend) Valid() bool {
	return b >= BackendScalar && b <= BackendWide8
}

func (b Backend) String() string {
	switch b {
	case BackendScalar:
		return "scalar"
	case BackendWide4:
		return "wide4"
	case BackendWide8:
		return "wide8"
	default:
		return "unknown"
	}
}

// Backends returns every selectable backend. All of them run on any host;
// DefaultBackend reports the one the capability probe expects to be
// fastest here.
func Backends() []Backend {
	return []Backend{BackendScalar, BackendWide4, BackendWide8}
}

// DefaultBackend returns the backend matched to this host's vector
// capabilities. The probe runs once per process and is cached.
var DefaultBackend = sync.OnceValue(func() Backend {
	switch {
	case cpuid.CPU.Supports(cpuid.AVX2):
		return BackendWide8
	case cpuid.CPU.Supports(cpuid.SSE2), cpuid.CPU.Supports(cpuid.ASIMD):
		return BackendWide4
	default:
		return BackendScalar
	}
})
