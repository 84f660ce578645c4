// Package errs classifies bastion failures into the error kinds of spec
// §7, independent of any one component's concrete error type. Components
// wrap an underlying cause with one of these sentinels via fmt.Errorf's
// %w and callers classify with errors.Is, following the teacher's
// sqlite_errors.go string-match-then-sentinel technique generalized to
// wrapped sentinels.
package errs

import "errors"

// Kind is one of the error classes from spec §7. It is never surfaced to
// a peer directly; it only drives propagation policy (reject vs
// channel-close vs fatal-at-startup).
type Kind int

const (
	KindTransport Kind = iota
	KindIdentity
	KindAuthorization
	KindConfiguration
	KindStorage
	KindCryptographic
	KindRecording
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindIdentity:
		return "identity"
	case KindAuthorization:
		return "authorization"
	case KindConfiguration:
		return "configuration"
	case KindStorage:
		return "storage"
	case KindCryptographic:
		return "cryptographic"
	case KindRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// Sentinels, one per kind, to wrap with fmt.Errorf("...: %w", Sentinel).
var (
	ErrTransport     = errors.New("transport error")
	ErrIdentity      = errors.New("identity rejected")
	ErrAuthorization = errors.New("authorization denied")
	ErrConfiguration = errors.New("invalid configuration")
	ErrStorage       = errors.New("storage error")
	ErrCryptographic = errors.New("cryptographic error")
	ErrRecording     = errors.New("recording error")
)

// ErrConflict marks a unique-constraint violation, so admin edit flows can
// report "already exists" distinctly from a generic storage failure (spec
// §7 Storage). It does not wrap ErrStorage itself; the store wraps both
// into the error it returns for a conflict.
var ErrConflict = errors.New("already exists")

// Classify returns the Kind matching the first matching sentinel in
// err's chain, and ok=false if none match.
func Classify(err error) (Kind, bool) {
	switch {
	case errors.Is(err, ErrTransport):
		return KindTransport, true
	case errors.Is(err, ErrIdentity):
		return KindIdentity, true
	case errors.Is(err, ErrAuthorization):
		return KindAuthorization, true
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration, true
	case errors.Is(err, ErrStorage):
		return KindStorage, true
	case errors.Is(err, ErrCryptographic):
		return KindCryptographic, true
	case errors.Is(err, ErrRecording):
		return KindRecording, true
	default:
		return 0, false
	}
}
