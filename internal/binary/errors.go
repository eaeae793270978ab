package binary

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies install failures. The CLI maps each kind to an exit code.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindParse
	KindResolution
	KindPermission
	KindPath
	KindIntegrity
	KindArchive
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network error"
	case KindParse:
		return "parse error"
	case KindResolution:
		return "resolution error"
	case KindPermission:
		return "permission error"
	case KindPath:
		return "path error"
	case KindIntegrity:
		return "integrity error"
	case KindArchive:
		return "archive error"
	case KindCancelled:
		return "cancelled"
	default:
		return "error"
	}
}

var (
	// ErrUnexpectedLayout is returned when an archive does not contain
	// exactly one top-level directory.
	ErrUnexpectedLayout = errors.New("unexpected archive layout")
	// ErrEntryConflict is returned when extraction would overwrite an
	// existing entry.
	ErrEntryConflict = errors.New("conflicting entry in destination")
	// ErrChecksumAbsent is returned when verification is required but the
	// release publishes no checksum.
	ErrChecksumAbsent = errors.New("release has no checksum asset")
	// ErrSignatureAbsent is returned when a signature is required but none
	// can be verified with the configured keys.
	ErrSignatureAbsent = errors.New("release has no usable signature")
	// ErrUnsupportedPlatform is returned when no asset matches the platform.
	ErrUnsupportedPlatform = errors.New("no release asset for this platform")
	// ErrCancelled marks a run stopped by the user or a signal.
	ErrCancelled = errors.New("install cancelled")
)

// Error is a classified pipeline failure.
type Error struct {
	Kind Kind
	Op   string // pipeline step, e.g. "fetch release"
	URL  string
	Path string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.URL != "" {
		fmt.Fprintf(&b, " %s", e.URL)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// MismatchError reports a checksum that did not match the downloaded file.
type MismatchError struct {
	Asset    string
	Expected string
	Computed string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s:\nexpected: %s\ncomputed: %s", e.Asset, e.Expected, e.Computed)
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return "unexpected status: " + e.Status
	}
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

// KindOf returns the Kind of err. Cancellation wins over any wrapping kind so
// an interrupted download is reported as cancelled, not as a network error.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
		return KindCancelled
	}

	var mismatch *MismatchError
	if errors.As(err, &mismatch) {
		return KindIntegrity
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsCancelled reports whether err represents a user or signal cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

func cancelled(op string, cause error) error {
	if cause == nil {
		cause = ErrCancelled
	}
	return &Error{Kind: KindCancelled, Op: op, Err: fmt.Errorf("%w: %w", ErrCancelled, cause)}
}
