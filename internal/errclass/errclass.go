// Package errclass implements the pure classification function from
// spec §7: given an operation's outcome (HTTP status, error), decide which
// closed error Kind applies, and look up the fixed retry policy for it.
package errclass

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/Sakurayuki-A/stardriver/internal/manifestclient"
)

// Kind is the closed set of error classifications from spec §7.
type Kind int

const (
	KindNone Kind = iota
	KindClientStatus4xx
	KindForbidden
	KindServerStatus5xx
	KindConnectionReset
	KindOtherSocket
	KindTimeout
	KindIOError
	KindDigestMismatch
	KindUnhandled
	KindManifestParseError
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindClientStatus4xx:
		return "ClientStatus4xx"
	case KindForbidden:
		return "Forbidden"
	case KindServerStatus5xx:
		return "ServerStatus5xx"
	case KindConnectionReset:
		return "ConnectionReset"
	case KindOtherSocket:
		return "OtherSocket"
	case KindTimeout:
		return "Timeout"
	case KindIOError:
		return "IOError"
	case KindDigestMismatch:
		return "DigestMismatch"
	case KindUnhandled:
		return "Unhandled"
	case KindManifestParseError:
		return "ManifestParseError"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Retryable reports whether the pipeline should attempt another retry for
// this kind (spec §7: Forbidden, ManifestParseError, and Cancelled are
// terminal).
func (k Kind) Retryable() bool {
	switch k {
	case KindForbidden, KindManifestParseError, KindCancelled:
		return false
	default:
		return true
	}
}

// Backoff returns the fixed delay associated with a kind (spec §5, §7).
func (k Kind) Backoff() time.Duration {
	switch k {
	case KindConnectionReset, KindDigestMismatch, KindIOError:
		return 500 * time.Millisecond
	case KindServerStatus5xx, KindOtherSocket, KindTimeout, KindUnhandled:
		return time.Second
	case KindClientStatus4xx:
		return 2 * time.Second
	default:
		return 0
	}
}

// sentinel markers the pipeline attaches to errors it manufactures itself
// (as opposed to ones coming back from the manifest client or the OS).
type digestMismatchError struct{ err error }

func (e *digestMismatchError) Error() string { return e.err.Error() }
func (e *digestMismatchError) Unwrap() error { return e.err }

// MarkDigestMismatch wraps err so Classify recognizes it as DigestMismatch.
func MarkDigestMismatch(err error) error { return &digestMismatchError{err: err} }

// Classify maps an error observed during a fetch attempt (spec §4.6, §7)
// to a Kind. ctx is consulted to distinguish a deliberate cancellation from
// every other kind of failure.
func Classify(ctx context.Context, err error) Kind {
	if err == nil {
		return KindNone
	}

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return KindCancelled
	}

	var forbidden *manifestclient.ForbiddenError
	if errors.As(err, &forbidden) {
		return KindForbidden
	}

	var mismatch *digestMismatchError
	if errors.As(err, &mismatch) {
		return KindDigestMismatch
	}

	var mpe *manifestclient.ManifestParseError
	if errors.As(err, &mpe) {
		return KindManifestParseError
	}

	var statusErr *manifestclient.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode >= 500:
			return KindServerStatus5xx
		case statusErr.StatusCode >= 400:
			return KindClientStatus4xx
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	if errors.Is(err, syscall.ECONNRESET) {
		return KindConnectionReset
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindOtherSocket
	}

	if errors.Is(err, errIOBoundary) {
		return KindIOError
	}

	return KindUnhandled
}

// errIOBoundary is a sentinel the pipeline wraps local filesystem errors
// (write/rename/preallocate failures) with, so Classify can tell them
// apart from network errors without string-matching messages.
var errIOBoundary = errors.New("local filesystem error")

// MarkIOError wraps err so Classify recognizes it as IOError.
func MarkIOError(err error) error {
	if err == nil {
		return nil
	}
	return &ioBoundaryError{err: err}
}

type ioBoundaryError struct{ err error }

func (e *ioBoundaryError) Error() string { return e.err.Error() }
func (e *ioBoundaryError) Unwrap() error  { return e.err }
func (e *ioBoundaryError) Is(target error) bool {
	return target == errIOBoundary
}
