package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies why an exchange failed.
type Kind int

const (
	// KindTimeout means the exchange did not settle within its timeout.
	KindTimeout Kind = iota + 1
	// KindTransport means the exchange failed or returned a non-success status.
	KindTransport
	// KindDecode means the response body was malformed or failed validation.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against *Error.
var (
	ErrTimeout   = errors.New("request timed out")
	ErrTransport = errors.New("request failed")
	ErrDecode    = errors.New("malformed response")
)

// Error is returned by every failed Send.
type Error struct {
	Kind   Kind
	URL    string
	Status int // HTTP status for transport failures with a response, else 0
	Err    error
}

func (e *Error) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s %s: http %d: %v", e.Kind, e.URL, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Kind, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s %s", e.Kind, e.URL)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrDecode:
		return e.Kind == KindDecode
	}
	return false
}

// KindOf extracts the failure kind from err, or 0 when err is not a gateway error.
func KindOf(err error) Kind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return 0
}
