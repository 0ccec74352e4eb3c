// Package transport defines the outbound messaging surface the scheduler
// sends through, independent of the provider behind it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Credential authenticates a Sender against the provider. Token is the
// opaque value stored at link time.
type Credential struct {
	ID    int64
	Token string
}

// ChatRef is a provider-level chat handle: "@username" or a numeric id
// rendered as a string.
type ChatRef string

// Content is one broadcast payload. PhotoID, when set, is a provider file
// reference and Body becomes the caption.
type Content struct {
	Body    string
	PhotoID string
}

// Sender delivers content to a chat on behalf of a credential.
type Sender interface {
	Send(ctx context.Context, cred Credential, to ChatRef, msg Content) error
}

// Throttle wraps err with an explicit wait the provider asked for.
//
// The fan-out loop honors the hint once per destination: sleep the exact
// wait, retry, and treat a second throttle as that destination's failure.
func Throttle(err error, wait time.Duration) error {
	if err == nil {
		return nil
	}
	if wait < 0 {
		wait = 0
	}
	return throttleError{err: err, wait: wait}
}

// AsThrottle extracts the provider-requested wait, if err carries one.
func AsThrottle(err error) (time.Duration, bool) {
	var e throttleError
	if errors.As(err, &e) {
		return e.wait, true
	}
	return 0, false
}

type throttleError struct {
	err  error
	wait time.Duration
}

func (e throttleError) Error() string { return fmt.Sprintf("throttled(%s): %v", e.wait, e.err) }
func (e throttleError) Unwrap() error { return e.err }
