package llm

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a gateway failure. Retry policy and pipeline handling both
// key off this, never off provider-specific payloads.
type Kind string

const (
	KindRateLimited Kind = "rate_limited" // 429, retryable
	KindServerError Kind = "server_error" // 5xx / 408, retryable
	KindAuthError   Kind = "auth_error"   // 401/403, fatal
	KindBadRequest  Kind = "bad_request"  // other 4xx, fatal
	KindAborted     Kind = "aborted"      // caller canceled
	KindTimeout     Kind = "timeout"      // deadline exceeded
	KindParse       Kind = "parse"        // response did not match expected shape
)

type Error struct {
	Kind     Kind
	Status   int
	Provider string
	Body     string
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("llm %s: %s http %d: %s", e.Provider, e.Kind, e.Status, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("llm %s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("llm %s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatusCode satisfies httpx.HTTPStatusCoder.
func (e *Error) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.Status
}

// Retryable reports whether another attempt could succeed.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return e.Kind == KindRateLimited || e.Kind == KindServerError
}

// KindOf extracts the error kind, mapping context errors onto
// Aborted/Timeout so callers never need to touch the context package.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindAborted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindServerError
}

func classifyStatus(provider string, status int, body string) *Error {
	kind := KindBadRequest
	switch {
	case status == 429:
		kind = KindRateLimited
	case status == 408 || (status >= 500 && status <= 599):
		kind = KindServerError
	case status == 401 || status == 403:
		kind = KindAuthError
	}
	return &Error{Kind: kind, Status: status, Provider: provider, Body: body}
}

func classifyTransport(provider string, err error) *Error {
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindAborted, Provider: provider, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Provider: provider, Err: err}
	}
	return &Error{Kind: KindServerError, Provider: provider, Err: err}
}
