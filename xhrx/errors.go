package xhrx

import "errors"

var (
	// ErrSecurity is returned by Open for a forbidden request method.
	ErrSecurity = errors.New("xhrx: forbidden method")
	// ErrInvalidState is returned when an operation is called outside
	// its valid lifecycle state, or a header is set after send.
	ErrInvalidState = errors.New("xhrx: invalid state")
	// ErrNetwork wraps transport-level failures. It is never returned
	// from Send; it is observable via Err and the error event.
	ErrNetwork = errors.New("xhrx: network error")
	// ErrTooManyRedirects reports a redirect chain exceeding MaxRedirects.
	ErrTooManyRedirects = errors.New("xhrx: too many redirects")
	// ErrDeadlineExceeded reports a synchronous request exceeding Timeout.
	ErrDeadlineExceeded = errors.New("xhrx: deadline exceeded")

	ErrBadResponse       = errors.New("xhrx: bad response")
	ErrHeaderTooLarge    = errors.New("xhrx: header too large")
	ErrProtocolViolation = errors.New("xhrx: protocol violation")
)
