package api

import (
	"errors"
	"fmt"
)

var (
	ErrAPIFailure       = errors.New("api reported success=false")
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
	ErrMalformedBody    = errors.New("malformed response body")
	ErrCursorRepeated   = errors.New("cursor already visited")
	ErrStalledOffset    = errors.New("offset did not advance")
)

// UpstreamError explains why pagination of an endpoint ended early. Records
// fetched before the failure are still returned alongside it.
type UpstreamError struct {
	Endpoint   string
	Page       int // 1-based page that failed
	StatusCode int // 0 when no response was received
	Reason     string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("endpoint %s page %d: %s", e.Endpoint, e.Page, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
