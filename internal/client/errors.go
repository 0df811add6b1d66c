package client

import (
	"fmt"
	"time"
)

// RequestError reports invalid client-side input, before any network I/O.
type RequestError struct {
	Reason string
}

func (e *RequestError) Error() string { return "client: invalid request: " + e.Reason }

// TimeoutError reports that the service produced no response within the
// configured deadline.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("client: no response from %s within %s", e.URL, e.Timeout)
}

// ResponseError reports a response that could not be used: an HTTP error
// status, unparseable JSON, or a body inconsistent with the request (wrong
// length, out-of-range indices). Body holds a bounded excerpt of the
// server's reply since it is usually the fastest way to debug schema
// mismatches.
type ResponseError struct {
	URL    string
	Status int
	Reason string
	Body   string
}

func (e *ResponseError) Error() string {
	msg := fmt.Sprintf("client: bad response from %s", e.URL)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}
