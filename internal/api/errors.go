package api

import "fmt"

// AuthError reports rejected credentials or an expired/invalid token.
type AuthError struct {
	Status int
	Detail string
}

func (e *AuthError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("authentication failed (status %d)", e.Status)
	}
	return fmt.Sprintf("authentication failed: %s", e.Detail)
}

// ValidationError reports malformed input rejected before any network call.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Detail)
}

// TransportError reports a network failure, a non-2xx response or a
// malformed response body.
type TransportError struct {
	Status int    // 0 when the request never produced a response
	Body   string // excerpt of the response body, if any
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error: %v", e.Err)
	}
	return fmt.Sprintf("server error: status %d - %s", e.Status, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a well-formed transport exchange that violates the
// event contract, such as a stream that ends without a message id.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation: %s", e.Detail)
}
