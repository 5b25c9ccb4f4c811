package request

import (
	"encoding/json"
	"errors"
	"fmt"
)

// UnknownMessage is used for status codes missing from the message table.
const UnknownMessage = "Unknown"

var (
	// ErrTransport matches failures to reach the remote at all.
	ErrTransport = errors.New("request: transport failure")

	// ErrAPI matches responses the remote refused with a non-success status.
	ErrAPI = errors.New("request: api error")
)

// TransportError wraps network, timeout and cancellation failures.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request: %s: could not reach %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// APIError is a non-success response from the remote.
type APIError struct {
	Method     string
	StatusCode int
	Message    string
	Body       json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request: %s: status %d: %s", e.Method, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return ErrAPI
}

// DefaultMessages is the wallet API's documented meaning of each error status.
var DefaultMessages = map[int]string{
	400: "Query syntax error (invalid data format). Can be related to wrong arguments that were passed to the method",
	401: "Invalid token or API token was expired",
	403: "No permission for this request (API token has insufficient permissions)",
	404: "Object was not found or there are no objects with the specified characteristics",
	405: "Error related to the type of API request",
	422: "The domain / subnet / host is incorrectly specified, the hook or transaction type is incorrect, or a hook already exists",
	423: "Too many requests, the service is temporarily unavailable",
	500: "Internal service error",
}
