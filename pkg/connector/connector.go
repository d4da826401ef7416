package connector

import (
	"context"
)

// MaxResponseLength caps the maximum byte-length of responses that connectors must support.
const MaxResponseLength = 1000000

// Request is a single named GraphQL operation.
type Request struct {
	OperationName string
	Query         string
	Variables     map[string]interface{}
}

// Transport executes GraphQL operations against the vehicle backend.
type Transport interface {
	// Execute runs req against endpoint using token as the bearer credential and returns the
	// decoded "data" object of the response.
	//
	// Implementations classify failures: a rejected token yields an error that wraps
	// protocol.ErrUnauthorized, and any other non-success response yields a *protocol.APIError.
	//
	// Implementations must be thread safe.
	Execute(ctx context.Context, endpoint string, req Request, token string) (map[string]interface{}, error)

	// LastStatus returns the status code of the most recent call to endpoint. The second return
	// value is false if no call has been recorded.
	LastStatus(endpoint string) (int, bool)

	// SetStatus overrides the recorded status for endpoint. Callers use it to flag an endpoint as
	// failing when a call is abandoned before it is sent.
	SetStatus(endpoint string, code int)
}
