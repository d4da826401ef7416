// Package graphql sends GraphQL operations to the Polestar API over HTTP.
//
// Operations are sent as GET requests, with the document, operation name, and JSON-encoded
// variables carried in the query string.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/polestar-community/polestar-go/internal/log"
	"github.com/polestar-community/polestar-go/internal/metrics"
	"github.com/polestar-community/polestar-go/pkg/connector"
	"github.com/polestar-community/polestar-go/pkg/protocol"
)

const (
	// BaseURL serves the vehicle inventory.
	BaseURL = "https://pc-api.polestar.com/eu-north-1/my-star/"
	// BaseURLV2 serves odometer and battery telemetry.
	BaseURLV2 = "https://pc-api.polestar.com/eu-north-1/mystar-v2/"
	// AuthURL serves token exchange and refresh.
	AuthURL = "https://pc-api.polestar.com/eu-north-1/auth/"
)

// DefaultTimeout bounds a single operation when the caller's context has no deadline.
var DefaultTimeout = 30 * time.Second

// messageNotAuthenticated is returned in the GraphQL error payload when the bearer token has
// been rejected.
const messageNotAuthenticated = "User not authenticated"

// StatusGraphQLError is recorded as the latest call status when a 200 response carries a GraphQL
// error payload.
const StatusGraphQLError = http.StatusInternalServerError

var logger = log.Named("graphql")

type response struct {
	Data   map[string]interface{} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Client is a connector.Transport that records the latest status per endpoint.
type Client struct {
	UserAgent string
	client    *http.Client

	lock   sync.Mutex
	status map[string]int
}

var _ connector.Transport = (*Client)(nil)

// NewClient returns a Client. If httpClient is nil, a client using http.DefaultTransport is
// created.
func NewClient(userAgent string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		UserAgent: userAgent,
		client:    httpClient,
		status:    make(map[string]int),
	}
}

// EncodeURL returns endpoint with req encoded into its query string.
func EncodeURL(endpoint string, req connector.Request) (string, error) {
	params := url.Values{}
	params.Set("query", req.Query)
	if req.OperationName != "" {
		params.Set("operationName", req.OperationName)
	}
	if req.Variables != nil {
		variables, err := json.Marshal(req.Variables)
		if err != nil {
			return "", fmt.Errorf("error encoding variables for %s: %w", req.OperationName, err)
		}
		params.Set("variables", string(variables))
	}
	return endpoint + "?" + params.Encode(), nil
}

// Execute sends req to endpoint. An empty token sends the request without an Authorization
// header.
func (c *Client) Execute(ctx context.Context, endpoint string, req connector.Request, token string) (map[string]interface{}, error) {
	if _, ok := ctx.Deadline(); !ok && DefaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	target, err := EncodeURL(endpoint, req)
	if err != nil {
		return nil, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("error constructing request for %s: %w", req.OperationName, err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		request.Header.Set("User-Agent", c.UserAgent)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	logger.Debug("Sending %s to %s", req.OperationName, endpoint)
	start := time.Now()
	result, err := c.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("error sending %s: %w", req.OperationName, err)
	}
	defer result.Body.Close()
	metrics.ObserveFetch(req.OperationName, time.Since(start))

	reader := io.LimitedReader{R: result.Body, N: connector.MaxResponseLength + 1}
	body, err := io.ReadAll(&reader)
	if err != nil {
		return nil, fmt.Errorf("error reading %s response: %w", req.OperationName, err)
	}
	if len(body) > connector.MaxResponseLength {
		c.SetStatus(endpoint, result.StatusCode)
		return nil, &protocol.APIError{Operation: req.OperationName, Code: result.StatusCode, Message: "response exceeds maximum length"}
	}
	logger.Debug("Server returned %d: %s: %s", result.StatusCode, http.StatusText(result.StatusCode), body)

	c.SetStatus(endpoint, result.StatusCode)
	switch {
	case result.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%s: %w", req.OperationName, protocol.ErrUnauthorized)
	case result.StatusCode != http.StatusOK:
		return nil, &protocol.APIError{Operation: req.OperationName, Code: result.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var payload response
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&payload); err != nil {
		return nil, &protocol.APIError{Operation: req.OperationName, Code: result.StatusCode, Message: fmt.Sprintf("invalid response: %s", err)}
	}
	if len(payload.Errors) > 0 {
		c.SetStatus(endpoint, StatusGraphQLError)
		message := payload.Errors[0].Message
		if message == messageNotAuthenticated {
			return nil, fmt.Errorf("%s: %w", req.OperationName, protocol.ErrUnauthorized)
		}
		return nil, &protocol.APIError{Operation: req.OperationName, Code: StatusGraphQLError, Message: message}
	}
	if payload.Data == nil {
		payload.Data = make(map[string]interface{})
	}
	return payload.Data, nil
}

func (c *Client) LastStatus(endpoint string) (int, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	code, ok := c.status[endpoint]
	return code, ok
}

func (c *Client) SetStatus(endpoint string, code int) {
	c.lock.Lock()
	c.status[endpoint] = code
	c.lock.Unlock()
	metrics.SetLastStatus(endpoint, code)
}
