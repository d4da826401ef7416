// Package auth obtains and refreshes bearer tokens for the Polestar API.
//
// An [Authenticator] signs in through the Polestar ID OpenID Connect provider using the account's
// username and password, then exchanges the resulting authorization code for tokens. A [Static]
// token source wraps a bearer token obtained elsewhere.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/polestar-community/polestar-go/internal/log"
	"github.com/polestar-community/polestar-go/internal/metrics"
	"github.com/polestar-community/polestar-go/pkg/connector"
	"github.com/polestar-community/polestar-go/pkg/connector/graphql"
	"github.com/polestar-community/polestar-go/pkg/protocol"
)

const (
	// ProviderURL is the Polestar ID OpenID Connect provider.
	ProviderURL = "https://polestarid.eu.polestar.com"
	// ClientID identifies the Polestar app to the provider.
	ClientID = "polmystar"
	// RedirectURI is the registered sign-in callback.
	RedirectURI = "https://www.polestar.com/sign-in-callback"
)

var (
	ErrNoCode           = errors.New("no authorization code returned")
	ErrNoResumePath     = errors.New("authorization response did not include a resume path")
	ErrMissingEndpoint  = errors.New("provider configuration has no authorization endpoint")
	ErrMissingTokenData = errors.New("token response did not include token data")
)

const (
	getAuthTokenQuery     = "query getAuthToken($code: String!) { getAuthToken(code: $code) { id_token access_token refresh_token expires_in }}"
	refreshAuthTokenQuery = "query refreshAuthToken($token: String!) { refreshAuthToken(token: $token) { id_token access_token refresh_token expires_in }}"
)

var logger = log.Named("auth")

// Token holds the credentials returned by the token exchange.
type Token struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
}

type providerConfig struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	Issuer                string `json:"issuer"`
}

// Authenticator signs in with a username and password.
type Authenticator struct {
	Username string
	Password string

	transport connector.Transport
	client    *http.Client
	clock     clock.PassiveClock
	group     singleflight.Group

	lock       sync.Mutex
	provider   *providerConfig
	token      Token
	lastStatus int
}

// New returns an Authenticator that exchanges codes for tokens through transport.
func New(username, password string, transport connector.Transport) *Authenticator {
	jar, _ := cookiejar.New(nil)
	return &Authenticator{
		Username:  username,
		Password:  password,
		transport: transport,
		client: &http.Client{
			Jar:     jar,
			Timeout: graphql.DefaultTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		clock: clock.RealClock{},
	}
}

// SetClock replaces the clock used to compute token expiry.
func (a *Authenticator) SetClock(c clock.PassiveClock) {
	a.clock = c
}

// Init loads the provider configuration and signs in.
func (a *Authenticator) Init(ctx context.Context) error {
	if err := a.discover(ctx); err != nil {
		return err
	}
	return a.Refresh(ctx, false)
}

// Token returns the current access token, or an empty string before the first sign-in.
func (a *Authenticator) Token() string {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.token.AccessToken
}

// Expiry returns the expiry of the current access token.
func (a *Authenticator) Expiry() (time.Time, bool) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.token.Expiry.IsZero() {
		return time.Time{}, false
	}
	return a.token.Expiry, true
}

// Valid returns true if an unexpired access token is held.
func (a *Authenticator) Valid() bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.token.AccessToken != "" && a.clock.Now().Before(a.token.Expiry)
}

// LastStatus returns the HTTP status of the most recent call made while authenticating.
func (a *Authenticator) LastStatus() (int, bool) {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.lastStatus, a.lastStatus != 0
}

func (a *Authenticator) setStatus(code int) {
	a.lock.Lock()
	a.lastStatus = code
	a.lock.Unlock()
}

// Refresh obtains a new token. When useRefreshToken is true and an unexpired token with a refresh
// token is held, the refresh token is exchanged; otherwise the full sign-in flow runs.
//
// Concurrent calls share a single exchange. Failures are returned as *protocol.AuthError.
func (a *Authenticator) Refresh(ctx context.Context, useRefreshToken bool) error {
	a.lock.Lock()
	canRefresh := useRefreshToken &&
		a.token.RefreshToken != "" &&
		a.clock.Now().Before(a.token.Expiry)
	a.lock.Unlock()

	key := "sign-in"
	if canRefresh {
		key = "refresh"
	}
	_, err, shared := a.group.Do(key, func() (interface{}, error) {
		if canRefresh {
			return nil, a.refreshToken(ctx)
		}
		return nil, a.signIn(ctx)
	})
	if shared {
		logger.Debug("Joined in-flight %s", key)
	}
	return err
}

func (a *Authenticator) signIn(ctx context.Context) error {
	logger.Info("Signing in as %s", a.Username)
	code, err := a.authorizationCode(ctx)
	if err != nil {
		return err
	}
	req := connector.Request{
		OperationName: "getAuthToken",
		Query:         getAuthTokenQuery,
		Variables:     map[string]interface{}{"code": code},
	}
	return a.exchange(ctx, req, "")
}

func (a *Authenticator) refreshToken(ctx context.Context) error {
	a.lock.Lock()
	current := a.token
	a.lock.Unlock()

	logger.Debug("Refreshing access token")
	req := connector.Request{
		OperationName: "refreshAuthToken",
		Query:         refreshAuthTokenQuery,
		Variables:     map[string]interface{}{"token": current.RefreshToken},
	}
	return a.exchange(ctx, req, current.AccessToken)
}

func (a *Authenticator) exchange(ctx context.Context, req connector.Request, bearer string) error {
	data, err := a.transport.Execute(ctx, graphql.AuthURL, req, bearer)
	if code, ok := a.transport.LastStatus(graphql.AuthURL); ok {
		a.setStatus(code)
	}
	if err != nil {
		var apiErr *protocol.APIError
		if errors.As(err, &apiErr) {
			return protocol.NewAuthError(apiErr.Code, err)
		}
		if protocol.IsUnauthorized(err) {
			return protocol.NewAuthError(http.StatusUnauthorized, err)
		}
		return protocol.NewAuthError(0, err)
	}

	raw, ok := data[req.OperationName].(map[string]interface{})
	if !ok {
		return protocol.NewAuthError(http.StatusOK, ErrMissingTokenData)
	}
	token, err := a.parseToken(raw)
	if err != nil {
		return protocol.NewAuthError(http.StatusOK, err)
	}

	a.lock.Lock()
	a.token = token
	a.lock.Unlock()
	metrics.SetTokenExpiry(token.Expiry)
	logger.Info("Access token valid until %s", token.Expiry.Format(time.RFC3339))
	return nil
}

func (a *Authenticator) parseToken(raw map[string]interface{}) (Token, error) {
	var token Token
	token.AccessToken, _ = raw["access_token"].(string)
	token.RefreshToken, _ = raw["refresh_token"].(string)
	token.IDToken, _ = raw["id_token"].(string)
	if token.AccessToken == "" {
		return token, protocol.ErrNoToken
	}
	if seconds, ok := raw["expires_in"].(float64); ok && seconds > 0 {
		token.Expiry = a.clock.Now().Add(time.Duration(seconds) * time.Second)
		return token, nil
	}
	expiry, err := ExpiryFromJWT(token.AccessToken)
	if err != nil {
		return token, fmt.Errorf("%w: %s", protocol.ErrNoExpiry, err)
	}
	token.Expiry = expiry
	return token, nil
}

func (a *Authenticator) discover(ctx context.Context) error {
	response, err := a.get(ctx, ProviderURL+"/.well-known/openid-configuration")
	if err != nil {
		return protocol.NewAuthError(0, err)
	}
	defer response.Body.Close()
	a.setStatus(response.StatusCode)
	if response.StatusCode != http.StatusOK {
		return protocol.NewAuthError(response.StatusCode, fmt.Errorf("error fetching provider configuration: %s", response.Status))
	}
	var config providerConfig
	if err := json.NewDecoder(io.LimitReader(response.Body, connector.MaxResponseLength)).Decode(&config); err != nil {
		return protocol.NewAuthError(response.StatusCode, fmt.Errorf("error decoding provider configuration: %w", err))
	}
	if config.AuthorizationEndpoint == "" {
		return protocol.NewAuthError(response.StatusCode, ErrMissingEndpoint)
	}
	a.lock.Lock()
	a.provider = &config
	a.lock.Unlock()
	return nil
}

// authorizationCode walks the provider's sign-in form and returns the authorization code.
func (a *Authenticator) authorizationCode(ctx context.Context) (string, error) {
	a.lock.Lock()
	provider := a.provider
	a.lock.Unlock()
	if provider == nil {
		if err := a.discover(ctx); err != nil {
			return "", err
		}
		a.lock.Lock()
		provider = a.provider
		a.lock.Unlock()
	}

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", ClientID)
	params.Set("redirect_uri", RedirectURI)
	location, err := a.redirect(ctx, http.MethodGet, provider.AuthorizationEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	query := location.Query()
	if code := query.Get("code"); code != "" {
		// The provider remembered the session.
		return code, nil
	}
	resumePath := query.Get("resumePath")
	if resumePath == "" {
		return "", protocol.NewAuthError(0, ErrNoResumePath)
	}

	pingURL := fmt.Sprintf("%s/as/%s/resume/as/authorization.ping", ProviderURL, resumePath)
	form := url.Values{}
	form.Set("pf.username", a.Username)
	form.Set("pf.pass", a.Password)
	location, err = a.redirect(ctx, http.MethodPost, pingURL+"?client_id="+url.QueryEscape(ClientID), form)
	if err != nil {
		return "", err
	}
	code := location.Query().Get("code")
	if uid := location.Query().Get("uid"); code == "" && uid != "" {
		logger.Debug("Code missing; confirming terms for uid=%s", uid)
		form = url.Values{}
		form.Set("pf.submit", "true")
		form.Set("subject", uid)
		location, err = a.redirect(ctx, http.MethodPost, pingURL, form)
		if err != nil {
			return "", err
		}
		code = location.Query().Get("code")
	}
	if code == "" {
		return "", protocol.NewAuthError(0, ErrNoCode)
	}

	callback, err := a.get(ctx, location.String())
	if err != nil {
		return "", protocol.NewAuthError(0, err)
	}
	callback.Body.Close()
	a.setStatus(callback.StatusCode)
	if callback.StatusCode != http.StatusOK {
		return "", protocol.NewAuthError(callback.StatusCode, errors.New("sign-in callback failed"))
	}
	return code, nil
}

// redirect sends a request that the provider is expected to answer with a redirect, and returns
// the redirect target.
func (a *Authenticator) redirect(ctx context.Context, method, target string, form url.Values) (*url.URL, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	request, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, protocol.NewAuthError(0, err)
	}
	if form != nil {
		request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	response, err := a.client.Do(request)
	if err != nil {
		return nil, protocol.NewAuthError(0, err)
	}
	defer response.Body.Close()
	a.setStatus(response.StatusCode)
	if response.StatusCode != http.StatusFound && response.StatusCode != http.StatusSeeOther {
		return nil, protocol.NewAuthError(response.StatusCode, fmt.Errorf("unexpected response to %s", request.URL.Path))
	}
	location, err := response.Location()
	if err != nil {
		return nil, protocol.NewAuthError(response.StatusCode, err)
	}
	return location, nil
}

func (a *Authenticator) get(ctx context.Context, target string) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return a.client.Do(request)
}
