package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/polestar-community/polestar-go/internal/metrics"
	"github.com/polestar-community/polestar-go/pkg/protocol"
)

// ErrStaticToken is returned when a refresh is requested from a Static token source.
var ErrStaticToken = errors.New("static bearer token cannot be refreshed")

// ExpiryFromJWT returns the "exp" claim of token without verifying its signature. The API server
// performs verification; clients only need the expiry to schedule refreshes.
func ExpiryFromJWT(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}

// Static is a token source for a bearer token obtained outside this package, for example from a
// token file.
type Static struct {
	token  string
	expiry time.Time
}

// NewStatic returns a Static token source. The expiry is read from the token's claims if it is a
// JWT.
func NewStatic(token string) *Static {
	s := &Static{token: strings.TrimSpace(token)}
	if expiry, err := ExpiryFromJWT(s.token); err == nil {
		s.expiry = expiry
	} else if s.token != "" {
		logger.Warning("Bearer token has no readable expiry (%s); telemetry refreshes will fail until a JWT is supplied", err)
	}
	return s
}

func (s *Static) Init(context.Context) error {
	if s.token == "" {
		return protocol.NewAuthError(0, protocol.ErrNoToken)
	}
	if !s.expiry.IsZero() {
		metrics.SetTokenExpiry(s.expiry)
	}
	return nil
}

func (s *Static) Token() string {
	return s.token
}

func (s *Static) Expiry() (time.Time, bool) {
	return s.expiry, !s.expiry.IsZero()
}

func (s *Static) Refresh(context.Context, bool) error {
	return protocol.NewAuthError(0, ErrStaticToken)
}
