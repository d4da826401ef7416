package auth_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	testclock "k8s.io/utils/clock/testing"

	"github.com/polestar-community/polestar-go/internal/log"
	"github.com/polestar-community/polestar-go/pkg/auth"
	"github.com/polestar-community/polestar-go/pkg/connector/graphql"
	"github.com/polestar-community/polestar-go/pkg/protocol"
)

const (
	authorizeURL = auth.ProviderURL + "/as/authorization.oauth2"
	pingURL      = auth.ProviderURL + "/as/abc123/resume/as/authorization.ping"
)

func redirectTo(target string) httpmock.Responder {
	return func(*http.Request) (*http.Response, error) {
		response := httpmock.NewStringResponse(http.StatusFound, "")
		response.Header = http.Header{"Location": []string{target}}
		return response, nil
	}
}

func tokenResponse(operation string, token map[string]interface{}) (*http.Response, error) {
	return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{operation: token},
	})
}

func signedJWT(expiry time.Time) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "driver",
		ExpiresAt: jwt.NewNumericDate(expiry),
	})
	signed, err := token.SignedString([]byte("secret"))
	Expect(err).ToNot(HaveOccurred())
	return signed
}

var _ = Describe("Authenticator", func() {
	var (
		ctx           context.Context
		clk           *testclock.FakePassiveClock
		authenticator *auth.Authenticator
		signIns       int
		refreshes     int
		pingForms     []map[string]string
	)

	registerProvider := func() {
		httpmock.RegisterResponder(http.MethodGet, auth.ProviderURL+"/.well-known/openid-configuration",
			httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]interface{}{
				"issuer":                 auth.ProviderURL,
				"authorization_endpoint": authorizeURL,
				"token_endpoint":         auth.ProviderURL + "/as/token.oauth2",
			}))
		httpmock.RegisterResponder(http.MethodGet, authorizeURL, func(r *http.Request) (*http.Response, error) {
			Expect(r.URL.Query().Get("client_id")).To(Equal(auth.ClientID))
			Expect(r.URL.Query().Get("redirect_uri")).To(Equal(auth.RedirectURI))
			Expect(r.URL.Query().Get("response_type")).To(Equal("code"))
			return redirectTo(auth.ProviderURL + "/as/login?resumePath=abc123")(r)
		})
		httpmock.RegisterResponder(http.MethodGet, auth.RedirectURI, httpmock.NewStringResponder(http.StatusOK, "ok"))
	}

	registerTokens := func(expiresIn interface{}) {
		httpmock.RegisterResponder(http.MethodGet, graphql.AuthURL, func(r *http.Request) (*http.Response, error) {
			switch r.URL.Query().Get("operationName") {
			case "getAuthToken":
				signIns++
				Expect(r.Header.Get("Authorization")).To(BeEmpty())
				Expect(r.URL.Query().Get("variables")).To(Equal(`{"code":"the-code"}`))
				token := map[string]interface{}{
					"access_token":  "access-1",
					"refresh_token": "refresh-1",
					"id_token":      "id-1",
				}
				if s, ok := expiresIn.(string); ok {
					token["access_token"] = s
				} else {
					token["expires_in"] = expiresIn
				}
				return tokenResponse("getAuthToken", token)
			case "refreshAuthToken":
				refreshes++
				Expect(r.Header.Get("Authorization")).To(Equal("Bearer access-1"))
				Expect(r.URL.Query().Get("variables")).To(Equal(`{"token":"refresh-1"}`))
				return tokenResponse("refreshAuthToken", map[string]interface{}{
					"access_token":  "access-2",
					"refresh_token": "refresh-2",
					"id_token":      "id-2",
					"expires_in":    7200,
				})
			}
			return httpmock.NewStringResponse(http.StatusBadRequest, "unknown operation"), nil
		})
	}

	BeforeEach(func() {
		httpmock.Activate()
		DeferCleanup(httpmock.DeactivateAndReset)

		ctx = context.Background()
		clk = testclock.NewFakePassiveClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
		authenticator = auth.New("driver@example.com", "hunter2", graphql.NewClient("polestar-test", nil))
		authenticator.SetClock(clk)
		signIns, refreshes = 0, 0
		pingForms = nil
	})

	Context("with valid credentials", func() {
		BeforeEach(func() {
			registerProvider()
			registerTokens(3600)
			httpmock.RegisterResponder(http.MethodPost, pingURL, func(r *http.Request) (*http.Response, error) {
				Expect(r.ParseForm()).To(Succeed())
				pingForms = append(pingForms, map[string]string{
					"pf.username": r.PostForm.Get("pf.username"),
					"pf.pass":     r.PostForm.Get("pf.pass"),
				})
				return redirectTo(auth.RedirectURI + "?code=the-code")(r)
			})
		})

		It("signs in and records the token", func() {
			Expect(authenticator.Init(ctx)).To(Succeed())
			Expect(authenticator.Token()).To(Equal("access-1"))

			expiry, ok := authenticator.Expiry()
			Expect(ok).To(BeTrue())
			Expect(expiry).To(Equal(clk.Now().Add(time.Hour)))
			Expect(authenticator.Valid()).To(BeTrue())

			code, ok := authenticator.LastStatus()
			Expect(ok).To(BeTrue())
			Expect(code).To(Equal(http.StatusOK))

			Expect(pingForms).To(ConsistOf(map[string]string{
				"pf.username": "driver@example.com",
				"pf.pass":     "hunter2",
			}))
			Expect(signIns).To(Equal(1))
		})

		It("exchanges the refresh token while the access token is valid", func() {
			Expect(authenticator.Init(ctx)).To(Succeed())
			Expect(authenticator.Refresh(ctx, true)).To(Succeed())
			Expect(refreshes).To(Equal(1))
			Expect(signIns).To(Equal(1))
			Expect(authenticator.Token()).To(Equal("access-2"))
			expiry, _ := authenticator.Expiry()
			Expect(expiry).To(Equal(clk.Now().Add(2 * time.Hour)))
		})

		It("signs in again when the access token has expired", func() {
			Expect(authenticator.Init(ctx)).To(Succeed())
			clk.SetTime(clk.Now().Add(2 * time.Hour))
			Expect(authenticator.Valid()).To(BeFalse())

			Expect(authenticator.Refresh(ctx, true)).To(Succeed())
			Expect(refreshes).To(Equal(0))
			Expect(signIns).To(Equal(2))
		})

		It("signs in again when asked not to use the refresh token", func() {
			Expect(authenticator.Init(ctx)).To(Succeed())
			Expect(authenticator.Refresh(ctx, false)).To(Succeed())
			Expect(refreshes).To(Equal(0))
			Expect(signIns).To(Equal(2))
		})
	})

	It("confirms terms when the provider returns a uid without a code", func() {
		registerProvider()
		registerTokens(3600)
		httpmock.RegisterResponder(http.MethodPost, pingURL, func(r *http.Request) (*http.Response, error) {
			Expect(r.ParseForm()).To(Succeed())
			if r.PostForm.Get("pf.submit") == "true" {
				Expect(r.PostForm.Get("subject")).To(Equal("user-42"))
				return redirectTo(auth.RedirectURI + "?code=the-code")(r)
			}
			return redirectTo(auth.ProviderURL + "/as/terms?uid=user-42")(r)
		})

		Expect(authenticator.Init(ctx)).To(Succeed())
		Expect(authenticator.Token()).To(Equal("access-1"))
	})

	It("falls back to the JWT expiry when expires_in is missing", func() {
		expiry := time.Date(2024, 5, 1, 13, 30, 0, 0, time.UTC)
		registerProvider()
		registerTokens(signedJWT(expiry))
		httpmock.RegisterResponder(http.MethodPost, pingURL, redirectTo(auth.RedirectURI+"?code=the-code"))

		Expect(authenticator.Init(ctx)).To(Succeed())
		got, ok := authenticator.Expiry()
		Expect(ok).To(BeTrue())
		Expect(got.Equal(expiry)).To(BeTrue())
	})

	It("reports rejected credentials as an AuthError", func() {
		registerProvider()
		registerTokens(3600)
		httpmock.RegisterResponder(http.MethodPost, pingURL, httpmock.NewStringResponder(http.StatusOK, "<form>bad password</form>"))

		err := authenticator.Init(ctx)
		var authErr *protocol.AuthError
		Expect(errors.As(err, &authErr)).To(BeTrue())
		Expect(authErr.Code).To(Equal(http.StatusOK))
		Expect(authenticator.Token()).To(BeEmpty())
		_, ok := authenticator.Expiry()
		Expect(ok).To(BeFalse())
	})

	It("reports a failed token exchange as an AuthError", func() {
		registerProvider()
		httpmock.RegisterResponder(http.MethodPost, pingURL, redirectTo(auth.RedirectURI+"?code=the-code"))
		httpmock.RegisterResponder(http.MethodGet, graphql.AuthURL, httpmock.NewStringResponder(http.StatusOK,
			`{"errors":[{"message":"invalid code"}]}`))

		err := authenticator.Init(ctx)
		Expect(protocol.IsAuthError(err)).To(BeTrue())
		code, _ := authenticator.LastStatus()
		Expect(code).To(Equal(http.StatusInternalServerError))
	})
})

var _ = Describe("Static", func() {
	It("reads the expiry from a JWT", func() {
		expiry := time.Now().Add(time.Hour).Truncate(time.Second)
		source := auth.NewStatic(" " + signedJWT(expiry) + "\n")
		Expect(source.Init(context.Background())).To(Succeed())
		got, ok := source.Expiry()
		Expect(ok).To(BeTrue())
		Expect(got.Equal(expiry)).To(BeTrue())
	})

	It("has no expiry for opaque tokens", func() {
		source := auth.NewStatic("opaque")
		Expect(source.Token()).To(Equal("opaque"))
		_, ok := source.Expiry()
		Expect(ok).To(BeFalse())
	})

	It("warns when the token expiry cannot be read", func() {
		var buffer bytes.Buffer
		log.Init(log.Options{Output: &buffer})
		log.SetLevel(log.LevelWarning)
		DeferCleanup(func() {
			log.Init(log.Options{})
			log.SetLevel(log.LevelNone)
		})

		auth.NewStatic(signedJWT(time.Now().Add(time.Hour)))
		Expect(buffer.String()).To(BeEmpty())

		auth.NewStatic("opaque")
		Expect(buffer.String()).To(ContainSubstring("WARN"))
		Expect(buffer.String()).To(ContainSubstring("no readable expiry"))
	})

	It("cannot be refreshed", func() {
		err := auth.NewStatic("opaque").Refresh(context.Background(), true)
		Expect(errors.Is(err, auth.ErrStaticToken)).To(BeTrue())
		Expect(protocol.IsAuthError(err)).To(BeTrue())
	})

	It("rejects an empty token", func() {
		Expect(protocol.IsAuthError(auth.NewStatic("").Init(context.Background()))).To(BeTrue())
	})
})
