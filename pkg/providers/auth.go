package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mstrella/skyfeed/pkg/aviation"
	"github.com/mstrella/skyfeed/pkg/credstore"
)

// authMode declares how an adapter authorizes its requests.
type authMode int

const (
	authNone authMode = iota
	authBasic
	authAPIKey
	authBearer
)

// requiredKeys returns the credential keys a mode needs before any
// network access can happen.
func requiredKeys(mode authMode) []string {
	switch mode {
	case authBasic:
		return []string{"username", "password"}
	case authAPIKey:
		return []string{"api_key"}
	case authBearer:
		return []string{"clientId", "clientSecret"}
	default:
		return nil
	}
}

// detectAuthMode picks the auth scheme a credential blob supports:
// OAuth2 client credentials when a client pair is present, legacy Basic
// auth for username/password, anonymous otherwise.
func detectAuthMode(creds credstore.Credentials) authMode {
	switch {
	case creds.Get("clientId") != "" || creds.Get("clientSecret") != "":
		return authBearer
	case creds.Get("username") != "" || creds.Get("password") != "":
		return authBasic
	default:
		return authNone
	}
}

// tokenRefreshMargin is subtracted from the reported token lifetime so
// a token is refreshed proactively rather than raced against expiry.
const tokenRefreshMargin = time.Minute

// defaultTokenLifetime is assumed when the token endpoint reports no
// expires_in and the token itself carries no exp claim.
const defaultTokenLifetime = time.Hour

// tokenResponse mirrors the JSON returned by an OAuth2 client
// credentials token endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// authenticator turns a provider's credentials into usable request
// authorization: nothing, a pre-computed Basic header, an API key, or a
// bearer token obtained via the OAuth2 client-credentials flow. The
// token cache is owned by the adapter instance that constructed it and
// is never shared.
type authenticator struct {
	provider   string
	tokenURL   string
	httpClient *http.Client

	mu           sync.Mutex
	mode         authMode
	creds        credstore.Credentials
	bearerToken  string
	bearerExpiry time.Time
}

func newAuthenticator(provider string, mode authMode, tokenURL string, httpClient *http.Client) *authenticator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &authenticator{
		provider:   provider,
		mode:       mode,
		tokenURL:   tokenURL,
		httpClient: httpClient,
	}
}

// reconfigure validates a credential blob and swaps it in together
// with the auth mode it supports, under the authenticator's lock so
// in-flight requests never observe a half-applied swap. Any cached
// token is dropped so the next request authenticates fresh.
func (a *authenticator) reconfigure(mode authMode, creds credstore.Credentials) error {
	if err := creds.Validate(requiredKeys(mode)...); err != nil {
		if e, ok := err.(*aviation.Error); ok {
			e.Provider = a.provider
		}
		return err
	}

	a.mu.Lock()
	a.mode = mode
	a.creds = creds.Clone()
	a.bearerToken = ""
	a.bearerExpiry = time.Time{}
	a.mu.Unlock()
	return nil
}

// setCredentials is reconfigure with the auth mode left unchanged.
func (a *authenticator) setCredentials(creds credstore.Credentials) error {
	a.mu.Lock()
	mode := a.mode
	a.mu.Unlock()
	return a.reconfigure(mode, creds)
}

// apiKey returns the configured API key for authAPIKey adapters.
func (a *authenticator) apiKey() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creds.Get("api_key")
}

// authorize attaches the mode's authorization to req. For bearer mode
// this may block on a synchronous token request.
func (a *authenticator) authorize(ctx context.Context, req *http.Request) error {
	a.mu.Lock()
	mode := a.mode
	a.mu.Unlock()

	switch mode {
	case authNone:
		return nil

	case authBasic:
		a.mu.Lock()
		user, pass := a.creds.Get("username"), a.creds.Get("password")
		a.mu.Unlock()
		if user == "" || pass == "" {
			return aviation.NewError(aviation.KindMissingCredentials, a.provider,
				"authorize request", "username/password not configured")
		}
		req.SetBasicAuth(user, pass)
		return nil

	case authAPIKey:
		// Key placement is endpoint-specific; adapters read apiKey()
		// and place it themselves. Nothing to attach here.
		return nil

	case authBearer:
		token, err := a.token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
	return nil
}

// token returns a cached bearer token, refreshing it synchronously when
// less than tokenRefreshMargin of lifetime remains.
func (a *authenticator) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bearerToken != "" && time.Now().Before(a.bearerExpiry) {
		return a.bearerToken, nil
	}

	clientID, clientSecret := a.creds.Get("clientId"), a.creds.Get("clientSecret")
	if clientID == "" || clientSecret == "" {
		return "", aviation.NewError(aviation.KindMissingCredentials, a.provider,
			"request token", "clientId/clientSecret not configured")
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", aviation.WrapError(aviation.KindNetwork, a.provider, "request token", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", aviation.WrapError(aviation.KindNetwork, a.provider, "request token", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", aviation.NewError(aviation.KindAuthenticationFailed, a.provider, "request token",
			fmt.Sprintf("token endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", aviation.WrapError(aviation.KindAuthenticationFailed, a.provider, "request token", err)
	}
	if tok.AccessToken == "" {
		return "", aviation.NewError(aviation.KindAuthenticationFailed, a.provider, "request token",
			"token endpoint response has no access_token")
	}

	lifetime := time.Duration(tok.ExpiresIn) * time.Second
	if tok.ExpiresIn <= 0 {
		lifetime = tokenLifetimeFromJWT(tok.AccessToken)
	}

	a.bearerToken = tok.AccessToken
	a.bearerExpiry = time.Now().Add(lifetime - tokenRefreshMargin)
	return a.bearerToken, nil
}

// tokenLifetimeFromJWT recovers a lifetime from the token's own exp
// claim when the endpoint omits expires_in. The signature is not
// verified; only the expiry hint is wanted. Tokens that are not JWTs
// fall back to defaultTokenLifetime.
func tokenLifetimeFromJWT(token string) time.Duration {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return defaultTokenLifetime
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return defaultTokenLifetime
	}
	if lifetime := time.Until(exp.Time); lifetime > 0 {
		return lifetime
	}
	return defaultTokenLifetime
}
