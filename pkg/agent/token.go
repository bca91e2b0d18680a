package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cuemby/genesis-core/pkg/types"
)

// tokenRenewalHeadroom is how long before expiry the cache proactively
// renews, so a request never races an about-to-expire token.
const tokenRenewalHeadroom = 30 * time.Second

// tokenResponse is the user API's token exchange reply.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// TokenCache authenticates to the user API with a static credential and
// caches the resulting bearer token, renewing it before expiry. It is
// the agent's only long-term local state besides the per-identifier
// mutex table, per spec.md §4.3/§5.
type TokenCache struct {
	authEndpoint string
	credential   string
	httpClient   *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenCache builds a cache against authEndpoint, authenticating with
// the static credential from config.
func NewTokenCache(authEndpoint, credential string, httpClient *http.Client) *TokenCache {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenCache{authEndpoint: authEndpoint, credential: credential, httpClient: httpClient}
}

// Token returns a valid bearer token, renewing it first if the cached
// one is absent or within tokenRenewalHeadroom of expiry.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.expiresAt) > tokenRenewalHeadroom {
		return c.token, nil
	}
	if err := c.renewLocked(ctx); err != nil {
		return "", err
	}
	return c.token, nil
}

func (c *TokenCache) renewLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authEndpoint, strings.NewReader(c.credential))
	if err != nil {
		return types.WrapError(types.ErrTransient, err, "build token request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.WrapError(types.ErrTransient, err, "exchange static credential for token")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.NewError(types.ErrAuthRequired, "token exchange returned status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return types.WrapError(types.ErrTransient, err, "decode token response")
	}

	expiresAt, err := expiryOf(tr.AccessToken)
	if err != nil {
		return types.WrapError(types.ErrPermanent, err, "parse token expiry")
	}

	c.token = tr.AccessToken
	c.expiresAt = expiresAt
	return nil
}

// expiryOf reads the "exp" claim without verifying the signature: the
// agent trusts the transport (TLS to the user API), not the token
// content, the same way the teacher's worker trusts its mTLS channel
// rather than inspecting certificate claims client-side.
func expiryOf(rawToken string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(rawToken, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse unverified jwt: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no exp claim: %w", err)
	}
	return exp.Time, nil
}
