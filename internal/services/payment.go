package services

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

	"github.com/ilikefeeling/reshk-sub001/internal/apperr"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
	"github.com/rs/zerolog/log"
)

// TokenFetcher obtains a fresh access token and its expiry
type TokenFetcher func(ctx context.Context) (string, time.Time, error)

// TokenCache holds one gateway access token and refreshes it shortly before it
// expires. Concurrent callers may both refresh; the last write wins.
type TokenCache struct {
	mu      sync.RWMutex
	token   string
	expires time.Time

	fetch TokenFetcher
	skew  time.Duration
	now   func() time.Time
}

// NewTokenCache creates a cache that treats a token as stale skew before its expiry
func NewTokenCache(fetch TokenFetcher, skew time.Duration) *TokenCache {
	return &TokenCache{fetch: fetch, skew: skew, now: time.Now}
}

// Token returns the cached token or fetches a new one
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, expires := c.token, c.expires
	c.mu.RUnlock()

	if token != "" && c.now().Add(c.skew).Before(expires) {
		return token, nil
	}

	token, expires, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.token, c.expires = token, expires
	c.mu.Unlock()

	log.Debug().Time("expires_at", expires).Msg("Payment gateway token refreshed")
	return token, nil
}

// Invalidate drops the cached token so the next call refreshes
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token, c.expires = "", time.Time{}
	c.mu.Unlock()
}

// PaymentGateway verifies client-side payments against the gateway REST API
type PaymentGateway struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	tokens     *TokenCache
}

// NewPaymentGateway creates a gateway client. Every call is bounded by timeout.
func NewPaymentGateway(baseURL, apiKey, apiSecret string, timeout time.Duration) *PaymentGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	g := &PaymentGateway{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: timeout},
	}
	g.tokens = NewTokenCache(g.login, time.Minute)
	return g
}

// envelope is the gateway's response wrapper; code 0 means success
type envelope struct {
	Code     int             `json:"code"`
	Message  string          `json:"message"`
	Response json.RawMessage `json:"response"`
}

func (g *PaymentGateway) login(ctx context.Context) (string, time.Time, error) {
	body, err := json.Marshal(map[string]string{
		"api_key":    g.apiKey,
		"api_secret": g.apiSecret,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/users/getToken", bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiredAt   int64  `json:"expired_at"`
	}
	if _, err := g.do(req, &token); err != nil {
		return "", time.Time{}, fmt.Errorf("gateway login failed: %w", err)
	}
	if token.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("gateway login returned no token")
	}
	return token.AccessToken, time.Unix(token.ExpiredAt, 0), nil
}

// VerifyPayment looks up a completed payment by its reference
func (g *PaymentGateway) VerifyPayment(ctx context.Context, ref string) (*models.Payment, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/payments/"+url.PathEscape(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment request: %w", err)
	}
	req.Header.Set("Authorization", token)

	var payment struct {
		Ref    string `json:"imp_uid"`
		Amount int64  `json:"amount"`
		Status string `json:"status"`
	}
	status, err := g.do(req, &payment)
	switch {
	case status == http.StatusUnauthorized:
		g.tokens.Invalidate()
		return nil, fmt.Errorf("gateway rejected access token")
	case status == http.StatusNotFound:
		return nil, apperr.Validationf("payment %s not found", ref)
	case err != nil:
		return nil, err
	}

	log.Info().
		Str("payment_ref", ref).
		Int64("amount", payment.Amount).
		Str("status", payment.Status).
		Msg("Payment verified with gateway")

	return &models.Payment{Ref: ref, Amount: payment.Amount, Status: payment.Status}, nil
}

// do sends req and decodes the envelope's response field into out
func (g *PaymentGateway) do(req *http.Request, out any) (int, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("body", string(raw)).
			Str("path", req.URL.Path).
			Msg("Payment gateway returned error")
		return resp.StatusCode, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if env.Code != 0 {
		return resp.StatusCode, fmt.Errorf("gateway error %d: %s", env.Code, env.Message)
	}
	if err := json.Unmarshal(env.Response, out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to unmarshal response payload: %w", err)
	}
	return resp.StatusCode, nil
}
