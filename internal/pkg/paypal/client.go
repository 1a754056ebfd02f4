package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL = "https://api-m.paypal.com"

	tokenPath  = "/v1/oauth2/token"
	verifyPath = "/v1/notifications/verify-webhook-signature"

	// tokenExpirySkew renews tokens before PayPal expires them.
	tokenExpirySkew = 60 * time.Second
	maxResponseBody = 1 << 20
)

var (
	ErrNotConfigured = errors.New("paypal: client id, secret or webhook id missing")
	// ErrTokenUnavailable means no access token could be obtained; it says
	// nothing about the signature.
	ErrTokenUnavailable = errors.New("paypal: access token unavailable")
	// ErrVerifyUnavailable means the verification API could not give an answer.
	ErrVerifyUnavailable = errors.New("paypal: signature verification unavailable")
)

const (
	VerificationSuccess = "SUCCESS"
	VerificationFailure = "FAILURE"
)

type Config struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	BaseURL      string
	Timeout      time.Duration
}

// Client talks to the PayPal REST API.
type Client struct {
	cfg        Config
	HTTPClient *http.Client
	tokens     TokenCache
	log        logrus.FieldLogger
	refresh    singleflight.Group
}

func NewClient(cfg Config, tokens TokenCache, log logrus.FieldLogger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if tokens == nil {
		tokens = NewMemoryTokenCache()
	}
	return &Client{
		cfg:        cfg,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		tokens:     tokens,
		log:        log,
	}
}

// Configured reports whether credentials and webhook id are present.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.cfg.ClientID) != "" &&
		strings.TrimSpace(c.cfg.ClientSecret) != "" &&
		strings.TrimSpace(c.cfg.WebhookID) != ""
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AccessToken returns a cached client-credentials token, fetching a new one
// when none is cached. Concurrent callers in this process share one fetch.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	if token, ok, err := c.tokens.Get(ctx); err != nil {
		c.log.WithError(err).Warn("paypal token cache read failed")
	} else if ok {
		return token, nil
	}

	v, err, _ := c.refresh.Do("token", func() (interface{}, error) {
		return c.refreshToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) refreshToken(ctx context.Context) (string, error) {
	if locker, ok := c.tokens.(RefreshLocker); ok {
		release, err := locker.Obtain(ctx)
		switch {
		case err != nil:
			c.log.WithError(err).Warn("could not obtain paypal token lock; fetching without lock")
		case release == nil:
			c.log.Debug("paypal token lock held elsewhere; fetching without lock")
		default:
			defer release()
		}
	}
	// Another caller may have refreshed while we waited.
	if token, ok, err := c.tokens.Get(ctx); err == nil && ok {
		return token, nil
	}

	tok, err := c.fetchToken(ctx)
	if err != nil {
		return "", err
	}
	ttl := time.Duration(tok.ExpiresIn)*time.Second - tokenExpirySkew
	if ttl > 0 {
		if err := c.tokens.Set(ctx, tok.AccessToken, ttl); err != nil {
			c.log.WithError(err).Warn("paypal token cache write failed")
		}
	}
	return tok.AccessToken, nil
}

func (c *Client) fetchToken(ctx context.Context) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrTokenUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out tokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode token response: %v", ErrTokenUnavailable, err)
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return nil, fmt.Errorf("%w: empty access_token", ErrTokenUnavailable)
	}
	return &out, nil
}

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// Verification is the processor's answer for one delivery.
type Verification struct {
	Verified bool
	Status   string
	// Reason is set when Verified is false.
	Reason string
}

// VerifyWebhookSignature asks PayPal whether the delivery was signed by it for
// the configured webhook. An error means no answer was obtained; a FAILURE
// answer or a 4xx rejection of the signature material is reported as an
// unverified Verification.
func (c *Client) VerifyWebhookSignature(ctx context.Context, headers WebhookHeaders, event []byte) (Verification, error) {
	if !c.Configured() {
		return Verification{}, ErrNotConfigured
	}
	if missing := headers.Missing(); len(missing) > 0 {
		return Verification{Status: VerificationFailure, Reason: "missing headers: " + strings.Join(missing, ", ")}, nil
	}

	token, err := c.AccessToken(ctx)
	if err != nil {
		return Verification{}, err
	}

	payload, err := json.Marshal(verifyRequest{
		AuthAlgo:         headers.AuthAlgo,
		CertURL:          headers.CertURL,
		TransmissionID:   headers.TransmissionID,
		TransmissionSig:  headers.TransmissionSig,
		TransmissionTime: headers.TransmissionTime,
		WebhookID:        c.cfg.WebhookID,
		WebhookEvent:     json.RawMessage(event),
	})
	if err != nil {
		return Verification{Status: VerificationFailure, Reason: "event is not valid json"}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+verifyPath, bytes.NewReader(payload))
	if err != nil {
		return Verification{}, fmt.Errorf("%w: %v", ErrVerifyUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Verification{}, fmt.Errorf("%w: %v", ErrVerifyUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// The cached token was revoked or expired early.
		_ = c.tokens.Set(ctx, "", time.Millisecond)
		return Verification{}, fmt.Errorf("%w: verify rejected access token", ErrTokenUnavailable)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Verification{
			Status: VerificationFailure,
			Reason: fmt.Sprintf("verify request rejected: status=%d body=%s", resp.StatusCode, truncate(strings.TrimSpace(string(body)), 200)),
		}, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Verification{}, fmt.Errorf("%w: status=%d", ErrVerifyUnavailable, resp.StatusCode)
	}

	var out verifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Verification{}, fmt.Errorf("%w: decode verify response: %v", ErrVerifyUnavailable, err)
	}
	status := strings.ToUpper(strings.TrimSpace(out.VerificationStatus))
	if status == VerificationSuccess {
		return Verification{Verified: true, Status: status}, nil
	}
	return Verification{Status: status, Reason: "verification_status=" + status}, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
