// Package catalog talks to the storefront's public HTTP APIs: free-offer
// discovery, the entitlement ledger, and the OAuth token endpoints used to
// refresh and verify sessions.
package catalog

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	clierrors "egclaimer/internal/errors"
)

// API endpoints.
const (
	oauthHost       = "https://account-public-service-prod.ol.epicgames.com"
	entitlementHost = "https://entitlement-public-service-prod08.ol.epicgames.com"
	freeOffersURL   = "https://store-site-backend-static-ipv4.ak.epicgames.com/freeGamesPromotions"
	mirrorOffersURL = "https://freegamesepic.onrender.com/api/games"

	storeOrigin = "https://store.epicgames.com"
)

// Config carries the request parameters the client needs. All values come
// from the configuration boundary; the client treats them as opaque input.
type Config struct {
	Country      string
	Locale       string
	UserAgent    string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	MaxRetries   uint64
}

// Client is an HTTP client for the storefront APIs.
type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger

	nowTime func() time.Time
}

// Option modifies a Client.
type Option func(*Client)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(now func() time.Time) Option {
	return func(c *Client) { c.nowTime = now }
}

// WithHTTPClient replaces the underlying HTTP client (primarily for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a catalog client.
func NewClient(cfg Config, log zerolog.Logger, options ...Option) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// statusError carries a non-2xx HTTP status through the retry layer so it can
// be classified as retryable or permanent.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}

func (e *statusError) Unwrap() error {
	if e.status == http.StatusForbidden || e.status == http.StatusTooManyRequests {
		return clierrors.ErrChallenge
	}
	return clierrors.ErrTransport
}

// doJSON performs a request with bounded exponential backoff on transient
// transport failures. Authentication and validation failures (4xx other than
// 403/429) are never retried.
func (c *Client) doJSON(ctx context.Context, req *http.Request) ([]byte, error) {
	var body []byte

	operation := func() error {
		attempt := req.Clone(ctx)
		if req.GetBody != nil {
			rc, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(err)
			}
			attempt.Body = rc
		}

		resp, err := c.http.Do(attempt)
		if err != nil {
			return clierrors.Wrapf(clierrors.ErrTransport, "%s %s: %v", req.Method, req.URL.Path, err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return clierrors.Wrapf(clierrors.ErrTransport, "reading response: %v", err)
		}

		c.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).
			Int("status", resp.StatusCode).Msg("request")

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			body = data
			return nil
		case resp.StatusCode >= 500:
			return &statusError{status: resp.StatusCode, body: string(data)}
		case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
			// Bot challenge: escalate immediately, retrying the same path
			// will not clear it.
			return backoff.Permanent(&statusError{status: resp.StatusCode, body: string(data)})
		default:
			return backoff.Permanent(&statusError{status: resp.StatusCode, body: string(data)})
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.MaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, params url.Values, form url.Values) (*http.Request, error) {
	if params != nil {
		rawURL = rawURL + "?" + params.Encode()
	}

	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", acceptLanguage(c.cfg.Locale))
	req.Header.Set("Origin", storeOrigin)
	req.Header.Set("Referer", storeOrigin+"/")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req, nil
}

func (c *Client) basicAuth() string {
	credentials := c.cfg.ClientID + ":" + c.cfg.ClientSecret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
}

// acceptLanguage builds an Accept-Language header from a locale such as
// "pt-BR": the full locale first, its base language, then English fallbacks.
func acceptLanguage(locale string) string {
	base, _, _ := strings.Cut(locale, "-")
	return fmt.Sprintf("%s,%s;q=0.8,en-US;q=0.5,en;q=0.3", locale, base)
}
