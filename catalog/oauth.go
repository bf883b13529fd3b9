package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	clierrors "egclaimer/internal/errors"
	"egclaimer/session"
)

const (
	tokenEndpoint  = oauthHost + "/account/api/oauth/token"
	verifyEndpoint = oauthHost + "/account/api/oauth/verify"
)

// tokenResponse is the token endpoint's payload. The storefront extends the
// standard OAuth response with refresh_expires, account_id and displayName.
type tokenResponse struct {
	AccessToken    string `json:"access_token"`
	RefreshToken   string `json:"refresh_token"`
	ExpiresIn      int64  `json:"expires_in"`
	RefreshExpires int64  `json:"refresh_expires"`
	AccountID      string `json:"account_id"`
	DisplayName    string `json:"displayName"`
}

// RefreshSession exchanges the session's refresh token for fresh tokens and
// returns the renewed session. The caller persists it.
func (c *Client) RefreshSession(ctx context.Context, s *session.Session) (*session.Session, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {s.RefreshToken},
	}

	req, err := c.newRequest(ctx, http.MethodPost, tokenEndpoint, nil, form)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.basicAuth())

	body, err := c.doJSON(ctx, req)
	if err != nil {
		return nil, clierrors.Wrapf(err, "refreshing token")
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, clierrors.Wrapf(err, "parsing token response")
	}
	if tr.AccessToken == "" {
		return nil, clierrors.ErrTokenExpired
	}

	now := c.nowTime()
	renewed := &session.Session{
		AccessToken:      tr.AccessToken,
		RefreshToken:     tr.RefreshToken,
		AccountID:        tr.AccountID,
		DisplayName:      tr.DisplayName,
		AccessExpiresAt:  now.Add(time.Duration(tr.ExpiresIn) * time.Second),
		RefreshExpiresAt: now.Add(time.Duration(tr.RefreshExpires) * time.Second),
		Cookies:          s.Cookies,
	}
	c.log.Info().Str("account", renewed.DisplayName).Msg("token refreshed")
	return renewed, nil
}

// accountInfo is the verify endpoint's payload.
type accountInfo struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"displayName"`
	ExpiresAt   string `json:"expires_at"`
}

// VerifyToken checks the access token against the storefront and fills in
// account id, display name and expiry on the session. Returns false when the
// token is rejected.
func (c *Client) VerifyToken(ctx context.Context, s *session.Session) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, verifyEndpoint, nil, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+s.AccessToken)

	body, err := c.doJSON(ctx, req)
	if err != nil {
		var se *statusError
		if clierrors.As(err, &se) && se.status == http.StatusUnauthorized {
			return false, nil
		}
		return false, err
	}

	var info accountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return false, clierrors.Wrapf(err, "parsing verify response")
	}

	if info.AccountID != "" {
		s.AccountID = info.AccountID
	}
	if info.DisplayName != "" {
		s.DisplayName = info.DisplayName
	}
	if info.ExpiresAt != "" {
		if exp, err := time.Parse(time.RFC3339, info.ExpiresAt); err == nil {
			s.AccessExpiresAt = exp
		}
	}

	c.log.Debug().Str("account", s.DisplayName).
		Str("account_id", truncateID(s.AccountID)).Msg("token verified")
	return true, nil
}
