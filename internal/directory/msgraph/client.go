// Package msgraph implements the directory contract against Azure AD
// (device-code flow, client-credential app tokens) and Microsoft Graph
// (user profile and manager lookups).
package msgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"corp-verifier/bot/internal/directory"
	identitydomain "corp-verifier/bot/internal/identity/domain"
)

const (
	defaultLoginBaseURL = "https://login.microsoftonline.com"
	defaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

	deviceCodeScope = "https://graph.microsoft.com/.default"
	appTokenScope   = "https://graph.microsoft.com/.default"

	// Refresh the app token this long before it actually expires.
	tokenRefreshSkew = time.Minute
)

// Config configures the Graph directory client.
type Config struct {
	Tenant       string
	ClientID     string
	ClientSecret string
	// LoginBaseURL and GraphBaseURL override the Microsoft endpoints;
	// used by tests. Empty means the public cloud defaults.
	LoginBaseURL string
	GraphBaseURL string
	// RequestsPerSecond bounds calls to Graph; zero means 10.
	RequestsPerSecond float64
}

// Client talks to Azure AD and Microsoft Graph. Safe for concurrent use.
type Client struct {
	cfg     Config
	httpc   *http.Client
	limiter *rate.Limiter

	mu          sync.Mutex
	appToken    string
	appTokenExp time.Time
}

// NewClient returns a Graph directory client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Tenant == "" {
		return nil, errors.New("msgraph: tenant is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("msgraph: client id is required")
	}
	if cfg.LoginBaseURL == "" {
		cfg.LoginBaseURL = defaultLoginBaseURL
	}
	if cfg.GraphBaseURL == "" {
		cfg.GraphBaseURL = defaultGraphBaseURL
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}, nil
}

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	Message         string `json:"message"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

// IssueDeviceCode starts a device-authorization flow and returns the
// code the user must redeem.
func (c *Client) IssueDeviceCode(ctx context.Context) (*directory.DeviceCode, error) {
	form := url.Values{
		"client_id": {c.cfg.ClientID},
		"scope":     {deviceCodeScope},
	}
	var resp deviceCodeResponse
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/devicecode", c.cfg.LoginBaseURL, c.cfg.Tenant)
	if err := c.postForm(ctx, endpoint, form, &resp); err != nil {
		return nil, fmt.Errorf("issue device code: %w", err)
	}
	if resp.DeviceCode == "" {
		return nil, errors.New("issue device code: provider returned no device_code")
	}
	interval := time.Duration(resp.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &directory.DeviceCode{
		DeviceCode:      resp.DeviceCode,
		UserCode:        resp.UserCode,
		VerificationURI: resp.VerificationURI,
		Message:         resp.Message,
		Interval:        interval,
		ExpiresAt:       time.Now().UTC().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

// ExchangeCode polls the token endpoint once for the given device code.
// Returns (nil, nil) while authorization is pending, ErrCodeExpired when
// the provider reports the code expired, and the authenticated identity
// once the user completed sign-in.
func (c *Client) ExchangeCode(ctx context.Context, code *directory.DeviceCode) (*directory.Identity, error) {
	form := url.Values{
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"client_id":   {c.cfg.ClientID},
		"device_code": {code.DeviceCode},
	}
	var resp tokenResponse
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.cfg.LoginBaseURL, c.cfg.Tenant)
	if err := c.postForm(ctx, endpoint, form, &resp); err != nil {
		return nil, fmt.Errorf("exchange device code: %w", err)
	}
	switch resp.Error {
	case "":
	case "authorization_pending", "slow_down":
		return nil, nil
	case "expired_token", "code_expired":
		return nil, directory.ErrCodeExpired
	default:
		return nil, fmt.Errorf("exchange device code: %s: %s", resp.Error, resp.ErrorDesc)
	}
	oid, err := objectIDFromToken(resp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("exchange device code: %w", err)
	}
	return &directory.Identity{ID: oid}, nil
}

// GetProfile fetches the directory profile for identityID using an
// app-only token. Returns (nil, nil) when the identity does not exist.
func (c *Client) GetProfile(ctx context.Context, identityID string) (*identitydomain.Profile, error) {
	var user struct {
		ID             string `json:"id"`
		MailNickname   string `json:"mailNickname"`
		Department     string `json:"department"`
		AccountEnabled bool   `json:"accountEnabled"`
	}
	path := fmt.Sprintf("/users/%s?$select=id,mailNickname,department,accountEnabled",
		url.PathEscape(identityID))
	found, err := c.getGraph(ctx, path, &user)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", identityID, err)
	}
	if !found {
		return nil, nil
	}
	return &identitydomain.Profile{
		ID:             user.ID,
		Alias:          user.MailNickname,
		Department:     user.Department,
		AccountEnabled: user.AccountEnabled,
	}, nil
}

// GetManager returns the id of identityID's direct manager, or "" when
// the management chain ends.
func (c *Client) GetManager(ctx context.Context, identityID string) (string, error) {
	var manager struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/users/%s/manager?$select=id", url.PathEscape(identityID))
	found, err := c.getGraph(ctx, path, &manager)
	if err != nil {
		return "", fmt.Errorf("get manager of %s: %w", identityID, err)
	}
	if !found {
		return "", nil
	}
	return manager.ID, nil
}

// getGraph performs an authenticated GET against Graph. Returns
// (false, nil) on 404.
func (c *Client) getGraph(ctx context.Context, path string, out any) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}
	token, err := c.appAccessToken(ctx)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.GraphBaseURL+path, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := c.httpc.Do(req)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return false, err
	}
	switch {
	case res.StatusCode == http.StatusNotFound:
		return false, nil
	case res.StatusCode != http.StatusOK:
		return false, fmt.Errorf("graph %s: status %d: %s", path, res.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, err
	}
	return true, nil
}

// appAccessToken returns a cached client-credential token, refreshing
// it when near expiry.
func (c *Client) appAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.appToken != "" && time.Now().Before(c.appTokenExp.Add(-tokenRefreshSkew)) {
		return c.appToken, nil
	}
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"scope":         {appTokenScope},
	}
	var resp tokenResponse
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.cfg.LoginBaseURL, c.cfg.Tenant)
	if err := c.postForm(ctx, endpoint, form, &resp); err != nil {
		return "", fmt.Errorf("app token: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("app token: %s: %s", resp.Error, resp.ErrorDesc)
	}
	if resp.AccessToken == "" {
		return "", errors.New("app token: provider returned no access_token")
	}
	c.appToken = resp.AccessToken
	c.appTokenExp = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	return c.appToken, nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	// AAD returns 400 with an error code in the body for expected
	// conditions like authorization_pending; decode regardless of status.
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("status %d: %w", res.StatusCode, err)
	}
	return nil
}

// objectIDFromToken extracts the oid claim identifying the signed-in
// user. The token is consumed, not trusted, so the signature is not
// verified here.
func objectIDFromToken(accessToken string) (string, error) {
	if accessToken == "" {
		return "", errors.New("provider returned no access_token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return "", fmt.Errorf("parse access token: %w", err)
	}
	oid, _ := claims["oid"].(string)
	if oid == "" {
		return "", errors.New("access token has no oid claim")
	}
	return oid, nil
}
