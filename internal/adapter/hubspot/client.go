package hubspot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/smallbiznis/hubspot-connector/internal/domain"
)

// Default HubSpot endpoints.
const (
	DefaultAPIBaseURL = "https://api.hubapi.com"
	DefaultAuthURL    = "https://app.hubspot.com/oauth/authorize"
	DefaultTokenURL   = "https://api.hubapi.com/oauth/v1/token"
)

const maxBodyBytes = 1 << 20

// ProviderClient encapsulates outbound HTTP calls to HubSpot.
type ProviderClient interface {
	ExchangeCode(ctx context.Context, code string) (*domain.ProviderToken, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.ProviderToken, error)
	FetchPortalID(ctx context.Context, accessToken string) (string, error)
	AuthorizeURL(state string) string
	Call(ctx context.Context, accessToken, method, endpoint string, body []byte) (*Response, error)
}

// Config holds the app registration and endpoint overrides.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
}

// Response is a raw API response. Status is not checked by Call.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client is the default HTTP implementation.
type Client struct {
	oauth      *oauth2.Config
	apiBaseURL string
	httpClient *http.Client
}

var _ ProviderClient = (*Client)(nil)

// NewClient constructs the default ProviderClient. A nil httpClient gets a
// 10 second timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   orDefault(cfg.AuthURL, DefaultAuthURL),
				TokenURL:  orDefault(cfg.TokenURL, DefaultTokenURL),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBaseURL: strings.TrimRight(orDefault(cfg.APIBaseURL, DefaultAPIBaseURL), "/"),
		httpClient: httpClient,
	}
}

// ExchangeCode performs the authorization_code grant.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*domain.ProviderToken, error) {
	tok, err := c.oauth.Exchange(c.withClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", describe(err))
	}
	return providerToken(tok), nil
}

// Refresh performs the refresh_token grant. The returned token carries the
// given refresh token when HubSpot does not rotate it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*domain.ProviderToken, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, fmt.Errorf("refresh token missing")
	}
	src := c.oauth.TokenSource(c.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh: %w", describe(err))
	}
	out := providerToken(tok)
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

// AuthorizeURL returns the install link; state is echoed back on redirect.
func (c *Client) AuthorizeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// FetchPortalID resolves the hub_id the access token belongs to.
func (c *Client) FetchPortalID(ctx context.Context, accessToken string) (string, error) {
	resp, err := c.Call(ctx, accessToken, http.MethodGet, "/oauth/v1/access-tokens/"+url.PathEscape(accessToken), nil)
	if err != nil {
		return "", fmt.Errorf("token info: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("token info failed: status=%d", resp.StatusCode)
	}
	hubID := gjson.GetBytes(resp.Body, "hub_id")
	if !hubID.Exists() || hubID.String() == "" {
		return "", fmt.Errorf("token info: hub_id missing")
	}
	return hubID.String(), nil
}

// Call issues one bearer-authenticated JSON request against the API base URL.
func (c *Client) Call(ctx context.Context, accessToken, method, endpoint string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiBaseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: payload}, nil
}

func (c *Client) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func providerToken(tok *oauth2.Token) *domain.ProviderToken {
	out := &domain.ProviderToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    tok.ExpiresIn,
	}
	if out.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		out.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second) / time.Second)
	}
	return out
}

// describe flattens a RetrieveError into its status and HubSpot message.
func describe(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return err
	}
	msg := gjson.GetBytes(re.Body, "message").String()
	if msg == "" {
		msg = re.ErrorCode
	}
	return fmt.Errorf("status=%d %s: %w", re.Response.StatusCode, msg, err)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
