package bitrix

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/Ramsey-B/clover/pkg/httpclient"
	"github.com/Ramsey-B/clover/pkg/tokenstore"
)

type grantResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// AuthorizeURL builds the URL an operator walks to grant the application a
// fresh code.
func (c *Client) AuthorizeURL() string {
	query := url.Values{}
	query.Set("client_id", c.cfg.ClientID)
	query.Set("response_type", "code")
	if c.cfg.RedirectURI != "" {
		query.Set("redirect_uri", c.cfg.RedirectURI)
	}
	return fmt.Sprintf("%s/oauth/authorize/?%s", c.cfg.PortalURL, query.Encode())
}

// ExchangeCode trades an authorization code for a grant and stores both
// tokens. It completes the flow AuthorizeURL starts.
func (c *Client) ExchangeCode(ctx context.Context, code string) error {
	grant, err := c.tokenGrant(ctx, url.Values{
		"grant_type":    []string{"authorization_code"},
		"client_id":     []string{c.cfg.ClientID},
		"client_secret": []string{c.cfg.ClientSecret},
		"code":          []string{code},
	})
	if err != nil {
		return err
	}
	return c.saveGrant(ctx, grant)
}

// refreshGrant exchanges a refresh token for a fresh grant.
func (c *Client) refreshGrant(ctx context.Context, refreshToken string) (*grantResponse, error) {
	return c.tokenGrant(ctx, url.Values{
		"grant_type":    []string{"refresh_token"},
		"client_id":     []string{c.cfg.ClientID},
		"client_secret": []string{c.cfg.ClientSecret},
		"refresh_token": []string{refreshToken},
	})
}

func (c *Client) tokenGrant(ctx context.Context, query url.Values) (*grantResponse, error) {
	endpoint := fmt.Sprintf("%s/oauth/token/?%s", c.cfg.PortalURL, query.Encode())

	resp, err := c.http.Get(ctx, endpoint, nil)
	if err != nil {
		return nil, &APIError{Code: "TRANSPORT", Description: err.Error()}
	}

	var grant grantResponse
	if err := httpclient.DecodeJSON(resp, &grant); err != nil {
		return nil, &APIError{Status: resp.StatusCode, Code: "BAD_RESPONSE", Description: err.Error()}
	}

	if grant.Error != "" || resp.StatusCode == 401 {
		c.logger.WithContext(ctx).Warnf("OAuth grant rejected: %s %s", grant.Error, grant.ErrorDescription)
		return nil, &AuthError{AuthorizeURL: c.AuthorizeURL()}
	}
	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		return nil, &APIError{Status: resp.StatusCode, Code: "HTTP_ERROR", Description: "oauth token endpoint failed"}
	}
	if grant.AccessToken == "" || grant.RefreshToken == "" {
		return nil, &APIError{Status: resp.StatusCode, Code: "BAD_GRANT", Description: "grant response missing tokens"}
	}
	return &grant, nil
}

func (c *Client) saveGrant(ctx context.Context, grant *grantResponse) error {
	accessTTL := time.Duration(grant.ExpiresIn) * time.Second
	if err := c.tokens.Save(ctx, grant.AccessToken, tokenstore.AccessToken, accessTTL); err != nil {
		return err
	}
	return c.tokens.Save(ctx, grant.RefreshToken, tokenstore.RefreshToken, 0)
}
