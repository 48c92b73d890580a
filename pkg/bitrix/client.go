package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/httpclient"
	"github.com/Ramsey-B/clover/pkg/tokenstore"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	// DefaultMaxRetries bounds the refresh-and-retry loop per call.
	DefaultMaxRetries = 2

	// PageSize is the fixed page size of every list method.
	PageSize = 50
)

// Caller is the surface entity adapters depend on.
type Caller interface {
	Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error)
	CallList(ctx context.Context, method string, params map[string]any) (*ListResult, error)
}

// Config holds the portal coordinates and OAuth application credentials.
type Config struct {
	PortalURL    string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	MaxRetries   int
}

// Client is the OAuth-guarded JSON-RPC client for one portal.
type Client struct {
	cfg    Config
	http   *httpclient.Client
	tokens *tokenstore.Store
	logger ectologger.Logger
}

func NewClient(cfg Config, http *httpclient.Client, tokens *tokenstore.Store, logger ectologger.Logger) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	cfg.PortalURL = strings.TrimRight(cfg.PortalURL, "/")

	return &Client{
		cfg:    cfg,
		http:   http,
		tokens: tokens,
		logger: logger,
	}
}

type callResponse struct {
	Result           json.RawMessage `json:"result"`
	Total            int             `json:"total"`
	Next             *int            `json:"next"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// ListResult is one page of a list method answer.
type ListResult struct {
	Result json.RawMessage
	Total  int
	Next   *int
}

// Call invokes a REST method and returns the raw result payload. An expired
// or invalidated access token is refreshed and the call retried, up to
// MaxRetries attempts total.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	ctx, span := tracing.StartSpan(ctx, "Bitrix.Call")
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		token, err := c.getValidToken(ctx, attempt > 0)
		if err != nil {
			return nil, err
		}

		resp, err := c.do(ctx, method, token, params)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.Error != "" {
			if isTokenError(resp.Error) && attempt+1 < c.cfg.MaxRetries {
				c.logger.WithContext(ctx).Warnf("Access token rejected (%s), refreshing", resp.Error)
				if _, err := c.tokens.Delete(ctx, tokenstore.AccessToken); err != nil {
					return nil, err
				}
				lastErr = &APIError{Code: resp.Error, Description: resp.ErrorDescription}
				continue
			}
			return nil, &APIError{Code: resp.Error, Description: resp.ErrorDescription}
		}

		if len(resp.Result) == 0 || string(resp.Result) == "null" {
			return nil, &APIError{Code: "EMPTY_RESULT", Description: fmt.Sprintf("method %s returned no result", method)}
		}
		return resp.Result, nil
	}

	return nil, fmt.Errorf("bitrix call %s failed after %d attempts: %w", method, c.cfg.MaxRetries, lastErr)
}

// CallList invokes a list method and returns one page plus paging metadata.
func (c *Client) CallList(ctx context.Context, method string, params map[string]any) (*ListResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Bitrix.CallList")
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		token, err := c.getValidToken(ctx, attempt > 0)
		if err != nil {
			return nil, err
		}

		resp, err := c.do(ctx, method, token, params)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.Error != "" {
			if isTokenError(resp.Error) && attempt+1 < c.cfg.MaxRetries {
				c.logger.WithContext(ctx).Warnf("Access token rejected (%s), refreshing", resp.Error)
				if _, err := c.tokens.Delete(ctx, tokenstore.AccessToken); err != nil {
					return nil, err
				}
				lastErr = &APIError{Code: resp.Error, Description: resp.ErrorDescription}
				continue
			}
			return nil, &APIError{Code: resp.Error, Description: resp.ErrorDescription}
		}

		return &ListResult{Result: resp.Result, Total: resp.Total, Next: resp.Next}, nil
	}

	return nil, fmt.Errorf("bitrix call %s failed after %d attempts: %w", method, c.cfg.MaxRetries, lastErr)
}

func (c *Client) do(ctx context.Context, method, token string, params map[string]any) (*callResponse, error) {
	endpoint := fmt.Sprintf("%s/rest/%s?auth=%s", c.cfg.PortalURL, method, url.QueryEscape(token))

	if params == nil {
		params = map[string]any{}
	}

	resp, err := c.http.PostJSON(ctx, endpoint, params, nil)
	if err != nil {
		return nil, &APIError{Code: "TRANSPORT", Description: err.Error()}
	}

	var body callResponse
	if err := httpclient.DecodeJSON(resp, &body); err != nil {
		return nil, &APIError{Status: resp.StatusCode, Code: "BAD_RESPONSE", Description: err.Error()}
	}

	if !httpclient.IsSuccessStatus(resp.StatusCode) && body.Error == "" {
		return nil, &APIError{Status: resp.StatusCode, Code: "HTTP_ERROR", Description: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
	if body.Error != "" {
		body.Error = strings.TrimSpace(body.Error)
	}
	return &body, nil
}

// getValidToken returns a usable access token. With force set the cached
// access token is ignored and a refresh grant is performed.
func (c *Client) getValidToken(ctx context.Context, force bool) (string, error) {
	if !force {
		token, err := c.tokens.Get(ctx, tokenstore.AccessToken)
		if err != nil {
			return "", err
		}
		if token != "" {
			return token, nil
		}
	}

	refresh, err := c.tokens.Get(ctx, tokenstore.RefreshToken)
	if err != nil {
		return "", err
	}
	if refresh == "" {
		return "", &AuthError{AuthorizeURL: c.AuthorizeURL()}
	}

	grant, err := c.refreshGrant(ctx, refresh)
	if err != nil {
		return "", err
	}

	accessTTL := time.Duration(grant.ExpiresIn) * time.Second
	if err := c.tokens.Save(ctx, grant.AccessToken, tokenstore.AccessToken, accessTTL); err != nil {
		return "", err
	}
	if err := c.tokens.Save(ctx, grant.RefreshToken, tokenstore.RefreshToken, 0); err != nil {
		return "", err
	}

	return grant.AccessToken, nil
}
