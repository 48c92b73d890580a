package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/httpclient"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/tokenstore"
)

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestTokens(t *testing.T) *tokenstore.Store {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	client := redis.NewClientFromRedis(rdb, noopLogger())

	store, err := tokenstore.NewStore(client, noopLogger(), bytes.Repeat([]byte{7}, 32), 1, "bitrix")
	require.NoError(t, err)
	return store
}

func newTestBitrixClient(t *testing.T, portalURL string) (*Client, *tokenstore.Store) {
	tokens := newTestTokens(t)
	client := NewClient(Config{
		PortalURL:    portalURL,
		ClientID:     "app",
		ClientSecret: "secret",
	}, httpclient.NewClient(httpclient.DefaultConfig(), noopLogger()), tokens, noopLogger())
	return client, tokens
}

func TestCallReturnsResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/crm.deal.get", r.URL.Path)
		assert.Equal(t, "cached-token", r.URL.Query().Get("auth"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result": {"ID": "42"}}`))
	}))
	defer server.Close()

	client, tokens := newTestBitrixClient(t, server.URL)
	ctx := context.Background()
	require.NoError(t, tokens.Save(ctx, "cached-token", tokenstore.AccessToken, time.Minute))

	result, err := client.Call(ctx, "crm.deal.get", map[string]any{"id": 42})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(result, &payload))
	assert.Equal(t, "42", payload["ID"])
}

func TestCallRefreshesExpiredToken(t *testing.T) {
	var restCalls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/rest/crm.deal.get":
			if restCalls.Add(1) == 1 {
				_, _ = w.Write([]byte(`{"error": "expired_token", "error_description": "The access token provided has expired."}`))
				return
			}
			assert.Equal(t, "fresh-access", r.URL.Query().Get("auth"))
			_, _ = w.Write([]byte(`{"result": {"ID": "1"}}`))
		case "/oauth/token/":
			assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
			assert.Equal(t, "refresh-1", r.URL.Query().Get("refresh_token"))
			_, _ = w.Write([]byte(`{"access_token": "fresh-access", "refresh_token": "refresh-2", "expires_in": 3600}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client, tokens := newTestBitrixClient(t, server.URL)
	ctx := context.Background()
	require.NoError(t, tokens.Save(ctx, "stale-access", tokenstore.AccessToken, time.Minute))
	require.NoError(t, tokens.Save(ctx, "refresh-1", tokenstore.RefreshToken, 0))

	result, err := client.Call(ctx, "crm.deal.get", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, result)
	assert.Equal(t, int64(2), restCalls.Load())

	// The rotated refresh token must be persisted.
	refresh, err := tokens.Get(ctx, tokenstore.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", refresh)
}

func TestCallWithoutGrantRequiresAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no portal call expected, got %s", r.URL.Path)
	}))
	defer server.Close()

	client, _ := newTestBitrixClient(t, server.URL)

	_, err := client.Call(context.Background(), "crm.deal.get", nil)
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.AuthorizeURL, "/oauth/authorize/")
	assert.True(t, errors.Is(err, ErrAuthRequired))
}

func TestCallSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error": "NOT_FOUND", "error_description": "Not found"}`))
	}))
	defer server.Close()

	client, tokens := newTestBitrixClient(t, server.URL)
	ctx := context.Background()
	require.NoError(t, tokens.Save(ctx, "tok", tokenstore.AccessToken, time.Minute))

	_, err := client.Call(ctx, "crm.deal.get", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.True(t, IsNotFound(err))
}

func TestCallListPaging(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result": [{"ID": "1"}], "total": 120, "next": 50}`))
	}))
	defer server.Close()

	client, tokens := newTestBitrixClient(t, server.URL)
	ctx := context.Background()
	require.NoError(t, tokens.Save(ctx, "tok", tokenstore.AccessToken, time.Minute))

	page, err := client.CallList(ctx, "crm.deal.list", nil)
	require.NoError(t, err)
	assert.Equal(t, 120, page.Total)
	require.NotNil(t, page.Next)
	assert.Equal(t, 50, *page.Next)
}

func TestExchangeCodeStoresGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token/", r.URL.Path)
		assert.Equal(t, "authorization_code", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "the-code", r.URL.Query().Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "acc", "refresh_token": "ref", "expires_in": 3600}`))
	}))
	defer server.Close()

	client, tokens := newTestBitrixClient(t, server.URL)
	ctx := context.Background()

	require.NoError(t, client.ExchangeCode(ctx, "the-code"))

	access, err := tokens.Get(ctx, tokenstore.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "acc", access)
}
