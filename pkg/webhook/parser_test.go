package webhook

import (
	"context"
	"net/url"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestParseFormFullWebhook(t *testing.T) {
	form := url.Values{
		"event":                    {"ONCRMDEALUPDATE"},
		"ts":                       {"1732104000"},
		"auth[application_token]":  {"tok-1"},
		"auth[domain]":             {"portal.bitrix24.kz"},
		"auth[member_id]":          {"abc"},
		"data[FIELDS][ID]":         {"42"},
		"data[FIELDS][ENTITY_TYPE_ID]": {"2"},
	}

	payload, err := ParseForm(context.Background(), noopLogger(), form)
	require.NoError(t, err)

	assert.Equal(t, "ONCRMDEALUPDATE", payload.Event)
	assert.Equal(t, int64(1732104000), payload.TS)
	assert.Equal(t, "tok-1", payload.ApplicationToken)
	assert.Equal(t, "portal.bitrix24.kz", payload.Domain)
	assert.Equal(t, int64(42), payload.EntityID)
	assert.Equal(t, 2, payload.EntityTypeID)
}

func TestParseFormMissingEvent(t *testing.T) {
	form := url.Values{"ts": {"100"}}

	_, err := ParseForm(context.Background(), noopLogger(), form)
	assert.ErrorContains(t, err, "missing event")
}

func TestParseFormBadTimestamp(t *testing.T) {
	_, err := ParseForm(context.Background(), noopLogger(), url.Values{
		"event": {"ONCRMDEALADD"},
		"ts":    {"not-a-number"},
	})
	assert.ErrorContains(t, err, "invalid ts")

	_, err = ParseForm(context.Background(), noopLogger(), url.Values{
		"event": {"ONCRMDEALADD"},
		"ts":    {"-5"},
	})
	assert.ErrorContains(t, err, "invalid ts")
}

func TestParseFormScalarConflictOverwritten(t *testing.T) {
	// "auth" arrives both as a scalar and as a nested map; the map wins.
	form := url.Values{
		"event":                   {"ONCRMDEALADD"},
		"ts":                      {"100"},
		"auth":                    {"scalar"},
		"auth[application_token]": {"tok"},
	}

	payload, err := ParseForm(context.Background(), noopLogger(), form)
	require.NoError(t, err)
	assert.Equal(t, "tok", payload.ApplicationToken)
}

func TestParseFormMalformedKey(t *testing.T) {
	_, err := ParseForm(context.Background(), noopLogger(), url.Values{
		"event":   {"ONCRMDEALADD"},
		"ts":      {"100"},
		"[FIELDS": {"x"},
	})
	assert.ErrorContains(t, err, "malformed form key")
}

func TestSplitBracketKey(t *testing.T) {
	path, err := splitBracketKey("data[FIELDS][ID]")
	require.NoError(t, err)
	assert.Equal(t, []string{"data", "FIELDS", "ID"}, path)

	path, err = splitBracketKey("event")
	require.NoError(t, err)
	assert.Equal(t, []string{"event"}, path)

	_, err = splitBracketKey("data[FIELDS")
	assert.Error(t, err)
}
