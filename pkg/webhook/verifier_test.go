package webhook

import (
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var verifyNow = time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)

func newTestVerifier() *Verifier {
	v := NewVerifier(map[string]string{
		"tok-1": "portal.bitrix24.kz",
	}, 5*time.Minute)
	v.SetClock(func() time.Time { return verifyNow })
	return v
}

func freshPayload() *Payload {
	return &Payload{
		Event:            "ONCRMDEALUPDATE",
		TS:               verifyNow.Unix() - 30,
		ApplicationToken: "tok-1",
		Domain:           "portal.bitrix24.kz",
	}
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	require.Error(t, err)
	return httperror.GetStatusCode(err)
}

func TestVerifyAccepts(t *testing.T) {
	v := newTestVerifier()
	assert.NoError(t, v.Verify(freshPayload(), EventConfig{}))
}

func TestVerifyEventAllowList(t *testing.T) {
	v := newTestVerifier()
	cfg := EventConfig{AllowedEvents: []string{"ONCRMDEALADD"}}

	err := v.Verify(freshPayload(), cfg)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))

	cfg.AllowedEvents = []string{"ONCRMDEALADD", "ONCRMDEALUPDATE"}
	assert.NoError(t, v.Verify(freshPayload(), cfg))
}

func TestVerifyRejectsUnknownToken(t *testing.T) {
	v := newTestVerifier()

	payload := freshPayload()
	payload.ApplicationToken = ""
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, v.Verify(payload, EventConfig{})))

	payload = freshPayload()
	payload.ApplicationToken = "tok-unknown"
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, v.Verify(payload, EventConfig{})))
}

func TestVerifyRejectsDomainMismatch(t *testing.T) {
	v := newTestVerifier()

	payload := freshPayload()
	payload.Domain = "evil.example.com"
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, v.Verify(payload, EventConfig{})))
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	v := newTestVerifier()

	payload := freshPayload()
	payload.TS = verifyNow.Add(-6 * time.Minute).Unix()
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, v.Verify(payload, EventConfig{})))

	// Boundary: exactly max age still passes.
	payload.TS = verifyNow.Add(-5 * time.Minute).Unix()
	assert.NoError(t, v.Verify(payload, EventConfig{}))
}

func TestVerifyRejectsFutureTimestamp(t *testing.T) {
	v := newTestVerifier()

	payload := freshPayload()
	payload.TS = verifyNow.Add(time.Minute).Unix()
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, v.Verify(payload, EventConfig{})))
}
