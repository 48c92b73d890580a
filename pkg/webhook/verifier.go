package webhook

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
)

// DefaultMaxAge bounds how stale a webhook timestamp may be.
const DefaultMaxAge = 5 * time.Minute

// Verifier validates webhook credentials: the application token must map to
// exactly the portal domain that sent the event, and the timestamp must be
// fresh.
type Verifier struct {
	tokenDomains map[string]string
	maxAge       time.Duration
	now          func() time.Time
}

// NewVerifier builds a verifier from a token-to-domain map.
func NewVerifier(tokenDomains map[string]string, maxAge time.Duration) *Verifier {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Verifier{
		tokenDomains: tokenDomains,
		maxAge:       maxAge,
		now:          time.Now,
	}
}

// SetClock replaces the time source.
func (v *Verifier) SetClock(now func() time.Time) {
	v.now = now
}

// EventConfig names the events one entity kind accepts.
type EventConfig struct {
	AllowedEvents []string
}

// Verify checks the payload against the event config. Validation problems
// are 400s, credential problems 401s.
func (v *Verifier) Verify(payload *Payload, cfg EventConfig) error {
	if len(cfg.AllowedEvents) > 0 {
		allowed := false
		for _, event := range cfg.AllowedEvents {
			if event == payload.Event {
				allowed = true
				break
			}
		}
		if !allowed {
			return httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("event %q is not accepted", payload.Event))
		}
	}

	if payload.ApplicationToken == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "missing application token")
	}
	domain, ok := v.tokenDomains[payload.ApplicationToken]
	if !ok {
		return httperror.NewHTTPError(http.StatusUnauthorized, "unknown application token")
	}
	if domain != payload.Domain {
		return httperror.NewHTTPError(http.StatusUnauthorized, "application token does not match portal domain")
	}

	age := v.now().Unix() - payload.TS
	if age < 0 {
		return httperror.NewHTTPError(http.StatusUnauthorized, "webhook timestamp is in the future")
	}
	if time.Duration(age)*time.Second > v.maxAge {
		return httperror.NewHTTPError(http.StatusUnauthorized, "webhook timestamp is too old")
	}

	return nil
}
