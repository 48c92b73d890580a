package bitrix

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthRequired means no usable grant exists; the caller must walk the
	// authorization URL flow.
	ErrAuthRequired = errors.New("bitrix authentication required")
	// ErrNotFound is the normalized form of the portal's assorted "not found"
	// answers.
	ErrNotFound = errors.New("bitrix entity not found")
)

// AuthError carries the authorization URL alongside ErrAuthRequired so the
// boundary can tell an operator where to go.
type AuthError struct {
	AuthorizeURL string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authorize at %s", ErrAuthRequired, e.AuthorizeURL)
}

func (e *AuthError) Unwrap() error {
	return ErrAuthRequired
}

// APIError is any non-auth failure answered by the portal.
type APIError struct {
	Status      int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bitrix api error (status %d, code %q): %s", e.Status, e.Code, e.Description)
}

// IsNotFound reports whether err represents a missing entity. The portal is
// not consistent here: item methods answer NOT_FOUND, classic CRM methods
// answer a free-text description.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Status == 404 {
		return true
	}
	code := strings.ToUpper(apiErr.Code)
	if code == "NOT_FOUND" || code == "ERROR_NOT_FOUND" {
		return true
	}
	return strings.Contains(strings.ToLower(apiErr.Description), "not found")
}

// isTokenError reports whether the portal invalidated the current access
// token. Both codes are answered by otherwise-successful HTTP responses.
func isTokenError(code string) bool {
	return code == "expired_token" || code == "invalid_token"
}
