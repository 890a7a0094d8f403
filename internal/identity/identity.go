// Package identity resolves bearer credentials into principals and answers
// role checks. It holds no user records; tokens are minted by whoever owns
// the signing secret.
package identity

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/wolfeidau/qrtrack/internal/models"
)

// ErrAuthFailure is returned for any credential that cannot be trusted.
// The cause is logged, never returned to the caller.
var ErrAuthFailure = errors.New("authentication failed")

// Authenticator turns raw credentials into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, credentials string) (models.Principal, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, credentials string) (models.Principal, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, credentials string) (models.Principal, error) {
	return f(ctx, credentials)
}

// Authorize reports whether role is one of required. An empty required list
// admits any known role.
func Authorize(role models.Role, required ...models.Role) bool {
	if _, err := models.ParseRole(string(role)); err != nil {
		return false
	}
	if len(required) == 0 {
		return true
	}
	return slices.Contains(required, role)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
