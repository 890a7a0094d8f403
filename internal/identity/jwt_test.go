package identity

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/qrtrack/internal/models"
)

var (
	secretA = []byte("0123456789abcdef0123456789abcdef")
	secretB = []byte("fedcba9876543210fedcba9876543210")
)

func TestIssueAndAuthenticate(t *testing.T) {
	issuer, err := NewIssuer("qrtrack", secretA)
	require.NoError(t, err)
	verifier, err := NewVerifier("qrtrack", secretA)
	require.NoError(t, err)

	token, err := issuer.Issue(models.Principal{ID: "e1", Name: "Eve", Role: models.RoleEmployee}, time.Hour)
	require.NoError(t, err)

	p, err := verifier.Authenticate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, models.Principal{ID: "e1", Name: "Eve", Role: models.RoleEmployee}, p)
}

func TestAuthenticateRotation(t *testing.T) {
	oldIssuer, err := NewIssuer("qrtrack", secretA)
	require.NoError(t, err)
	newIssuer, err := NewIssuer("qrtrack", secretB)
	require.NoError(t, err)

	verifier, err := NewVerifier("qrtrack", secretB, secretA)
	require.NoError(t, err)

	for _, is := range []*Issuer{oldIssuer, newIssuer} {
		token, err := is.Issue(models.Principal{ID: "u1", Role: models.RoleUser}, 0)
		require.NoError(t, err)

		p, err := verifier.Authenticate(context.Background(), token)
		require.NoError(t, err)
		require.Equal(t, "u1", p.ID)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	verifier, err := NewVerifier("qrtrack", secretA)
	require.NoError(t, err)

	issue := func(t *testing.T, issuer string, secret []byte, p models.Principal, ttl time.Duration) string {
		t.Helper()
		is, err := NewIssuer(issuer, secret)
		require.NoError(t, err)
		token, err := is.Issue(p, ttl)
		require.NoError(t, err)
		return token
	}

	user := models.Principal{ID: "u1", Role: models.RoleUser}

	expired := func() string {
		is, err := NewIssuer("qrtrack", secretA)
		require.NoError(t, err)
		is.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, err := is.Issue(user, time.Hour)
		require.NoError(t, err)
		return token
	}()

	noKid := func() string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			Role: "user",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "qrtrack",
				Subject:   "u1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		signed, err := token.SignedString(secretA)
		require.NoError(t, err)
		return signed
	}()

	badRole := func() string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			Role: "root",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "qrtrack",
				Subject:   "u1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		token.Header["kid"] = KeyID(secretA)
		signed, err := token.SignedString(secretA)
		require.NoError(t, err)
		return signed
	}()

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-jwt"},
		{name: "empty", token: ""},
		{name: "unknown secret", token: issue(t, "qrtrack", secretB, user, time.Hour)},
		{name: "wrong issuer", token: issue(t, "someone-else", secretA, user, time.Hour)},
		{name: "expired", token: expired},
		{name: "missing kid", token: noKid},
		{name: "unknown role", token: badRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Authenticate(context.Background(), tt.token)
			require.ErrorIs(t, err, ErrAuthFailure)
		})
	}
}

func TestSecretsMustBeLongEnough(t *testing.T) {
	_, err := NewIssuer("qrtrack", []byte("short"))
	require.Error(t, err)

	_, err = NewVerifier("qrtrack", secretA, []byte("short"))
	require.Error(t, err)

	_, err = NewVerifier("qrtrack")
	require.Error(t, err)
}

func TestIssueValidatesPrincipal(t *testing.T) {
	is, err := NewIssuer("qrtrack", secretA)
	require.NoError(t, err)

	_, err = is.Issue(models.Principal{Role: models.RoleUser}, time.Hour)
	require.Error(t, err)

	_, err = is.Issue(models.Principal{ID: "u1", Role: "root"}, time.Hour)
	require.Error(t, err)
}

func TestKeyIDIsStable(t *testing.T) {
	require.Equal(t, KeyID(secretA), KeyID(secretA))
	require.NotEqual(t, KeyID(secretA), KeyID(secretB))
}

func TestAuthorize(t *testing.T) {
	require.True(t, Authorize(models.RoleUser))
	require.True(t, Authorize(models.RoleAdmin, models.RoleEmployee, models.RoleAdmin))
	require.False(t, Authorize(models.RoleUser, models.RoleEmployee, models.RoleAdmin))
	require.False(t, Authorize("root"))
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "Bearer abc", want: "abc", ok: true},
		{header: "bearer  abc ", want: "abc", ok: true},
		{header: "Basic abc", ok: false},
		{header: "Bearer", ok: false},
		{header: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(strings.ReplaceAll(tt.header, " ", "_"), func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, ok := BearerToken(r)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}
