package identity

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/qrtrack/internal/models"
)

// MinSecretLength is the shortest HMAC secret accepted for signing.
const MinSecretLength = 32

// DefaultTokenTTL is used by Issue when no ttl is given.
const DefaultTokenTTL = 24 * time.Hour

// Claims carried by qrtrack access tokens.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// KeyID returns the base58 SHA256 fingerprint of a signing secret, used as
// the token kid so verifiers can hold several secrets during rotation.
func KeyID(secret []byte) string {
	hash := sha256.Sum256(secret)
	return base58.Encode(hash[:])
}

func checkSecret(secret []byte) error {
	if len(secret) < MinSecretLength {
		return fmt.Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	return nil
}

var _ Authenticator = (*Verifier)(nil)

// Verifier validates HS256 tokens signed with any of its secrets.
type Verifier struct {
	issuer string
	keys   map[string][]byte // kid -> secret
	now    func() time.Time
}

// NewVerifier creates a verifier for tokens from issuer.
func NewVerifier(issuer string, secrets ...[]byte) (*Verifier, error) {
	if issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(secrets) == 0 {
		return nil, errors.New("at least one signing secret is required")
	}

	keys := make(map[string][]byte, len(secrets))
	for _, secret := range secrets {
		if err := checkSecret(secret); err != nil {
			return nil, err
		}
		keys[KeyID(secret)] = secret
	}

	return &Verifier{issuer: issuer, keys: keys, now: time.Now}, nil
}

// Authenticate verifies the token and returns the principal it names.
func (v *Verifier) Authenticate(_ context.Context, credentials string) (models.Principal, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(credentials, claims, v.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		log.Debug().Err(err).Msg("JWT verification failed")
		return models.Principal{}, ErrAuthFailure
	}

	if claims.Subject == "" {
		log.Debug().Msg("JWT missing subject")
		return models.Principal{}, ErrAuthFailure
	}

	role, err := models.ParseRole(claims.Role)
	if err != nil {
		log.Debug().Err(err).Str("sub", claims.Subject).Msg("JWT carries unknown role")
		return models.Principal{}, ErrAuthFailure
	}

	return models.Principal{ID: claims.Subject, Name: claims.Name, Role: role}, nil
}

func (v *Verifier) keyFunc(t *jwt.Token) (any, error) {
	kid, ok := t.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, errors.New("missing kid")
	}
	secret, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return secret, nil
}

// Issuer mints HS256 access tokens.
type Issuer struct {
	issuer string
	secret []byte
	kid    string
	now    func() time.Time
}

// NewIssuer creates an issuer signing with secret.
func NewIssuer(issuer string, secret []byte) (*Issuer, error) {
	if issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if err := checkSecret(secret); err != nil {
		return nil, err
	}
	return &Issuer{issuer: issuer, secret: secret, kid: KeyID(secret), now: time.Now}, nil
}

// Issue signs a token for p valid for ttl (DefaultTokenTTL when zero).
func (i *Issuer) Issue(p models.Principal, ttl time.Duration) (string, error) {
	if p.ID == "" {
		return "", errors.New("principal id is required")
	}
	if _, err := models.ParseRole(string(p.Role)); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := i.now()
	claims := Claims{
		Name: p.Name,
		Role: p.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.Must(uuid.NewV7()).String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = i.kid

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
