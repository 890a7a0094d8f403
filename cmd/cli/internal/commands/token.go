package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfeidau/qrtrack/internal/identity"
	"github.com/wolfeidau/qrtrack/internal/models"
)

type TokenCmd struct {
	Subject    string        `help:"Subject identifier" required:""`
	Name       string        `help:"Display name recorded against history" default:""`
	Role       string        `help:"Role granted by the token" default:"user" enum:"user,employee,admin"`
	TTL        time.Duration `help:"Token lifetime" default:"24h"`
	Issuer     string        `help:"Token issuer, must match the server" default:"qrtrack" env:"QRTRACK_JWT_ISSUER"`
	SigningKey string        `help:"JWT signing key" required:"" env:"QRTRACK_JWT_SECRET"`
}

func (t *TokenCmd) Run(ctx context.Context) error {
	issuer, err := identity.NewIssuer(t.Issuer, []byte(t.SigningKey))
	if err != nil {
		return err
	}

	token, err := issuer.Issue(models.Principal{ID: t.Subject, Name: t.Name, Role: models.Role(t.Role)}, t.TTL)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
