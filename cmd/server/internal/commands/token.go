package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/wolfeidau/tenancy/internal/auth"
	"github.com/wolfeidau/tenancy/internal/models"
)

// TokenCmd mints a bearer token for local development.
type TokenCmd struct {
	Principal  string        `help:"principal id (sub claim)" required:""`
	Email      string        `help:"principal email"`
	Name       string        `help:"principal display name"`
	SigningKey string        `help:"PEM encoded ES256 private key" env:"TENANCY_JWT_SIGNING_KEY"`
	Issuer     string        `help:"token issuer" default:"tenancy" env:"TENANCY_JWT_ISSUER"`
	TTL        time.Duration `help:"token lifetime" default:"1h"`
}

func (c *TokenCmd) Validate() error {
	if c.SigningKey == "" {
		return errors.New("signing key is required (--signing-key or TENANCY_JWT_SIGNING_KEY)")
	}
	return nil
}

func (c *TokenCmd) Run(globals *Globals) error {
	token, err := auth.IssueToken(c.SigningKey, c.Issuer, models.Principal{
		ID:          c.Principal,
		Email:       c.Email,
		DisplayName: c.Name,
	}, c.TTL)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	_, err = fmt.Fprintln(os.Stdout, token)
	return err
}

// KeygenCmd prints a new signing key pair.
type KeygenCmd struct{}

func (c *KeygenCmd) Run(globals *Globals) error {
	privateKeyPEM, publicKeyPEM, err := auth.GenerateKeyPair()
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(os.Stdout, "%s\n%s", privateKeyPEM, publicKeyPEM)
	return err
}
