package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfeidau/tenancy/internal/models"
)

// IssueToken creates a signed ES256 token for principal.
// signingKeyPEM is the PEM-encoded ECDSA private key.
func IssueToken(signingKeyPEM, issuer string, principal models.Principal, ttl time.Duration) (string, error) {
	signingKey, err := jwt.ParseECPrivateKeyFromPEM([]byte(signingKeyPEM))
	if err != nil {
		return "", err
	}

	if issuer == "" {
		issuer = DefaultIssuer
	}

	now := time.Now()
	claims := &Claims{
		Email: principal.Email,
		Name:  principal.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	return token.SignedString(signingKey)
}
