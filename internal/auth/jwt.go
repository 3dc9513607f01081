package auth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/tenancy/internal/models"
)

// DefaultIssuer is the iss claim expected when none is configured.
const DefaultIssuer = "tenancy"

// Claims are the token claims mapped onto a models.Principal.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

type contextKey int

const (
	principalContextKey contextKey = iota
)

// PrincipalFromContext returns the authenticated principal, or false for an
// unauthenticated request.
func PrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(models.Principal)
	return principal, ok
}

// WithPrincipal returns a context carrying principal.
func WithPrincipal(ctx context.Context, principal models.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// Verifier validates ES256 bearer tokens issued upstream.
type Verifier struct {
	publicKey *ecdsa.PublicKey
	issuer    string
	leeway    time.Duration
}

// NewVerifierFromPEM creates a Verifier for tokens signed by the private half
// of publicKeyPEM. An empty issuer uses DefaultIssuer.
func NewVerifierFromPEM(publicKeyPEM, issuer string) (*Verifier, error) {
	if publicKeyPEM == "" {
		return nil, errors.New("JWT public key not provided")
	}

	publicKey, err := jwt.ParseECPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, err
	}

	if issuer == "" {
		issuer = DefaultIssuer
	}

	return &Verifier{publicKey: publicKey, issuer: issuer, leeway: 30 * time.Second}, nil
}

// Verify parses tokenString and returns the principal it names.
func (v *Verifier) Verify(tokenString string) (models.Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.publicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return models.Principal{}, fmt.Errorf("invalid token: %w", err)
	}

	if claims.Subject == "" {
		return models.Principal{}, errors.New("invalid token: missing subject")
	}

	return models.Principal{
		ID:          claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
	}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// principal in the request context.
func (v *Verifier) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractBearerToken(r)
			if tokenString == "" {
				log.Debug().Msg("Missing Authorization header")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			principal, err := v.Verify(tokenString)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to verify JWT")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// extractBearerToken extracts the JWT from the Authorization header.
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}
