package session

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/louisbranch/bliss/internal/platform/config"
	apperrors "github.com/louisbranch/bliss/internal/platform/errors"
)

// verifierEnv holds raw env values before post-parse validation.
type verifierEnv struct {
	Issuer    string `env:"BLISS_SESSION_ISSUER"`
	Audience  string `env:"BLISS_SESSION_AUDIENCE"`
	PublicKey string `env:"BLISS_SESSION_PUBLIC_KEY"`
}

// VerifierConfig defines how session tokens are verified.
type VerifierConfig struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// tokenClaims is the JWT payload of a session token.
type tokenClaims struct {
	jwt.RegisteredClaims
	EmailVerified bool `json:"email_verified"`
}

// LoadVerifierConfigFromEnv reads session verification configuration.
func LoadVerifierConfigFromEnv(now func() time.Time) (VerifierConfig, error) {
	var raw verifierEnv
	if err := config.ParseEnv(&raw); err != nil {
		return VerifierConfig{}, fmt.Errorf("parse session env: %w", err)
	}
	if err := config.RequireNonEmpty("BLISS_SESSION_ISSUER", raw.Issuer); err != nil {
		return VerifierConfig{}, err
	}
	if err := config.RequireNonEmpty("BLISS_SESSION_AUDIENCE", raw.Audience); err != nil {
		return VerifierConfig{}, err
	}
	if err := config.RequireNonEmpty("BLISS_SESSION_PUBLIC_KEY", raw.PublicKey); err != nil {
		return VerifierConfig{}, err
	}
	keyBytes, err := decodeBase64(strings.TrimSpace(raw.PublicKey))
	if err != nil {
		return VerifierConfig{}, fmt.Errorf("decode session public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return VerifierConfig{}, fmt.Errorf("session public key must be %d bytes", ed25519.PublicKeySize)
	}
	return VerifierConfig{
		Issuer:   strings.TrimSpace(raw.Issuer),
		Audience: strings.TrimSpace(raw.Audience),
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// Verifier checks EdDSA session tokens.
type Verifier struct {
	cfg VerifierConfig
}

// NewVerifier validates cfg.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PublicKeySize {
		return nil, errors.New("session verifier is not configured")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Verifier{cfg: cfg}, nil
}

// Verify parses token and returns the session it grants.
func (v *Verifier) Verify(token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, apperrors.New(apperrors.CodeUnauthenticated, "session token is required")
	}
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.cfg.Now),
	)
	if err != nil {
		return Session{}, mapJWTError(err)
	}
	uid := strings.TrimSpace(claims.Subject)
	if uid == "" {
		return Session{}, apperrors.New(apperrors.CodeUnauthenticated, "session subject is required")
	}
	return Session{UserID: uid, EmailVerified: claims.EmailVerified}, nil
}

// Issue signs a session token. It backs local tooling and tests; production
// tokens come from the identity provider.
func Issue(key ed25519.PrivateKey, issuer, audience string, s Session, now time.Time, ttl time.Duration) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", errors.New("session signing key is invalid")
	}
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   s.UserID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		EmailVerified: s.EmailVerified,
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "session token is expired", err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "session token was not issued for this service", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrEd25519Verification):
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "session token signature is invalid", err)
	default:
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "session token is invalid", err)
	}
}

func decodeBase64(value string) ([]byte, error) {
	if decoded, err := base64.RawStdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
