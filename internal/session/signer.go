// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package session issues and verifies stateless bearer session credentials.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// MinSecretLen is the shortest accepted HMAC signing key.
const MinSecretLen = 32

// Config configures a Signer.
type Config struct {
	// Secret is the HMAC key. Replacing it invalidates every issued session.
	Secret []byte
	// TTL bounds session lifetime. Zero issues credentials without expiry.
	TTL time.Duration
	// Issuer is written to and required in the iss claim when non-empty.
	Issuer string
	// Now replaces time.Now when set.
	Now func() time.Time
}

// Claims is the JWT payload of a session credential.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Signer implements auth.SessionSigner with HS256 JWTs.
type Signer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(cfg Config) (*Signer, error) {
	if len(cfg.Secret) < MinSecretLen {
		return nil, oops.Code("SESSION_INVALID_CONFIG").
			With("min_length", MinSecretLen).
			Errorf("session secret too short")
	}
	if cfg.TTL < 0 {
		return nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("session ttl cannot be negative")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	return &Signer{
		secret: secret,
		ttl:    cfg.TTL,
		issuer: cfg.Issuer,
		now:    now,
	}, nil
}

// Issue signs a credential asserting identity.
func (s *Signer) Issue(identity auth.Identity) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: identity.AccountID.String(),
		Email:  identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  identity.AccountID.String(),
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", oops.Code("SESSION_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Verify returns the identity asserted by token. Every failure, whatever its
// cause, is reported with the same INVALID_CREDENTIAL code.
func (s *Signer) Verify(token string) (auth.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.ttl > 0 {
		opts = append(opts, jwt.WithExpirationRequired())
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return auth.Identity{}, invalid(err)
	}

	id, err := ulid.Parse(claims.UserID)
	if err != nil {
		return auth.Identity{}, invalid(err)
	}
	if claims.Subject != "" && claims.Subject != claims.UserID {
		return auth.Identity{}, invalid(nil)
	}

	return auth.Identity{AccountID: id, Email: claims.Email}, nil
}

func invalid(cause error) error {
	builder := oops.Code(auth.CodeInvalidCredential)
	if cause == nil {
		return builder.Errorf("invalid session credential")
	}
	return builder.Wrapf(cause, "invalid session credential")
}

// Compile-time interface check.
var _ auth.SessionSigner = (*Signer)(nil)
