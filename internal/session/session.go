// Package session issues and verifies the signed bearer tokens that carry
// a principal between requests.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
)

// MinSecretLength is the shortest accepted HMAC secret.
const MinSecretLength = 32

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrExpiredToken = errors.New("session token expired")
)

// Claims binds a token to a user, the global role at issue time and the
// account version; a version bump revokes outstanding tokens.
type Claims struct {
	jwt.RegisteredClaims
	Role    string `json:"role"`
	Version int64  `json:"ver"`
}

// UserID returns the subject as a typed identifier.
func (c *Claims) UserID() ident.ID { return ident.ID(c.Subject) }

// Subject is what a token is issued for.
type Subject struct {
	UserID  ident.ID
	Role    string
	Version int64
}

// Token is a signed session token as handed to clients.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	return &Issuer{secret: []byte(cfg.Secret), issuer: cfg.Issuer, ttl: cfg.TTL, now: time.Now}, nil
}

// Issue signs a token for sub.
func (i *Issuer) Issue(sub Subject) (Token, error) {
	if sub.UserID.IsZero() {
		return Token{}, errors.New("session subject required")
	}
	now := i.now()
	exp := now.Add(i.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   sub.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ident.New().String(),
		},
		Role:    sub.Role,
		Version: sub.Version,
	})
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign session: %w", err)
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

// Verify parses raw and returns its claims.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
