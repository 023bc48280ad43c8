// Package magiclink issues signed, time-limited customer access tokens for quotations.
package magiclink

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("magic link: invalid token")
	ErrExpiredToken = errors.New("magic link: token expired")
)

const audience = "quote-access"

// Claims identify the quotation and the customer the link was sent to.
type Claims struct {
	QuotationID uuid.UUID `json:"qid"`
	Email       string    `json:"email"`
	jwtlib.RegisteredClaims
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewIssuer builds an HS256 issuer. The secret must be at least 32 bytes.
func NewIssuer(secret string, ttl time.Duration, issuer string) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("magic link: secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("magic link: ttl must be positive")
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, issuer: issuer, now: time.Now}, nil
}

// WithClock replaces the time source.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	cp := *i
	cp.now = now
	return &cp
}

// Issue signs a token for the quotation and returns it with its expiry.
func (i *Issuer) Issue(quotationID uuid.UUID, email string) (string, time.Time, error) {
	now := i.now()
	expires := now.Add(i.ttl)
	claims := Claims{
		QuotationID: quotationID,
		Email:       strings.ToLower(strings.TrimSpace(email)),
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   quotationID.String(),
			Audience:  jwtlib.ClaimStrings{audience},
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expires),
		},
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("magic link: sign: %w", err)
	}
	return token, expires.Truncate(time.Second), nil
}

// Verify checks the signature, audience and expiry of a token.
func (i *Issuer) Verify(token string) (Claims, error) {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithAudience(audience),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(i.issuer))
	}

	var claims Claims
	parsed, err := jwtlib.ParseWithClaims(token, &claims, func(*jwtlib.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.QuotationID == uuid.Nil {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
