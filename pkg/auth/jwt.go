package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mahaj/pulse/pkg/errs"
)

const DefaultTTL = 24 * time.Hour

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type contextKey string

const UserKey contextKey = "user"

// Authenticator issues and checks HS256 tokens signed with one shared secret.
type Authenticator struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func New(secret string, ttl time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret: %w", errs.ErrInvalidArgument)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Authenticator{key: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// GenerateToken creates a new JWT token for a given user ID
func (a *Authenticator) GenerateToken(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("generate token: empty user id: %w", errs.ErrInvalidArgument)
	}
	now := a.now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.key)
}

// ValidateToken parses and validates a JWT token
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return a.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrUnauthorized, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("%w: %w", errs.ErrUnauthorized, errors.New("invalid token"))
	}

	return claims, nil
}

// Authenticate implements transport.Authenticator.
func (a *Authenticator) Authenticate(token string) (string, error) {
	claims, err := a.ValidateToken(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, UserKey, claims)
}

func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserKey).(*Claims)
	return claims, ok
}
