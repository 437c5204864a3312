package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/healtrack/healtrack/internal/domain/identity"
)

var (
	ErrNoAuthorizationHeader = errors.New("no authorization header")
	ErrInvalidCredentials    = errors.New("invalid credentials")
)

// Claims are the bearer token claims. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// UserLookup is the part of the directory the resolver needs.
type UserLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

// Resolver turns an Authorization header value into a directory user. The
// REST middleware and the socket router share it so both channels accept the
// same tokens.
type Resolver struct {
	signingKey []byte
	issuer     string
	users      UserLookup
}

func NewResolver(signingKey []byte, issuer string, users UserLookup) *Resolver {
	return &Resolver{signingKey: signingKey, issuer: issuer, users: users}
}

// Resolve expects "Bearer <token>". An empty header yields
// ErrNoAuthorizationHeader; anything else that does not end in a known user
// yields ErrInvalidCredentials.
func (r *Resolver) Resolve(ctx context.Context, header string) (*identity.User, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrNoAuthorizationHeader
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return nil, ErrInvalidCredentials
	}

	claims, err := r.parse(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	u, err := r.users.GetUser(ctx, id)
	if errors.Is(err, identity.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	return u, nil
}

func (r *Resolver) parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return r.signingKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}
