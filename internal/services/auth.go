package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yungbote/neuroscout-backend/internal/platform/ctxutil"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

// TokenVerifier checks HS256 bearer tokens signed with JWT_SECRET_KEY.
type TokenVerifier interface {
	// SetContextFromToken returns ctx carrying the token subject.
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	Issue(subject string, ttl time.Duration) (string, error)
}

type tokenVerifier struct {
	log    *logger.Logger
	secret []byte
}

func NewTokenVerifier(baseLog *logger.Logger, secret string) (TokenVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("missing JWT_SECRET_KEY")
	}
	return &tokenVerifier{log: baseLog.With("service", "TokenVerifier"), secret: []byte(secret)}, nil
}

func (v *tokenVerifier) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return ctx, ErrUnauthorized
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(30*time.Second))
	if err != nil {
		return ctx, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid || claims.Subject == "" {
		return ctx, ErrUnauthorized
	}
	return ctxutil.WithSubject(ctx, claims.Subject), nil
}

func (v *tokenVerifier) Issue(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("missing subject")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
