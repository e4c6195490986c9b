// Package auth verifies the identity of chat users before a session exists.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized matches every authentication failure.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Credentials are what a client presents when connecting. Username is
// optional; when present it must name the token's subject.
type Credentials struct {
	Token    string
	Username string
}

// Authenticator resolves credentials to a verified user id.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (string, error)
}

// Error explains why credentials were refused.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "auth: " + e.Reason + ": " + e.Err.Error()
	}
	return "auth: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrUnauthorized }

// JWTAuthenticator accepts HMAC-signed JWTs whose subject is the user id.
type JWTAuthenticator struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTAuthenticator(secret string) (*JWTAuthenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &JWTAuthenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, creds Credentials) (string, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(creds.Token), "Bearer "))
	if raw == "" {
		return "", &Error{Reason: "missing token"}
	}
	claims := jwt.RegisteredClaims{}
	token, err := a.parser.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", &Error{Reason: "token expired", Err: err}
		}
		return "", &Error{Reason: "invalid token", Err: err}
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", &Error{Reason: "token has no subject"}
	}
	if username := strings.TrimSpace(creds.Username); username != "" && username != subject {
		return "", &Error{Reason: "username does not match token"}
	}
	return subject, nil
}

type contextKey string

const userIDKey contextKey = "userID"

// WithUserID stores a verified user id in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the verified user id placed by the auth
// middleware.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}
