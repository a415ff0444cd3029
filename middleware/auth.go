package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lms-realtime/models"
)

var ErrTokenUnusable = errors.New("token is malformed or expired")

// Claims mirrors what the platform API puts in its bearer tokens.
type Claims struct {
	UserID models.ID `json:"user_id"`
	Name   string    `json:"name"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

var nowFunc = time.Now // mockable

// ParseToken reads the claims of a bearer token without verifying its
// signature; the client never holds the signing key. It only decides whether
// the token is worth sending at all.
func ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, ErrTokenUnusable
	}
	if claims.UserID == "" {
		if claims.Subject == "" {
			return nil, ErrTokenUnusable
		}
		claims.UserID = models.ID(claims.Subject)
	}
	if claims.ExpiresAt != nil && !nowFunc().Before(claims.ExpiresAt.Time) {
		return nil, ErrTokenUnusable
	}
	return claims, nil
}

// TokenSource supplies the current credential and is told when the server
// rejected it.
type TokenSource interface {
	Token() string
	Invalidate()
}

// BearerTransport attaches the session's bearer token to every request. A 401
// response clears the session; the request is not retried.
type BearerTransport struct {
	Source TokenSource
	Base   http.RoundTripper
}

func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	token := t.Source.Token()
	if token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		t.Source.Invalidate()
	}
	return resp, nil
}
