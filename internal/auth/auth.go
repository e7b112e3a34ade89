// Package auth resolves the identity behind an inbound websocket request.
// Sessions and logins live elsewhere; this package only validates the HS256
// token they issue.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/gochat-rooms/internal/presence"
)

// ErrUnauthenticated is returned when a request carries no valid token.
var ErrUnauthenticated = errors.New("unauthenticated")

// CookieName is the session cookie checked when no bearer token is present.
const CookieName = "chat_token"

// Authenticator turns a request into an identity.
type Authenticator interface {
	Authenticate(r *http.Request) (presence.Identity, error)
}

// Claims are the token claims: the subject is the numeric user id.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 tokens signed with a shared secret.
type JWTAuthenticator struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTAuthenticator returns an authenticator for secret. ttl only applies
// to tokens issued by IssueToken.
func NewJWTAuthenticator(secret string, ttl time.Duration) (*JWTAuthenticator, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("jwt secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTAuthenticator{secret: []byte(secret), ttl: ttl}, nil
}

// IssueToken signs a token for id.
func (a *JWTAuthenticator) IssueToken(id presence.Identity) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authenticate implements Authenticator. The token is read from the
// Authorization bearer header, then the chat_token cookie, then the token
// query parameter (browsers cannot set headers on websocket handshakes).
func (a *JWTAuthenticator) Authenticate(r *http.Request) (presence.Identity, error) {
	raw := tokenFromRequest(r)
	if raw == "" {
		return presence.Identity{}, ErrUnauthenticated
	}
	return a.Validate(raw)
}

// Validate parses and verifies a raw token.
func (a *JWTAuthenticator) Validate(raw string) (presence.Identity, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return presence.Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return presence.Identity{}, fmt.Errorf("%w: invalid claims", ErrUnauthenticated)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 || claims.Username == "" {
		return presence.Identity{}, fmt.Errorf("%w: invalid subject", ErrUnauthenticated)
	}
	return presence.Identity{ID: id, Username: claims.Username}, nil
}

func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}
