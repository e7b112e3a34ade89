package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-rooms/internal/presence"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newAuthenticator(t *testing.T) *JWTAuthenticator {
	t.Helper()
	a, err := NewJWTAuthenticator(testSecret, time.Hour)
	require.NoError(t, err)
	return a
}

func TestRejectsShortSecret(t *testing.T) {
	_, err := NewJWTAuthenticator("short", time.Hour)
	require.Error(t, err)
}

func TestAuthenticateTokenSources(t *testing.T) {
	a := newAuthenticator(t)
	alice := presence.Identity{ID: 42, Username: "alice"}
	token, err := a.IssueToken(alice)
	require.NoError(t, err)

	header := httptest.NewRequest(http.MethodGet, "/ws/presence", nil)
	header.Header.Set("Authorization", "Bearer "+token)

	cookie := httptest.NewRequest(http.MethodGet, "/ws/presence", nil)
	cookie.AddCookie(&http.Cookie{Name: CookieName, Value: token})

	query := httptest.NewRequest(http.MethodGet, "/ws/presence?token="+token, nil)

	for name, r := range map[string]*http.Request{"header": header, "cookie": cookie, "query": query} {
		t.Run(name, func(t *testing.T) {
			got, err := a.Authenticate(r)
			require.NoError(t, err)
			require.Equal(t, alice, got)
		})
	}
}

func TestAuthenticateRejects(t *testing.T) {
	a := newAuthenticator(t)

	_, err := a.Authenticate(httptest.NewRequest(http.MethodGet, "/ws/presence", nil))
	require.ErrorIs(t, err, ErrUnauthenticated)

	other, err := NewJWTAuthenticator("ffffffffffffffffffffffffffffffff", time.Hour)
	require.NoError(t, err)
	forged, err := other.IssueToken(presence.Identity{ID: 1, Username: "mallory"})
	require.NoError(t, err)
	_, err = a.Validate(forged)
	require.ErrorIs(t, err, ErrUnauthenticated)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	raw, err := expired.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = a.Validate(raw)
	require.ErrorIs(t, err, ErrUnauthenticated)

	badSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username:         "alice",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	})
	raw, err = badSubject.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = a.Validate(raw)
	require.ErrorIs(t, err, ErrUnauthenticated)
}
