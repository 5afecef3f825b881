package middleware

import (
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
    t.Helper()
    tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
    s, err := tok.SignedString([]byte(secret))
    require.NoError(t, err)
    return s
}

func runIdentity(t *testing.T, authHeader string) (*httptest.ResponseRecorder, string) {
    t.Helper()
    e := echo.New()
    req := httptest.NewRequest(http.MethodGet, "/", nil)
    if authHeader != "" {
        req.Header.Set("Authorization", authHeader)
    }
    rec := httptest.NewRecorder()
    c := e.NewContext(req, rec)

    var seen string
    next := func(c echo.Context) error {
        seen = CurrentUsername(c)
        return c.NoContent(http.StatusOK)
    }
    err := Identity(testSecret)(next)(c)
    require.NoError(t, err)
    return rec, seen
}

func TestIdentityValidToken(t *testing.T) {
    tok := signToken(t, testSecret, jwt.MapClaims{
        "sub": "alice",
        "exp": time.Now().Add(time.Hour).Unix(),
    })
    rec, seen := runIdentity(t, "Bearer "+tok)
    assert.Equal(t, http.StatusOK, rec.Code)
    assert.Equal(t, "alice", seen)
}

func TestIdentityMissingHeader(t *testing.T) {
    rec, seen := runIdentity(t, "")
    assert.Equal(t, http.StatusUnauthorized, rec.Code)
    assert.Empty(t, seen)
}

func TestIdentityWrongSecret(t *testing.T) {
    tok := signToken(t, "other-secret", jwt.MapClaims{"sub": "alice"})
    rec, _ := runIdentity(t, "Bearer "+tok)
    assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdentityExpiredToken(t *testing.T) {
    tok := signToken(t, testSecret, jwt.MapClaims{
        "sub": "alice",
        "exp": time.Now().Add(-time.Hour).Unix(),
    })
    rec, _ := runIdentity(t, "Bearer "+tok)
    assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdentityMissingSubject(t *testing.T) {
    tok := signToken(t, testSecret, jwt.MapClaims{
        "exp": time.Now().Add(time.Hour).Unix(),
    })
    rec, _ := runIdentity(t, "Bearer "+tok)
    assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
