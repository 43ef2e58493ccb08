package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-booking/internal/auth"
)

const testSecret = "unit-test-secret"

func signed(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestExtractTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := auth.ExtractTokenFromRequest(req)
	assert.Error(t, err)

	req.Header.Set("Authorization", "Basic abc123")
	_, err = auth.ExtractTokenFromRequest(req)
	assert.Error(t, err)

	req.Header.Set("Authorization", "Bearer some-token")
	token, err := auth.ExtractTokenFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "some-token", token)
}

func TestExtractRequesterIDRoundTrip(t *testing.T) {
	token := signed(t, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, testSecret)

	sub, err := auth.ExtractRequesterID(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "user-42", sub)
}

func TestExtractRequesterIDRejectsBadTokens(t *testing.T) {
	// Wrong secret.
	token := signed(t, jwt.MapClaims{"sub": "user-42"}, "other-secret")
	_, err := auth.ExtractRequesterID(token, testSecret)
	assert.Error(t, err)

	// Expired.
	token = signed(t, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}, testSecret)
	_, err = auth.ExtractRequesterID(token, testSecret)
	assert.Error(t, err)

	// No subject.
	token = signed(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}, testSecret)
	_, err = auth.ExtractRequesterID(token, testSecret)
	assert.Error(t, err)

	_, err = auth.ExtractRequesterID("not-a-token", testSecret)
	assert.Error(t, err)
}
