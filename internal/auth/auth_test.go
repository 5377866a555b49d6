package auth

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	s := NewService("secret", time.Hour)
	s.RegisterAPICredentials(TestAPIKey, TestAPISecret)
	s.RegisterAPICredentials(TestInternalKey, TestInternalSecret, "internal")

	token, err := s.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: TestAPISecret})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), token.Expiration, 5*time.Second)

	claims, err := s.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, TestAPIKey, claims.UserID)
	assert.Equal(t, []string{"trade"}, claims.Permissions)

	token, err = s.GenerateToken(Credentials{APIKey: TestInternalKey, APISecret: TestInternalSecret})
	require.NoError(t, err)
	claims, err = s.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{"trade", "internal"}, claims.Permissions)
}

func TestGenerateTokenRejectsBadCredentials(t *testing.T) {
	s := NewService("secret", time.Hour)
	s.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	_, err := s.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: "nope"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.GenerateToken(Credentials{APIKey: "unknown", APISecret: TestAPISecret})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	issuer := NewService("other-secret", time.Hour)
	issuer.RegisterAPICredentials(TestAPIKey, TestAPISecret)
	token, err := issuer.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: TestAPISecret})
	require.NoError(t, err)

	_, err = NewService("secret", time.Hour).ValidateToken(token.Token)
	assert.Error(t, err)
}

func TestGenerateTokenHandler(t *testing.T) {
	s := NewService("secret", time.Hour)
	s.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/v1/auth/token", NewGinHandlers(s).GenerateTokenHandler())

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	w := post(`{"api_key":"test-api-key","api_secret":"test-api-secret"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "jwt_token")

	w = post(`{"api_key":"test-api-key","api_secret":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(`not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
