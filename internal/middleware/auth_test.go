package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atelier/internal/telemetry"
)

func newRouter(verifier *TokenVerifier, allowQuery bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), AuthMiddleware(verifier, allowQuery))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":    UserID(c),
			"request_id": telemetry.RequestIDFromContext(c.Request.Context()),
		})
	})
	return r
}

func TestAuthMiddlewareAcceptsBearerToken(t *testing.T) {
	verifier := NewTokenVerifier("secret")
	token, err := verifier.IssueToken("user-1", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	newRouter(verifier, false).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"user-1","request_id":"req-42"}`, w.Body.String())
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
}

func TestAuthMiddlewareRejects(t *testing.T) {
	verifier := NewTokenVerifier("secret")
	expired := NewTokenVerifier("secret")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.IssueToken("user-1", time.Hour)
	require.NoError(t, err)
	foreign, err := NewTokenVerifier("other").IssueToken("user-1", time.Hour)
	require.NoError(t, err)

	cases := map[string]string{
		"missing":      "",
		"wrong scheme": "Basic abc",
		"garbage":      "Bearer not-a-jwt",
		"expired":      "Bearer " + old,
		"wrong secret": "Bearer " + foreign,
		"empty bearer": "Bearer ",
	}
	router := newRouter(verifier, false)
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAuthMiddlewareQueryToken(t *testing.T) {
	verifier := NewTokenVerifier("secret")
	token, err := verifier.IssueToken("user-2", time.Hour)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	newRouter(verifier, true).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token="+token, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	newRouter(verifier, false).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token="+token, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestValidateTokenUserIDClaim(t *testing.T) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "user-3",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	id, err := NewTokenVerifier("secret").ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-3", id)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = NewTokenVerifier("secret").ValidateToken(noUser)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequestIDGenerated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDKey)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))
}
