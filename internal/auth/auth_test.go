package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService(Config{Secret: "test-secret"})

	token, err := svc.GenerateToken("ops@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "ops@example.com", claims.Subject)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewService(Config{Secret: "secret-a"})
	verifier := NewService(Config{Secret: "secret-b"})

	token, err := issuer.GenerateToken("ops")
	require.NoError(t, err)

	_, err = verifier.VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	svc := NewService(Config{Secret: "test-secret", TokenTTL: -time.Hour})

	token, err := svc.GenerateToken("ops")
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.Error(t, err)
}

func TestGenerateTokenRequiresSecret(t *testing.T) {
	svc := NewService(Config{})
	_, err := svc.GenerateToken("ops")
	assert.Error(t, err)
}

func adminRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/profiles", svc.AdminMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	return router
}

func TestAdminMiddleware(t *testing.T) {
	svc := NewService(Config{Secret: "test-secret"})
	router := adminRouter(svc)

	t.Run("missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/profiles", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/profiles", nil)
		req.Header.Set("Authorization", "Basic abc123")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := svc.GenerateToken("ops")
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/profiles", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("disabled guard passes through", func(t *testing.T) {
		open := adminRouter(NewService(Config{}))
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/profiles", nil)
		open.ServeHTTP(w, req)
		assert.Equal(t, http.StatusCreated, w.Code)
	})
}
