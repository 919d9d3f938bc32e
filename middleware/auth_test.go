package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthRouter(admins ...uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	InitAuth("test-secret")
	r := gin.New()
	r.Use(AuthMiddleware())
	r.GET("/me", func(c *gin.Context) {
		userID, _ := GetUserID(c)
		c.String(http.StatusOK, userID.String())
	})
	r.GET("/admin", AdminMiddleware(admins), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func get(r *gin.Engine, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := newAuthRouter()
	userID := uuid.New()
	token, err := GenerateToken(userID, time.Hour)
	require.NoError(t, err)

	w := get(r, "/me", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID.String(), w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", "Token "+token).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", "Bearer garbage").Code)

	expired, err := GenerateToken(userID, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", "Bearer "+expired).Code)
}

func TestValidateToken_RejectsOtherSecret(t *testing.T) {
	InitAuth("test-secret")
	claims := Claims{UserID: uuid.New()}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other"))
	require.NoError(t, err)

	_, err = ValidateToken(forged)
	assert.Error(t, err)
}

func TestAdminMiddleware(t *testing.T) {
	admin, user := uuid.New(), uuid.New()
	r := newAuthRouter(admin)

	adminToken, err := GenerateToken(admin, time.Hour)
	require.NoError(t, err)
	userToken, err := GenerateToken(user, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, get(r, "/admin", "Bearer "+adminToken).Code)
	assert.Equal(t, http.StatusForbidden, get(r, "/admin", "Bearer "+userToken).Code)
}
