package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/pkg/models"
)

func TestIssueAndValidateToken(t *testing.T) {
	ts := NewTokenService("test-secret", time.Hour)

	token, err := ts.IssueToken(&models.User{ID: 42, Email: "a@b.test"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", token.TokenType)

	claims, err := ts.ValidateToken(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "a@b.test", claims.Email)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := NewTokenService("secret-a", time.Hour).IssueToken(&models.User{ID: 1, Email: "a@b.test"})
	require.NoError(t, err)

	_, err = NewTokenService("secret-b", time.Hour).ValidateToken(token.AccessToken)
	require.Error(t, err)
}

func TestValidateTokenExpired(t *testing.T) {
	ts := NewTokenService("test-secret", -time.Minute)
	token, err := ts.IssueToken(&models.User{ID: 1, Email: "a@b.test"})
	require.NoError(t, err)

	_, err = ts.ValidateToken(token.AccessToken)
	require.Error(t, err)
}

func TestRequireAuthMiddleware(t *testing.T) {
	ts := NewTokenService("test-secret", time.Hour)
	token, err := ts.IssueToken(&models.User{ID: 7, Email: "a@b.test"})
	require.NoError(t, err)

	e := echo.New()
	handler := RequireAuth(ts)(func(c echo.Context) error {
		identity := GetIdentity(c)
		require.NotNil(t, identity)
		assert.Equal(t, int64(7), identity.UserID)
		return c.NoContent(http.StatusOK)
	})

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"valid token", "Bearer " + token.AccessToken, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", token.AccessToken, http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := handler(c)
			if tt.wantStatus == http.StatusOK {
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, rec.Code)
			} else {
				var httpErr *echo.HTTPError
				require.ErrorAs(t, err, &httpErr)
				assert.Equal(t, tt.wantStatus, httpErr.Code)
			}
		})
	}
}
