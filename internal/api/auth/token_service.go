package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relaychat/pkg/models"
)

// TokenService issues and validates the JWT session tokens used by every
// authenticated endpoint.
type TokenService struct {
	secretKey []byte
	tokenTTL  time.Duration
}

// JWTClaims represents the claims in our JWT tokens
type JWTClaims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenResponse is returned by login and register.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	TokenType   string    `json:"token_type"` // "Bearer"
}

// NewTokenService creates a new token service. A zero TTL selects the
// default lifetime; a negative TTL is honored as-is and issues tokens
// that are already expired.
func NewTokenService(secretKey string, tokenTTL time.Duration) *TokenService {
	if tokenTTL == 0 {
		tokenTTL = 72 * time.Hour
	}
	return &TokenService{
		secretKey: []byte(secretKey),
		tokenTTL:  tokenTTL,
	}
}

// IssueToken creates a signed session token for a user.
func (ts *TokenService) IssueToken(user *models.User) (*TokenResponse, error) {
	expiresAt := time.Now().Add(ts.tokenTTL)

	claims := &JWTClaims{
		UserID: user.ID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "relaychat",
			Subject:   fmt.Sprintf("user_%d", user.ID),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	jwtString, err := token.SignedString(ts.secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign JWT: %w", err)
	}

	return &TokenResponse{
		AccessToken: jwtString,
		ExpiresAt:   expiresAt,
		TokenType:   "Bearer",
	}, nil
}

// ValidateToken parses and validates a session token, returning its claims.
func (ts *TokenService) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
