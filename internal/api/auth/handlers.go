package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Handlers exposes register, login, and current-user endpoints.
type Handlers struct {
	users  *UserService
	tokens *TokenService
}

func NewHandlers(users *UserService, tokens *TokenService) *Handlers {
	return &Handlers{users: users, tokens: tokens}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	UserID int64          `json:"user_id"`
	Email  string         `json:"email"`
	Token  *TokenResponse `json:"token"`
}

// Register creates an account and returns a session token.
func (h *Handlers) Register(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return echo.NewHTTPError(http.StatusBadRequest, "A valid email is required")
	}
	if len(req.Password) < 8 {
		return echo.NewHTTPError(http.StatusBadRequest, "Password must be at least 8 characters")
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		log.Error().Err(err).Msg("Failed to hash password")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create account")
	}

	user, err := h.users.CreateUser(c.Request().Context(), req.Email, hash)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return echo.NewHTTPError(http.StatusConflict, "Email already registered")
		}
		log.Error().Err(err).Msg("Failed to create user")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create account")
	}

	token, err := h.tokens.IssueToken(user)
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue token")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create session")
	}

	return c.JSON(http.StatusCreated, sessionResponse{UserID: user.ID, Email: user.Email, Token: token})
}

// Login validates credentials and returns a session token.
func (h *Handlers) Login(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	user, err := h.users.GetUserByEmail(c.Request().Context(), req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
		}
		log.Error().Err(err).Msg("Failed to look up user")
		return echo.NewHTTPError(http.StatusInternalServerError, "Login failed")
	}

	if !comparePasswords(user.PasswordHash, req.Password) {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
	}

	token, err := h.tokens.IssueToken(user)
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue token")
		return echo.NewHTTPError(http.StatusInternalServerError, "Login failed")
	}

	return c.JSON(http.StatusOK, sessionResponse{UserID: user.ID, Email: user.Email, Token: token})
}

// Me returns the authenticated user.
func (h *Handlers) Me(c echo.Context) error {
	identity := GetIdentity(c)
	if identity == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	}

	user, err := h.users.GetUserByID(c.Request().Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "Account no longer exists")
		}
		log.Error().Err(err).Msg("Failed to load user")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load user")
	}

	return c.JSON(http.StatusOK, user)
}

// hashPassword securely hashes a password using bcrypt
func hashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

// comparePasswords checks if the provided password matches the hashed password
func comparePasswords(hashedPassword, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	return err == nil
}
