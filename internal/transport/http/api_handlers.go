package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/whatsease-server/internal/auth"
	"github.com/vovakirdan/whatsease-server/internal/core"
	"github.com/vovakirdan/whatsease-server/internal/store"
)

// APIHandlers provides the account endpoints under /api/auth.
type APIHandlers struct {
	authService *auth.Service
	store       store.UserStore
	registry    *core.Registry
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, st store.UserStore, registry *core.Registry, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		store:       st,
		registry:    registry,
		log:         logger,
	}
}

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Email     string `json:"email" binding:"required"`
	Username  string `json:"username" binding:"required"`
	FullName  string `json:"full_name"`
	Password  string `json:"password" binding:"required"`
	AvatarURL string `json:"avatar_url"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the login response body.
type AuthResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        UserResponse `json:"user"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Register handles user registration.
// POST /api/auth/register
func (h *APIHandlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid register request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	user, err := h.authService.Register(c.Request.Context(), auth.Registration{
		Email:     req.Email,
		Username:  req.Username,
		FullName:  req.FullName,
		Password:  req.Password,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "email already registered"})
		case errors.Is(err, auth.ErrInvalidEmail),
			errors.Is(err, auth.ErrInvalidUsername),
			errors.Is(err, auth.ErrInvalidPassword):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		default:
			h.log.Error().Err(err).Str("email", req.Email).Msg("failed to register user")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	h.log.Info().Str("email", user.Email).Msg("user registered")
	c.JSON(http.StatusCreated, userResponse(user, false))
}

// Login exchanges credentials for a bearer token.
// POST /api/auth/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, user, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "incorrect email or password"})
		case errors.Is(err, auth.ErrInactiveUser):
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "user account is inactive"})
		default:
			h.log.Error().Err(err).Str("email", req.Email).Msg("failed to login user")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	h.log.Info().Str("email", user.Email).Msg("user logged in")
	c.JSON(http.StatusOK, AuthResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        userResponse(user, h.registry.IsOnline(user.Email)),
	})
}

// Logout clears the persisted online flag unless the user still has live connections.
// POST /api/auth/logout
func (h *APIHandlers) Logout(c *gin.Context) {
	email := currentUser(c)
	if !h.registry.IsOnline(email) {
		if err := h.store.SetOnline(c.Request.Context(), email, false); err != nil {
			h.log.Warn().Err(err).Str("email", email).Msg("failed to clear online flag")
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Successfully logged out"})
}

// Me returns the caller's profile.
// GET /api/auth/me
func (h *APIHandlers) Me(c *gin.Context) {
	email := currentUser(c)
	user, err := h.store.GetUserByEmail(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Str("email", email).Msg("failed to load user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, userResponse(user, h.registry.IsOnline(email)))
}
