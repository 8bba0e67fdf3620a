package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/whatsease-server/internal/auth"
	"github.com/vovakirdan/whatsease-server/internal/core"
	"github.com/vovakirdan/whatsease-server/internal/store"
)

const (
	defaultUserLimit  = 100
	maxUserLimit      = 500
	defaultSearchSize = 20
	maxBioLength      = 500
)

// UserHandlers provides HTTP handlers for user operations.
type UserHandlers struct {
	store    store.UserStore
	registry *core.Registry
	log      *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(st store.UserStore, registry *core.Registry, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		store:    st,
		registry: registry,
		log:      logger,
	}
}

// UpdateProfileRequest lists the profile fields a user may change.
type UpdateProfileRequest struct {
	Username  *string `json:"username"`
	FullName  *string `json:"full_name"`
	Bio       *string `json:"bio"`
	AvatarURL *string `json:"avatar_url"`
}

// ListUsers lists every other active user with live presence.
// GET /api/users?limit=&offset=
func (h *UserHandlers) ListUsers(c *gin.Context) {
	limit := queryInt(c, "limit", defaultUserLimit, 1, maxUserLimit)
	offset := queryInt(c, "offset", 0, 0, -1)

	users, err := h.store.ListUsers(c.Request.Context(), limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, h.listItems(users, currentUser(c)))
}

// SearchUsers handles searching for users.
// GET /api/users/search?q=query
func (h *UserHandlers) SearchUsers(c *gin.Context) {
	trimmed := strings.TrimSpace(c.Query("q"))
	if trimmed == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "search query is required"})
		return
	}
	limit := queryInt(c, "limit", defaultSearchSize, 1, maxUserLimit)

	users, err := h.store.SearchUsers(c.Request.Context(), trimmed, limit)
	if err != nil {
		h.log.Error().Err(err).Str("query", trimmed).Msg("failed to search users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, h.listItems(users, currentUser(c)))
}

// GetUser returns one user's profile.
// GET /api/users/:email
func (h *UserHandlers) GetUser(c *gin.Context) {
	email := auth.NormalizeEmail(c.Param("email"))
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
	c.JSON(http.StatusOK, userResponse(user, h.registry.IsOnline(user.Email)))
}

// UpdateMe changes the caller's profile.
// PUT /api/users/me
func (h *UserHandlers) UpdateMe(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Username != nil {
		trimmed := strings.TrimSpace(*req.Username)
		if !auth.ValidUsername(trimmed) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: auth.ErrInvalidUsername.Error()})
			return
		}
		req.Username = &trimmed
	}
	if req.Bio != nil && len([]rune(*req.Bio)) > maxBioLength {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bio is too long"})
		return
	}

	email := currentUser(c)
	user, err := h.store.UpdateProfile(c.Request.Context(), email, store.ProfileUpdate{
		Username:  req.Username,
		FullName:  req.FullName,
		Bio:       req.Bio,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Str("email", email).Msg("failed to update profile")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, userResponse(user, h.registry.IsOnline(email)))
}

func (h *UserHandlers) listItems(users []*store.User, self string) []UserListItem {
	response := make([]UserListItem, 0, len(users))
	for _, u := range users {
		if u.Email == self {
			continue
		}
		response = append(response, userListItem(u, h.registry.IsOnline(u.Email)))
	}
	return response
}

// queryInt parses an integer query parameter, falling back to def when it is
// missing or malformed and clamping to [lo, hi]. A negative hi means unbounded.
func queryInt(c *gin.Context, key string, def, lo, hi int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < lo {
		n = lo
	}
	if hi >= 0 && n > hi {
		n = hi
	}
	return n
}
