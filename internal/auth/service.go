package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/whatsease-server/internal/store"
)

var (
	// ErrInvalidCredentials is returned when e-mail/password don't match or the token is unusable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when the e-mail is already registered.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidEmail is returned for malformed e-mail addresses.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidUsername is returned when the username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when the password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInactiveUser is returned when a deactivated account tries to sign in.
	ErrInactiveUser = errors.New("user is inactive")
)

const maxFullNameLen = 100

// UserStore is the user persistence the service needs.
type UserStore interface {
	CreateUser(ctx context.Context, u *store.User) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
}

// Service provides authentication operations.
type Service struct {
	store     UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(userStore UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
	}
}

// Registration is the input for Register.
type Registration struct {
	Email     string
	Username  string
	FullName  string
	Password  string
	AvatarURL string
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register validates and creates a new account.
func (s *Service) Register(ctx context.Context, in Registration) (*store.User, error) {
	email := NormalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)
	if err := validateSignup(email, username); err != nil {
		return nil, err
	}
	fullName := strings.TrimSpace(in.FullName)
	if len([]rune(fullName)) > maxFullNameLen {
		fullName = string([]rune(fullName)[:maxFullNameLen])
	}

	hashed, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.store.CreateUser(ctx, &store.User{
		Email:        email,
		Username:     username,
		FullName:     fullName,
		PasswordHash: hashed,
		AvatarURL:    strings.TrimSpace(in.AvatarURL),
	})
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login validates credentials and returns a token and the account.
func (s *Service) Login(ctx context.Context, email, password string) (string, *store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("load user: %w", err)
	}
	if err := ComparePassword(user.PasswordHash, password); err != nil {
		return "", nil, err
	}
	if !user.IsActive {
		return "", nil, ErrInactiveUser
	}

	token, err := GenerateToken(s.jwtConfig, user.Email, user.Username)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	return token, user, nil
}

// ValidateToken validates a token and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

// Resolve maps a bearer token to the e-mail of an existing active user.
func (s *Service) Resolve(ctx context.Context, credential string) (string, error) {
	claims, err := s.ValidateToken(credential)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	user, err := s.store.GetUserByEmail(ctx, claims.Email())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return "", ErrInactiveUser
	}
	return user.Email, nil
}
