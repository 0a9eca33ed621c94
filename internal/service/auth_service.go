package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sirenlink/internal/models"
	"sirenlink/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const defaultTokenTTL = time.Hour

// Domain errors for auth flows.
var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidToken    = errors.New("invalid token")
)

// AuthService handles user auth logic
type AuthService struct {
	authRepo   repository.Authorization
	signingKey []byte
	tokenTTL   time.Duration
}

func NewAuthService(repo repository.Authorization, signingKey string, tokenTTL time.Duration) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &AuthService{authRepo: repo, signingKey: []byte(signingKey), tokenTTL: tokenTTL}
}

// SignUp hashes password and creates a new resident account
func (s *AuthService) SignUp(username, password string) (int, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, fmt.Errorf("%w: username is empty", ErrInvalidInput)
	}
	hash, err := hashPassword(password)
	if err != nil {
		return 0, fmt.Errorf("invalid password: %w", err)
	}
	return s.authRepo.Create(username, hash, models.RoleResidente, nil)
}

// CreateUser lets a SUPERADMIN provision an account with any role.
func (s *AuthService) CreateUser(caller models.Caller, in NewUserInput) (int, error) {
	if caller.Role != models.RoleSuperAdmin {
		return 0, deny("only SUPERADMIN may create users")
	}
	role, err := models.ParseRole(string(in.Role))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if (role == models.RoleAdmin || role == models.RoleGuardia) && in.UrbanizationID == nil {
		return 0, fmt.Errorf("%w: role %s requires an urbanization", ErrInvalidInput, role)
	}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return 0, fmt.Errorf("%w: username is empty", ErrInvalidInput)
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.authRepo.Create(username, hash, role, in.UrbanizationID)
}

// EnsureBootstrap creates the initial SUPERADMIN when username is unused.
// It reports whether an account was created.
func (s *AuthService) EnsureBootstrap(username, password string) (bool, error) {
	if strings.TrimSpace(username) == "" {
		return false, nil
	}
	u, err := s.authRepo.GetByUsername(username)
	if err != nil {
		return false, err
	}
	if u != nil {
		return false, nil
	}
	hash, err := hashPassword(password)
	if err != nil {
		return false, fmt.Errorf("bootstrap password: %w", err)
	}
	if _, err := s.authRepo.Create(username, hash, models.RoleSuperAdmin, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Claims defines JWT claims
type Claims struct {
	jwt.RegisteredClaims
	UserID         int         `json:"user_id"`
	Username       string      `json:"username"`
	Role           models.Role `json:"role"`
	UrbanizationID *int        `json:"urbanization_id,omitempty"`
}

// GenerateToken validates credentials and returns JWT
func (s *AuthService) GenerateToken(username, password string) (string, error) {
	u, err := s.authRepo.GetByUsername(username)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", ErrUserNotFound
	}

	if err := verifyPassword(u.PasswordHash, password); err != nil {
		return "", ErrInvalidPassword
	}

	return s.issueToken(u)
}

// ParseToken parses JWT and returns the caller identity it carries
func (s *AuthService) ParseToken(accessToken string) (models.Caller, error) {
	token, err := jwt.ParseWithClaims(accessToken, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Ensure HMAC signing is used
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return models.Caller{}, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return models.Caller{}, ErrInvalidToken
	}
	if _, err := models.ParseRole(string(claims.Role)); err != nil {
		return models.Caller{}, ErrInvalidToken
	}

	return models.Caller{
		UserID:         claims.UserID,
		Username:       claims.Username,
		Role:           claims.Role,
		UrbanizationID: claims.UrbanizationID,
	}, nil
}

// helper: hash password safely
func hashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// helper: verify password against hash
func verifyPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// helper: issue a signed JWT for a user
func (s *AuthService) issueToken(u *models.User) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID:         u.ID,
		Username:       u.Username,
		Role:           u.Role,
		UrbanizationID: u.UrbanizationID,
	})
	return token.SignedString(s.signingKey)
}
