package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"couple-sync-backend/internal/auth"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	codeLength = 6
	codeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	maxDisplayNameLen = 64
)

// Session is the authenticated identity for one request. It is created by
// the auth middleware from a bearer token and ends at SignOut.
type Session struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

// UserService handles identity, sessions and profiles
type UserService struct {
	users     repository.UserStore
	blacklist auth.TokenBlacklist
	jwtSecret []byte
	jwtTTL    time.Duration
	now       func() time.Time
}

// NewUserService creates a new user service
func NewUserService(users repository.UserStore, blacklist auth.TokenBlacklist, jwtSecret string, jwtTTL time.Duration) *UserService {
	return &UserService{
		users:     users,
		blacklist: blacklist,
		jwtSecret: []byte(jwtSecret),
		jwtTTL:    jwtTTL,
		now:       time.Now,
	}
}

// CreateUserRequest represents a sign-up request
type CreateUserRequest struct {
	DisplayName string  `json:"display_name"`
	Email       string  `json:"email"`
	PhotoURL    *string `json:"photo_url,omitempty"`
}

// UpdateProfileRequest represents a profile edit. Nil fields are unchanged.
type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	PhotoURL    *string `json:"photo_url,omitempty"`
}

// generateCode generates a random 6-character code
func generateCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		if err != nil {
			return "", fmt.Errorf("failed to read random: %w", err)
		}
		code[i] = codeChars[n.Int64()]
	}
	return string(code), nil
}

// GenerateJWT issues a signed token for a user
func (s *UserService) GenerateJWT(userID string) (string, *Session, error) {
	now := s.now()
	session := &Session{
		UserID:    userID,
		TokenID:   uuid.NewString(),
		ExpiresAt: now.Add(s.jwtTTL),
	}
	claims := jwt.MapClaims{
		"user_id": userID,
		"jti":     session.TokenID,
		"exp":     session.ExpiresAt.Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, session, nil
}

// ValidateToken validates a JWT and returns the session it represents
func (s *UserService) ValidateToken(ctx context.Context, tokenString string) (*Session, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	userID, _ := claims["user_id"].(string)
	jti, _ := claims["jti"].(string)
	if userID == "" || jti == "" {
		return nil, fmt.Errorf("%w: missing claims", ErrInvalidToken)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: missing expiry", ErrInvalidToken)
	}

	revoked, err := s.blacklist.IsBlacklisted(ctx, jti)
	if err != nil {
		return nil, fmt.Errorf("failed to check token: %w: %w", ErrTransientIO, err)
	}
	if revoked {
		return nil, fmt.Errorf("%w: signed out", ErrInvalidToken)
	}

	return &Session{UserID: userID, TokenID: jti, ExpiresAt: exp.Time}, nil
}

// SignOut revokes the session's token
func (s *UserService) SignOut(ctx context.Context, session *Session) error {
	if err := s.blacklist.Add(ctx, session.TokenID, session.ExpiresAt); err != nil {
		return fmt.Errorf("failed to sign out: %w: %w", ErrTransientIO, err)
	}
	return nil
}

// CreateUser creates a new profile and returns it with a session token
func (s *UserService) CreateUser(ctx context.Context, req CreateUserRequest) (*models.UserProfile, string, error) {
	name := strings.TrimSpace(req.DisplayName)
	if name == "" || len(name) > maxDisplayNameLen {
		return nil, "", fmt.Errorf("%w: display_name must be 1-%d characters", ErrInvalidInput, maxDisplayNameLen)
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}

	now := s.now()
	user := &models.UserProfile{
		ID:          uuid.NewString(),
		DisplayName: name,
		Email:       strings.ToLower(addr.Address),
		PhotoURL:    req.PhotoURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	token, _, err := s.GenerateJWT(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, "", ErrEmailTaken
		}
		return nil, "", storeErr("failed to create user", err)
	}

	return user, token, nil
}

// GetProfile returns a user's profile
func (s *UserService) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, storeErr("failed to get profile", err)
	}
	return user, nil
}

// UpdateProfile edits the caller's display name or photo
func (s *UserService) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*models.UserProfile, error) {
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" || len(name) > maxDisplayNameLen {
			return nil, fmt.Errorf("%w: display_name must be 1-%d characters", ErrInvalidInput, maxDisplayNameLen)
		}
		req.DisplayName = &name
	}
	user, err := s.users.UpdateProfile(ctx, userID, req.DisplayName, req.PhotoURL, s.now())
	if err != nil {
		return nil, storeErr("failed to update profile", err)
	}
	return user, nil
}

// RegisterPushToken stores the device token used for push delivery. An
// empty token clears it.
func (s *UserService) RegisterPushToken(ctx context.Context, userID, pushToken string) error {
	var tok *string
	if pushToken = strings.TrimSpace(pushToken); pushToken != "" {
		tok = &pushToken
	}
	if err := s.users.UpdatePushToken(ctx, userID, tok); err != nil {
		return storeErr("failed to register push token", err)
	}
	return nil
}
