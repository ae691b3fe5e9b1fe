// Package auth handles user registration, password login and bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"appraisal/server/internal/apperr"
	"appraisal/server/internal/database"
	"appraisal/server/internal/models"

	"github.com/sirupsen/logrus"
)

type RegisterInput struct {
	Email    string `json:"email" form:"email"`
	Username string `json:"username" form:"username"`
	FullName string `json:"full_name" form:"full_name"`
	Password string `json:"password" form:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type Service struct {
	users  *database.UserStore
	tokens *TokenService
	logger *logrus.Logger
	now    func() time.Time
}

func NewService(users *database.UserStore, tokens *TokenService, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{users: users, tokens: tokens, logger: logger, now: time.Now}
}

// Register creates an appraiser account. The public endpoint cannot grant
// other roles.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	return s.createUser(ctx, in, models.RoleAppraiser)
}

// CreateAdmin creates an administrator account.
func (s *Service) CreateAdmin(ctx context.Context, in RegisterInput) (*models.User, error) {
	return s.createUser(ctx, in, models.RoleAdmin)
}

func (s *Service) createUser(ctx context.Context, in RegisterInput, role string) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, apperr.NewValidation("user", "email", "must be a valid email address")
	}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, apperr.NewValidation("user", "username", "must not be blank")
	}

	hashed, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &models.User{
		Email:          email,
		Username:       username,
		FullName:       strings.TrimSpace(in.FullName),
		Role:           role,
		IsActive:       true,
		HashedPassword: hashed,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": u.ID,
		"email":   u.Email,
		"role":    role,
	}).Info("User registered")
	return u, nil
}

// Authenticate checks credentials. identifier may be the email or the
// username. Every credential failure wraps apperr.ErrUnauthorized.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	var (
		u   *models.User
		err error
	)
	if strings.Contains(identifier, "@") {
		u, err = s.users.GetByEmail(ctx, strings.ToLower(identifier))
	} else {
		u, err = s.users.GetByUsername(ctx, identifier)
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("incorrect email or password: %w", apperr.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}

	if err := VerifyPassword(password, u.HashedPassword); err != nil {
		if errors.Is(err, apperr.ErrUnauthorized) {
			return nil, fmt.Errorf("incorrect email or password: %w", apperr.ErrUnauthorized)
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, fmt.Errorf("inactive user: %w", apperr.ErrUnauthorized)
	}

	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		s.logger.WithError(err).WithField("user_id", u.ID).Warn("Failed to update last login")
	} else {
		u.LastLogin = &now
	}
	return u, nil
}

// IssueToken creates an access token for u.
func (s *Service) IssueToken(u *models.User) (*TokenResponse, error) {
	token, err := s.tokens.GenerateAccessToken(u)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(s.tokens.TTL().Seconds()),
	}, nil
}

// UserFromToken resolves the active user behind a bearer token.
func (s *Service) UserFromToken(ctx context.Context, token string) (*models.User, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetByID(ctx, claims.UserID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("unknown user: %w", apperr.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, fmt.Errorf("inactive user: %w", apperr.ErrUnauthorized)
	}
	return u, nil
}
