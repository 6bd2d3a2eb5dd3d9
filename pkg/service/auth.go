package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/example/smartcart/pkg/apperr"
	"github.com/example/smartcart/pkg/auth"
	"github.com/example/smartcart/pkg/config"
	"github.com/example/smartcart/pkg/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type RegisterRequest struct {
	Username string `json:"username" yaml:"username" validate:"required,min=3,max=50,username"`
	Email    string `json:"email" yaml:"email" validate:"required,email,max=100"`
	Password string `json:"password" yaml:"password" validate:"required,min=6,max=72"`
	Name     string `json:"name" yaml:"name" validate:"required,min=2,max=255"`
}

func (r *RegisterRequest) normalize() {
	r.Username = strings.ToLower(strings.TrimSpace(r.Username))
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Name = strings.TrimSpace(r.Name)
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

type AuthService struct {
	db      *gorm.DB
	tokens  *auth.TokenManager
	limiter LoginLimiter
	limits  config.RateLimitConfig
	logger  *zap.Logger
	now     func() time.Time
}

func NewAuthService(db *gorm.DB, tokens *auth.TokenManager, limiter LoginLimiter, limits config.RateLimitConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		db:      db,
		tokens:  tokens,
		limiter: limiter,
		limits:  limits,
		logger:  logger,
		now:     time.Now,
	}
}

// Register creates a customer account.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	return s.CreateAccount(ctx, req, models.RoleCustomer)
}

// CreateAccount creates an account with the given role. Username and email
// are stored lowercased and must be unused.
func (s *AuthService) CreateAccount(ctx context.Context, req RegisterRequest, role models.Role) (*models.User, error) {
	req.normalize()
	if err := validateStruct(&req); err != nil {
		return nil, err
	}
	if role != models.RoleCustomer && role != models.RoleAdmin {
		return nil, apperr.Validation("invalid role %q", role)
	}

	var taken int64
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("username = ? OR email = ?", req.Username, req.Email).
		Count(&taken).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to check existing users")
	}
	if taken > 0 {
		return nil, apperr.New(apperr.CodeConflict, "username or email already exists")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, apperr.Internal(err, "failed to hash password")
	}
	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.New(apperr.CodeConflict, "username or email already exists")
		}
		return nil, apperr.Internal(err, "failed to create user")
	}

	s.logger.Info("user registered", zap.Int64("user_id", user.ID), zap.String("username", user.Username), zap.String("role", string(role)))
	return user, nil
}

// Login checks credentials for an active user, matching the identifier
// against username or email. clientKey scopes the failed-attempt counter,
// usually the client IP.
func (s *AuthService) Login(ctx context.Context, req LoginRequest, clientKey string) (*LoginResult, error) {
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if err := validateStruct(&req); err != nil {
		return nil, err
	}
	if err := s.checkAttempts(ctx, clientKey); err != nil {
		return nil, err
	}

	var user models.User
	res := s.db.WithContext(ctx).
		Where("(username = ? OR email = ?) AND is_active = ?", req.Username, req.Username, true).
		Limit(1).Find(&user)
	if res.Error != nil {
		return nil, apperr.Internal(res.Error, "failed to look up user")
	}
	if res.RowsAffected == 0 {
		s.recordFailure(ctx, clientKey)
		return nil, apperr.New(apperr.CodeInvalidCredentials, "invalid username or password")
	}

	ok, err := auth.CheckPassword(user.PasswordHash, req.Password)
	if err != nil {
		return nil, apperr.Internal(err, "failed to verify password")
	}
	if !ok {
		s.recordFailure(ctx, clientKey)
		return nil, apperr.New(apperr.CodeInvalidCredentials, "invalid username or password")
	}
	s.resetAttempts(ctx, clientKey)

	now := s.now()
	if err := s.db.WithContext(ctx).Model(&user).UpdateColumn("last_login", now).Error; err != nil {
		s.logger.Warn("failed to record last login", zap.Int64("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLogin = &now
	}

	token, expires, err := s.tokens.Generate(user.ID, user.Username, string(user.Role))
	if err != nil {
		return nil, apperr.Internal(err, "failed to issue token")
	}
	s.logger.Info("user logged in", zap.Int64("user_id", user.ID))
	return &LoginResult{Token: token, ExpiresAt: expires, User: &user}, nil
}

func (s *AuthService) checkAttempts(ctx context.Context, key string) error {
	if s.limiter == nil || key == "" || s.limits.MaxLoginAttempts <= 0 {
		return nil
	}
	n, ttl, err := s.limiter.LoginAttempts(ctx, key)
	if err != nil {
		s.logger.Warn("failed to read login attempts", zap.String("client", key), zap.Error(err))
		return nil
	}
	if n >= s.limits.MaxLoginAttempts {
		wait := int(math.Ceil(ttl.Seconds()))
		if wait <= 0 {
			wait = int(s.limits.LoginWindow.Seconds())
		}
		return apperr.New(apperr.CodeTooManyRequests, "too many login attempts, retry in %d seconds", wait)
	}
	return nil
}

func (s *AuthService) recordFailure(ctx context.Context, key string) {
	if s.limiter == nil || key == "" {
		return
	}
	if err := s.limiter.RecordLoginFailure(ctx, key, s.limits.LoginWindow); err != nil {
		s.logger.Warn("failed to record login failure", zap.String("client", key), zap.Error(err))
	}
}

func (s *AuthService) resetAttempts(ctx context.Context, key string) {
	if s.limiter == nil || key == "" {
		return
	}
	if err := s.limiter.ResetLoginAttempts(ctx, key); err != nil {
		s.logger.Warn("failed to reset login attempts", zap.String("client", key), zap.Error(err))
	}
}

// Authenticate verifies the token and resolves the caller from the current
// user row, so role changes and deactivation apply to tokens already issued.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*auth.Principal, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	var user models.User
	res := s.db.WithContext(ctx).Where("id = ? AND is_active = ?", claims.UserID, true).Limit(1).Find(&user)
	if res.Error != nil {
		return nil, apperr.Internal(res.Error, "failed to load user")
	}
	if res.RowsAffected == 0 {
		return nil, apperr.New(apperr.CodeUnauthorized, "user not found or inactive")
	}
	return &auth.Principal{UserID: user.ID, Username: user.Username, Role: user.Role}, nil
}

func (s *AuthService) Profile(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("user %d not found", userID)
		}
		return nil, apperr.Internal(err, "failed to load user")
	}
	return &user, nil
}
