package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/diagnosis/luxsuv-signup/pkg/auth"
	"github.com/diagnosis/luxsuv-signup/pkg/config"
	"github.com/diagnosis/luxsuv-signup/pkg/logger"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/domain"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/hasher"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/repository"
)

const (
	roleUser  = "user"
	scopeSelf = "profile:read:self"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserNotFound       = errors.New("user not found")
)

// AccountService covers accounts that finished registration.
type AccountService interface {
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error)
	Me(ctx context.Context, userID int64) (*domain.UserInfo, error)
}

type accountService struct {
	userRepo repository.UserRepository
	hasher   *hasher.Hasher
	config   *config.Config
}

func NewAccountService(userRepo repository.UserRepository, h *hasher.Hasher, cfg *config.Config) AccountService {
	return &accountService{
		userRepo: userRepo,
		hasher:   h,
		config:   cfg,
	}
}

func (s *accountService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	user, err := s.userRepo.FindUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !s.hasher.Verify(req.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, req.Password)
	}

	accessToken, err := auth.NewAccessToken(
		user.ID,
		user.Username,
		roleUser,
		scopeSelf,
		s.config.Auth.JWTSecret,
		s.config.Auth.AccessTokenTTL,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	return &domain.LoginResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.config.Auth.AccessTokenTTL.Seconds()),
		User:        user.ToUserInfo(nil),
	}, nil
}

// rehash upgrades a legacy digest after a successful login. Failure keeps
// the old digest, which still verifies.
func (s *accountService) rehash(ctx context.Context, user *domain.User, password string) {
	digest, err := s.hasher.Hash(password)
	if err != nil {
		logger.WarnContext(ctx, "Failed to rehash password", "user_id", user.ID, "error", err)
		return
	}
	if err := s.userRepo.UpdatePasswordHash(ctx, user.ID, digest); err != nil {
		logger.WarnContext(ctx, "Failed to store upgraded password hash", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = digest
	logger.InfoContext(ctx, "Upgraded password hash", "user_id", user.ID)
}

func (s *accountService) Me(ctx context.Context, userID int64) (*domain.UserInfo, error) {
	user, err := s.userRepo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	card, err := s.userRepo.FindPaymentInstrument(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment instrument: %w", err)
	}
	return user.ToUserInfo(card), nil
}
