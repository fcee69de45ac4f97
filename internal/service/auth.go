package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/script-playground/internal/apperror"
	"github.com/sakif/script-playground/internal/auth"
	"github.com/sakif/script-playground/internal/model"
	"github.com/sakif/script-playground/internal/repository"
)

// AuthService covers both ways in: GitHub OAuth and local login/password.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// AuthResult is a logged-in user plus their fresh session token.
type AuthResult struct {
	User  *model.User
	Token string
}

// LoginOrRegisterGitHub upserts the GitHub profile and issues a token.
// First login creates the account; later logins re-sync the profile.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	user := &model.User{
		GitHubID:  ghUser.ID,
		Login:     ghUser.Login,
		Email:     ghUser.Email,
		AvatarURL: ghUser.AvatarURL,
	}

	if err := s.users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: upserting user (githubID=%d): %w", ghUser.ID, err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("login", user.Login),
	)

	return s.issueToken(user)
}

// Register creates a local password-backed account and logs it in.
func (s *AuthService) Register(ctx context.Context, login, email, password string) (*AuthResult, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return nil, apperror.ValidationFailed("login", "login is required")
	}
	if len(password) < 8 {
		return nil, apperror.ValidationFailed("password", "password must be at least 8 characters")
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}

	user := &model.User{
		Login:        login,
		Email:        strings.TrimSpace(email),
		PasswordHash: hash,
	}

	if err := s.users.CreateLocal(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("local account registered", slog.String("login", login))

	return s.issueToken(user)
}

// Login authenticates a local account. Unknown login and wrong password
// return the same Forbidden error so the endpoint does not reveal which
// logins exist.
func (s *AuthService) Login(ctx context.Context, login, password string) (*AuthResult, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, apperror.ValidationFailed("login", "login and password are required")
	}

	user, err := s.users.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Forbidden("invalid login or password")
		}
		return nil, fmt.Errorf("service/auth: looking up %s: %w", login, err)
	}

	if user.PasswordHash == "" {
		// A GitHub-backed account has no password to check.
		return nil, apperror.Forbidden("invalid login or password")
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		return nil, apperror.Forbidden("invalid login or password")
	}

	s.logger.Info("local login", slog.String("login", login))

	return s.issueToken(user)
}

func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, fmt.Errorf("service/auth: user ID must not be empty")
	}
	return s.users.GetUserByID(ctx, id)
}

func (s *AuthService) issueToken(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}
