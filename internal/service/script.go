package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/script-playground/internal/apperror"
	"github.com/sakif/script-playground/internal/model"
	"github.com/sakif/script-playground/internal/repository"
)

const (
	MaxScriptNameLength = 100
	MaxSavedCodeLength  = 100000 // ~100KB; the execution path has its own, tighter cap
	DefaultListLimit    = 20
	MaxListLimit        = 100
)

// ScriptService handles saved-script CRUD with ownership checks. Anonymous
// visitors can save scripts (ownerID ""); only the owner may modify or
// delete an owned script.
type ScriptService struct {
	repo   repository.ScriptRepository
	logger *slog.Logger
}

func NewScriptService(repo repository.ScriptRepository, logger *slog.Logger) *ScriptService {
	return &ScriptService{
		repo:   repo,
		logger: logger,
	}
}

func (s *ScriptService) Create(ctx context.Context, ownerID, name, code, description string) (*model.Script, error) {
	name = strings.TrimSpace(name)

	if name == "" {
		return nil, apperror.ValidationFailed("name", "script name is required")
	}
	if len(name) > MaxScriptNameLength {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("script name must be %d characters or less", MaxScriptNameLength))
	}
	if len(code) > MaxSavedCodeLength {
		return nil, apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d characters or less", MaxSavedCodeLength))
	}

	script := &model.Script{
		UserID:      ownerID,
		Name:        name,
		Code:        code,
		Description: strings.TrimSpace(description),
	}

	if err := s.repo.Create(ctx, script); err != nil {
		s.logger.Error("failed to create script",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating script: %w", err)
	}

	s.logger.Info("script created",
		slog.String("id", script.ID),
		slog.String("name", script.Name),
	)

	return script, nil
}

func (s *ScriptService) GetByID(ctx context.Context, id string) (*model.Script, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "script ID is required")
	}

	return s.repo.GetByID(ctx, id)
}

func (s *ScriptService) List(ctx context.Context, limit, offset int) ([]model.Script, error) {
	scripts, err := s.repo.List(ctx, clampedListOptions(limit, offset))
	if err != nil {
		s.logger.Error("failed to list scripts", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing scripts: %w", err)
	}
	return scripts, nil
}

func (s *ScriptService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Script, error) {
	if userID == "" {
		return nil, apperror.ValidationFailed("userID", "user ID is required")
	}

	scripts, err := s.repo.ListByUser(ctx, userID, clampedListOptions(limit, offset))
	if err != nil {
		s.logger.Error("failed to list user scripts",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("listing scripts for user %s: %w", userID, err)
	}
	return scripts, nil
}

// Update modifies a script the caller owns. Empty name leaves the stored
// name unchanged; code and description are always replaced.
func (s *ScriptService) Update(ctx context.Context, callerID, id, name, code, description string) (*model.Script, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "script ID is required")
	}

	script, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOwnership(script, callerID); err != nil {
		return nil, err
	}

	if name = strings.TrimSpace(name); name != "" {
		if len(name) > MaxScriptNameLength {
			return nil, apperror.ValidationFailed("name",
				fmt.Sprintf("script name must be %d characters or less", MaxScriptNameLength))
		}
		script.Name = name
	}

	if len(code) > MaxSavedCodeLength {
		return nil, apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d characters or less", MaxSavedCodeLength))
	}
	script.Code = code
	script.Description = strings.TrimSpace(description)

	if err := s.repo.Update(ctx, script); err != nil {
		s.logger.Error("failed to update script",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("updating script: %w", err)
	}

	s.logger.Info("script updated",
		slog.String("id", script.ID),
		slog.String("name", script.Name),
	)

	return script, nil
}

func (s *ScriptService) Delete(ctx context.Context, callerID, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperror.ValidationFailed("id", "script ID is required")
	}

	script, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := checkOwnership(script, callerID); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("script deleted", slog.String("id", id))
	return nil
}

// checkOwnership allows everyone to touch unowned scripts; owned scripts
// admit only their owner.
func checkOwnership(script *model.Script, callerID string) error {
	if script.UserID != "" && script.UserID != callerID {
		return apperror.Forbidden("you do not own this script")
	}
	return nil
}

func clampedListOptions(limit, offset int) repository.ListOptions {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return repository.ListOptions{Limit: limit, Offset: offset}
}
