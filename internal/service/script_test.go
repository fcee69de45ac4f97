package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sakif/script-playground/internal/apperror"
	"github.com/sakif/script-playground/internal/model"
	"github.com/sakif/script-playground/internal/repository"
)

type mockScriptRepo struct {
	scripts map[string]*model.Script
	nextID  int
}

func newMockScriptRepo() *mockScriptRepo {
	return &mockScriptRepo{scripts: make(map[string]*model.Script)}
}

func (m *mockScriptRepo) Create(_ context.Context, script *model.Script) error {
	m.nextID++
	script.ID = fmt.Sprintf("mock-%d", m.nextID)
	stored := *script
	m.scripts[script.ID] = &stored
	return nil
}

func (m *mockScriptRepo) GetByID(_ context.Context, id string) (*model.Script, error) {
	script, ok := m.scripts[id]
	if !ok {
		return nil, apperror.NotFound("script", id)
	}
	result := *script
	return &result, nil
}

func (m *mockScriptRepo) List(_ context.Context, opts repository.ListOptions) ([]model.Script, error) {
	result := make([]model.Script, 0, len(m.scripts))
	for _, s := range m.scripts {
		result = append(result, *s)
	}
	if opts.Offset >= len(result) {
		return []model.Script{}, nil
	}
	result = result[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(result) {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (m *mockScriptRepo) ListByUser(_ context.Context, userID string, opts repository.ListOptions) ([]model.Script, error) {
	result := make([]model.Script, 0)
	for _, s := range m.scripts {
		if s.UserID == userID {
			result = append(result, *s)
		}
	}
	return result, nil
}

func (m *mockScriptRepo) Update(_ context.Context, script *model.Script) error {
	if _, ok := m.scripts[script.ID]; !ok {
		return apperror.NotFound("script", script.ID)
	}
	stored := *script
	m.scripts[script.ID] = &stored
	return nil
}

func (m *mockScriptRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.scripts[id]; !ok {
		return apperror.NotFound("script", id)
	}
	delete(m.scripts, id)
	return nil
}

func newTestScriptService(t *testing.T) (*ScriptService, *mockScriptRepo) {
	t.Helper()
	repo := newMockScriptRepo()
	return NewScriptService(repo, testLogger()), repo
}

func TestScriptCreate_Success(t *testing.T) {
	svc, _ := newTestScriptService(t)

	script, err := svc.Create(context.Background(), "user-1", "hello world", "console.log('hi');", "a test")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if script.ID == "" {
		t.Error("expected script to have an ID")
	}
	if script.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", script.UserID, "user-1")
	}
}

func TestScriptCreate_TrimsWhitespace(t *testing.T) {
	svc, _ := newTestScriptService(t)

	script, err := svc.Create(context.Background(), "", "  spaced out  ", "code", "  desc  ")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if script.Name != "spaced out" {
		t.Errorf("Name = %q, want %q", script.Name, "spaced out")
	}
	if script.Description != "desc" {
		t.Errorf("Description = %q, want %q", script.Description, "desc")
	}
}

func TestScriptCreate_EmptyName(t *testing.T) {
	svc, _ := newTestScriptService(t)

	_, err := svc.Create(context.Background(), "", "   ", "code", "")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Create() error = %v, want ErrValidation", err)
	}
}

func TestScriptCreate_NameTooLong(t *testing.T) {
	svc, _ := newTestScriptService(t)

	_, err := svc.Create(context.Background(), "", strings.Repeat("x", MaxScriptNameLength+1), "code", "")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Create() error = %v, want ErrValidation", err)
	}
}

func TestScriptCreate_CodeTooLong(t *testing.T) {
	svc, _ := newTestScriptService(t)

	_, err := svc.Create(context.Background(), "", "big", strings.Repeat("x", MaxSavedCodeLength+1), "")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Create() error = %v, want ErrValidation", err)
	}
}

func TestScriptUpdate_OwnerCanUpdate(t *testing.T) {
	svc, _ := newTestScriptService(t)

	created, _ := svc.Create(context.Background(), "user-1", "mine", "old", "")

	updated, err := svc.Update(context.Background(), "user-1", created.ID, "", "new", "")
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Code != "new" {
		t.Errorf("Code = %q, want %q", updated.Code, "new")
	}
	if updated.Name != "mine" {
		t.Errorf("empty name should keep the stored name, got %q", updated.Name)
	}
}

func TestScriptUpdate_NonOwnerForbidden(t *testing.T) {
	svc, _ := newTestScriptService(t)

	created, _ := svc.Create(context.Background(), "user-1", "mine", "code", "")

	_, err := svc.Update(context.Background(), "user-2", created.ID, "stolen", "code", "")
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Errorf("Update() error = %v, want ErrForbidden", err)
	}
}

func TestScriptUpdate_UnownedScriptIsOpen(t *testing.T) {
	svc, _ := newTestScriptService(t)

	// Anonymous scripts have no owner; anyone may edit them.
	created, _ := svc.Create(context.Background(), "", "shared", "v1", "")

	_, err := svc.Update(context.Background(), "user-2", created.ID, "", "v2", "")
	if err != nil {
		t.Errorf("Update() on unowned script error = %v", err)
	}
}

func TestScriptDelete_NonOwnerForbidden(t *testing.T) {
	svc, repo := newTestScriptService(t)

	created, _ := svc.Create(context.Background(), "user-1", "mine", "code", "")

	err := svc.Delete(context.Background(), "user-2", created.ID)
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Errorf("Delete() error = %v, want ErrForbidden", err)
	}
	if _, ok := repo.scripts[created.ID]; !ok {
		t.Error("Delete() by non-owner removed the script")
	}
}

func TestScriptDelete_NotFound(t *testing.T) {
	svc, _ := newTestScriptService(t)

	err := svc.Delete(context.Background(), "user-1", "missing")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

func TestScriptList_ClampsLimit(t *testing.T) {
	svc, _ := newTestScriptService(t)

	for i := 0; i < 3; i++ {
		svc.Create(context.Background(), "", fmt.Sprintf("s%d", i), "code", "")
	}

	scripts, err := svc.List(context.Background(), -1, -1)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(scripts) != 3 {
		t.Errorf("List() returned %d scripts, want 3", len(scripts))
	}
}
