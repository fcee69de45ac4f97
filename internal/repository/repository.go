// Package repository defines the storage interfaces the service layer
// depends on. Implementations live in subpackages (sqlite).
package repository

import (
	"context"

	"github.com/sakif/script-playground/internal/model"
)

// ListOptions carries pagination parameters.
type ListOptions struct {
	Limit  int
	Offset int
}

// ScriptRepository persists saved scripts.
type ScriptRepository interface {
	Create(ctx context.Context, script *model.Script) error
	GetByID(ctx context.Context, id string) (*model.Script, error)
	List(ctx context.Context, opts ListOptions) ([]model.Script, error)
	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]model.Script, error)
	Update(ctx context.Context, script *model.Script) error
	Delete(ctx context.Context, id string) error
}

// UserRepository persists accounts. Users arrive two ways: GitHub OAuth
// (Upsert keyed on the GitHub account ID) and local registration
// (CreateLocal keyed on a unique login).
type UserRepository interface {
	Upsert(ctx context.Context, user *model.User) error
	CreateLocal(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
}
