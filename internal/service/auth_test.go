package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/script-playground/internal/apperror"
	"github.com/sakif/script-playground/internal/auth"
	"github.com/sakif/script-playground/internal/model"
)

type mockUserRepo struct {
	byID    map[string]*model.User
	byLogin map[string]*model.User
	nextID  int
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		byID:    make(map[string]*model.User),
		byLogin: make(map[string]*model.User),
	}
}

func (m *mockUserRepo) assignID(u *model.User) {
	m.nextID++
	u.ID = fmt.Sprintf("user-%d", m.nextID)
}

func (m *mockUserRepo) store(u *model.User) {
	stored := *u
	m.byID[u.ID] = &stored
	m.byLogin[u.Login] = &stored
}

func (m *mockUserRepo) Upsert(_ context.Context, user *model.User) error {
	for _, existing := range m.byID {
		if existing.GitHubID != 0 && existing.GitHubID == user.GitHubID {
			user.ID = existing.ID
			m.store(user)
			return nil
		}
	}
	m.assignID(user)
	m.store(user)
	return nil
}

func (m *mockUserRepo) CreateLocal(_ context.Context, user *model.User) error {
	if _, taken := m.byLogin[user.Login]; taken {
		return apperror.Conflict("login", user.Login)
	}
	m.assignID(user)
	m.store(user)
	return nil
}

func (m *mockUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	result := *u
	return &result, nil
}

func (m *mockUserRepo) GetUserByLogin(_ context.Context, login string) (*model.User, error) {
	u, ok := m.byLogin[login]
	if !ok {
		return nil, apperror.NotFound("user", login)
	}
	result := *u
	return &result, nil
}

func newTestAuthService(t *testing.T) (*AuthService, *mockUserRepo) {
	t.Helper()
	repo := newMockUserRepo()
	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	passwords := auth.NewPasswordServiceForTest(bcrypt.MinCost)
	return NewAuthService(repo, tokens, passwords, testLogger()), repo
}

func TestLoginOrRegisterGitHub(t *testing.T) {
	svc, _ := newTestAuthService(t)

	result, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{
		ID:    12345,
		Login: "octocat",
	})
	if err != nil {
		t.Fatalf("LoginOrRegisterGitHub() error = %v", err)
	}
	if result.Token == "" {
		t.Error("expected a session token")
	}
	if result.User.ID == "" {
		t.Error("expected the user to be persisted with an ID")
	}
}

func TestLoginOrRegisterGitHub_SecondLoginSameAccount(t *testing.T) {
	svc, _ := newTestAuthService(t)

	first, _ := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{ID: 1, Login: "a"})
	second, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{ID: 1, Login: "a"})
	if err != nil {
		t.Fatalf("second login error = %v", err)
	}
	if first.User.ID != second.User.ID {
		t.Errorf("second login created a new account: %q vs %q", first.User.ID, second.User.ID)
	}
}

func TestLoginOrRegisterGitHub_NilUser(t *testing.T) {
	svc, _ := newTestAuthService(t)

	if _, err := svc.LoginOrRegisterGitHub(context.Background(), nil); err == nil {
		t.Fatal("LoginOrRegisterGitHub(nil) should fail")
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestAuthService(t)

	reg, err := svc.Register(context.Background(), "alice", "alice@example.com", "s3cure-pass")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if reg.User.PasswordHash == "s3cure-pass" {
		t.Fatal("Register() stored the plaintext password")
	}

	login, err := svc.Login(context.Background(), "alice", "s3cure-pass")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if login.User.ID != reg.User.ID {
		t.Errorf("Login() user = %q, want %q", login.User.ID, reg.User.ID)
	}
}

func TestRegister_ShortPassword(t *testing.T) {
	svc, _ := newTestAuthService(t)

	_, err := svc.Register(context.Background(), "alice", "", "short")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Register() error = %v, want ErrValidation", err)
	}
}

func TestRegister_DuplicateLogin(t *testing.T) {
	svc, _ := newTestAuthService(t)

	svc.Register(context.Background(), "alice", "", "password1")
	_, err := svc.Register(context.Background(), "alice", "", "password2")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("Register() error = %v, want ErrConflict", err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, _ := newTestAuthService(t)

	svc.Register(context.Background(), "alice", "", "right-password")
	_, err := svc.Login(context.Background(), "alice", "wrong-password")
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Errorf("Login() error = %v, want ErrForbidden", err)
	}
}

func TestLogin_UnknownLoginSameError(t *testing.T) {
	svc, _ := newTestAuthService(t)

	svc.Register(context.Background(), "alice", "", "right-password")

	// Unknown login and wrong password must be indistinguishable.
	_, errUnknown := svc.Login(context.Background(), "nobody", "x")
	_, errWrong := svc.Login(context.Background(), "alice", "x")

	if !errors.Is(errUnknown, apperror.ErrForbidden) {
		t.Errorf("unknown login error = %v, want ErrForbidden", errUnknown)
	}
	if errUnknown == nil || errWrong == nil || errUnknown.Error() != errWrong.Error() {
		t.Errorf("login errors differ: %v vs %v", errUnknown, errWrong)
	}
}

func TestLogin_GitHubAccountHasNoPassword(t *testing.T) {
	svc, _ := newTestAuthService(t)

	svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{ID: 7, Login: "octocat"})

	_, err := svc.Login(context.Background(), "octocat", "anything")
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Errorf("Login() against OAuth account error = %v, want ErrForbidden", err)
	}
}
