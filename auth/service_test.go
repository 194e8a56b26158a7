package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"agencyflow/queue"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:    "amadou@agence.cm",
		Password: "supersafe",
		FullName: "Amadou Diallo",
		AgencyID: "agency-douala-1",
	}

	ctx := context.Background()
	user, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if user.Email != req.Email {
		t.Fatalf("expected email %q got %q", req.Email, user.Email)
	}
	if user.Role != queue.RoleAgent {
		t.Fatalf("register: expected default role %s got %s", queue.RoleAgent, user.Role)
	}
	if user.AgencyID == nil || *user.AgencyID != req.AgencyID {
		t.Fatalf("register: expected agency %q got %v", req.AgencyID, user.AgencyID)
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.User.ID != user.ID {
		t.Fatalf("login: expected user id %q got %q", user.ID, resp.User.ID)
	}

	actor, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if actor.ID != user.ID {
		t.Fatalf("verify token: expected %q got %q", user.ID, actor.ID)
	}
	if actor.Role != queue.RoleAgent {
		t.Fatalf("verify token: expected role %s got %s", queue.RoleAgent, actor.Role)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "amadou@agence.cm",
		Password: "short",
		FullName: "Amadou Diallo",
		AgencyID: "agency-douala-1",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "",
		Password: "strongpassword",
		FullName: "",
	}); err == nil {
		t.Fatal("expected validation error for missing fields")
	}

	// Agents are always attached to an agency.
	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "amadou@agence.cm",
		Password: "strongpassword",
		FullName: "Amadou Diallo",
	}); err == nil {
		t.Fatal("expected validation error for agent without agency")
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "amadou@agence.cm",
		Password: "strongpassword",
		FullName: "Amadou Diallo",
		Role:     queue.Role("superuser"),
	}); err == nil {
		t.Fatal("expected validation error for unknown role")
	}
}

func TestService_ConsoleRolesNeedNoAgency(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	user, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "chef@agence.cm",
		Password: "strongpassword",
		FullName: "Fatou Ndiaye",
		Role:     queue.RoleChefAgence,
	})
	if err != nil {
		t.Fatalf("register chef: %v", err)
	}
	if user.AgencyID != nil {
		t.Fatalf("expected no agency for console role, got %v", user.AgencyID)
	}
}

func TestService_DuplicateEmail(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:    "amadou@agence.cm",
		Password: "strongpassword",
		FullName: "Amadou Diallo",
		AgencyID: "agency-douala-1",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "unknown@agence.cm",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_LoginDeactivatedAccount(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "amadou@agence.cm",
		Password: "strongpassword",
		FullName: "Amadou Diallo",
		AgencyID: "agency-douala-1",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	repo.deactivate("amadou@agence.cm")

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "amadou@agence.cm",
		Password: "strongpassword",
	})
	if !errors.Is(err, ErrInactiveUser) {
		t.Fatalf("expected ErrInactiveUser, got %v", err)
	}
}

type fakeRepository struct {
	usersByEmail map[string]User
	usersByID    map[string]User
	nextID       int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		usersByEmail: make(map[string]User),
		usersByID:    make(map[string]User),
		nextID:       1,
	}
}

func (f *fakeRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	if _, exists := f.usersByEmail[strings.ToLower(params.Email)]; exists {
		return User{}, ErrDuplicateEmail
	}

	id := fmt.Sprintf("user-%d", f.nextID)
	f.nextID++
	role := params.Role
	if role == "" {
		role = queue.RoleAgent
	}

	user := User{
		ID:           id,
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		AgencyID:     params.AgencyID,
		Role:         role,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	f.usersByEmail[strings.ToLower(user.Email)] = user
	f.usersByID[user.ID] = user

	return user, nil
}

func (f *fakeRepository) deactivate(email string) {
	user := f.usersByEmail[strings.ToLower(email)]
	user.Active = false
	f.usersByEmail[strings.ToLower(email)] = user
	f.usersByID[user.ID] = user
}

func (f *fakeRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, ok := f.usersByEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, ok := f.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}
