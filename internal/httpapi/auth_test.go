package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wash91/sitem-washo-distr-sub001/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func newAuthStub() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Name:      "Administrador",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
			"reparto1": {
				Username:  "reparto1",
				Password:  "reparto123",
				Name:      "Reparto Uno",
				Role:      domain.RoleDistributor,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := newAuthStub()
	manager := NewAuthManager("test-secret", time.Hour, store)

	_, err := manager.Login(domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	for _, user := range users {
		if user.Username != "admin" {
			continue
		}
		if user.Password == "admin123" {
			t.Fatalf("expected password to be upgraded from plain-text")
		}
		if !strings.HasPrefix(user.Password, "$2") {
			t.Fatalf("expected bcrypt password hash, got %s", user.Password)
		}
		return
	}
	t.Fatalf("admin user missing from store")
}

func TestLoginTokenCarriesActorIdentity(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, newAuthStub())

	resp, err := manager.Login(domain.LoginRequest{
		Username: "reparto1",
		Password: "reparto123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != domain.RoleDistributor {
		t.Fatalf("expected distributor role, got %q", resp.Role)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.ID != "reparto1" {
		t.Fatalf("expected actor id reparto1, got %q", actor.ID)
	}
	if actor.Name != "Reparto Uno" {
		t.Fatalf("expected actor name from claims, got %q", actor.Name)
	}
	if actor.Role != domain.RoleDistributor {
		t.Fatalf("expected distributor role in claims, got %q", actor.Role)
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	store := newAuthStub()
	inactive := store.users["reparto1"]
	inactive.Active = false
	store.users["reparto1"] = inactive

	manager := NewAuthManager("test-secret", time.Hour, store)

	if _, err := manager.Login(domain.LoginRequest{
		Username: "reparto1",
		Password: "reparto123",
	}); err == nil {
		t.Fatalf("expected login to fail for inactive account")
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewAuthManager("secret-one", time.Hour, newAuthStub())
	verifier := NewAuthManager("secret-two", time.Hour, newAuthStub())

	resp, err := issuer.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, newAuthStub())
	if _, err := manager.ParseToken("not.a.token"); err == nil {
		t.Fatalf("expected garbage token to be rejected")
	}
}
