package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ashureev/sshbastion/internal/domain"
	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGetUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u := &domain.User{Username: "alice", IsActive: true, AuthorizedKeys: []string{"ssh-ed25519 AAAA..."}}
	if err := s.UpsertUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	if u.ID == uuid.Nil {
		t.Fatal("expected UpsertUser to assign an id")
	}

	got, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected to find alice")
	}
	if len(got.AuthorizedKeys) != 1 || got.AuthorizedKeys[0] != "ssh-ed25519 AAAA..." {
		t.Errorf("authorized keys round-trip mismatch: %v", got.AuthorizedKeys)
	}
}

func TestGetUserByIDMissingReturnsNilNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetUserByID(context.Background(), uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("expected nil for a missing user")
	}
}

func TestUpsertUserDuplicateUsernameConflicts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.UpsertUser(ctx, &domain.User{Username: "bob", IsActive: true}); err != nil {
		t.Fatal(err)
	}
	err := s.UpsertUser(ctx, &domain.User{Username: "bob", IsActive: true})
	if err == nil {
		t.Fatal("expected a conflict error for a duplicate username")
	}
}

func TestListTargetsForUserDirectBinding(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	user := &domain.User{Username: "carol", IsActive: true}
	if err := s.UpsertUser(ctx, user); err != nil {
		t.Fatal(err)
	}
	target := &domain.Target{Name: "db-1", Hostname: "10.0.0.1", Port: 22, ServerPublicKey: []byte("key"), IsActive: true}
	if err := s.UpsertTarget(ctx, target); err != nil {
		t.Fatal(err)
	}
	secret := &domain.Secret{Name: "db-1-svc", RemoteUser: "svc", IsActive: true}
	if err := s.UpsertSecret(ctx, secret); err != nil {
		t.Fatal(err)
	}
	ts := &domain.TargetSecret{TargetID: target.ID, SecretID: secret.ID, IsActive: true}
	if err := s.UpsertTargetSecret(ctx, ts); err != nil {
		t.Fatal(err)
	}

	rule := &domain.CasbinRule{Ptype: domain.PTypePolicy, V0: user.ID.String(), V1: ts.ID.String(), V2: domain.ActionShell}
	if err := s.AddCasbinRule(ctx, rule); err != nil {
		t.Fatal(err)
	}

	bindings, err := s.ListTargetsForUser(ctx, user.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(bindings) != 1 {
		t.Fatalf("expected exactly one binding, got %d", len(bindings))
	}
	if bindings[0].TargetName != "db-1" || bindings[0].SystemUser != "svc" {
		t.Errorf("unexpected binding: %+v", bindings[0])
	}
}

func TestGetActionsForPolicyLeafFallsBackToItself(t *testing.T) {
	s := newTestStore(t)
	actions, err := s.GetActionsForPolicy(context.Background(), "Shell")
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 || actions[0] != "Shell" {
		t.Errorf("expected the leaf action itself, got %v", actions)
	}
}

func TestGetActionsForPolicyExpandsGroup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rule := &domain.CasbinRule{Ptype: domain.PTypeAction, V0: "Shell", V1: "interactive"}
	if err := s.AddCasbinRule(ctx, rule); err != nil {
		t.Fatal(err)
	}
	rule2 := &domain.CasbinRule{Ptype: domain.PTypeAction, V0: "Exec", V1: "interactive"}
	if err := s.AddCasbinRule(ctx, rule2); err != nil {
		t.Fatal(err)
	}

	actions, err := s.GetActionsForPolicy(ctx, "interactive")
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 2 {
		t.Fatalf("expected 2 expanded actions, got %d: %v", len(actions), actions)
	}
}

func TestIsObjectActiveInternalObject(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	active, err := s.IsObjectActive(ctx, domain.ObjectAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if active {
		t.Error("expected an unknown internal object to be inactive")
	}

	if err := s.UpsertInternalObject(ctx, &domain.InternalObject{Name: domain.ObjectAdmin, IsActive: true}); err != nil {
		t.Fatal(err)
	}
	active, err = s.IsObjectActive(ctx, domain.ObjectAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if !active {
		t.Error("expected the internal object to be active after upsert")
	}
}
