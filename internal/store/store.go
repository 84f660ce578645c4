// Package store implements the Identity Store (spec §4.8, C1): a CRUD
// repository over users, targets, secrets, target-secret bindings, casbin
// rules, internal objects and audit logs, plus the two derived queries the
// policy engine and session orchestrator depend on.
package store

import (
	"context"

	"github.com/ashureev/sshbastion/internal/domain"
	"github.com/google/uuid"
)

// Repository is the full Identity Store surface. It is implemented by
// SQLiteStore; kept as an interface so internal/policy and internal/bastion
// depend on behavior, not on modernc.org/sqlite directly.
type Repository interface {
	// Users
	GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpsertUser(ctx context.Context, u *domain.User) error
	DeleteUser(ctx context.Context, id uuid.UUID) error

	// Targets
	GetTargetByID(ctx context.Context, id uuid.UUID) (*domain.Target, error)
	GetTargetByName(ctx context.Context, name string) (*domain.Target, error)
	ListTargets(ctx context.Context) ([]domain.Target, error)
	UpsertTarget(ctx context.Context, t *domain.Target) error
	DeleteTarget(ctx context.Context, id uuid.UUID) error

	// Secrets
	GetSecretByID(ctx context.Context, id uuid.UUID) (*domain.Secret, error)
	ListSecrets(ctx context.Context) ([]domain.Secret, error)
	UpsertSecret(ctx context.Context, s *domain.Secret) error
	DeleteSecret(ctx context.Context, id uuid.UUID) error

	// Target-secret bindings
	GetTargetSecretByID(ctx context.Context, id uuid.UUID) (*domain.TargetSecret, error)
	ListTargetSecretsForTarget(ctx context.Context, targetID uuid.UUID) ([]domain.TargetSecret, error)
	UpsertTargetSecret(ctx context.Context, ts *domain.TargetSecret) error
	DeleteTargetSecret(ctx context.Context, id uuid.UUID) error

	// Casbin rules
	ListCasbinRules(ctx context.Context) ([]domain.CasbinRule, error)
	AddCasbinRule(ctx context.Context, r *domain.CasbinRule) error
	DeleteCasbinRule(ctx context.Context, id uuid.UUID) error

	// Internal objects
	IsObjectActive(ctx context.Context, objectID string) (bool, error)
	UpsertInternalObject(ctx context.Context, o *domain.InternalObject) error

	// Audit log
	AppendLog(ctx context.Context, l *domain.Log) error

	// Derived queries (spec §4.8)
	ListTargetsForUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]domain.TargetBinding, error)
	GetActionsForPolicy(ctx context.Context, policyAction string) ([]string, error)

	// ActiveSecretForTargetSecret satisfies internal/targetconn.SecretLookup.
	ActiveSecretForTargetSecret(ctx context.Context, targetSecretID uuid.UUID) (*domain.Secret, error)

	Close() error
}
