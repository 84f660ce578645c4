package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ashureev/sshbastion/internal/domain"
	"github.com/ashureev/sshbastion/internal/errs"
	"github.com/google/uuid"
)

func (s *SQLiteStore) ListCasbinRules(ctx context.Context) ([]domain.CasbinRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ptype, v0, v1, v2, v3, v4, v5, updated_by, updated_at FROM casbin_rule`)
	if err != nil {
		return nil, fmt.Errorf("%w: list casbin rules: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	var out []domain.CasbinRule
	for rows.Next() {
		var r domain.CasbinRule
		var id, updatedBy string
		var updatedAt int64
		if err := rows.Scan(&id, &r.Ptype, &r.V0, &r.V1, &r.V2, &r.V3, &r.V4, &r.V5, &updatedBy, &updatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan casbin rule: %v", errs.ErrStorage, err)
		}
		r.ID = parseUUIDOrNil(id)
		r.UpdatedBy = parseUUIDOrNil(updatedBy)
		r.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddCasbinRule(ctx context.Context, r *domain.CasbinRule) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO casbin_rule (id, ptype, v0, v1, v2, v3, v4, v5, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), string(r.Ptype), r.V0, r.V1, r.V2, r.V3, r.V4, r.V5, nullUUID(r.UpdatedBy), now.Unix())
	if err != nil {
		return wrapStorageErr("add casbin rule", err)
	}
	r.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) DeleteCasbinRule(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM casbin_rule WHERE id = ?`, id.String())
	if err != nil {
		return wrapStorageErr("delete casbin rule", err)
	}
	return nil
}

// IsObjectActive answers the policy engine's Object-active predicate
// (spec §4.3 step 2b). Internal objects ("__"-prefixed) are looked up in
// internal_objects; anything else is treated as a target-secret id and
// looked up via its target_secrets/targets/secrets activity chain. An
// object with no row at all is treated as inactive, denying the request.
func (s *SQLiteStore) IsObjectActive(ctx context.Context, objectID string) (bool, error) {
	if domain.IsInternalObject(objectID) {
		var isActive int
		err := s.db.QueryRowContext(ctx, `SELECT is_active FROM internal_objects WHERE name = ?`, objectID).Scan(&isActive)
		if err == sql.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("%w: check internal object active: %v", errs.ErrStorage, err)
		}
		return isActive == 1, nil
	}

	id, err := uuid.Parse(objectID)
	if err != nil {
		return false, nil
	}
	sec, err := s.ActiveSecretForTargetSecret(ctx, id)
	if err != nil {
		return false, err
	}
	return sec != nil, nil
}

func (s *SQLiteStore) UpsertInternalObject(ctx context.Context, o *domain.InternalObject) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO internal_objects (name, is_active, updated_by, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			is_active=excluded.is_active, updated_by=excluded.updated_by, updated_at=excluded.updated_at`,
		o.Name, boolToInt(o.IsActive), nullUUID(o.UpdatedBy), now.Unix())
	if err != nil {
		return wrapStorageErr("upsert internal object", err)
	}
	o.UpdatedAt = now
	return nil
}
