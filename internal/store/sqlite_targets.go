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

func (s *SQLiteStore) scanTarget(row interface {
	Scan(dest ...any) error
}) (*domain.Target, error) {
	var t domain.Target
	var id, updatedBy string
	var description sql.NullString
	var isActive int
	var updatedAt int64
	var pubKey []byte

	err := row.Scan(&id, &t.Name, &t.Hostname, &t.Port, &pubKey,
		&description, &isActive, &updatedBy, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan target: %v", errs.ErrStorage, err)
	}

	t.ID = parseUUIDOrNil(id)
	t.ServerPublicKey = pubKey
	t.Description = description.String
	t.IsActive = isActive == 1
	t.UpdatedBy = parseUUIDOrNil(updatedBy)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	return &t, nil
}

func (s *SQLiteStore) GetTargetByID(ctx context.Context, id uuid.UUID) (*domain.Target, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, hostname, port, server_public_key, description, is_active, updated_by, updated_at
		FROM targets WHERE id = ?`, id.String())
	return s.scanTarget(row)
}

func (s *SQLiteStore) GetTargetByName(ctx context.Context, name string) (*domain.Target, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, hostname, port, server_public_key, description, is_active, updated_by, updated_at
		FROM targets WHERE name = ?`, name)
	return s.scanTarget(row)
}

func (s *SQLiteStore) ListTargets(ctx context.Context) ([]domain.Target, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, hostname, port, server_public_key, description, is_active, updated_by, updated_at
		FROM targets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: list targets: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	var out []domain.Target
	for rows.Next() {
		t, err := s.scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertTarget(ctx context.Context, t *domain.Target) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO targets (id, name, hostname, port, server_public_key, description, is_active, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, hostname=excluded.hostname, port=excluded.port,
			server_public_key=excluded.server_public_key, description=excluded.description,
			is_active=excluded.is_active, updated_by=excluded.updated_by, updated_at=excluded.updated_at`,
		t.ID.String(), t.Name, t.Hostname, t.Port, t.ServerPublicKey, t.Description,
		boolToInt(t.IsActive), nullUUID(t.UpdatedBy), now.Unix())
	if err != nil {
		return wrapStorageErr("upsert target", err)
	}
	t.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) DeleteTarget(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, id.String())
	if err != nil {
		return wrapStorageErr("delete target", err)
	}
	return nil
}
