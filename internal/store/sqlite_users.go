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

func (s *SQLiteStore) scanUser(row interface {
	Scan(dest ...any) error
}) (*domain.User, error) {
	var u domain.User
	var id, updatedBy string
	var email, passwordHash sql.NullString
	var authorizedKeys sql.NullString
	var forceInit, isActive int
	var updatedAt int64

	err := row.Scan(&id, &u.Username, &email, &passwordHash, &authorizedKeys,
		&forceInit, &isActive, &updatedBy, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan user: %v", errs.ErrStorage, err)
	}

	keys, err := unmarshalKeys(authorizedKeys)
	if err != nil {
		return nil, fmt.Errorf("%w: decode authorized_keys: %v", errs.ErrStorage, err)
	}

	u.ID = parseUUIDOrNil(id)
	u.Email = email.String
	u.PasswordHash = passwordHash.String
	u.AuthorizedKeys = keys
	u.ForceInitPass = forceInit == 1
	u.IsActive = isActive == 1
	u.UpdatedBy = parseUUIDOrNil(updatedBy)
	u.UpdatedAt = time.Unix(updatedAt, 0)
	return &u, nil
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, authorized_keys,
		       force_init_pass, is_active, updated_by, updated_at
		FROM users WHERE id = ?`, id.String())
	return s.scanUser(row)
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, authorized_keys,
		       force_init_pass, is_active, updated_by, updated_at
		FROM users WHERE username = ?`, username)
	return s.scanUser(row)
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, password_hash, authorized_keys,
		       force_init_pass, is_active, updated_by, updated_at
		FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("%w: list users: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, u *domain.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	keys, err := marshalKeys(u.AuthorizedKeys)
	if err != nil {
		return fmt.Errorf("%w: encode authorized_keys: %v", errs.ErrStorage, err)
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, authorized_keys,
		                    force_init_pass, is_active, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username=excluded.username, email=excluded.email,
			password_hash=excluded.password_hash, authorized_keys=excluded.authorized_keys,
			force_init_pass=excluded.force_init_pass, is_active=excluded.is_active,
			updated_by=excluded.updated_by, updated_at=excluded.updated_at`,
		u.ID.String(), u.Username, u.Email, u.PasswordHash, keys,
		boolToInt(u.ForceInitPass), boolToInt(u.IsActive), nullUUID(u.UpdatedBy), now.Unix())
	if err != nil {
		return wrapStorageErr("upsert user", err)
	}
	u.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id.String())
	if err != nil {
		return wrapStorageErr("delete user", err)
	}
	return nil
}
