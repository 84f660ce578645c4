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

func (s *SQLiteStore) scanSecret(row interface {
	Scan(dest ...any) error
}) (*domain.Secret, error) {
	var sec domain.Secret
	var id, updatedBy string
	var password, privateKey, publicKey sql.NullString
	var isActive int
	var updatedAt int64

	err := row.Scan(&id, &sec.Name, &sec.RemoteUser, &password, &privateKey, &publicKey,
		&isActive, &updatedBy, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan secret: %v", errs.ErrStorage, err)
	}

	sec.ID = parseUUIDOrNil(id)
	sec.PasswordCiphertext = password.String
	sec.PrivateKeyCiphertext = privateKey.String
	sec.PublicKey = publicKey.String
	sec.IsActive = isActive == 1
	sec.UpdatedBy = parseUUIDOrNil(updatedBy)
	sec.UpdatedAt = time.Unix(updatedAt, 0)
	return &sec, nil
}

func (s *SQLiteStore) GetSecretByID(ctx context.Context, id uuid.UUID) (*domain.Secret, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, remote_user, password, private_key, public_key, is_active, updated_by, updated_at
		FROM secrets WHERE id = ?`, id.String())
	return s.scanSecret(row)
}

func (s *SQLiteStore) ListSecrets(ctx context.Context) ([]domain.Secret, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, remote_user, password, private_key, public_key, is_active, updated_by, updated_at
		FROM secrets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: list secrets: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	var out []domain.Secret
	for rows.Next() {
		sec, err := s.scanSecret(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertSecret(ctx context.Context, sec *domain.Secret) error {
	if sec.ID == uuid.Nil {
		sec.ID = uuid.New()
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secrets (id, name, remote_user, password, private_key, public_key, is_active, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, remote_user=excluded.remote_user, password=excluded.password,
			private_key=excluded.private_key, public_key=excluded.public_key,
			is_active=excluded.is_active, updated_by=excluded.updated_by, updated_at=excluded.updated_at`,
		sec.ID.String(), sec.Name, sec.RemoteUser, sec.PasswordCiphertext, sec.PrivateKeyCiphertext,
		sec.PublicKey, boolToInt(sec.IsActive), nullUUID(sec.UpdatedBy), now.Unix())
	if err != nil {
		return wrapStorageErr("upsert secret", err)
	}
	sec.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) DeleteSecret(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE id = ?`, id.String())
	if err != nil {
		return wrapStorageErr("delete secret", err)
	}
	return nil
}

func (s *SQLiteStore) scanTargetSecret(row interface {
	Scan(dest ...any) error
}) (*domain.TargetSecret, error) {
	var ts domain.TargetSecret
	var id, targetID, secretID, updatedBy string
	var isActive int
	var updatedAt int64

	err := row.Scan(&id, &targetID, &secretID, &isActive, &updatedBy, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan target_secret: %v", errs.ErrStorage, err)
	}

	ts.ID = parseUUIDOrNil(id)
	ts.TargetID = parseUUIDOrNil(targetID)
	ts.SecretID = parseUUIDOrNil(secretID)
	ts.IsActive = isActive == 1
	ts.UpdatedBy = parseUUIDOrNil(updatedBy)
	ts.UpdatedAt = time.Unix(updatedAt, 0)
	return &ts, nil
}

func (s *SQLiteStore) GetTargetSecretByID(ctx context.Context, id uuid.UUID) (*domain.TargetSecret, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, target_id, secret_id, is_active, updated_by, updated_at
		FROM target_secrets WHERE id = ?`, id.String())
	return s.scanTargetSecret(row)
}

func (s *SQLiteStore) ListTargetSecretsForTarget(ctx context.Context, targetID uuid.UUID) ([]domain.TargetSecret, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_id, secret_id, is_active, updated_by, updated_at
		FROM target_secrets WHERE target_id = ?`, targetID.String())
	if err != nil {
		return nil, fmt.Errorf("%w: list target_secrets: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	var out []domain.TargetSecret
	for rows.Next() {
		ts, err := s.scanTargetSecret(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ts)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertTargetSecret(ctx context.Context, ts *domain.TargetSecret) error {
	if ts.ID == uuid.Nil {
		ts.ID = uuid.New()
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO target_secrets (id, target_id, secret_id, is_active, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			target_id=excluded.target_id, secret_id=excluded.secret_id,
			is_active=excluded.is_active, updated_by=excluded.updated_by, updated_at=excluded.updated_at`,
		ts.ID.String(), ts.TargetID.String(), ts.SecretID.String(),
		boolToInt(ts.IsActive), nullUUID(ts.UpdatedBy), now.Unix())
	if err != nil {
		return wrapStorageErr("upsert target_secret", err)
	}
	ts.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) DeleteTargetSecret(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM target_secrets WHERE id = ?`, id.String())
	if err != nil {
		return wrapStorageErr("delete target_secret", err)
	}
	return nil
}

// ActiveSecretForTargetSecret satisfies targetconn.SecretLookup (spec §4.5
// step 1a): it returns nil, nil when the binding or either side is absent
// or inactive, never an error, since "no usable credential" is a normal
// outcome rather than a storage fault.
func (s *SQLiteStore) ActiveSecretForTargetSecret(ctx context.Context, targetSecretID uuid.UUID) (*domain.Secret, error) {
	ts, err := s.GetTargetSecretByID(ctx, targetSecretID)
	if err != nil {
		return nil, err
	}
	if ts == nil || !ts.IsActive {
		return nil, nil
	}
	target, err := s.GetTargetByID(ctx, ts.TargetID)
	if err != nil {
		return nil, err
	}
	if target == nil || !target.IsActive {
		return nil, nil
	}
	sec, err := s.GetSecretByID(ctx, ts.SecretID)
	if err != nil {
		return nil, err
	}
	if sec == nil || !sec.IsActive {
		return nil, nil
	}
	return sec, nil
}
