package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/sshbastion/internal/domain"
	"github.com/ashureev/sshbastion/internal/errs"
	"github.com/google/uuid"
)

// AppendLog writes one append-only audit event. The primary key
// (created_at, connection_id, detail) means two events for the same
// connection within the same second need distinct detail text. Callers put
// the login, target name or admin command into detail; two events with the
// same detail in the same second collide, and the second insert fails with
// a storage error.
func (s *SQLiteStore) AppendLog(ctx context.Context, l *domain.Log) error {
	now := time.Now()
	connID := l.ConnectionID
	if connID == uuid.Nil {
		connID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (connection_id, log_type, user_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		connID.String(), string(l.Type), nullUUID(l.UserID), l.Detail, now.Unix())
	if err != nil {
		return fmt.Errorf("%w: append log: %v", errs.ErrStorage, err)
	}
	l.CreatedAt = now
	return nil
}
