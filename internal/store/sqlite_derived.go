package store

import (
	"context"
	"fmt"

	"github.com/ashureev/sshbastion/internal/domain"
	"github.com/ashureev/sshbastion/internal/errs"
	"github.com/google/uuid"
)

// ListTargetsForUser implements spec §4.8's derived query: every concrete
// (policy_id, target_secret_id, target_id, target_name, secret_id,
// system_user) tuple a policy reachable for user_id authorizes. "Reachable"
// expands one level of subject-group membership (g1) the same way the
// policy engine's role graph does for a direct parent; object expansion
// (g2) covers both a direct target-secret binding and one naming an object
// group. Duplicate target-secret ids across different policies are
// intentional (spec: "each carries its own policy_id").
func (s *SQLiteStore) ListTargetsForUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]domain.TargetBinding, error) {
	query := `
	SELECT l.pid, ts.id, t.id, t.name, s.id, s.remote_user
	FROM (
		WITH all_policy AS (
			SELECT id, v1 FROM casbin_rule WHERE v0 = ? AND ptype = 'p'
			UNION ALL
			SELECT id, v1 FROM casbin_rule WHERE ptype = 'p' AND v0 IN
				(SELECT v1 FROM casbin_rule WHERE v0 = ? AND ptype = 'g1')
		)
		SELECT p.id AS pid, c.v0 AS id
		FROM (SELECT * FROM casbin_rule WHERE ptype = 'g2') c
		INNER JOIN all_policy p ON p.v1 = c.v1
		UNION ALL
		SELECT p.id AS pid, p.v1 AS id
		FROM all_policy p
		LEFT JOIN (SELECT * FROM casbin_rule WHERE ptype = 'g2') c ON p.v1 = c.v1
		WHERE c.v1 IS NULL
	) l
	INNER JOIN target_secrets ts ON ts.id = l.id
	INNER JOIN targets t ON ts.target_id = t.id
	INNER JOIN secrets s ON ts.secret_id = s.id
	`
	if activeOnly {
		query += " WHERE ts.is_active = 1 AND t.is_active = 1 AND s.is_active = 1"
	}

	rows, err := s.db.QueryContext(ctx, query, userID.String(), userID.String())
	if err != nil {
		return nil, fmt.Errorf("%w: list targets for user: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	var out []domain.TargetBinding
	for rows.Next() {
		var b domain.TargetBinding
		var pid, tsID, targetID, secretID string
		if err := rows.Scan(&pid, &tsID, &targetID, &b.TargetName, &secretID, &b.SystemUser); err != nil {
			return nil, fmt.Errorf("%w: scan target binding: %v", errs.ErrStorage, err)
		}
		b.PolicyID = parseUUIDOrNil(pid)
		b.TargetSecretID = parseUUIDOrNil(tsID)
		b.TargetID = parseUUIDOrNil(targetID)
		b.SecretID = parseUUIDOrNil(secretID)
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetActionsForPolicy implements spec §4.8's other derived query: the
// concrete leaf actions an action name expands to via g3, or the action
// itself if it names no group.
func (s *SQLiteStore) GetActionsForPolicy(ctx context.Context, policyAction string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT v0 FROM casbin_rule WHERE v1 = ? AND ptype = 'g3'`, policyAction)
	if err != nil {
		return nil, fmt.Errorf("%w: get actions for policy: %v", errs.ErrStorage, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			return nil, fmt.Errorf("%w: scan action: %v", errs.ErrStorage, err)
		}
		out = append(out, action)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return []string{policyAction}, nil
	}
	return out, nil
}
