// Package domain contains core domain types for the bastion.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is an identity that may authenticate to the bastion.
type User struct {
	ID              uuid.UUID
	Username        string
	Email           string
	PasswordHash    string // Argon2 PHC string, empty if key-only
	AuthorizedKeys  []string
	ForceInitPass   bool
	IsActive        bool
	UpdatedBy       uuid.UUID
	UpdatedAt       time.Time
}

// HasPassword reports whether the user has a password set.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Target is a backend host the bastion can proxy sessions to.
type Target struct {
	ID              uuid.UUID
	Name            string
	Hostname        string
	Port            int
	ServerPublicKey []byte // wire-format OpenSSH public key payload, pinned
	Description     string
	IsActive        bool
	UpdatedBy       uuid.UUID
	UpdatedAt       time.Time
}

// Secret is a credential used to authenticate to a Target.
type Secret struct {
	ID                 uuid.UUID
	Name               string
	RemoteUser         string
	PasswordCiphertext string // base64(nonce||ct||tag), empty if unset
	PrivateKeyCiphertext string
	PublicKey          string
	IsActive           bool
	UpdatedBy          uuid.UUID
	UpdatedAt          time.Time
}

// HasPassword reports whether a password ciphertext is present.
func (s *Secret) HasPassword() bool { return s.PasswordCiphertext != "" }

// HasPrivateKey reports whether a private key ciphertext is present.
func (s *Secret) HasPrivateKey() bool { return s.PrivateKeyCiphertext != "" }

// TargetSecret binds a Secret to a Target.
type TargetSecret struct {
	ID        uuid.UUID
	TargetID  uuid.UUID
	SecretID  uuid.UUID
	IsActive  bool
	UpdatedBy uuid.UUID
	UpdatedAt time.Time
}

// PType is the policy-row kind for a CasbinRule.
type PType string

const (
	PTypePolicy    PType = "p"
	PTypeSubject   PType = "g1"
	PTypeObject    PType = "g2"
	PTypeAction    PType = "g3"
)

// CasbinRule is one policy or role-graph-edge row.
//
// For PTypePolicy: V0=subject, V1=object, V2=action, V3=extension string.
// For the g* types: V0=child, V1=parent (an edge parent->child is added).
type CasbinRule struct {
	ID        uuid.UUID
	Ptype     PType
	V0        string
	V1        string
	V2        string
	V3        string
	V4        string
	V5        string
	UpdatedBy uuid.UUID
	UpdatedAt time.Time
}

// InternalObject marks a reserved "__"-prefixed object name as active/inactive.
type InternalObject struct {
	Name      string
	IsActive  bool
	UpdatedBy uuid.UUID
	UpdatedAt time.Time
}

// LogType tags the kind of audit event recorded in Log.
type LogType string

const (
	LogTypeLogin       LogType = "login"
	LogTypePasswordSet LogType = "password_set"
	LogTypeAdminShell  LogType = "admin_shell"
	LogTypeBridgeOpen  LogType = "bridge_open"
	LogTypeBridgeClose LogType = "bridge_close"
	LogTypeAuthReject  LogType = "auth_reject"
)

// Log is an append-only audit event.
type Log struct {
	ConnectionID uuid.UUID
	UserID       uuid.UUID
	Type         LogType
	Detail       string
	CreatedAt    time.Time
}

// TargetBinding is a concrete binding a policy authorizes for a user,
// returned by Repository.ListTargetsForUser. See spec §4.8: results may
// duplicate target-secret ids across different policies, each carrying its
// own PolicyID.
type TargetBinding struct {
	PolicyID       uuid.UUID
	TargetSecretID uuid.UUID
	TargetID       uuid.UUID
	TargetName     string
	SecretID       uuid.UUID
	SystemUser     string
}

// Reserved object/action names, prefixed "__", checked for activity during
// enforcement (spec §3 InternalObject, §9 "InternalUuids").
const (
	ObjectLogin = "__login"
	ObjectAdmin = "__admin"
)

// IsInternalObject reports whether name is a reserved "__"-prefixed object.
func IsInternalObject(name string) bool {
	return len(name) >= 2 && name[:2] == "__"
}

// Action names used for per-request policy guards (spec §4.1).
const (
	ActionPty             = "Pty"
	ActionShell           = "Shell"
	ActionExec            = "Exec"
	ActionOpenDirectTcpip = "OpenDirectTcpip"
)
