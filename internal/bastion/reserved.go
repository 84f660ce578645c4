package bastion

import "github.com/ashureev/sshbastion/internal/domain"

// ReservedNames is the write-once handle naming the bastion's internal,
// "__"-prefixed policy objects (spec §9 "Global singleton for internal
// UUIDs"). Rather than a package-level global table of name→UUID, a single
// immutable ReservedNames value is constructed once during service
// initialization and passed by reference into every component that needs
// these names, so there is exactly one source of truth and no global
// mutable state.
type ReservedNames struct {
	Login string
	Admin string
}

// NewReservedNames constructs the handle. Any caller that cannot find a
// required reserved name at startup must treat that as a fatal
// configuration error, per spec §9.
func NewReservedNames() *ReservedNames {
	return &ReservedNames{
		Login: domain.ObjectLogin,
		Admin: domain.ObjectAdmin,
	}
}
