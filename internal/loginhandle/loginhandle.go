// Package loginhandle parses the bastion's "user@mode" SSH login name into
// a typed dispatch target for the Session Orchestrator (spec §4.2, C7).
package loginhandle

import (
	"fmt"
	"strings"

	"github.com/ashureev/sshbastion/internal/errs"
)

// Kind tags which of the five login modes a Handle selects.
type Kind int

const (
	KindTargetSelector Kind = iota
	KindPassword
	KindAdmin
	KindTarget
	KindTargetWithUser
)

// Handle is the parsed form of an SSH login name, spec §4.2.
type Handle struct {
	User       string // always s0, the user segment
	Kind       Kind
	SystemUser string // set only for KindTargetWithUser
	Target     string // set for KindTarget and KindTargetWithUser
}

// Parse splits login on "@" into at most 3 segments and dispatches per
// spec §4.2. More than 3 segments is a parse error that the caller must
// fold into auth rejection without leaking which stage failed.
func Parse(login string) (Handle, error) {
	segments := strings.Split(login, "@")
	for _, seg := range segments {
		if seg == "" {
			return Handle{}, fmt.Errorf("%w: login handle has an empty segment", errs.ErrIdentity)
		}
	}

	switch len(segments) {
	case 1:
		return Handle{User: segments[0], Kind: KindTargetSelector}, nil
	case 2:
		h := Handle{User: segments[0]}
		switch segments[1] {
		case "password":
			h.Kind = KindPassword
		case "admin":
			h.Kind = KindAdmin
		default:
			h.Kind = KindTarget
			h.Target = segments[1]
		}
		return h, nil
	case 3:
		return Handle{
			User:       segments[0],
			Kind:       KindTargetWithUser,
			SystemUser: segments[1],
			Target:     segments[2],
		}, nil
	default:
		return Handle{}, fmt.Errorf("%w: login handle has more than 3 segments", errs.ErrIdentity)
	}
}
