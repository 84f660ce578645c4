package bastion

import (
	"golang.org/x/crypto/ssh"
)

// Application is the tagged-union interface the Session Orchestrator
// dispatches channel requests to once a login handle resolves to a concrete
// mode (spec §9 "Dynamic dispatch of Application"). Exactly one
// Application is attached to a session channel at a time; TargetSelector
// replaces itself with a ConnectTarget once the operator picks a target,
// handing the same channel off to the new Application in place.
type Application interface {
	// HandlePty services a "pty-req" channel request.
	HandlePty(req *ssh.Request, ch ssh.Channel) bool
	// HandleShell services a "shell" channel request.
	HandleShell(req *ssh.Request, ch ssh.Channel) bool
	// HandleExec services an "exec" channel request.
	HandleExec(req *ssh.Request, ch ssh.Channel) bool
	// HandleWindowChange services a "window-change" channel request.
	HandleWindowChange(req *ssh.Request, ch ssh.Channel) bool
	// HandleOpenDirectTcpip services a "direct-tcpip" global channel.
	HandleOpenDirectTcpip(newChannel ssh.NewChannel) bool
	// Close tears down whatever the Application is holding open: an
	// outbound handle, a recorder, a menu goroutine (spec §9 "drop-time
	// cleanup": fan-out, never blocks the caller).
	Close()
}

// ptyModes captures the wire-format terminal modes string from a pty-req
// payload, opaque to everything except the outbound channel's PTY request.
type ptyModes []byte

// parsePtyRequest decodes an RFC 4254 §6.2 pty-req payload.
func parsePtyRequest(payload []byte) (term string, cols, rows uint32, modes ptyModes, ok bool) {
	if len(payload) < 4 {
		return "", 0, 0, nil, false
	}
	n := int(be32(payload))
	if len(payload) < 4+n+16 {
		return "", 0, 0, nil, false
	}
	term = string(payload[4 : 4+n])
	rest := payload[4+n:]
	cols = be32(rest[0:4])
	rows = be32(rest[4:8])
	// rest[8:16] is pixel width/height, unused here.
	modesLenOff := 16
	if len(rest) < modesLenOff+4 {
		return term, cols, rows, nil, true
	}
	modesLen := int(be32(rest[modesLenOff : modesLenOff+4]))
	start := modesLenOff + 4
	if len(rest) < start+modesLen {
		return term, cols, rows, nil, true
	}
	return term, cols, rows, ptyModes(rest[start : start+modesLen]), true
}

// parseWindowChange decodes an RFC 4254 §6.7 window-change payload.
func parseWindowChange(payload []byte) (cols, rows uint32, ok bool) {
	if len(payload) < 8 {
		return 0, 0, false
	}
	return be32(payload[0:4]), be32(payload[4:8]), true
}

// parseExecRequest decodes an RFC 4254 §6.5 exec payload.
func parseExecRequest(payload []byte) (command string, ok bool) {
	if len(payload) < 4 {
		return "", false
	}
	n := int(be32(payload))
	if len(payload) < 4+n {
		return "", false
	}
	return string(payload[4 : 4+n]), true
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
