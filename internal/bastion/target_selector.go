package bastion

import (
	"bufio"
	"context"
	"fmt"
	"sort"

	"github.com/ashureev/sshbastion/internal/domain"
	"golang.org/x/crypto/ssh"
)

// TargetSelector is the interactive menu Application shown when a login
// handle carries no target (spec §4.1, §4.2 KindTargetSelector): it lists
// the distinct targets the user's policies authorize, then the distinct
// system users available on the chosen target, and finally hands the
// channel off to a ConnectTarget.
type TargetSelector struct {
	sess *session
}

func newTargetSelector(sess *session) *TargetSelector {
	return &TargetSelector{sess: sess}
}

func (t *TargetSelector) HandlePty(req *ssh.Request, ch ssh.Channel) bool {
	term, cols, rows, modes, ok := parsePtyRequest(req.Payload)
	if !ok {
		return false
	}
	t.sess.mu.Lock()
	t.sess.lastPty = &ptyInfo{term: term, cols: int(cols), rows: int(rows), modes: modes}
	t.sess.mu.Unlock()
	return true
}

func (t *TargetSelector) HandleWindowChange(req *ssh.Request, ch ssh.Channel) bool { return true }

func (t *TargetSelector) HandleExec(req *ssh.Request, ch ssh.Channel) bool {
	fmt.Fprintln(ch, "exec is not supported on the target selector; connect to a target first")
	return false
}

func (t *TargetSelector) HandleOpenDirectTcpip(newChannel ssh.NewChannel) bool {
	newChannel.Reject(ssh.Prohibited, "no target selected")
	return false
}

func (t *TargetSelector) Close() {}

// HandleShell runs the menu loop to completion on the calling goroutine,
// then (on a successful pick) constructs and starts a ConnectTarget over
// the same channel (spec §9 "dynamic dispatch": the menu's job ends by
// attaching the real Application, not by itself proxying bytes).
func (t *TargetSelector) HandleShell(req *ssh.Request, ch ssh.Channel) bool {
	ctx := context.Background()
	bindings, err := t.sess.srv.repo.ListTargetsForUser(ctx, t.sess.user.ID, true)
	if err != nil || len(bindings) == 0 {
		fmt.Fprintln(ch, "no targets are available for your account")
		return true
	}

	names := distinctTargetNames(bindings)
	sort.Strings(names)

	scanner := bufio.NewScanner(ch)
	for {
		fmt.Fprintln(ch, "\nAvailable targets:")
		for i, n := range names {
			fmt.Fprintf(ch, "  %d) %s\n", i+1, n)
		}
		fmt.Fprint(ch, "target> ")
		if !scanner.Scan() {
			return true
		}
		line := scanner.Text()
		if line == "quit" || line == "exit" {
			return true
		}
		targetName, ok := resolveMenuChoice(line, names)
		if !ok {
			fmt.Fprintln(ch, "unknown target")
			continue
		}

		sysUsers := systemUsersForTarget(bindings, targetName)
		sort.Strings(sysUsers)
		var chosenUser string
		if len(sysUsers) == 1 {
			chosenUser = sysUsers[0]
		} else {
			fmt.Fprintln(ch, "System users:")
			for i, u := range sysUsers {
				fmt.Fprintf(ch, "  %d) %s\n", i+1, u)
			}
			fmt.Fprint(ch, "user> ")
			if !scanner.Scan() {
				return true
			}
			userLine := scanner.Text()
			if userLine == "quit" || userLine == "exit" {
				return true
			}
			chosenUser, ok = resolveMenuChoice(userLine, sysUsers)
			if !ok {
				fmt.Fprintln(ch, "unknown system user")
				continue
			}
		}

		binding, target, err := t.sess.srv.resolveBinding(ctx, bindings, targetName, chosenUser)
		if err != nil {
			fmt.Fprintln(ch, "error: "+err.Error())
			continue
		}

		app := newConnectTarget(t.sess, *binding, target)
		t.sess.mu.Lock()
		t.sess.app = app
		t.sess.st = stateAppSelected
		t.sess.mu.Unlock()
		return app.startSession(ch, "", true)
	}
}

func distinctTargetNames(bindings []domain.TargetBinding) []string {
	seen := map[string]bool{}
	var names []string
	for _, b := range bindings {
		if !seen[b.TargetName] {
			seen[b.TargetName] = true
			names = append(names, b.TargetName)
		}
	}
	return names
}

func systemUsersForTarget(bindings []domain.TargetBinding, targetName string) []string {
	seen := map[string]bool{}
	var users []string
	for _, b := range bindings {
		if b.TargetName == targetName && !seen[b.SystemUser] {
			seen[b.SystemUser] = true
			users = append(users, b.SystemUser)
		}
	}
	return users
}

// resolveMenuChoice accepts either a 1-based index or an exact literal
// match against options.
func resolveMenuChoice(input string, options []string) (string, bool) {
	var idx int
	if _, err := fmt.Sscanf(input, "%d", &idx); err == nil && idx >= 1 && idx <= len(options) {
		return options[idx-1], true
	}
	for _, o := range options {
		if o == input {
			return o, true
		}
	}
	return "", false
}

var _ Application = (*TargetSelector)(nil)
