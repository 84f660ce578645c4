package bastion

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/sshbastion/internal/domain"
	"golang.org/x/crypto/ssh"
)

// Admin is the Application attached for KindAdmin logins, after the
// session-opening contract additionally evaluates (user, "__admin", login,
// env) (spec §4.1 step 3). It exposes a small line-oriented shell over the
// Identity Store's CRUD surface; it never forwards bytes to a target.
type Admin struct {
	sess *session
}

func newAdmin(sess *session) *Admin { return &Admin{sess: sess} }

func (a *Admin) HandlePty(req *ssh.Request, ch ssh.Channel) bool          { return true }
func (a *Admin) HandleWindowChange(req *ssh.Request, ch ssh.Channel) bool { return true }
func (a *Admin) HandleExec(req *ssh.Request, ch ssh.Channel) bool {
	cmd, ok := parseExecRequest(req.Payload)
	if !ok {
		return false
	}
	a.run(ch, cmd)
	return true
}
func (a *Admin) HandleOpenDirectTcpip(newChannel ssh.NewChannel) bool {
	newChannel.Reject(ssh.Prohibited, "not authorized")
	return false
}
func (a *Admin) Close() {}

func (a *Admin) HandleShell(req *ssh.Request, ch ssh.Channel) bool {
	fmt.Fprintln(ch, "bastion admin shell. Commands: list-users, list-targets, flush, quit")
	scanner := bufio.NewScanner(ch)
	for {
		fmt.Fprint(ch, "admin> ")
		if !scanner.Scan() {
			return true
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "quit" || line == "exit" {
			return true
		}
		if line == "" {
			continue
		}
		a.run(ch, line)
	}
}

func (a *Admin) run(ch ssh.Channel, cmd string) {
	ctx := context.Background()
	switch cmd {
	case "list-users":
		users, err := a.sess.srv.repo.ListUsers(ctx)
		if err != nil {
			fmt.Fprintln(ch, "error: "+err.Error())
			return
		}
		for _, u := range users {
			fmt.Fprintf(ch, "%s\t%s\tactive=%v\n", u.ID, u.Username, u.IsActive)
		}
	case "list-targets":
		targets, err := a.sess.srv.repo.ListTargets(ctx)
		if err != nil {
			fmt.Fprintln(ch, "error: "+err.Error())
			return
		}
		for _, t := range targets {
			fmt.Fprintf(ch, "%s\t%s\t%s:%d\tactive=%v\n", t.ID, t.Name, t.Hostname, t.Port, t.IsActive)
		}
	case "flush":
		if err := a.sess.srv.engine.Reload(ctx); err != nil {
			fmt.Fprintln(ch, "error: "+err.Error())
			return
		}
		fmt.Fprintln(ch, "policy set reloaded")
	default:
		fmt.Fprintln(ch, "unknown command: "+cmd)
	}

	_ = a.sess.srv.repo.AppendLog(ctx, &domain.Log{
		ConnectionID: a.sess.connID,
		UserID:       a.sess.user.ID,
		Type:         domain.LogTypeAdminShell,
		Detail:       cmd,
		CreatedAt:    time.Now(),
	})
}

var _ Application = (*Admin)(nil)
