package bastion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/sshbastion/internal/authn"
	"github.com/ashureev/sshbastion/internal/domain"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/terminal"
)

// ChangePassword is the Application attached for KindPassword logins and
// whenever the authenticated user's ForceInitPass is set, regardless of
// the requested mode (spec §4.1 "session-opening contract" step 2).
type ChangePassword struct {
	sess *session
}

func newChangePassword(sess *session) *ChangePassword { return &ChangePassword{sess: sess} }

func (c *ChangePassword) HandlePty(req *ssh.Request, ch ssh.Channel) bool          { return true }
func (c *ChangePassword) HandleWindowChange(req *ssh.Request, ch ssh.Channel) bool { return true }
func (c *ChangePassword) HandleExec(req *ssh.Request, ch ssh.Channel) bool {
	fmt.Fprintln(ch, "exec is not supported here; use shell to change your password")
	return false
}
func (c *ChangePassword) HandleOpenDirectTcpip(newChannel ssh.NewChannel) bool {
	newChannel.Reject(ssh.Prohibited, "not authorized")
	return false
}
func (c *ChangePassword) Close() {}

// HandleShell reads a new password (twice, for confirmation) and Argon2id
// hashes and persists it, clearing ForceInitPass.
func (c *ChangePassword) HandleShell(req *ssh.Request, ch ssh.Channel) bool {
	term := terminal.NewTerminal(ch, "")
	fmt.Fprintln(ch, "Enter a new password.")

	pw1, err := term.ReadPassword("New password: ")
	if err != nil {
		return true
	}
	pw2, err := term.ReadPassword("Confirm password: ")
	if err != nil {
		return true
	}
	if pw1 != pw2 {
		fmt.Fprintln(ch, "passwords did not match")
		return true
	}
	if strings.TrimSpace(pw1) == "" {
		fmt.Fprintln(ch, "password must not be empty")
		return true
	}

	hash, err := authn.HashPassword(pw1)
	if err != nil {
		fmt.Fprintln(ch, "failed to set password")
		return true
	}

	ctx := context.Background()
	c.sess.user.PasswordHash = hash
	c.sess.user.ForceInitPass = false
	c.sess.user.UpdatedBy = c.sess.user.ID
	if err := c.sess.srv.repo.UpsertUser(ctx, c.sess.user); err != nil {
		fmt.Fprintln(ch, "failed to save new password")
		return true
	}

	_ = c.sess.srv.repo.AppendLog(ctx, &domain.Log{
		ConnectionID: c.sess.connID,
		UserID:       c.sess.user.ID,
		Type:         domain.LogTypePasswordSet,
		CreatedAt:    time.Now(),
	})
	fmt.Fprintln(ch, "password updated")
	return true
}

var _ Application = (*ChangePassword)(nil)
