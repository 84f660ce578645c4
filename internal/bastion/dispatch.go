package bastion

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/sshbastion/internal/domain"
	"github.com/ashureev/sshbastion/internal/loginhandle"
	"github.com/ashureev/sshbastion/internal/policy"
	"golang.org/x/crypto/ssh"
)

// handleNewChannel dispatches an incoming SSH channel by type (spec §5,
// grounded on akam1o-arca-router's accept loop).
func (s *session) handleNewChannel(ctx context.Context, newChannel ssh.NewChannel) {
	switch newChannel.ChannelType() {
	case "session":
		s.handleSessionChannel(ctx, newChannel)
	case "direct-tcpip":
		s.handleDirectTcpip(newChannel)
	default:
		newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
	}
}

func (s *session) handleDirectTcpip(newChannel ssh.NewChannel) {
	s.mu.Lock()
	app := s.app
	s.mu.Unlock()
	if app == nil {
		newChannel.Reject(ssh.Prohibited, "no target selected")
		return
	}
	app.HandleOpenDirectTcpip(newChannel)
}

func (s *session) handleSessionChannel(ctx context.Context, newChannel ssh.NewChannel) {
	if err := s.ensureApp(ctx); err != nil {
		s.srv.logger.Warn("session opening denied", "conn_id", s.connID, "error", err)
		newChannel.Reject(ssh.Prohibited, "not authorized")
		return
	}
	ch, requests, err := newChannel.Accept()
	if err != nil {
		s.srv.logger.Warn("failed to accept channel", "error", err)
		return
	}
	defer ch.Close()

	for req := range requests {
		s.touch()
		ok := s.dispatchRequest(ctx, req, ch)
		if req.WantReply {
			req.Reply(ok, nil)
		}
	}
}

// dispatchRequest makes sure an Application is attached (ensureApp, which
// handleSessionChannel already ran when the channel was opened) for
// pty-req/shell/exec, then forwards the request to it.
func (s *session) dispatchRequest(ctx context.Context, req *ssh.Request, ch ssh.Channel) bool {
	switch req.Type {
	case "pty-req", "shell", "exec":
		if err := s.ensureApp(ctx); err != nil {
			s.srv.logger.Warn("session opening denied", "conn_id", s.connID, "error", err)
			return false
		}
	}

	s.mu.Lock()
	app := s.app
	s.mu.Unlock()
	if app == nil {
		return false
	}

	switch req.Type {
	case "pty-req":
		return app.HandlePty(req, ch)
	case "shell":
		return app.HandleShell(req, ch)
	case "exec":
		return app.HandleExec(req, ch)
	case "window-change":
		return app.HandleWindowChange(req, ch)
	default:
		return false
	}
}

// ensureApp implements spec §4.1's session-opening contract. Step 1
// evaluates (user, "__login", login, env) here, on the first
// channel_open_session after auth has already succeeded — never in the
// auth callbacks themselves — so a policy rejection surfaces as a
// channel-open failure, not an authentication failure (original_source
// bastion_handler.rs's auth_password/auth_publickey do identity checks
// only; enforce(__login) lives in init_session(), called from
// channel_open_session). force_init_pass then overrides the dispatch with
// ChangePassword regardless of login kind, and otherwise the parsed
// handle's Kind selects the Application.
func (s *session) ensureApp(ctx context.Context) error {
	s.mu.Lock()
	if s.app != nil {
		s.mu.Unlock()
		return nil
	}
	user := s.user
	h := s.handle
	s.mu.Unlock()

	if user == nil {
		return fmt.Errorf("no authenticated user")
	}

	allowed, err := s.srv.engine.Evaluate(ctx, policy.Request{
		Subject: user.ID.String(),
		Object:  s.srv.reserved.Login,
		Action:  s.conn.User(),
		Env:     policy.Env{IP: s.clientIP(), Now: time.Now()},
	})
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("login not authorized")
	}

	if user.ForceInitPass {
		s.setApp(newChangePassword(s))
		return nil
	}

	switch h.Kind {
	case loginhandle.KindTargetSelector:
		s.setApp(newTargetSelector(s))
		return nil

	case loginhandle.KindPassword:
		s.setApp(newChangePassword(s))
		return nil

	case loginhandle.KindAdmin:
		allowed, err := s.srv.engine.Evaluate(ctx, policy.Request{
			Subject: user.ID.String(),
			Object:  s.srv.reserved.Admin,
			Action:  s.conn.User(),
			Env:     policy.Env{IP: s.clientIP(), Now: time.Now()},
		})
		if err != nil {
			return err
		}
		if !allowed {
			return fmt.Errorf("admin access not authorized")
		}
		s.setApp(newAdmin(s))
		return nil

	case loginhandle.KindTarget, loginhandle.KindTargetWithUser:
		bindings, err := s.srv.repo.ListTargetsForUser(ctx, user.ID, true)
		if err != nil {
			return err
		}
		binding, target, err := s.srv.resolveBinding(ctx, bindings, h.Target, h.SystemUser)
		if err != nil {
			return err
		}
		s.setApp(newConnectTarget(s, *binding, target))
		return nil

	default:
		return fmt.Errorf("unrecognized login kind")
	}
}

func (s *session) setApp(app Application) {
	s.mu.Lock()
	s.app = app
	s.st = stateAppSelected
	s.mu.Unlock()
}

// resolveBinding finds the TargetBinding named targetName (optionally
// narrowed by systemUser) among bindings, and loads the backing Target.
func (s *Server) resolveBinding(ctx context.Context, bindings []domain.TargetBinding, targetName, systemUser string) (*domain.TargetBinding, *domain.Target, error) {
	var match *domain.TargetBinding
	for i := range bindings {
		b := &bindings[i]
		if b.TargetName != targetName {
			continue
		}
		if systemUser != "" && b.SystemUser != systemUser {
			continue
		}
		match = b
		break
	}
	if match == nil {
		return nil, nil, fmt.Errorf("no authorized binding for target %q", targetName)
	}

	target, err := s.repo.GetTargetByID(ctx, match.TargetID)
	if err != nil {
		return nil, nil, err
	}
	if target == nil || !target.IsActive {
		return nil, nil, fmt.Errorf("target %q is not active", targetName)
	}
	return match, target, nil
}
