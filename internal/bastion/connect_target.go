package bastion

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/sshbastion/internal/domain"
	"github.com/ashureev/sshbastion/internal/policy"
	"github.com/ashureev/sshbastion/internal/recorder"
	"github.com/ashureev/sshbastion/internal/targetconn"
	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

// ConnectTarget is the Application that bridges a client channel to one
// backend target over a cached outbound SSH handle (spec §4.1
// "session-opening contract", original_source connect_target.rs).
type ConnectTarget struct {
	sess    *session
	binding domain.TargetBinding
	target  *domain.Target

	mu         sync.Mutex
	handle     *targetconn.Handle
	outSession *ssh.Session
	rec        recorder.Recorder
	closed     bool
}

func newConnectTarget(sess *session, binding domain.TargetBinding, target *domain.Target) *ConnectTarget {
	return &ConnectTarget{sess: sess, binding: binding, target: target, rec: recorder.Noop{}}
}

// checkPermission evaluates the per-request policy guard of spec §4.1
// "per-request policy guards": (user, target-secret-id, action, env).
func (c *ConnectTarget) checkPermission(action string) bool {
	ctx := context.Background()
	allowed, err := c.sess.srv.engine.Evaluate(ctx, policy.Request{
		Subject: c.sess.user.ID.String(),
		Object:  c.binding.TargetSecretID.String(),
		Action:  action,
		Env:     policy.Env{IP: c.sess.clientIP(), Now: time.Now()},
	})
	if err != nil {
		c.sess.srv.logger.Warn("policy evaluation failed", "error", err)
		return false
	}
	return allowed
}

// connect establishes (or reuses) the outbound handle via the target
// connection cache. When opening a session channel on the handle fails,
// startSession invalidates it and rebuilds it once with force_rebuild
// (spec §4.5 step 2).
func (c *ConnectTarget) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil && !c.handle.Prohibited() {
		return nil
	}
	h, err := c.sess.srv.targets.Connect(ctx, c.sess.srv.vlt, targetconn.ConnectParams{
		Target:         c.target,
		TargetSecretID: c.binding.TargetSecretID,
	})
	if err != nil {
		return err
	}
	c.handle = h
	return nil
}

func (c *ConnectTarget) HandlePty(req *ssh.Request, ch ssh.Channel) bool {
	if !c.checkPermission(domain.ActionPty) {
		return false
	}
	term, cols, rows, modes, ok := parsePtyRequest(req.Payload)
	if !ok {
		return false
	}
	c.sess.mu.Lock()
	c.sess.lastPty = &ptyInfo{term: term, cols: int(cols), rows: int(rows), modes: modes}
	c.sess.st = statePtyReady
	c.sess.mu.Unlock()
	return true
}

func (c *ConnectTarget) HandleWindowChange(req *ssh.Request, ch ssh.Channel) bool {
	cols, rows, ok := parseWindowChange(req.Payload)
	if !ok {
		return false
	}
	c.mu.Lock()
	outSession := c.outSession
	rec := c.rec
	c.mu.Unlock()
	rec.HandleResize(int(cols), int(rows))
	rec.HandleMarker("window change")
	if outSession == nil {
		return true
	}
	return outSession.WindowChange(int(rows), int(cols)) == nil
}

func (c *ConnectTarget) HandleShell(req *ssh.Request, ch ssh.Channel) bool {
	if !c.checkPermission(domain.ActionShell) {
		return false
	}
	return c.startSession(ch, "", true)
}

func (c *ConnectTarget) HandleExec(req *ssh.Request, ch ssh.Channel) bool {
	if !c.checkPermission(domain.ActionExec) {
		return false
	}
	cmd, ok := parseExecRequest(req.Payload)
	if !ok {
		return false
	}
	return c.startSession(ch, cmd, false)
}

// startSession opens the outbound session channel (requesting a PTY first
// if one was cached), starts it, and wires the Channel Bridge between ch
// and the outbound channel.
func (c *ConnectTarget) startSession(ch ssh.Channel, cmd string, isShell bool) bool {
	ctx := context.Background()
	if err := c.connect(ctx); err != nil {
		c.sess.srv.logger.Warn("connect to target failed", "target", c.target.Name, "error", err)
		return false
	}

	c.mu.Lock()
	client := c.handle.Client
	c.mu.Unlock()

	outSession, err := client.NewSession()
	if _, isOpenErr := err.(*ssh.OpenChannelError); err != nil && (targetconn.IsAdministrativelyProhibited(err) || !isOpenErr) {
		c.sess.srv.targets.Invalidate(c.binding.TargetSecretID, c.target.ID)
		h, cerr := c.sess.srv.targets.Connect(ctx, c.sess.srv.vlt, targetconn.ConnectParams{
			Target:         c.target,
			TargetSecretID: c.binding.TargetSecretID,
			ForceRebuild:   true,
		})
		if cerr == nil {
			c.mu.Lock()
			c.handle = h
			c.mu.Unlock()
			outSession, err = h.Client.NewSession()
		}
	}
	if err != nil {
		c.sess.srv.logger.Warn("open outbound session failed", "target", c.target.Name, "error", err)
		return false
	}

	c.sess.mu.Lock()
	pty := c.sess.lastPty
	c.sess.mu.Unlock()
	if pty != nil {
		if err := outSession.RequestPty(pty.term, pty.rows, pty.cols, ssh.TerminalModes{}); err != nil {
			c.sess.srv.logger.Warn("outbound pty request failed", "error", err)
		}
	}

	outIn, err := outSession.StdinPipe()
	if err != nil {
		return false
	}
	outOut, err := outSession.StdoutPipe()
	if err != nil {
		return false
	}
	outErr, err := outSession.StderrPipe()
	if err != nil {
		return false
	}

	if c.sess.srv.cfg.EnableRecord {
		cols, rows := 80, 24
		if pty != nil {
			cols, rows = pty.cols, pty.rows
		}
		path := recorder.Path(c.sess.srv.cfg.RecordPath, c.sess.user.Username, c.binding.SystemUser, c.target.Name, c.sess.connID.String(), uuid.New().String())
		term := ""
		if pty != nil {
			term = pty.term
		}
		rec, err := recorder.NewFile(path, cols, rows, term, c.sess.srv.cfg.RecordInput)
		if err != nil {
			c.sess.srv.logger.Warn("failed to open recording file, rejecting session", "target", c.target.Name, "error", err)
			_ = outSession.Close()
			return false
		}
		c.mu.Lock()
		c.rec = rec
		c.mu.Unlock()
	}

	if isShell {
		if err := outSession.Shell(); err != nil {
			return false
		}
	} else {
		if err := outSession.Start(cmd); err != nil {
			return false
		}
	}

	c.mu.Lock()
	c.outSession = outSession
	c.mu.Unlock()

	c.sess.mu.Lock()
	c.sess.st = stateBridged
	c.sess.mu.Unlock()

	atomic.AddInt64(&c.sess.srv.metrics.bridged, 1)
	_ = c.sess.srv.repo.AppendLog(ctx, &domain.Log{
		ConnectionID: c.sess.connID,
		UserID:       c.sess.user.ID,
		Type:         domain.LogTypeBridgeOpen,
		Detail:       fmt.Sprintf("target=%s user=%s", c.target.Name, c.binding.SystemUser),
		CreatedAt:    time.Now(),
	})

	go func() {
		bridge(c, ch, outIn, outOut, outErr, outSession)
		atomic.AddInt64(&c.sess.srv.metrics.bridged, -1)
	}()
	return true
}

// HandleOpenDirectTcpip services the "direct-tcpip" global channel, i.e.
// local port forwarding through the bridged target (spec §4.1
// per-request policy guards: OpenDirectTcpip).
func (c *ConnectTarget) HandleOpenDirectTcpip(newChannel ssh.NewChannel) bool {
	if !c.checkPermission(domain.ActionOpenDirectTcpip) {
		newChannel.Reject(ssh.Prohibited, "not authorized")
		return false
	}
	ctx := context.Background()
	if err := c.connect(ctx); err != nil {
		newChannel.Reject(ssh.ConnectionFailed, "target unreachable")
		return false
	}

	c.mu.Lock()
	client := c.handle.Client
	c.mu.Unlock()

	destAddr, destPort, srcAddr, srcPort, ok := parseDirectTcpip(newChannel.ExtraData())
	if !ok {
		newChannel.Reject(ssh.UnknownChannelType, "malformed direct-tcpip request")
		return false
	}

	outConn, err := client.Dial("tcp", fmt.Sprintf("%s:%d", destAddr, destPort))
	if err != nil {
		newChannel.Reject(ssh.ConnectionFailed, "dial failed")
		return false
	}

	ch, reqs, err := newChannel.Accept()
	if err != nil {
		_ = outConn.Close()
		return false
	}
	go ssh.DiscardRequests(reqs)
	_ = srcAddr
	_ = srcPort

	go func() {
		defer ch.Close()
		defer outConn.Close()
		done := make(chan struct{}, 2)
		go func() { io.Copy(ch, outConn); done <- struct{}{} }()
		go func() { io.Copy(outConn, ch); done <- struct{}{} }()
		<-done
	}()
	return true
}

func parseDirectTcpip(payload []byte) (destAddr string, destPort uint32, srcAddr string, srcPort uint32, ok bool) {
	read := func(b []byte) (string, []byte, bool) {
		if len(b) < 4 {
			return "", nil, false
		}
		n := int(be32(b))
		if len(b) < 4+n {
			return "", nil, false
		}
		return string(b[4 : 4+n]), b[4+n:], true
	}
	var rest []byte
	destAddr, rest, ok = read(payload)
	if !ok || len(rest) < 4 {
		return "", 0, "", 0, false
	}
	destPort = be32(rest[:4])
	rest = rest[4:]
	srcAddr, rest, ok = read(rest)
	if !ok || len(rest) < 4 {
		return "", 0, "", 0, false
	}
	srcPort = be32(rest[:4])
	return destAddr, destPort, srcAddr, srcPort, true
}

// Close implements Application: releases this ConnectTarget's recorder and
// logs a bridge_close audit event. It never invalidates the shared target
// connection cache handle, which outlives any one session (spec §9
// "drop-time cleanup").
func (c *ConnectTarget) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	rec := c.rec
	c.mu.Unlock()

	_ = rec.Close()
	_ = c.sess.srv.repo.AppendLog(context.Background(), &domain.Log{
		ConnectionID: c.sess.connID,
		UserID:       c.sess.user.ID,
		Type:         domain.LogTypeBridgeClose,
		Detail:       fmt.Sprintf("target=%s", c.target.Name),
		CreatedAt:    time.Now(),
	})
}

var _ Application = (*ConnectTarget)(nil)
