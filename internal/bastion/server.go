// Package bastion implements the Session Orchestrator (C10), Application
// Dispatcher (C8), and Channel Bridge (C9): the SSH-facing core that
// authenticates connections, parses login handles, enforces policy, and
// proxies bridged sessions to backend targets.
package bastion

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/sshbastion/internal/config"
	"github.com/ashureev/sshbastion/internal/policy"
	"github.com/ashureev/sshbastion/internal/ratelimit"
	"github.com/ashureev/sshbastion/internal/store"
	"github.com/ashureev/sshbastion/internal/targetconn"
	"github.com/ashureev/sshbastion/internal/vault"
	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

// Server owns the listening socket and wires together every collaborator
// a Session needs (spec §4.1, §5).
type Server struct {
	cfg       *config.Config
	repo      store.Repository
	vlt       *vault.Vault
	engine    *policy.Engine
	limiter   *ratelimit.Limiter
	targets   *targetconn.Cache
	reserved  *ReservedNames
	hostKey   ssh.Signer
	logger    *slog.Logger
	metrics   *metrics

	mu       sync.Mutex
	listener net.Listener
}

// Metrics returns the Server's metrics snapshotter, wired into
// internal/ops's HTTP surface.
func (s *Server) Metrics() *metrics { return s.metrics }

// Deps bundles Server's constructor arguments.
type Deps struct {
	Config   *config.Config
	Repo     store.Repository
	Vault    *vault.Vault
	Engine   *policy.Engine
	Limiter  *ratelimit.Limiter
	Targets  *targetconn.Cache
	Reserved *ReservedNames
	Logger   *slog.Logger
}

// New constructs a Server, loading or generating the SSH host key at
// cfg.ServerKey (spec §6 "server_key").
func New(d Deps) (*Server, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	hostKey, err := loadOrGenerateHostKey(d.Config.ServerKey, d.Logger)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      d.Config,
		repo:     d.Repo,
		vlt:      d.Vault,
		engine:   d.Engine,
		limiter:  d.Limiter,
		targets:  d.Targets,
		reserved: d.Reserved,
		hostKey:  hostKey,
		logger:   d.Logger,
		metrics:  &metrics{},
	}, nil
}

func loadOrGenerateHostKey(path string, logger *slog.Logger) (ssh.Signer, error) {
	if data, err := os.ReadFile(path); err == nil {
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse host key %s: %w", path, err)
		}
		return signer, nil
	}

	logger.Info("generating new host key", "path", path)
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	_ = pub

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("wrap host key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return nil, fmt.Errorf("marshal host key: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create host key directory: %w", err)
		}
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("write host key: %w", err)
	}
	return signer, nil
}

// Serve listens on cfg.Listen and accepts connections until ctx is
// cancelled or Serve's own listener fails.
func (s *Server) Serve(ctx context.Context) error {
	addr, err := s.cfg.ListenAddr()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("bastion listening", "addr", addr)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	atomic.AddInt64(&s.metrics.total, 1)
	atomic.AddInt64(&s.metrics.active, 1)
	defer atomic.AddInt64(&s.metrics.active, -1)

	connID := uuid.New()
	sess := newSession(s, connID, conn.RemoteAddr())

	sshCfg := &ssh.ServerConfig{
		PasswordCallback:  sess.passwordCallback,
		PublicKeyCallback: sess.publicKeyCallback,
		MaxAuthTries:      int(s.cfg.MaxAuthAttemptsPerConn),
	}
	sshCfg.AddHostKey(s.hostKey)

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, sshCfg)
	if err != nil {
		s.logger.Debug("ssh handshake failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	defer sshConn.Close()

	sess.conn = sshConn
	s.logger.Info("connection authenticated", "remote", conn.RemoteAddr(), "user", sshConn.User(), "conn_id", connID)

	go ssh.DiscardRequests(reqs)

	connCtx := ctx
	if s.cfg.InactivityTimeout.Duration() > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		go sess.watchInactivity(connCtx, s.cfg.InactivityTimeout.Duration())
	}

	for newChannel := range chans {
		nc := newChannel
		go sess.handleNewChannel(connCtx, nc)
	}

	sess.closeAllApps()
}
