package bastion

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/sshbastion/internal/authn"
	"github.com/ashureev/sshbastion/internal/domain"
	"github.com/ashureev/sshbastion/internal/loginhandle"
	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

// state is the Session Orchestrator's state machine (spec §4.1).
type state int

const (
	stateNew state = iota
	stateAuthenticated
	stateAppSelected
	statePtyReady
	stateBridged
	stateTerminated
)

// ptyInfo caches the most recent pty-req so a later shell/exec request can
// reuse it (spec §4.1 "PTY caching").
type ptyInfo struct {
	term   string
	cols   int
	rows   int
	modes  []byte
}

// session holds all per-connection state: the auth-attempt counter required
// by spec §8 Invariant 3, the parsed login handle, the authenticated user,
// and the currently attached Application.
type session struct {
	srv    *Server
	connID uuid.UUID
	remote net.Addr

	conn *ssh.ServerConn

	mu          sync.Mutex
	st          state
	attempts    uint32
	handle      loginhandle.Handle
	handleKnown bool
	user        *domain.User
	lastPty     *ptyInfo
	app         Application
	lastActive  time.Time
}

func newSession(srv *Server, connID uuid.UUID, remote net.Addr) *session {
	return &session{
		srv:        srv,
		connID:     connID,
		remote:     remote,
		st:         stateNew,
		lastActive: time.Now(),
	}
}

func (s *session) clientIP() net.IP {
	host, _, err := net.SplitHostPort(s.remote.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *session) watchInactivity(ctx context.Context, timeout time.Duration) {
	ticker := time.NewTicker(timeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			idle := time.Since(s.lastActive)
			s.mu.Unlock()
			if idle > timeout {
				s.srv.logger.Info("closing idle connection", "conn_id", s.connID, "idle", idle)
				if s.conn != nil {
					_ = s.conn.Close()
				}
				return
			}
		}
	}
}

// ensureParsed parses the login string exactly once per connection
// (spec §4.1 step 1) and caches the result.
func (s *session) ensureParsed(login string) (loginhandle.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handleKnown {
		return s.handle, nil
	}
	h, err := loginhandle.Parse(login)
	if err != nil {
		return loginhandle.Handle{}, err
	}
	s.handle = h
	s.handleKnown = true
	return h, nil
}

// loadUser fetches and caches the identity named by the parsed handle's
// User field (spec §4.1 step 2). Only a user that was found is cached; when
// the lookup finds no user, the next attempt queries the store again.
func (s *session) loadUser(ctx context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	if s.user != nil {
		u := s.user
		s.mu.Unlock()
		return u, nil
	}
	s.mu.Unlock()

	user, err := s.srv.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	return user, nil
}

// recordAuthFailure increments the per-connection counter and caps it at
// max_auth_attempts_per_conn (spec §4.1 step 7, §8 Invariant 3).
func (s *session) recordAuthFailure() (exceeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	return s.attempts >= s.srv.cfg.MaxAuthAttemptsPerConn
}

// passwordCallback implements the password half of spec §4.1's
// authentication contract.
func (s *session) passwordCallback(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	return s.authenticate(conn, func(u *domain.User) bool {
		if !u.HasPassword() {
			return false
		}
		return authn.VerifyPassword(u.PasswordHash, string(password))
	})
}

// publicKeyCallback implements the public-key half of spec §4.1's
// authentication contract: a byte-equal comparison against the user's
// authorized_keys wire-format entries.
func (s *session) publicKeyCallback(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	return s.authenticate(conn, func(u *domain.User) bool {
		presented := key.Marshal()
		for _, k := range u.AuthorizedKeys {
			pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(k))
			if err != nil {
				continue
			}
			if string(pub.Marshal()) == string(presented) {
				return true
			}
		}
		return false
	})
}

// authenticate is the shared contract both SSH auth callbacks run (spec
// §4.1 steps 1-7): parse the login handle once, consult the rate limiter
// before touching any credential, reject absent/inactive users, defer the
// credential-specific check to verify, then clear-and-audit on success or
// increment-and-cap on failure. It performs no policy evaluation: the
// "__login" guard belongs to the session-opening contract evaluated on
// first channel-open (dispatch.go's ensureApp), not to the auth callbacks.
func (s *session) authenticate(conn ssh.ConnMetadata, verify func(*domain.User) bool) (*ssh.Permissions, error) {
	ctx := context.Background()
	ip := s.clientIP()

	h, err := s.ensureParsed(conn.User())
	if err != nil {
		return nil, fmt.Errorf("login handle: %w", err)
	}

	s.mu.Lock()
	capped := s.srv.cfg.MaxAuthAttemptsPerConn > 0 && s.attempts >= s.srv.cfg.MaxAuthAttemptsPerConn
	s.mu.Unlock()
	if capped {
		return nil, fmt.Errorf("too many authentication attempts on this connection")
	}

	if s.srv.limiter.RejectAuthAttempts(ipKey(ip), h.User) {
		return nil, fmt.Errorf("too many authentication attempts")
	}

	user, err := s.loadUser(ctx, h.User)
	if err != nil {
		return nil, fmt.Errorf("identity lookup failed")
	}
	if user == nil || !user.IsActive {
		s.failAuth(ctx, h.User, "unknown or inactive user")
		return nil, fmt.Errorf("authentication failed")
	}

	if !verify(user) {
		s.failAuth(ctx, h.User, "credential verification failed")
		return nil, fmt.Errorf("authentication failed")
	}

	s.srv.limiter.ClearAuthAttempts(ipKey(ip), h.User)
	s.mu.Lock()
	s.st = stateAuthenticated
	s.mu.Unlock()

	_ = s.srv.repo.AppendLog(ctx, &domain.Log{
		ConnectionID: s.connID,
		UserID:       user.ID,
		Type:         domain.LogTypeLogin,
		Detail:       fmt.Sprintf("login=%s remote=%s", conn.User(), s.remote),
		CreatedAt:    time.Now(),
	})

	return &ssh.Permissions{Extensions: map[string]string{"conn_id": s.connID.String()}}, nil
}

func (s *session) failAuth(ctx context.Context, username, reason string) {
	atomic.AddInt64(&s.srv.metrics.authFailures, 1)
	exceeded := s.recordAuthFailure()
	s.srv.logger.Warn("authentication rejected", "conn_id", s.connID, "user", username, "reason", reason, "attempts_exceeded", exceeded)
	_ = s.srv.repo.AppendLog(ctx, &domain.Log{
		ConnectionID: s.connID,
		Type:         domain.LogTypeAuthReject,
		Detail:       fmt.Sprintf("user=%s reason=%s", username, reason),
		CreatedAt:    time.Now(),
	})
}

func ipKey(ip net.IP) string {
	if ip == nil {
		return "unknown"
	}
	return ip.String()
}

// closeAllApps tears down whatever Application is currently attached when
// the connection ends, per spec §9 "drop-time cleanup".
func (s *session) closeAllApps() {
	s.mu.Lock()
	app := s.app
	s.st = stateTerminated
	s.mu.Unlock()
	if app != nil {
		app.Close()
	}
}
