// Package targetconn implements the Target Connection Cache (spec §4.5):
// a keyed cache of authenticated outbound SSH client handles to backend
// targets, with an idle TTL and a connect-or-reuse algorithm that pins
// the target's host key. Connect makes one attempt; a caller whose channel
// open on a cached handle fails calls Invalidate and connects again with
// ForceRebuild.
package targetconn

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ashureev/sshbastion/internal/domain"
	"github.com/ashureev/sshbastion/internal/errs"
	"github.com/ashureev/sshbastion/internal/vault"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

const maxCapacity = 5000

// DefaultTTL is the spec's default idle TTL for a cached handle.
const DefaultTTL = 1800 * time.Second

// SecretLookup resolves the active Secret bound to a target-secret id, the
// credential the cache authenticates with (spec §4.5 step 1a). Implemented
// by the Identity Store.
type SecretLookup interface {
	ActiveSecretForTargetSecret(ctx context.Context, targetSecretID uuid.UUID) (*domain.Secret, error)
}

// Handle is a shared, reusable outbound SSH client to one target. Callers
// open channels with OpenChannel/Dial; the cache owns the underlying
// *ssh.Client's lifetime.
type Handle struct {
	Client *ssh.Client

	mu      sync.Mutex
	revoked bool
}

// Prohibited reports true once the caller has told the cache this handle's
// next channel open returned ssh.OpenChannelError with reason
// AdministrativelyProhibited, or any send error — the spec §4.5 step 2
// condition for forced invalidate-and-retry.
func (h *Handle) Prohibited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.revoked
}

// Revoke marks the handle unusable so the next Cache.Connect call rebuilds
// it, per spec §4.5 step 2.
func (h *Handle) Revoke() {
	h.mu.Lock()
	h.revoked = true
	h.mu.Unlock()
	_ = h.Client.Close()
}

// Cache is the keyed, idle-TTL-evicted store of Handles (spec §4.5). When
// disabled is set (reuse_target_connection is false), Connect always dials
// a fresh Handle and never stores or looks one up, satisfying spec §8
// Invariant 4: no two successive outbound connects share a handle.
type Cache struct {
	secrets  SecretLookup
	logger   *slog.Logger
	cache    *lru.LRU[string, *Handle]
	disabled bool
}

// New constructs a Cache. ttl is the spec's target_cache_duration: ttl == 0
// disables reuse entirely (reuse_target_connection is false), a negative
// ttl selects DefaultTTL, and a positive ttl is used as given.
func New(secrets SecretLookup, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{secrets: secrets, logger: logger}
	if ttl == 0 {
		c.disabled = true
		return c
	}
	if ttl < 0 {
		ttl = DefaultTTL
	}
	c.cache = lru.NewLRU[string, *Handle](maxCapacity, c.onEvict, ttl)
	return c
}

func (c *Cache) onEvict(key string, h *Handle) {
	h.Revoke()
	c.logger.Debug("target connection cache: evicted idle handle", "key", key)
}

// Key is the cache key spec §4.5 specifies: "{target_secret_id}-{target_id}".
func Key(targetSecretID, targetID uuid.UUID) string {
	return targetSecretID.String() + "-" + targetID.String()
}

// Dialer opens the TCP half of the outbound connection; split out so tests
// can substitute an in-memory pipe instead of a real network dial.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

var defaultDialer Dialer = func(ctx context.Context, network, addr string) (net.Conn, error) {
	d := net.Dialer{}
	return d.DialContext(ctx, network, addr)
}

// ConnectParams is everything Connect needs to build a fresh handle when
// the cache misses or force_rebuild is set.
type ConnectParams struct {
	Target         *domain.Target
	TargetSecretID uuid.UUID
	ForceRebuild   bool
	Dial           Dialer // nil uses the real network dialer
	HandshakeTO    time.Duration
}

// Connect implements spec §4.5's connect-or-reuse: it returns a cached,
// still-usable Handle unless force_rebuild is set, the target is inactive,
// or no cache entry exists, in which case it authenticates a fresh one and
// inserts it keyed by Key(target-secret, target).
func (c *Cache) Connect(ctx context.Context, vlt *vault.Vault, p ConnectParams) (*Handle, error) {
	key := Key(p.TargetSecretID, p.Target.ID)

	if !c.disabled && !p.ForceRebuild && p.Target.IsActive {
		if h, ok := c.cache.Get(key); ok && !h.Prohibited() {
			return h, nil
		}
	}

	secret, err := c.secrets.ActiveSecretForTargetSecret(ctx, p.TargetSecretID)
	if err != nil {
		return nil, fmt.Errorf("target connection cache: load secret: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("%w: no active secret bound to target-secret %s", errs.ErrIdentity, p.TargetSecretID)
	}

	h, err := c.dial(ctx, vlt, p, secret)
	if err != nil {
		return nil, err
	}

	if !c.disabled {
		c.cache.Add(key, h)
	}
	return h, nil
}

// Invalidate removes and revokes the cached handle for key, used by
// callers retrying once with force_rebuild after an AdministrativelyProhibited
// channel-open or send failure (spec §4.5 step 2). A no-op when the cache
// is disabled, since no handle is ever stored.
func (c *Cache) Invalidate(targetSecretID, targetID uuid.UUID) {
	if c.disabled {
		return
	}
	key := Key(targetSecretID, targetID)
	if h, ok := c.cache.Peek(key); ok {
		h.Revoke()
	}
	c.cache.Remove(key)
}

func (c *Cache) dial(ctx context.Context, vlt *vault.Vault, p ConnectParams, secret *domain.Secret) (*Handle, error) {
	auth, err := authMethods(vlt, secret)
	if err != nil {
		return nil, err
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("%w: target-secret %s has neither password nor private key", errs.ErrIdentity, p.TargetSecretID)
	}

	pinned, err := ssh.ParsePublicKey(p.Target.ServerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: parse pinned host key: %v", errs.ErrConfiguration, err)
	}

	timeout := p.HandshakeTO
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	cfg := &ssh.ClientConfig{
		User:            secret.RemoteUser,
		Auth:            auth,
		Timeout:         timeout,
		HostKeyCallback: pinnedHostKey(pinned),
	}

	dial := p.Dial
	if dial == nil {
		dial = defaultDialer
	}
	addr := fmt.Sprintf("%s:%d", p.Target.Hostname, p.Target.Port)

	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", errs.ErrTransport, addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: ssh handshake to %s: %v", errs.ErrTransport, addr, err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	return &Handle{Client: client}, nil
}

// pinnedHostKey enforces spec §4.5 step 1b: the presented host key must be
// byte-equal to the Target's pinned public key, not merely the same
// fingerprint class.
func pinnedHostKey(pinned ssh.PublicKey) ssh.HostKeyCallback {
	want := pinned.Marshal()
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		got := key.Marshal()
		if subtle.ConstantTimeCompare(want, got) != 1 {
			return fmt.Errorf("%w: host key for %s does not match pinned key", errs.ErrTransport, hostname)
		}
		return nil
	}
}

// authMethods builds the ordered auth method list of spec §4.5 step 1c:
// private key first (if present), then password. x/crypto/ssh negotiates
// the best RSA signature hash itself via the server-sig-algs extension
// once an *rsa.PrivateKey-backed Signer is offered through PublicKeys, so
// no explicit hash selection is needed here.
func authMethods(vlt *vault.Vault, secret *domain.Secret) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if secret.HasPrivateKey() {
		pemBytes, err := vlt.Decrypt(secret.PrivateKeyCiphertext)
		if err != nil {
			return nil, fmt.Errorf("%w: decrypt private key for secret %s", errs.ErrCryptographic, secret.ID)
		}
		signer, err := ssh.ParsePrivateKey(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parse private key for secret %s", errs.ErrCryptographic, secret.ID)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if secret.HasPassword() {
		plain, err := vlt.Decrypt(secret.PasswordCiphertext)
		if err != nil {
			return nil, fmt.Errorf("%w: decrypt password for secret %s", errs.ErrCryptographic, secret.ID)
		}
		methods = append(methods, ssh.Password(string(plain)))
	}

	return methods, nil
}

// IsAdministrativelyProhibited reports whether err is the channel-open
// rejection reason that forces an invalidate-and-retry (spec §4.5 step 2).
func IsAdministrativelyProhibited(err error) bool {
	var oce *ssh.OpenChannelError
	if errors.As(err, &oce) {
		return oce.Reason == ssh.Prohibited
	}
	return false
}
