package targetconn

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/ashureev/sshbastion/internal/domain"
	"github.com/ashureev/sshbastion/internal/vault"
	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

func TestKeyFormat(t *testing.T) {
	ts := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	tg := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	want := ts.String() + "-" + tg.String()
	if got := Key(ts, tg); got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func genHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return signer
}

func TestPinnedHostKeyExactMatchRequired(t *testing.T) {
	pinned := genHostKey(t)
	other := genHostKey(t)

	cb := pinnedHostKey(pinned)
	if err := cb("host", nil, pinned); err != nil {
		t.Errorf("expected pinned key to be accepted, got %v", err)
	}
	if err := cb("host", nil, other); err == nil {
		t.Error("expected a differing host key to be rejected")
	}
}

func TestAuthMethodsPasswordOnly(t *testing.T) {
	key, err := vault.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	v, err := vault.NewFromBase64(key)
	if err != nil {
		t.Fatal(err)
	}

	pwCipher, err := v.Encrypt([]byte("hunter2"))
	if err != nil {
		t.Fatal(err)
	}

	secret := &domain.Secret{ID: uuid.New(), RemoteUser: "svc", PasswordCiphertext: pwCipher}
	methods, err := authMethods(v, secret)
	if err != nil {
		t.Fatal(err)
	}
	if len(methods) != 1 {
		t.Fatalf("expected exactly one auth method for password-only secret, got %d", len(methods))
	}
}

func TestAuthMethodsPrivateKeyDecryptFailure(t *testing.T) {
	key, _ := vault.GenerateKey()
	v, _ := vault.NewFromBase64(key)
	secret := &domain.Secret{ID: uuid.New(), RemoteUser: "svc", PrivateKeyCiphertext: "not-valid-base64-ciphertext"}
	if _, err := authMethods(v, secret); err == nil {
		t.Error("expected decrypt failure to surface as an error")
	}
}

func TestAuthMethodsEmptyForSecretWithoutCredentials(t *testing.T) {
	key, _ := vault.GenerateKey()
	v, _ := vault.NewFromBase64(key)
	secret := &domain.Secret{ID: uuid.New(), RemoteUser: "svc"}
	methods, err := authMethods(v, secret)
	if err != nil {
		t.Fatal(err)
	}
	if len(methods) != 0 {
		t.Error("expected no auth methods for a secret with neither key nor password")
	}
}

func TestNewWithZeroTTLDisablesCache(t *testing.T) {
	c := New(nil, 0, nil)
	if !c.disabled {
		t.Fatal("expected ttl=0 to disable the cache")
	}
	if c.cache != nil {
		t.Error("expected no backing LRU store when disabled")
	}
}

func TestNewWithNegativeTTLUsesDefault(t *testing.T) {
	c := New(nil, -1, nil)
	if c.disabled {
		t.Fatal("expected a negative ttl to select DefaultTTL, not disable the cache")
	}
	if c.cache == nil {
		t.Error("expected a backing LRU store")
	}
}

func TestInvalidateIsNoOpWhenDisabled(t *testing.T) {
	c := New(nil, 0, nil)
	// Must not panic despite the nil backing LRU store.
	c.Invalidate(uuid.New(), uuid.New())
}
