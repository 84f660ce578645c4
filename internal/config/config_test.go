package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bastion.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaultsForOmittedKeys(t *testing.T) {
	path := writeConfig(t, `secret_key = "c2VjcmV0LXNlY3JldC1zZWNyZXQtc2VjcmV0ISE="
database = { type = "sqlite", path = "x.db" }
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxAuthAttemptsPerConn != 5 {
		t.Errorf("expected default max_auth_attempts_per_conn=5, got %d", cfg.MaxAuthAttemptsPerConn)
	}
	if cfg.Listen != "0.0.0.0:2222" {
		t.Errorf("expected default listen, got %q", cfg.Listen)
	}
}

func TestLoadMissingSecretKeyFails(t *testing.T) {
	path := writeConfig(t, `database = { type = "sqlite", path = "x.db" }`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected missing secret_key to fail validation")
	}
}

func TestListenAddrForms(t *testing.T) {
	cases := map[string]string{
		"2222":           "0.0.0.0:2222",
		"*:2222":         "0.0.0.0:2222",
		"127.0.0.1:2222": "127.0.0.1:2222",
	}
	for in, want := range cases {
		c := &Config{Listen: in}
		got, err := c.ListenAddr()
		if err != nil {
			t.Errorf("ListenAddr(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ListenAddr(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestListenAddrRejectsGarbage(t *testing.T) {
	c := &Config{Listen: "not-a-port-or-addr-!!"}
	if _, err := c.ListenAddr(); err == nil {
		t.Fatal("expected an error for an unparsable listen value")
	}
}

func TestLoadParsesDurationString(t *testing.T) {
	path := writeConfig(t, `secret_key = "c2VjcmV0LXNlY3JldC1zZWNyZXQtc2VjcmV0ISE="
unban_duration = "5m"
database = { type = "sqlite", path = "x.db" }
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.UnbanDuration.Duration().String() != "5m0s" {
		t.Errorf("expected unban_duration 5m0s, got %s", cfg.UnbanDuration.Duration())
	}
}
