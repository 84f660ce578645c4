package policy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ashureev/sshbastion/internal/domain"
	"github.com/google/uuid"
)

type fakeSource struct {
	rows []domain.CasbinRule
}

func (f *fakeSource) ListCasbinRules(context.Context) ([]domain.CasbinRule, error) {
	return f.rows, nil
}

type fakeActivity struct {
	inactive map[string]bool
}

func (f *fakeActivity) IsObjectActive(_ context.Context, objectID string) (bool, error) {
	return !f.inactive[objectID], nil
}

func rule(ptype domain.PType, v0, v1, v2, v3 string) domain.CasbinRule {
	return domain.CasbinRule{ID: uuid.New(), Ptype: ptype, V0: v0, V1: v1, V2: v2, V3: v3}
}

func newEngine(t *testing.T, mode Mode, rows []domain.CasbinRule, inactive map[string]bool) *Engine {
	t.Helper()
	e := New(mode, &fakeSource{rows: rows}, &fakeActivity{inactive: inactive})
	if err := e.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	return e
}

func TestEvaluateZeroCandidatesDenies(t *testing.T) {
	e := newEngine(t, Light, nil, nil)
	ok, err := e.Evaluate(context.Background(), Request{Subject: "alice", Object: "__login", Action: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected deny with zero policies")
	}
}

// S1/S2/S3: alice may Shell on target-secret A; bob may only Exec on B.
func TestEvaluateScenarioShellVsExec(t *testing.T) {
	ts := "65f4527b-0000-0000-0000-000000000000"
	rows := []domain.CasbinRule{
		rule(domain.PTypePolicy, "alice", "9888ece7-0000-0000-0000-000000000000", domain.ActionShell, ""),
		rule(domain.PTypePolicy, "bob", ts, domain.ActionExec, ""),
	}
	e := newEngine(t, Light, rows, nil)

	ok, _ := e.Evaluate(context.Background(), Request{Subject: "bob", Object: ts, Action: domain.ActionShell})
	if ok {
		t.Error("S2: expected deny, bob has Exec only")
	}
	ok, _ = e.Evaluate(context.Background(), Request{Subject: "bob", Object: ts, Action: domain.ActionExec})
	if !ok {
		t.Error("S3: expected accept")
	}
}

// S4: admin restricted to 127.0.0.1/32 is denied from a different IP.
func TestEvaluateScenarioIPRestrictedLogin(t *testing.T) {
	rows := []domain.CasbinRule{
		rule(domain.PTypePolicy, "admin", domain.ObjectLogin, "admin", "127.0.0.1/32,,,"),
	}
	e := newEngine(t, Light, rows, nil)
	ok, _ := e.Evaluate(context.Background(), Request{
		Subject: "admin", Object: domain.ObjectLogin, Action: "admin",
		Env: Env{IP: net.ParseIP("203.0.113.5"), Now: time.Now()},
	})
	if ok {
		t.Error("S4: expected deny from non-allowed IP")
	}
}

// S6/S7: CIDR-restricted policy with a time window and expiry.
func TestEvaluateScenarioCIDRWindow(t *testing.T) {
	ts := "target-secret-1"
	rows := []domain.CasbinRule{
		rule(domain.PTypePolicy, "carol", ts, domain.ActionShell,
			"10.0.0.0/8,08:00 +0300,17:30 +0300,2030-01-01 00:00:00 +0300"),
	}
	e := newEngine(t, Light, rows, nil)
	loc := time.FixedZone("", 3*3600)
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, loc)

	ok, _ := e.Evaluate(context.Background(), Request{
		Subject: "carol", Object: ts, Action: domain.ActionShell,
		Env: Env{IP: net.ParseIP("192.168.1.1"), Now: at},
	})
	if ok {
		t.Error("S6: expected deny, IP outside allow-CIDR")
	}

	ok, _ = e.Evaluate(context.Background(), Request{
		Subject: "carol", Object: ts, Action: domain.ActionShell,
		Env: Env{IP: net.ParseIP("10.0.0.5"), Now: at},
	})
	if !ok {
		t.Error("S7: expected accept")
	}
}

func TestEvaluateFullModeGroupExpansion(t *testing.T) {
	rows := []domain.CasbinRule{
		rule(domain.PTypePolicy, "admins", "prod-group", "Shell", ""),
		rule(domain.PTypeSubject, "alice", "admins", "", ""),
		rule(domain.PTypeObject, "target-secret-9", "prod-group", "", ""),
		rule(domain.PTypeAction, "Shell", "Shell", "", ""),
	}
	e := newEngine(t, Full, rows, nil)
	ok, err := e.Evaluate(context.Background(), Request{Subject: "alice", Object: "target-secret-9", Action: "Shell"})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected accept via subject and object group expansion in full mode")
	}
}

func TestEvaluateInactiveObjectSkipsCandidate(t *testing.T) {
	rows := []domain.CasbinRule{
		rule(domain.PTypePolicy, "alice", domain.ObjectAdmin, "admin", ""),
	}
	e := newEngine(t, Light, rows, map[string]bool{domain.ObjectAdmin: true})
	ok, err := e.Evaluate(context.Background(), Request{Subject: "alice", Object: domain.ObjectAdmin, Action: "admin"})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected deny when internal object is inactive")
	}
}

func TestEvaluateLightModeIgnoresGroupExpansionForObjectAction(t *testing.T) {
	rows := []domain.CasbinRule{
		rule(domain.PTypePolicy, "alice", "prod-group", "Shell", ""),
		rule(domain.PTypeObject, "target-secret-1", "prod-group", "", ""),
	}
	e := newEngine(t, Light, rows, nil)
	ok, _ := e.Evaluate(context.Background(), Request{Subject: "alice", Object: "target-secret-1", Action: "Shell"})
	if ok {
		t.Error("light mode must use exact object equality, not g2 expansion")
	}
}
