package ratelimit

import (
	"testing"
	"time"
)

func TestRejectAuthAttemptsBoundary(t *testing.T) {
	cfg := Config{MaxIPAttempts: 5, MaxUserAttempts: 5, UnbanDuration: time.Minute}
	l := New(cfg, nil)

	for i := 0; i < 5; i++ {
		if l.RejectAuthAttempts("1.2.3.4", "alice") {
			t.Fatalf("attempt %d should not yet reject", i+1)
		}
	}
	if !l.RejectAuthAttempts("1.2.3.4", "alice") {
		t.Fatal("the (N+1)-th attempt within the window must reject")
	}
}

func TestClearAuthAttemptsResets(t *testing.T) {
	cfg := Config{MaxIPAttempts: 1, MaxUserAttempts: 1, UnbanDuration: time.Minute}
	l := New(cfg, nil)

	if l.RejectAuthAttempts("1.2.3.4", "alice") {
		t.Fatal("first attempt should not reject")
	}
	l.ClearAuthAttempts("1.2.3.4", "alice")
	if l.RejectAuthAttempts("1.2.3.4", "alice") {
		t.Fatal("attempt after clear should not reject")
	}
}

func TestRejectAuthAttemptsIndependentKeys(t *testing.T) {
	cfg := Config{MaxIPAttempts: 1, MaxUserAttempts: 100, UnbanDuration: time.Minute}
	l := New(cfg, nil)

	l.RejectAuthAttempts("1.2.3.4", "alice")
	if !l.RejectAuthAttempts("1.2.3.4", "bob") {
		t.Fatal("ip cap should apply across usernames sharing the ip")
	}
}
