package authn

import "testing"

func TestHashAndVerifyRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyPassword(hash, "correct-horse") {
		t.Error("expected matching password to verify")
	}
	if VerifyPassword(hash, "wrong-password") {
		t.Error("expected mismatched password to fail verification")
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	if VerifyPassword("not-a-phc-string", "anything") {
		t.Error("expected malformed hash to never verify")
	}
}

func TestVerifyPasswordRejectsUnsupportedAlgorithm(t *testing.T) {
	if VerifyPassword("$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA", "anything") {
		t.Error("expected non-argon2id hash to never verify")
	}
}
