package vault

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	v, err := NewFromBase64(key)
	if err != nil {
		t.Fatal(err)
	}

	ct, err := v.Encrypt([]byte("hunter2"))
	if err != nil {
		t.Fatal(err)
	}
	pt, err := v.Decrypt(ct)
	if err != nil {
		t.Fatal(err)
	}
	if string(pt) != "hunter2" {
		t.Errorf("got %q, want hunter2", pt)
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	key, _ := GenerateKey()
	v, _ := NewFromBase64(key)
	ct, _ := v.Encrypt([]byte("hunter2"))

	tampered := ct[:len(ct)-2] + "xx"
	if _, err := v.Decrypt(tampered); err != ErrDecrypt {
		t.Errorf("expected ErrDecrypt for tampered ciphertext, got %v", err)
	}
}

func TestNewRejectsWrongKeySize(t *testing.T) {
	if _, err := New([]byte("too short")); err != ErrKeySize {
		t.Errorf("expected ErrKeySize, got %v", err)
	}
}

func TestRedact(t *testing.T) {
	if Redact(true) != "********" {
		t.Error("expected redaction placeholder when set")
	}
	if Redact(false) != "" {
		t.Error("expected empty string when unset")
	}
}
