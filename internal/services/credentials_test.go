package services

import (
	"testing"

	"github.com/adpilot/adpilot-backend/internal/adplatform"
)

func testCredentialService(t *testing.T) CredentialService {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 7)
	}
	svc, err := NewCredentialServiceWithKey(testLogger(t), key)
	if err != nil {
		t.Fatalf("credential service init failed: %v", err)
	}
	return svc
}

func TestCredentialsRoundTrip(t *testing.T) {
	svc := testCredentialService(t)

	in := adplatform.Credentials{AccessToken: "EAAB-secret-token", AccountID: "act_12345"}
	sealed, err := svc.Encrypt(in)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if sealed == "" {
		t.Fatal("sealed credentials must not be empty")
	}

	out, err := svc.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestCredentialsSealedFormIsOpaque(t *testing.T) {
	svc := testCredentialService(t)

	first, err := svc.Encrypt(adplatform.Credentials{AccessToken: "tok"})
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	second, err := svc.Encrypt(adplatform.Credentials{AccessToken: "tok"})
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	// Random nonces: identical plaintexts must not produce identical
	// ciphertexts.
	if first == second {
		t.Fatal("sealing must be randomized")
	}
}

func TestCredentialsDecryptRejectsGarbage(t *testing.T) {
	svc := testCredentialService(t)

	cases := []struct {
		name   string
		sealed string
	}{
		{"not_base64", "!!not-base64!!"},
		{"too_short", "AAAA"},
		{"wrong_key_material", "YWJjZGVmZ2hpamtsbW5vcHFyc3R1dnd4eXoxMjM0NTY3ODkwYWJjZGVmZ2hpamts"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Decrypt(tc.sealed); err == nil {
				t.Fatal("expected decrypt to fail")
			}
		})
	}
}

func TestCredentialsDecryptRejectsTampering(t *testing.T) {
	svc := testCredentialService(t)

	sealed, err := svc.Encrypt(adplatform.Credentials{AccessToken: "tok", AccountID: "acct"})
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	// Flip one character of the base64 body.
	tampered := []byte(sealed)
	if tampered[10] == 'A' {
		tampered[10] = 'B'
	} else {
		tampered[10] = 'A'
	}
	if _, err := svc.Decrypt(string(tampered)); err == nil {
		t.Fatal("tampered ciphertext must not open")
	}
}

func TestCredentialServiceRejectsBadKeySize(t *testing.T) {
	if _, err := NewCredentialServiceWithKey(testLogger(t), make([]byte, 16)); err == nil {
		t.Fatal("expected a key-size error")
	}
}
