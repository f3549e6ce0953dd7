package security

import (
	"context"
	"strings"
	"testing"
)

func TestAppKeyCipherRoundTrip(t *testing.T) {
	cipher, err := NewAppKeyCipherFromString("local-app-key")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	sealed, err := cipher.Encrypt(context.Background(), []byte("hunter2"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !strings.HasPrefix(string(sealed), "signon.secret.v1:") {
		t.Fatalf("missing envelope prefix: %q", sealed)
	}
	if !IsSealed(sealed) {
		t.Fatal("sealed value must be detected as sealed")
	}
	plaintext, err := cipher.Decrypt(context.Background(), sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(plaintext) != "hunter2" {
		t.Fatalf("round trip mismatch: %q", plaintext)
	}
}

func TestAppKeyCipherRejectsWrongKey(t *testing.T) {
	first, _ := NewAppKeyCipherFromString("key-one")
	second, _ := NewAppKeyCipherFromString("key-two")

	sealed, err := first.Encrypt(context.Background(), []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := second.Decrypt(context.Background(), sealed); err == nil {
		t.Fatal("expected decrypt failure with wrong key")
	}
}

func TestAppKeyCipherKeyIDMismatch(t *testing.T) {
	writer, _ := NewAppKeyCipherFromString("key", WithKeyID("k1"))
	reader, _ := NewAppKeyCipherFromString("key", WithKeyID("k2"))

	sealed, err := writer.Encrypt(context.Background(), []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := reader.Decrypt(context.Background(), sealed); err == nil {
		t.Fatal("expected key id mismatch error")
	}
}

func TestFailoverCipherUsesFallbackOnDecrypt(t *testing.T) {
	oldKey, _ := NewAppKeyCipherFromString("old-key")
	newKey, _ := NewAppKeyCipherFromString("new-key")

	sealed, err := oldKey.Encrypt(context.Background(), []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	var outcomes []string
	failover, err := NewFailoverCipher(newKey,
		WithFallbackCipher(oldKey),
		WithFailurePolicy(FailurePolicyFallback),
		WithDiagnostics(func(event Diagnostic) { outcomes = append(outcomes, event.Outcome) }),
	)
	if err != nil {
		t.Fatalf("new failover: %v", err)
	}

	plaintext, err := failover.Decrypt(context.Background(), sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(plaintext) != "secret" {
		t.Fatalf("round trip mismatch: %q", plaintext)
	}
	if len(outcomes) != 1 || outcomes[0] != "fallback_used" {
		t.Fatalf("expected fallback diagnostic, got %v", outcomes)
	}
}

func TestFailoverCipherStrictPolicy(t *testing.T) {
	oldKey, _ := NewAppKeyCipherFromString("old-key")
	newKey, _ := NewAppKeyCipherFromString("new-key")

	sealed, _ := oldKey.Encrypt(context.Background(), []byte("secret"))
	failover, err := NewFailoverCipher(newKey, WithFallbackCipher(oldKey))
	if err != nil {
		t.Fatalf("new failover: %v", err)
	}
	if _, err := failover.Decrypt(context.Background(), sealed); err == nil {
		t.Fatal("strict policy must not fall back")
	}
}

func TestFallbackPolicyRequiresFallback(t *testing.T) {
	primary, _ := NewAppKeyCipherFromString("key")
	if _, err := NewFailoverCipher(primary, WithFailurePolicy(FailurePolicyFallback)); err == nil {
		t.Fatal("expected configuration error")
	}
}
