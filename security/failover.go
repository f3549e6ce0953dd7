package security

import (
	"context"
	"fmt"
	"time"

	"github.com/nemomobile/telepathy-accounts-signon/core"
)

type FailurePolicy string

const (
	FailurePolicyStrict   FailurePolicy = "strict_fail"
	FailurePolicyFallback FailurePolicy = "fallback_allowed"
)

// Diagnostic describes one failover decision for observability hooks.
type Diagnostic struct {
	OccurredAt time.Time
	Operation  string
	Policy     FailurePolicy
	Outcome    string
	Error      string
}

type DiagnosticHook func(event Diagnostic)

type FailoverOption func(*FailoverCipher)

// FailoverCipher wraps a primary cipher with an optional fallback. Under the
// fallback policy a primary decrypt failure is retried on the fallback,
// which covers key rotation windows where old rows are still sealed under
// the previous key.
type FailoverCipher struct {
	primary  core.SecretCipher
	fallback core.SecretCipher
	policy   FailurePolicy
	hook     DiagnosticHook
	now      func() time.Time
}

func WithFallbackCipher(fallback core.SecretCipher) FailoverOption {
	return func(f *FailoverCipher) {
		f.fallback = fallback
	}
}

func WithFailurePolicy(policy FailurePolicy) FailoverOption {
	return func(f *FailoverCipher) {
		f.policy = policy
	}
}

func WithDiagnostics(hook DiagnosticHook) FailoverOption {
	return func(f *FailoverCipher) {
		f.hook = hook
	}
}

func NewFailoverCipher(primary core.SecretCipher, opts ...FailoverOption) (*FailoverCipher, error) {
	if primary == nil {
		return nil, fmt.Errorf("security: primary cipher is required")
	}
	failover := &FailoverCipher{
		primary: primary,
		policy:  FailurePolicyStrict,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(failover)
	}
	if failover.policy == FailurePolicyFallback && failover.fallback == nil {
		return nil, fmt.Errorf("security: fallback policy requires a fallback cipher")
	}
	return failover, nil
}

func (f *FailoverCipher) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("security: cipher is nil")
	}
	ciphertext, err := f.primary.Encrypt(ctx, plaintext)
	if err != nil {
		f.emit("encrypt", "primary_failed", err)
		return nil, err
	}
	return ciphertext, nil
}

func (f *FailoverCipher) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("security: cipher is nil")
	}
	plaintext, err := f.primary.Decrypt(ctx, ciphertext)
	if err == nil {
		return plaintext, nil
	}
	if f.policy != FailurePolicyFallback {
		f.emit("decrypt", "primary_failed", err)
		return nil, err
	}

	plaintext, fallbackErr := f.fallback.Decrypt(ctx, ciphertext)
	if fallbackErr != nil {
		f.emit("decrypt", "fallback_failed", fallbackErr)
		return nil, fmt.Errorf("security: decrypt failed on primary (%v) and fallback: %w", err, fallbackErr)
	}
	f.emit("decrypt", "fallback_used", err)
	return plaintext, nil
}

func (f *FailoverCipher) emit(operation string, outcome string, err error) {
	if f.hook == nil {
		return
	}
	event := Diagnostic{
		OccurredAt: f.now(),
		Operation:  operation,
		Policy:     f.policy,
		Outcome:    outcome,
	}
	if err != nil {
		event.Error = err.Error()
	}
	f.hook(event)
}

var _ core.SecretCipher = (*FailoverCipher)(nil)
