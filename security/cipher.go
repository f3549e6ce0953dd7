package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/nemomobile/telepathy-accounts-signon/core"
)

const envelopePrefix = "signon.secret.v1:"

type envelope struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type Option func(*AppKeyCipher)

// AppKeyCipher seals secrets with AES-256-GCM under a locally provisioned
// application key. Key material of non-standard length is stretched through
// SHA-256.
type AppKeyCipher struct {
	key     []byte
	keyID   string
	version int
}

func WithKeyID(id string) Option {
	return func(c *AppKeyCipher) {
		trimmed := strings.TrimSpace(id)
		if trimmed != "" {
			c.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(c *AppKeyCipher) {
		if version > 0 {
			c.version = version
		}
	}
}

func NewAppKeyCipher(keyMaterial []byte, opts ...Option) (*AppKeyCipher, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	appKey := &AppKeyCipher{
		key:     normalizeKey(key),
		keyID:   "app-key",
		version: 1,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(appKey)
	}
	return appKey, nil
}

func NewAppKeyCipherFromString(key string, opts ...Option) (*AppKeyCipher, error) {
	return NewAppKeyCipher([]byte(key), opts...)
}

func (c *AppKeyCipher) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("security: cipher is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	data, err := json.Marshal(envelope{
		KeyID:      c.keyID,
		Version:    c.version,
		Algorithm:  "aes-256-gcm",
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return nil, fmt.Errorf("security: encode envelope: %w", err)
	}
	return append([]byte(envelopePrefix), data...), nil
}

func (c *AppKeyCipher) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("security: cipher is nil")
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("security: ciphertext is required")
	}

	payload := strings.TrimPrefix(string(ciphertext), envelopePrefix)
	var parsed envelope
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("security: decode envelope: %w", err)
	}
	if parsed.KeyID != "" && parsed.KeyID != c.keyID {
		return nil, fmt.Errorf("security: key id mismatch: got %q want %q", parsed.KeyID, c.keyID)
	}
	if parsed.Version > 0 && parsed.Version != c.version {
		return nil, fmt.Errorf("security: key version mismatch: got %d want %d", parsed.Version, c.version)
	}

	nonce, err := base64.StdEncoding.DecodeString(parsed.Nonce)
	if err != nil {
		return nil, fmt.Errorf("security: decode nonce: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(parsed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("security: decode ciphertext payload: %w", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

// IsSealed reports whether the value carries the envelope prefix, which
// distinguishes sealed rows from legacy plaintext ones.
func IsSealed(value []byte) bool {
	return strings.HasPrefix(string(value), envelopePrefix)
}

func (c *AppKeyCipher) KeyID() string {
	if c == nil {
		return ""
	}
	return c.keyID
}

func (c *AppKeyCipher) Version() int {
	if c == nil {
		return 0
	}
	return c.version
}

func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key
}

var _ core.SecretCipher = (*AppKeyCipher)(nil)
