package keyring

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/nemomobile/telepathy-accounts-signon/core"
	"github.com/uptrace/bun"
)

type secretRecord struct {
	bun.BaseModel `bun:"table:account_secrets,alias:acs"`

	ID              string    `bun:"id,pk"`
	AccountID       string    `bun:"account_id,notnull,unique"`
	SealedSecret    []byte    `bun:"sealed_secret"`
	EncryptionKeyID string    `bun:"encryption_key_id"`
	CreatedAt       time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func secretHandlers() repository.ModelHandlers[*secretRecord] {
	return repository.ModelHandlers[*secretRecord]{
		NewRecord: func() *secretRecord {
			return &secretRecord{}
		},
		GetID: func(record *secretRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *secretRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *secretRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

// SQLConfig wires a SQLStore. Cipher is required: rows never carry the
// secret in the clear.
type SQLConfig struct {
	Cipher core.SecretCipher
	KeyID  string
	Logger core.Logger
}

// SQLStore persists one secret per account in a bun-backed table, sealed
// with the configured cipher. Session-only writes (remember=false) stay in
// a volatile overlay and never reach a row.
type SQLStore struct {
	db     *bun.DB
	repo   repository.Repository[*secretRecord]
	cipher core.SecretCipher
	keyID  string
	logger core.Logger

	mu       sync.Mutex
	volatile map[string]string
}

// NewSQLStore accepts a *bun.DB or anything exposing DB() *bun.DB, such as
// a go-persistence-bun client.
func NewSQLStore(persistenceClient any, cfg SQLConfig) (*SQLStore, error) {
	db, err := resolveBunDB(persistenceClient)
	if err != nil {
		return nil, err
	}
	if cfg.Cipher == nil {
		return nil, fmt.Errorf("keyring: secret cipher is required")
	}

	repo := repository.NewRepository[*secretRecord](db, secretHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("keyring: invalid secret repository wiring: %w", err)
		}
	}

	keyID := strings.TrimSpace(cfg.KeyID)
	if keyID == "" {
		keyID = "app-key"
	}
	return &SQLStore{
		db:       db,
		repo:     repo,
		cipher:   cfg.Cipher,
		keyID:    keyID,
		logger:   glog.Ensure(cfg.Logger),
		volatile: make(map[string]string),
	}, nil
}

// EnsureSchema creates the secrets table when it does not exist yet.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("keyring: sql store is not configured")
	}
	_, err := s.db.NewCreateTable().
		Model((*secretRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("keyring: create secrets table: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, accountID string) (string, bool, error) {
	if s == nil || s.repo == nil {
		return "", false, fmt.Errorf("keyring: sql store is not configured")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", false, fmt.Errorf("keyring: account id is required")
	}

	s.mu.Lock()
	if secret, ok := s.volatile[accountID]; ok {
		s.mu.Unlock()
		return secret, true, nil
	}
	s.mu.Unlock()

	record, err := s.findRecord(ctx, accountID)
	if err != nil {
		return "", false, err
	}
	if record == nil {
		return "", false, nil
	}
	if len(record.SealedSecret) == 0 {
		return "", true, nil
	}

	plaintext, err := s.cipher.Decrypt(ctx, record.SealedSecret)
	if err != nil {
		return "", false, fmt.Errorf("keyring: unseal secret for %q: %w", accountID, err)
	}
	return string(plaintext), true, nil
}

func (s *SQLStore) Set(ctx context.Context, accountID string, secret string, remember bool) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("keyring: sql store is not configured")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("keyring: account id is required")
	}

	if !remember {
		s.mu.Lock()
		s.volatile[accountID] = secret
		s.mu.Unlock()
		return nil
	}

	var sealed []byte
	if secret != "" {
		var err error
		sealed, err = s.cipher.Encrypt(ctx, []byte(secret))
		if err != nil {
			return fmt.Errorf("keyring: seal secret for %q: %w", accountID, err)
		}
	}

	now := time.Now().UTC()
	existing, err := s.findRecord(ctx, accountID)
	if err != nil {
		return err
	}
	if existing != nil {
		existing.SealedSecret = sealed
		existing.EncryptionKeyID = s.keyID
		existing.UpdatedAt = now
		if _, err := s.repo.Update(ctx, existing); err != nil {
			return fmt.Errorf("keyring: update secret for %q: %w", accountID, err)
		}
	} else {
		record := &secretRecord{
			ID:              uuid.NewString(),
			AccountID:       accountID,
			SealedSecret:    sealed,
			EncryptionKeyID: s.keyID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if _, err := s.repo.Create(ctx, record); err != nil {
			return fmt.Errorf("keyring: store secret for %q: %w", accountID, err)
		}
	}

	s.mu.Lock()
	delete(s.volatile, accountID)
	s.mu.Unlock()
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, accountID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("keyring: sql store is not configured")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("keyring: account id is required")
	}

	s.mu.Lock()
	delete(s.volatile, accountID)
	s.mu.Unlock()

	if _, err := s.db.NewDelete().
		Model((*secretRecord)(nil)).
		Where("account_id = ?", accountID).
		Exec(ctx); err != nil {
		return fmt.Errorf("keyring: delete secret for %q: %w", accountID, err)
	}
	return nil
}

func (s *SQLStore) findRecord(ctx context.Context, accountID string) (*secretRecord, error) {
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("account_id", "=", accountID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("keyring: load secret for %q: %w", accountID, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("keyring: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("keyring: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("keyring: unsupported persistence client type %T", candidate)
	}
}

var _ core.SecretStore = (*MemoryStore)(nil)
var _ core.SecretStore = (*SQLStore)(nil)
