package accounts

import (
	"context"
	"fmt"
	"sort"
	"sync"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/nemomobile/telepathy-accounts-signon/core"
)

// ReadyState is the mirror's position in its startup handshake with the
// account manager.
type ReadyState int

const (
	// StateLoading: the provider backend has not delivered its snapshot yet.
	StateLoading ReadyState = iota
	// StateBuffering: records are live but the consumer has not called
	// Ready; events queue up.
	StateBuffering
	// StateReady: events flow straight through.
	StateReady
)

func (s ReadyState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateBuffering:
		return "buffering"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

type record struct {
	id           uint32
	provider     string
	enabled      bool
	params       map[string]string
	restrictions core.StorageRestriction
	staged       map[string]*string
}

// pendingAccount is a provider record observed while disabled. It is not
// visible to the consumer until the enabled flag flips true.
type pendingAccount struct {
	provider     string
	params       map[string]string
	restrictions core.StorageRestriction
}

// Mirror reflects provider-owned account records toward the account manager.
// Provider-side mutations arrive through the Upsert/SetEnabled/Remove
// methods; the manager talks to the core.AccountStorage surface. Events are
// buffered until the manager signals Ready, then the backlog replays once in
// arrival order.
type Mirror struct {
	sink   core.AccountEventSink
	logger core.Logger

	mu      sync.Mutex
	state   ReadyState
	queue   []core.AccountEvent
	records map[string]*record
	pending map[string]pendingAccount
	nextID  uint32
}

func NewMirror(sink core.AccountEventSink, logger core.Logger) (*Mirror, error) {
	if sink == nil {
		return nil, core.BadInput("accounts: event sink is required")
	}
	return &Mirror{
		sink:    sink,
		logger:  glog.Ensure(logger),
		state:   StateLoading,
		records: make(map[string]*record),
		pending: make(map[string]pendingAccount),
		nextID:  1,
	}, nil
}

func (m *Mirror) State() ReadyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Loaded marks the provider snapshot complete. Records upserted before this
// are the initial population; their events still queue until Ready.
func (m *Mirror) Loaded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateLoading {
		m.state = StateBuffering
	}
}

// UpsertProviderAccount reflects a record the provider announced. Disabled
// unknown records are held back and surface only when enabled.
func (m *Mirror) UpsertProviderAccount(name string, provider string, enabled bool, params map[string]string, restrictions core.StorageRestriction) {
	m.mu.Lock()
	if existing, ok := m.records[name]; ok {
		existing.params = copyParams(params)
		event := core.AccountEvent{Kind: core.AccountEventAltered, AccountName: name}
		m.dispatchLocked(event)
		return
	}
	if !enabled {
		m.pending[name] = pendingAccount{
			provider:     provider,
			params:       copyParams(params),
			restrictions: restrictions,
		}
		m.mu.Unlock()
		return
	}
	delete(m.pending, name)
	m.insertLocked(name, provider, params, restrictions)
	m.dispatchLocked(core.AccountEvent{Kind: core.AccountEventCreated, AccountName: name})
}

// SetProviderEnabled toggles a record. Enabling a held-back record promotes
// it and emits created, exactly once.
func (m *Mirror) SetProviderEnabled(name string, enabled bool) {
	m.mu.Lock()
	if held, ok := m.pending[name]; ok {
		if !enabled {
			m.mu.Unlock()
			return
		}
		delete(m.pending, name)
		m.insertLocked(name, held.provider, held.params, held.restrictions)
		m.dispatchLocked(core.AccountEvent{Kind: core.AccountEventCreated, AccountName: name})
		return
	}
	existing, ok := m.records[name]
	if !ok {
		m.mu.Unlock()
		m.logger.Debug("enabled toggle for unknown account", "account", name)
		return
	}
	existing.enabled = enabled
	m.dispatchLocked(core.AccountEvent{Kind: core.AccountEventToggled, AccountName: name, Enabled: enabled})
}

// RemoveProviderAccount drops a record. Held-back records vanish silently.
func (m *Mirror) RemoveProviderAccount(name string) {
	m.mu.Lock()
	if _, ok := m.pending[name]; ok {
		delete(m.pending, name)
		m.mu.Unlock()
		return
	}
	if _, ok := m.records[name]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.records, name)
	m.dispatchLocked(core.AccountEvent{Kind: core.AccountEventDeleted, AccountName: name})
}

// Reconnect asks the manager to re-establish the accounts' connections,
// typically after their credentials recovered.
func (m *Mirror) Reconnect(names ...string) {
	m.mu.Lock()
	events := make([]core.AccountEvent, 0, len(names))
	for _, name := range names {
		if _, ok := m.records[name]; !ok {
			continue
		}
		events = append(events, core.AccountEvent{Kind: core.AccountEventReconnect, AccountName: name})
	}
	m.dispatchManyLocked(events)
}

// insertLocked registers a live record under a fresh numeric identifier.
func (m *Mirror) insertLocked(name string, provider string, params map[string]string, restrictions core.StorageRestriction) {
	m.records[name] = &record{
		id:           m.nextID,
		provider:     provider,
		enabled:      true,
		params:       copyParams(params),
		restrictions: restrictions,
	}
	m.nextID++
}

// dispatchLocked delivers or queues one event and releases the mutex.
func (m *Mirror) dispatchLocked(event core.AccountEvent) {
	m.dispatchManyLocked([]core.AccountEvent{event})
}

func (m *Mirror) dispatchManyLocked(events []core.AccountEvent) {
	if m.state != StateReady {
		m.queue = append(m.queue, events...)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	for _, event := range events {
		m.sink.AccountEvent(event)
	}
}

// List returns the visible account names in stable order.
func (m *Mirror) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	names := make([]string, 0, len(m.records))
	for name := range m.records {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)
	return names, nil
}

// Get returns the record's parameters, or a single parameter when key is
// set.
func (m *Mirror) Get(ctx context.Context, accountName string, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[accountName]
	if !ok {
		return nil, core.CredentialUnavailable(fmt.Sprintf("unknown account %q", accountName))
	}
	if key == "" {
		return copyParams(rec.params), nil
	}
	value, ok := rec.params[key]
	if !ok {
		return map[string]string{}, nil
	}
	return map[string]string{key: value}, nil
}

// Set stages a parameter change; Commit applies it.
func (m *Mirror) Set(ctx context.Context, accountName string, key string, value string) error {
	if key == "" {
		return core.BadInput("accounts: parameter key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[accountName]
	if !ok {
		return core.CredentialUnavailable(fmt.Sprintf("unknown account %q", accountName))
	}
	if rec.restrictions.Has(core.RestrictionCannotSetParameters) {
		return core.BadInput(fmt.Sprintf("parameters of %q are provider-owned", accountName))
	}
	if rec.staged == nil {
		rec.staged = make(map[string]*string)
	}
	staged := value
	rec.staged[key] = &staged
	return nil
}

// Create registers a manager-initiated account and returns its name. No
// created event fires: the caller originated the record.
func (m *Mirror) Create(ctx context.Context, cmName string, protocol string, params map[string]string) (string, error) {
	if cmName == "" || protocol == "" {
		return "", core.BadInput("accounts: connection manager and protocol are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	name := fmt.Sprintf("%s/%s/%d", cmName, protocol, m.nextID)
	m.records[name] = &record{
		id:      m.nextID,
		enabled: true,
		params:  copyParams(params),
	}
	m.nextID++
	return name, nil
}

// Delete with an empty key removes the whole account; with a key it stages
// a parameter removal for the next Commit.
func (m *Mirror) Delete(ctx context.Context, accountName string, key string) error {
	if key != "" {
		m.mu.Lock()
		defer m.mu.Unlock()
		rec, ok := m.records[accountName]
		if !ok {
			return core.CredentialUnavailable(fmt.Sprintf("unknown account %q", accountName))
		}
		if rec.staged == nil {
			rec.staged = make(map[string]*string)
		}
		rec.staged[key] = nil
		return nil
	}

	m.mu.Lock()
	if _, ok := m.records[accountName]; !ok {
		m.mu.Unlock()
		return core.CredentialUnavailable(fmt.Sprintf("unknown account %q", accountName))
	}
	delete(m.records, accountName)
	m.dispatchLocked(core.AccountEvent{Kind: core.AccountEventDeleted, AccountName: accountName})
	return nil
}

// Commit applies every staged change and emits one altered event per
// affected account.
func (m *Mirror) Commit(ctx context.Context) error {
	m.mu.Lock()
	var altered []core.AccountEvent
	names := make([]string, 0, len(m.records))
	for name := range m.records {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rec := m.records[name]
		if len(rec.staged) == 0 {
			continue
		}
		for key, value := range rec.staged {
			if value == nil {
				delete(rec.params, key)
				continue
			}
			rec.params[key] = *value
		}
		rec.staged = nil
		altered = append(altered, core.AccountEvent{Kind: core.AccountEventAltered, AccountName: name})
	}
	m.dispatchManyLocked(altered)
	return nil
}

// Ready flips the gate: the buffered backlog replays once, in order, and
// every later event is delivered directly.
func (m *Mirror) Ready(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateReady {
		m.mu.Unlock()
		return nil
	}
	backlog := m.queue
	m.queue = nil
	m.state = StateReady
	m.mu.Unlock()

	for _, event := range backlog {
		m.sink.AccountEvent(event)
	}
	return nil
}

func (m *Mirror) Identifier(accountName string) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[accountName]
	if !ok {
		return 0, false
	}
	return rec.id, true
}

func (m *Mirror) Restrictions(accountName string) core.StorageRestriction {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[accountName]
	if !ok {
		return core.RestrictionsAll
	}
	return rec.restrictions
}

func copyParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ core.AccountStorage = (*Mirror)(nil)
