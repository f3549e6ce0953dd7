package accounts

import (
	"context"
	"sync"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/nemomobile/telepathy-accounts-signon/core"
)

// FailureSource reports the set of account names whose stored web
// credentials are currently failing.
type FailureSource interface {
	FailingAccounts(ctx context.Context) ([]string, error)
}

// Monitor tracks the failing set between polls. An account that leaves the
// set has working credentials again, so the mirror asks the manager to
// reconnect it.
type Monitor struct {
	source FailureSource
	mirror *Mirror
	logger core.Logger

	mu      sync.Mutex
	failing map[string]bool
}

func NewMonitor(source FailureSource, mirror *Mirror, logger core.Logger) (*Monitor, error) {
	if source == nil {
		return nil, core.BadInput("accounts: failure source is required")
	}
	if mirror == nil {
		return nil, core.BadInput("accounts: mirror is required")
	}
	return &Monitor{
		source:  source,
		mirror:  mirror,
		logger:  glog.Ensure(logger),
		failing: make(map[string]bool),
	}, nil
}

// Failing reports whether the account was failing at the last poll.
func (m *Monitor) Failing(accountName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failing[accountName]
}

// Poll refreshes the failing set and emits reconnect for every account that
// recovered since the previous poll.
func (m *Monitor) Poll(ctx context.Context) error {
	names, err := m.source.FailingAccounts(ctx)
	if err != nil {
		return core.StoreFailure("failing accounts poll failed", err)
	}

	current := make(map[string]bool, len(names))
	for _, name := range names {
		current[name] = true
	}

	m.mu.Lock()
	var recovered []string
	for name := range m.failing {
		if !current[name] {
			recovered = append(recovered, name)
		}
	}
	m.failing = current
	m.mu.Unlock()

	if len(recovered) > 0 {
		m.logger.Info("accounts recovered, requesting reconnect", "accounts", recovered)
		m.mirror.Reconnect(recovered...)
	}
	return nil
}
