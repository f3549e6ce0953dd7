package session

import (
	"context"
	"sync"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/nemomobile/telepathy-accounts-signon/core"
	"github.com/nemomobile/telepathy-accounts-signon/sasl"
)

// State is the lifecycle position of one handler.
type State int

const (
	StateInit State = iota
	StateAwaitingCredential
	StateInFlight
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAwaitingCredential:
		return "awaiting_credential"
	case StateInFlight:
		return "in_flight"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

const userCancelledMessage = "User cancelled the authentication"

// Config wires one ServerSASLHandler. Channel, Account and Secrets are
// required; callbacks are optional.
type Config struct {
	Channel core.AuthChannel
	Account core.Account
	Secrets core.SecretStore
	Driver  *sasl.Driver
	Logger  core.Logger

	// OnAuthFailure fires after a peer credential rejection, before the
	// channel closes, carrying the password that was attempted.
	OnAuthFailure func(account core.Account, password string, reason error)

	// OnFinished fires exactly once when the handler reaches its terminal
	// state, whatever the path.
	OnFinished func(id core.ChannelID)
}

// ServerSASLHandler drives password authentication on one channel. It makes
// at most one mechanism attempt and closes the channel exactly once on every
// exit path.
type ServerSASLHandler struct {
	channel core.AuthChannel
	account core.Account
	secrets core.SecretStore
	driver  *sasl.Driver
	logger  core.Logger

	onAuthFailure func(account core.Account, password string, reason error)
	onFinished    func(id core.ChannelID)

	mu           sync.Mutex
	state        State
	cachedSecret string
	hasCached    bool
	attempted    bool
	closed       bool

	cancelInvalidated func()
	finishOnce        sync.Once
}

func New(cfg Config) (*ServerSASLHandler, error) {
	if cfg.Channel == nil {
		return nil, core.BadInput("session: channel is required")
	}
	if cfg.Account.ID == "" {
		return nil, core.BadInput("session: account id is required")
	}
	if cfg.Secrets == nil {
		return nil, core.BadInput("session: secret store is required")
	}
	logger := glog.Ensure(cfg.Logger)
	driver := cfg.Driver
	if driver == nil {
		driver = sasl.NewDriver(logger)
	}
	return &ServerSASLHandler{
		channel:       cfg.Channel,
		account:       cfg.Account,
		secrets:       cfg.Secrets,
		driver:        driver,
		logger:        logger,
		onAuthFailure: cfg.OnAuthFailure,
		onFinished:    cfg.OnFinished,
		state:         StateInit,
	}, nil
}

func (h *ServerSASLHandler) Account() core.Account { return h.account }

func (h *ServerSASLHandler) ChannelID() core.ChannelID { return h.channel.ID() }

func (h *ServerSASLHandler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// HasCachedCredential reports whether Start found a stored secret.
func (h *ServerSASLHandler) HasCachedCredential() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hasCached
}

// Start queries the secret store and arms the invalidation watch. It reports
// whether a stored secret already existed. Store read failures degrade to
// the no-credential path.
func (h *ServerSASLHandler) Start(ctx context.Context) (bool, error) {
	if reason := h.channel.InvalidationError(); reason != nil {
		h.finish()
		return false, core.ChannelInvalidated(reason.Error())
	}

	h.mu.Lock()
	if h.state != StateInit {
		h.mu.Unlock()
		return false, core.BadInput("session: handler already started")
	}
	h.state = StateAwaitingCredential
	h.mu.Unlock()

	h.cancelInvalidated = h.channel.OnInvalidated(func(reason error) {
		h.logger.Debug("channel invalidated", "channel", h.channel.ID().String(), "reason", reason)
		h.mu.Lock()
		h.state = StateTerminal
		h.closed = true
		h.mu.Unlock()
		h.finish()
	})

	secret, ok, err := h.secrets.Get(ctx, h.account.ID)
	if err != nil {
		h.logger.Warn("secret lookup failed, continuing without cached credential",
			"account", h.account.ID, "error", err)
		return false, nil
	}

	h.mu.Lock()
	h.cachedSecret = secret
	h.hasCached = ok
	h.mu.Unlock()
	return ok, nil
}

// SelfProvide replays the cached secret as a deferred attempt. The cached
// secret is already persisted, so remember stays false.
func (h *ServerSASLHandler) SelfProvide(ctx context.Context) {
	h.mu.Lock()
	secret, ok := h.cachedSecret, h.hasCached
	h.mu.Unlock()
	if !ok {
		return
	}
	go func() {
		if err := h.ProvidePassword(ctx, secret, false); err != nil {
			h.logger.Debug("cached credential attempt failed", "account", h.account.ID, "error", err)
		}
	}()
}

// ProvidePassword makes the single mechanism attempt for this handler and
// closes the channel whatever the outcome. remember=true persists the
// password on success when the channel permits saving; a channel that
// forbids saving gets any stored secret deleted instead.
func (h *ServerSASLHandler) ProvidePassword(ctx context.Context, password string, remember bool) error {
	h.mu.Lock()
	if h.attempted || h.state == StateTerminal {
		h.mu.Unlock()
		return core.BadInput("session: authentication already attempted")
	}
	h.attempted = true
	h.state = StateInFlight
	h.mu.Unlock()

	err := h.driver.AuthenticatePassword(ctx, h.channel, password)

	if err == nil {
		h.persistOutcome(ctx, password, remember)
		h.closeChannel(ctx)
		h.terminate()
		return nil
	}

	if core.IsAuthenticationFailed(err) && h.onAuthFailure != nil {
		h.onAuthFailure(h.account, password, err)
	}
	h.closeChannel(ctx)
	h.terminate()
	return err
}

// Cancel aborts an exchange on the user's behalf and closes the channel.
func (h *ServerSASLHandler) Cancel(ctx context.Context) error {
	h.mu.Lock()
	if h.state == StateTerminal {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	if err := h.channel.AbortSASL(ctx, core.AbortReasonUserAbort, userCancelledMessage); err != nil {
		h.logger.Warn("abort failed", "channel", h.channel.ID().String(), "error", err)
	}
	h.closeChannel(ctx)
	h.terminate()
	return nil
}

func (h *ServerSASLHandler) persistOutcome(ctx context.Context, password string, remember bool) {
	if !h.channel.Properties().MaySave() {
		if err := h.secrets.Delete(ctx, h.account.ID); err != nil {
			h.logger.Warn("stored secret delete failed", "account", h.account.ID, "error", err)
		}
		return
	}
	if !remember {
		return
	}
	if err := h.secrets.Set(ctx, h.account.ID, password, true); err != nil {
		h.logger.Warn("secret save failed", "account", h.account.ID, "error", err)
	}
}

func (h *ServerSASLHandler) closeChannel(ctx context.Context) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	if err := h.channel.Close(ctx); err != nil {
		h.logger.Warn("channel close failed", "channel", h.channel.ID().String(), "error", err)
	}
}

func (h *ServerSASLHandler) terminate() {
	h.mu.Lock()
	h.state = StateTerminal
	h.mu.Unlock()
	h.finish()
}

func (h *ServerSASLHandler) finish() {
	h.finishOnce.Do(func() {
		if h.cancelInvalidated != nil {
			h.cancelInvalidated()
		}
		if h.onFinished != nil {
			h.onFinished(h.channel.ID())
		}
	})
}
