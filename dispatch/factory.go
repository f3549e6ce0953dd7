package dispatch

import (
	"context"
	"sync"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/nemomobile/telepathy-accounts-signon/core"
	"github.com/nemomobile/telepathy-accounts-signon/sasl"
	"github.com/nemomobile/telepathy-accounts-signon/session"
	"github.com/nemomobile/telepathy-accounts-signon/signon"
	"github.com/nemomobile/telepathy-accounts-signon/tlsconn"
)

// Events are the factory's outbound notifications. NewSASLHandler fires when
// an interactive credential prompt is needed; NewTLSHandler when a TLS
// channel arrived; AuthPasswordFailed after a peer rejected a password.
type Events struct {
	NewSASLHandler     func(handler *session.ServerSASLHandler)
	NewTLSHandler      func(handler *tlsconn.ServerTLSHandler)
	AuthPasswordFailed func(account core.Account, password string, reason error)
}

// Config wires an AuthFactory. Secrets is required. Resolver is optional:
// without it every account takes the password path.
type Config struct {
	Secrets  core.SecretStore
	Resolver *signon.Resolver
	Driver   *sasl.Driver
	Logger   core.Logger
	Events   Events
}

// AuthFactory owns both dispatch roles. As handler it receives channels the
// connection framework routed here directly; as observer it sees every new
// authentication channel ahead of the interactive approver and may claim
// those it can serve without a prompt.
type AuthFactory struct {
	secrets  core.SecretStore
	resolver *signon.Resolver
	driver   *sasl.Driver
	logger   core.Logger
	events   Events

	mu             sync.Mutex
	sessions       map[core.ChannelID]*session.ServerSASLHandler
	retryPasswords map[string]string
}

func New(cfg Config) (*AuthFactory, error) {
	if cfg.Secrets == nil {
		return nil, core.BadInput("dispatch: secret store is required")
	}
	logger := glog.Ensure(cfg.Logger)
	driver := cfg.Driver
	if driver == nil {
		driver = sasl.NewDriver(logger)
	}
	return &AuthFactory{
		secrets:        cfg.Secrets,
		resolver:       cfg.Resolver,
		driver:         driver,
		logger:         logger,
		events:         cfg.Events,
		sessions:       make(map[core.ChannelID]*session.ServerSASLHandler),
		retryPasswords: make(map[string]string),
	}, nil
}

var _ core.ChannelHandler = (*AuthFactory)(nil)
var _ core.ChannelObserver = (*AuthFactory)(nil)

// SaveRetryPassword stages a password for the account's next authentication
// channel. It is consumed by exactly one session.
func (f *AuthFactory) SaveRetryPassword(account core.Account, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retryPasswords[account.ID] = password
}

func (f *AuthFactory) takeRetryPassword(accountID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	password, ok := f.retryPasswords[accountID]
	if ok {
		delete(f.retryPasswords, accountID)
	}
	return password, ok
}

// Session returns the live handler for a channel, if any.
func (f *AuthFactory) Session(id core.ChannelID) (*session.ServerSASLHandler, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	handler, ok := f.sessions[id]
	return handler, ok
}

// commonChecks validates one delivery. The duplicate-session guard applies
// only to the handle role: observation of a channel we already handle is
// normal.
func (f *AuthFactory) commonChecks(batch core.ChannelBatch, observing bool) (core.Channel, error) {
	if len(batch.Channels) != 1 {
		return nil, core.BadInput("expected exactly one channel per batch")
	}
	channel := batch.Channels[0]
	if channel == nil {
		return nil, core.BadInput("channel is required")
	}

	switch channel.Kind() {
	case core.ChannelKindAuthentication, core.ChannelKindTLSConnection:
	default:
		return nil, core.BadInput("channel is not an authentication or tls channel")
	}

	if !observing {
		f.mu.Lock()
		_, exists := f.sessions[channel.ID()]
		f.mu.Unlock()
		if exists {
			return nil, core.DuplicateHandler("channel is already being handled")
		}
	}

	if reason := channel.InvalidationError(); reason != nil {
		return nil, core.ChannelInvalidated(reason.Error())
	}
	return channel, nil
}

// HandleChannels is the direct-handle role: build the appropriate handler
// for the channel and hand it to the interactive layer when no stored
// credential can answer by itself.
func (f *AuthFactory) HandleChannels(ctx context.Context, batch core.ChannelBatch, dctx core.DispatchContext) {
	channel, err := f.commonChecks(batch, false)
	if err != nil {
		dctx.Fail(err)
		return
	}

	if channel.Kind() == core.ChannelKindTLSConnection {
		handler, err := tlsconn.New(channel, f.logger)
		if err != nil {
			dctx.Fail(err)
			return
		}
		if f.events.NewTLSHandler != nil {
			f.events.NewTLSHandler(handler)
		}
		dctx.Accept()
		return
	}

	authChannel, ok := channel.(core.AuthChannel)
	if !ok {
		dctx.Fail(core.BadInput("authentication channel lacks the sasl surface"))
		return
	}
	if !sasl.SupportsKind(authChannel.Properties(), core.CredentialKindPassword) {
		dctx.Fail(core.BadInput("unknown authentication mechanism"))
		return
	}

	dctx.Delay()
	handler, hadStored, err := f.newSession(ctx, authChannel, batch.Account)
	if err != nil {
		dctx.Fail(err)
		return
	}

	if retry, ok := f.takeRetryPassword(batch.Account.ID); ok {
		// A fresh prompt already happened; refresh the stored copy only if
		// one existed before.
		go func() {
			if err := handler.ProvidePassword(ctx, retry, hadStored); err != nil {
				f.logger.Debug("retry password attempt failed", "account", batch.Account.ID, "error", err)
			}
		}()
	} else if hadStored {
		handler.SelfProvide(ctx)
	} else if f.events.NewSASLHandler != nil {
		f.events.NewSASLHandler(handler)
	}
	dctx.Accept()
}

// ObserveChannels is the observe role: claim channels this factory can
// authenticate without a prompt, and let everything else flow on to the
// approver.
func (f *AuthFactory) ObserveChannels(ctx context.Context, batch core.ChannelBatch, claim core.ClaimOperation, dctx core.DispatchContext) {
	channel, err := f.commonChecks(batch, true)
	if err != nil {
		dctx.Fail(err)
		return
	}

	if channel.Kind() != core.ChannelKindAuthentication {
		dctx.Accept()
		return
	}
	authChannel, ok := channel.(core.AuthChannel)
	if !ok {
		dctx.Fail(core.BadInput("authentication channel lacks the sasl surface"))
		return
	}
	props := authChannel.Properties()

	if f.resolver != nil && batch.Account.CredentialRef != "" && f.resolver.Supports(props) {
		if !f.claimChannel(ctx, claim, channel.ID()) {
			dctx.Accept()
			return
		}
		account := batch.Account
		go func() {
			if err := f.resolver.Resolve(ctx, authChannel, account); err != nil {
				f.logger.Info("credential resolution failed", "account", account.ID, "error", err)
			}
		}()
		dctx.Accept()
		return
	}

	if !sasl.SupportsKind(props, core.CredentialKindPassword) {
		dctx.Fail(core.BadInput("unknown authentication mechanism"))
		return
	}

	if retry, ok := f.takeRetryPassword(batch.Account.ID); ok {
		if !f.claimChannel(ctx, claim, channel.ID()) {
			dctx.Accept()
			return
		}
		handler, hadStored, err := f.newSession(ctx, authChannel, batch.Account)
		if err != nil {
			dctx.Fail(err)
			return
		}
		go func() {
			if err := handler.ProvidePassword(ctx, retry, hadStored); err != nil {
				f.logger.Debug("retry password attempt failed", "account", batch.Account.ID, "error", err)
			}
		}()
		dctx.Accept()
		return
	}

	if _, stored, err := f.secrets.Get(ctx, batch.Account.ID); err != nil || !stored {
		if err != nil {
			f.logger.Warn("secret lookup failed during observation", "account", batch.Account.ID, "error", err)
		}
		// Nothing to answer with; the approver's prompt takes over.
		dctx.Accept()
		return
	}

	if !f.claimChannel(ctx, claim, channel.ID()) {
		dctx.Accept()
		return
	}
	handler, hadStored, err := f.newSession(ctx, authChannel, batch.Account)
	if err != nil {
		dctx.Fail(err)
		return
	}
	if hadStored {
		handler.SelfProvide(ctx)
	}
	dctx.Accept()
}

// claimChannel requests exclusive ownership. A lost race is abandoned
// silently.
func (f *AuthFactory) claimChannel(ctx context.Context, claim core.ClaimOperation, id core.ChannelID) bool {
	if claim == nil {
		return false
	}
	if err := claim.Claim(ctx); err != nil {
		f.logger.Debug("channel claim lost", "channel", id.String(), "error", err)
		return false
	}
	return true
}

// newSession builds, registers and starts a password session for the
// channel. The handler removes itself from the session map when it reaches
// its terminal state.
func (f *AuthFactory) newSession(ctx context.Context, channel core.AuthChannel, account core.Account) (*session.ServerSASLHandler, bool, error) {
	handler, err := session.New(session.Config{
		Channel:       channel,
		Account:       account,
		Secrets:       f.secrets,
		Driver:        f.driver,
		Logger:        f.logger,
		OnAuthFailure: f.events.AuthPasswordFailed,
		OnFinished: func(id core.ChannelID) {
			f.mu.Lock()
			delete(f.sessions, id)
			f.mu.Unlock()
		},
	})
	if err != nil {
		return nil, false, err
	}

	f.mu.Lock()
	f.sessions[channel.ID()] = handler
	f.mu.Unlock()

	hadStored, err := handler.Start(ctx)
	if err != nil {
		f.mu.Lock()
		delete(f.sessions, channel.ID())
		f.mu.Unlock()
		return nil, false, err
	}
	return handler, hadStored, nil
}
