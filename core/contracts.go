package core

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

// Channel is a peer-created authentication or TLS-negotiation channel. The
// channel is referenced, never owned: it is created and invalidated by the
// peer, and this system only reads its immutable properties, drives its wire
// surface and eventually closes it.
type Channel interface {
	ID() ChannelID
	Kind() ChannelKind
	Properties() ChannelProperties

	// InvalidationError reports a pre-existing error state on the channel.
	// A non-nil value means the channel died before we touched it.
	InvalidationError() error

	// OnInvalidated registers a callback fired once when the channel is
	// invalidated by the peer or by an explicit close. The returned cancel
	// detaches the callback.
	OnInvalidated(fn func(reason error)) (cancel func())

	Close(ctx context.Context) error
}

// AuthChannel is the SASL wire surface of an Authentication channel.
type AuthChannel interface {
	Channel

	StartMechanism(ctx context.Context, mechanism string) error
	StartMechanismWithData(ctx context.Context, mechanism string, data []byte) error
	Respond(ctx context.Context, data []byte) error
	AcceptSASL(ctx context.Context) error
	AbortSASL(ctx context.Context, reason AbortReason, message string) error

	OnNewChallenge(fn func(challenge []byte)) (cancel func())
	OnStatusChanged(fn func(status SASLStatus, peerError string, details map[string]any)) (cancel func())
}

// ChannelBatch is one delivery from the connection framework. The protocol
// guarantees at most one authentication or TLS channel per connection at a
// time, so valid batches always hold exactly one channel.
type ChannelBatch struct {
	Account  Account
	Channels []Channel
}

// DispatchContext is the delivery handshake for one batch: the receiver may
// suspend delivery while it constructs a handler, then accept or fail it.
type DispatchContext interface {
	Delay()
	Accept()
	Fail(err error)
}

// ClaimOperation requests exclusive ownership of an observed channel ahead of
// the competing interactive approver. Claim fails when the race is lost.
type ClaimOperation interface {
	Claim(ctx context.Context) error
}

// ChannelHandler is the direct-handle role of the dispatcher.
type ChannelHandler interface {
	HandleChannels(ctx context.Context, batch ChannelBatch, dctx DispatchContext)
}

// ChannelObserver is the observe role: it sees new authentication channels
// before the approver and may claim them.
type ChannelObserver interface {
	ObserveChannels(ctx context.Context, batch ChannelBatch, claim ClaimOperation, dctx DispatchContext)
}

// SecretStore persists one credential per account. Get reports absence
// without error; Set with remember=false must still make the secret
// available for the lifetime of the process but need not persist it.
type SecretStore interface {
	Get(ctx context.Context, accountID string) (secret string, ok bool, err error)
	Set(ctx context.Context, accountID string, secret string, remember bool) error
	Delete(ctx context.Context, accountID string) error
}

// IdentityService fronts the external identity/single-signon daemon.
// CreateSession returns ErrNoIdentitySession (wrapped) when the credential
// reference is not addressable yet.
type IdentityService interface {
	CreateSession(ctx context.Context, credentialRef string, method string) (IdentitySession, error)
}

// IdentitySession is a stateful negotiation yielding usable secret material.
// Exactly one handle is held per resolver context and must be released on
// every exit path.
type IdentitySession interface {
	QueryInfo(ctx context.Context) (IdentityInfo, error)
	Process(ctx context.Context, params SessionData, mechanism string) (SessionData, error)
	Close() error
}

// AccountFlagger marks an account as needing a credential update, signalling
// that only an interactive prompt can make progress.
type AccountFlagger interface {
	MarkCredentialsNeedUpdate(ctx context.Context, account Account) error
}

// KeyProvider resolves locally provisioned application keys, such as the
// client id handed to OAuth-style mechanisms. Absence is not an error.
type KeyProvider interface {
	StoredKey(provider string, service string, key string) (string, bool)
}

// AccountStorage is the plugin surface exposed to the account manager.
// An empty key means the whole record.
type AccountStorage interface {
	List(ctx context.Context) ([]string, error)
	Get(ctx context.Context, accountName string, key string) (map[string]string, error)
	Set(ctx context.Context, accountName string, key string, value string) error
	Create(ctx context.Context, cmName string, protocol string, params map[string]string) (string, error)
	Delete(ctx context.Context, accountName string, key string) error
	Commit(ctx context.Context) error
	Ready(ctx context.Context) error
	Identifier(accountName string) (uint32, bool)
	Restrictions(accountName string) StorageRestriction
}

// AccountEventSink receives storage plugin events, including the replayed
// backlog at the ready transition.
type AccountEventSink interface {
	AccountEvent(event AccountEvent)
}

type AccountEventFunc func(event AccountEvent)

func (f AccountEventFunc) AccountEvent(event AccountEvent) { f(event) }

// SecretCipher seals secrets before they reach persistent storage.
type SecretCipher interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}
