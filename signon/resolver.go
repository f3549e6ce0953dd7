package signon

import (
	"context"
	"errors"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/nemomobile/telepathy-accounts-signon/core"
	"github.com/nemomobile/telepathy-accounts-signon/sasl"
)

// Session process failures that mean the stored credential cannot work
// without user involvement. Any of these flags the account for a credential
// update; everything else is treated as transient.
var (
	ErrCredentialNotAvailable = errors.New("signon: credential not available")
	ErrInvalidCredentials     = errors.New("signon: invalid credentials")
	ErrMissingData            = errors.New("signon: missing data")
	ErrNeedsUserInteraction   = errors.New("signon: user interaction required")
	ErrOperationFailed        = errors.New("signon: operation failed")
)

const (
	methodOAuth2   = "oauth2"
	methodPassword = "password"

	clientIDKey = "ClientId"
)

// Config wires a Resolver. Identity, Secrets and Flagger are required; Keys
// is optional and consulted best-effort for the OAuth client id.
type Config struct {
	Identity core.IdentityService
	Secrets  core.SecretStore
	Flagger  core.AccountFlagger
	Keys     core.KeyProvider
	Driver   *sasl.Driver
	Logger   core.Logger
}

// Resolver authenticates a channel non-interactively from the account's
// credential reference: it opens an identity session, drives it without UI
// and feeds the resulting secret material into the SASL exchange.
type Resolver struct {
	identity core.IdentityService
	secrets  core.SecretStore
	flagger  core.AccountFlagger
	keys     core.KeyProvider
	driver   *sasl.Driver
	logger   core.Logger
}

func New(cfg Config) (*Resolver, error) {
	if cfg.Identity == nil {
		return nil, core.BadInput("signon: identity service is required")
	}
	if cfg.Secrets == nil {
		return nil, core.BadInput("signon: secret store is required")
	}
	if cfg.Flagger == nil {
		return nil, core.BadInput("signon: account flagger is required")
	}
	logger := glog.Ensure(cfg.Logger)
	driver := cfg.Driver
	if driver == nil {
		driver = sasl.NewDriver(logger)
	}
	return &Resolver{
		identity: cfg.Identity,
		secrets:  cfg.Secrets,
		flagger:  cfg.Flagger,
		keys:     cfg.Keys,
		driver:   driver,
		logger:   logger,
	}, nil
}

// Supports reports whether the channel advertises any mechanism this
// resolver can feed.
func (r *Resolver) Supports(props core.ChannelProperties) bool {
	return sasl.SupportsKind(props, core.CredentialKindOAuth2) ||
		sasl.SupportsKind(props, core.CredentialKindPassword)
}

// Resolve runs the full non-interactive authentication for one channel. The
// channel is closed exactly once on every path out of here; exactly one
// identity session is opened and released.
func (r *Resolver) Resolve(ctx context.Context, channel core.AuthChannel, account core.Account) error {
	closed := false
	closeChannel := func() {
		if closed {
			return
		}
		closed = true
		if err := channel.Close(ctx); err != nil {
			r.logger.Warn("channel close failed", "channel", channel.ID().String(), "error", err)
		}
	}
	defer closeChannel()

	props := channel.Properties()
	kind, err := credentialKindFor(props)
	if err != nil {
		return err
	}

	session, err := r.openSession(ctx, account, methodFor(kind))
	if err != nil {
		r.logger.Info("no identity session for account", "account", account.ID, "error", err)
		r.markNeedsUpdate(ctx, account)
		return core.CredentialUnavailable(err.Error())
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			r.logger.Warn("identity session release failed", "account", account.ID, "error", closeErr)
		}
	}()

	username := account.DefaultUsername
	if info, infoErr := session.QueryInfo(ctx); infoErr == nil && info.Username != "" {
		username = info.Username
	} else if infoErr != nil {
		r.logger.Debug("identity info unavailable, using account username",
			"account", account.ID, "error", infoErr)
	}

	params := core.SessionData{core.SessionDataUIPolicy: core.UIPolicyNoUserInteraction}
	clientID := ""
	if r.keys != nil {
		if key, ok := r.keys.StoredKey(account.Provider, "", clientIDKey); ok {
			clientID = key
			params[core.SessionDataClientID] = key
		}
	}

	result, err := session.Process(ctx, params, methodFor(kind))
	if err != nil {
		if isCredentialFailure(err) {
			r.logger.Info("identity session rejected stored credential",
				"account", account.ID, "error", err)
			r.markNeedsUpdate(ctx, account)
			return core.CredentialUnavailable(err.Error())
		}
		return core.MapError(err)
	}

	switch kind {
	case core.CredentialKindOAuth2:
		token := result.GetString(core.SessionDataAccessToken)
		if token == "" {
			token = result.GetString(core.SessionDataSecret)
		}
		if token == "" {
			r.markNeedsUpdate(ctx, account)
			return core.CredentialUnavailable("identity session yielded no access token")
		}
		mechanism := sasl.Select(props, core.CredentialKindOAuth2)
		err = r.driver.AuthenticateOAuth(ctx, channel, mechanism, sasl.OAuthCredentials{
			Username:    username,
			AccessToken: token,
			ClientID:    clientID,
		})
	default:
		password := result.GetString(core.SessionDataSecret)
		if password == "" {
			r.markNeedsUpdate(ctx, account)
			return core.CredentialUnavailable("identity session yielded no password")
		}
		err = r.driver.AuthenticatePassword(ctx, channel, password)
	}

	if err != nil {
		if core.IsAuthenticationFailed(err) {
			r.markNeedsUpdate(ctx, account)
		}
		return err
	}
	return nil
}

// openSession opens the identity session, seeding an empty secret and
// retrying once when the credential reference is not addressable yet. The
// seed makes the identity daemon materialize the credential record.
func (r *Resolver) openSession(ctx context.Context, account core.Account, method string) (core.IdentitySession, error) {
	session, err := r.identity.CreateSession(ctx, account.CredentialRef, method)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, core.ErrNoIdentitySession) {
		return nil, err
	}

	if seedErr := r.secrets.Set(ctx, account.ID, "", true); seedErr != nil {
		r.logger.Warn("empty credential seed failed", "account", account.ID, "error", seedErr)
		return nil, err
	}
	return r.identity.CreateSession(ctx, account.CredentialRef, method)
}

func (r *Resolver) markNeedsUpdate(ctx context.Context, account core.Account) {
	if err := r.flagger.MarkCredentialsNeedUpdate(ctx, account); err != nil {
		r.logger.Warn("credentials-need-update mark failed", "account", account.ID, "error", err)
	}
}

func credentialKindFor(props core.ChannelProperties) (core.CredentialKind, error) {
	if sasl.SupportsKind(props, core.CredentialKindOAuth2) {
		return core.CredentialKindOAuth2, nil
	}
	if sasl.SupportsKind(props, core.CredentialKindPassword) {
		return core.CredentialKindPassword, nil
	}
	return "", core.BadInput("no supported authentication mechanism advertised")
}

func methodFor(kind core.CredentialKind) string {
	if kind == core.CredentialKindOAuth2 {
		return methodOAuth2
	}
	return methodPassword
}

func isCredentialFailure(err error) bool {
	for _, class := range []error{
		ErrCredentialNotAvailable,
		ErrInvalidCredentials,
		ErrMissingData,
		ErrNeedsUserInteraction,
		ErrOperationFailed,
	} {
		if errors.Is(err, class) {
			return true
		}
	}
	return false
}
