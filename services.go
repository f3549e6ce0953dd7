package accountsignon

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/nemomobile/telepathy-accounts-signon/accounts"
	"github.com/nemomobile/telepathy-accounts-signon/command"
	"github.com/nemomobile/telepathy-accounts-signon/core"
	"github.com/nemomobile/telepathy-accounts-signon/dispatch"
	"github.com/nemomobile/telepathy-accounts-signon/keyring"
	"github.com/nemomobile/telepathy-accounts-signon/sasl"
	"github.com/nemomobile/telepathy-accounts-signon/signon"
)

type Config = core.Config

type SecretStoreConfig = core.SecretStoreConfig

type MonitorConfig = core.MonitorConfig

func DefaultConfig() Config {
	return core.DefaultConfig()
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            core.Logger
	loggerProvider    core.LoggerProvider
	configProvider    core.ConfigProvider
	optionsResolver   core.OptionsResolver
	secretStore       core.SecretStore
	secretCipher      core.SecretCipher
	persistenceClient any
	identity          core.IdentityService
	flagger           core.AccountFlagger
	keys              core.KeyProvider
	eventSink         core.AccountEventSink
	failureSource     accounts.FailureSource
	events            dispatch.Events
}

type Option func(*serviceBuilder)

func WithLogger(logger core.Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithSecretStore(store core.SecretStore) Option {
	return func(b *serviceBuilder) {
		b.secretStore = store
	}
}

func WithSecretCipher(cipher core.SecretCipher) Option {
	return func(b *serviceBuilder) {
		b.secretCipher = cipher
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithIdentityService(identity core.IdentityService) Option {
	return func(b *serviceBuilder) {
		b.identity = identity
	}
}

func WithAccountFlagger(flagger core.AccountFlagger) Option {
	return func(b *serviceBuilder) {
		b.flagger = flagger
	}
}

func WithKeyProvider(keys core.KeyProvider) Option {
	return func(b *serviceBuilder) {
		b.keys = keys
	}
}

func WithAccountEventSink(sink core.AccountEventSink) Option {
	return func(b *serviceBuilder) {
		b.eventSink = sink
	}
}

func WithFailureSource(source accounts.FailureSource) Option {
	return func(b *serviceBuilder) {
		b.failureSource = source
	}
}

func WithDispatchEvents(events dispatch.Events) Option {
	return func(b *serviceBuilder) {
		b.events = events
	}
}

// Service assembles the signon stack: the secret store, the non-interactive
// credential resolver, the channel dispatch factory and the account mirror
// with its credential monitor.
type Service struct {
	config          Config
	logger          core.Logger
	loggerProvider  core.LoggerProvider
	configProvider  core.ConfigProvider
	optionsResolver core.OptionsResolver
	secrets         core.SecretStore
	driver          *sasl.Driver
	resolver        *signon.Resolver
	factory         *dispatch.AuthFactory
	mirror          *accounts.Mirror
	monitor         *accounts.Monitor
	monitorJob      *accounts.MonitorJob
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("signon", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		configProvider:  core.NewCfgxConfigProvider(nil),
		optionsResolver: core.GoOptionsResolver{},
	}
}

func New(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("signon", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("signon"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.configProvider == nil {
		builder.configProvider = core.NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = core.GoOptionsResolver{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, core.MapError(err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, core.MapError(err)
	}

	secrets := builder.secretStore
	if secrets == nil {
		switch finalConfig.SecretStore.Driver {
		case core.SecretStoreDriverSQL:
			if builder.persistenceClient == nil {
				return nil, core.BadInput("signon: sql secret store requires a persistence client")
			}
			sqlStore, storeErr := keyring.NewSQLStore(builder.persistenceClient, keyring.SQLConfig{
				Cipher: builder.secretCipher,
				KeyID:  finalConfig.SecretStore.KeyID,
				Logger: logger,
			})
			if storeErr != nil {
				return nil, core.MapError(storeErr)
			}
			secrets = sqlStore
		default:
			secrets = keyring.NewMemoryStore()
		}
	}

	driver := sasl.NewDriver(logger)

	var resolver *signon.Resolver
	if builder.identity != nil {
		resolver, err = signon.New(signon.Config{
			Identity: builder.identity,
			Secrets:  secrets,
			Flagger:  builder.flagger,
			Keys:     builder.keys,
			Driver:   driver,
			Logger:   logger,
		})
		if err != nil {
			return nil, core.MapError(err)
		}
	}

	factory, err := dispatch.New(dispatch.Config{
		Secrets:  secrets,
		Resolver: resolver,
		Driver:   driver,
		Logger:   logger,
		Events:   builder.events,
	})
	if err != nil {
		return nil, core.MapError(err)
	}

	var mirror *accounts.Mirror
	if builder.eventSink != nil {
		mirror, err = accounts.NewMirror(builder.eventSink, logger)
		if err != nil {
			return nil, core.MapError(err)
		}
	}

	var monitor *accounts.Monitor
	var monitorJob *accounts.MonitorJob
	if builder.failureSource != nil && mirror != nil {
		monitor, err = accounts.NewMonitor(builder.failureSource, mirror, logger)
		if err != nil {
			return nil, core.MapError(err)
		}
		retryDelay := time.Duration(finalConfig.Monitor.RetryDelaySeconds) * time.Second
		monitorJob, err = accounts.NewMonitorJob(monitor, retryDelay)
		if err != nil {
			return nil, core.MapError(err)
		}
	}

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		secrets:         secrets,
		driver:          driver,
		resolver:        resolver,
		factory:         factory,
		mirror:          mirror,
		monitor:         monitor,
		monitorJob:      monitorJob,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return New(cfg, opts...)
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Logger() core.Logger {
	if s == nil {
		return glog.Ensure(nil)
	}
	return s.logger
}

func (s *Service) Secrets() core.SecretStore {
	if s == nil {
		return nil
	}
	return s.secrets
}

func (s *Service) Factory() *dispatch.AuthFactory {
	if s == nil {
		return nil
	}
	return s.factory
}

func (s *Service) Resolver() *signon.Resolver {
	if s == nil {
		return nil
	}
	return s.resolver
}

func (s *Service) Mirror() *accounts.Mirror {
	if s == nil {
		return nil
	}
	return s.mirror
}

func (s *Service) Monitor() *accounts.Monitor {
	if s == nil {
		return nil
	}
	return s.monitor
}

func (s *Service) MonitorJob() *accounts.MonitorJob {
	if s == nil {
		return nil
	}
	return s.monitorJob
}

// Commands exposes the mutating surface as command-bus handlers.
type Commands struct {
	HandleChannels    *command.HandleChannelsCommand
	ObserveChannels   *command.ObserveChannelsCommand
	ProvidePassword   *command.ProvidePasswordCommand
	CancelAuth        *command.CancelAuthCommand
	SaveRetryPassword *command.SaveRetryPasswordCommand
	PollCredentials   *command.PollCredentialsCommand
}

func (s *Service) Commands() Commands {
	if s == nil || s.factory == nil {
		return Commands{}
	}
	var poller command.CredentialPoller
	if s.monitor != nil {
		poller = s.monitor
	}
	return Commands{
		HandleChannels:    command.NewHandleChannelsCommand(s.factory),
		ObserveChannels:   command.NewObserveChannelsCommand(s.factory),
		ProvidePassword:   command.NewProvidePasswordCommand(s.factory),
		CancelAuth:        command.NewCancelAuthCommand(s.factory),
		SaveRetryPassword: command.NewSaveRetryPasswordCommand(s.factory),
		PollCredentials:   command.NewPollCredentialsCommand(poller),
	}
}
