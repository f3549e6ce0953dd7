package accountsignon

import (
	"context"
	"testing"

	"github.com/nemomobile/telepathy-accounts-signon/command"
	"github.com/nemomobile/telepathy-accounts-signon/core"
)

type nopEventSink struct{}

func (nopEventSink) AccountEvent(core.AccountEvent) {}

type staticFailureSource struct{}

func (staticFailureSource) FailingAccounts(context.Context) ([]string, error) {
	return nil, nil
}

func TestNewServiceWithDefaults(t *testing.T) {
	svc, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.Secrets() == nil {
		t.Fatal("expected a default secret store")
	}
	if svc.Factory() == nil {
		t.Fatal("expected a dispatch factory")
	}
	if svc.Resolver() != nil {
		t.Fatal("resolver must stay nil without an identity service")
	}
	if svc.Mirror() != nil || svc.Monitor() != nil {
		t.Fatal("mirror and monitor must stay nil without their sources")
	}
	if svc.Config().ServiceName != "signon" {
		t.Fatalf("unexpected service name %q", svc.Config().ServiceName)
	}
}

func TestNewServiceSQLDriverRequiresPersistence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecretStore.Driver = core.SecretStoreDriverSQL

	_, err := New(cfg)
	if !core.IsArgumentError(err) {
		t.Fatalf("expected argument error, got %v", err)
	}
}

func TestNewServiceRuntimeConfigWins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Monitor.RetryDelaySeconds = 7

	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if got := svc.Config().Monitor.RetryDelaySeconds; got != 7 {
		t.Fatalf("runtime retry delay lost, got %d", got)
	}
}

func TestNewServiceWiresMirrorAndMonitor(t *testing.T) {
	svc, err := New(DefaultConfig(),
		WithAccountEventSink(nopEventSink{}),
		WithFailureSource(staticFailureSource{}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.Mirror() == nil {
		t.Fatal("expected a mirror")
	}
	if svc.Monitor() == nil || svc.MonitorJob() == nil {
		t.Fatal("expected monitor and monitor job")
	}
}

func TestServiceCommands(t *testing.T) {
	svc, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	cmds := svc.Commands()
	if cmds.HandleChannels == nil || cmds.ObserveChannels == nil {
		t.Fatal("expected channel commands")
	}
	if cmds.SaveRetryPassword == nil || cmds.ProvidePassword == nil || cmds.CancelAuth == nil {
		t.Fatal("expected password commands")
	}

	err = cmds.SaveRetryPassword.Execute(context.Background(), command.SaveRetryPasswordMessage{})
	if err == nil {
		t.Fatal("expected validation error for empty account")
	}
}
