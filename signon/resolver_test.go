package signon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nemomobile/telepathy-accounts-signon/core"
)

type fakeSession struct {
	info       core.IdentityInfo
	infoErr    error
	result     core.SessionData
	processErr error

	processedParams core.SessionData
	processedMech   string
	closes          int
}

func (s *fakeSession) QueryInfo(ctx context.Context) (core.IdentityInfo, error) {
	return s.info, s.infoErr
}

func (s *fakeSession) Process(ctx context.Context, params core.SessionData, mechanism string) (core.SessionData, error) {
	s.processedParams = params
	s.processedMech = mechanism
	if s.processErr != nil {
		return nil, s.processErr
	}
	return s.result, nil
}

func (s *fakeSession) Close() error {
	s.closes++
	return nil
}

type fakeIdentity struct {
	session    *fakeSession
	failures   int
	attempts   int
	failWith   error
	lastRef    string
	lastMethod string
}

func (f *fakeIdentity) CreateSession(ctx context.Context, credentialRef string, method string) (core.IdentitySession, error) {
	f.attempts++
	f.lastRef = credentialRef
	f.lastMethod = method
	if f.attempts <= f.failures {
		if f.failWith != nil {
			return nil, f.failWith
		}
		return nil, fmt.Errorf("create session: %w", core.ErrNoIdentitySession)
	}
	return f.session, nil
}

type fakeSecrets struct {
	mu    sync.Mutex
	seeds []string
}

func (s *fakeSecrets) Get(ctx context.Context, accountID string) (string, bool, error) {
	return "", false, nil
}

func (s *fakeSecrets) Set(ctx context.Context, accountID string, secret string, remember bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeds = append(s.seeds, secret)
	return nil
}

func (s *fakeSecrets) Delete(ctx context.Context, accountID string) error { return nil }

type fakeFlagger struct {
	marked []string
}

func (f *fakeFlagger) MarkCredentialsNeedUpdate(ctx context.Context, account core.Account) error {
	f.marked = append(f.marked, account.ID)
	return nil
}

type fakeKeys struct {
	keys map[string]string
}

func (f *fakeKeys) StoredKey(provider string, service string, key string) (string, bool) {
	value, ok := f.keys[provider+"/"+key]
	return value, ok
}

type scriptedChannel struct {
	mu sync.Mutex

	id         core.ChannelID
	properties core.ChannelProperties

	statusFn func(core.SASLStatus, string, map[string]any)

	starts []struct {
		mechanism string
		data      []byte
	}
	closes   int
	failWith string
}

func (c *scriptedChannel) ID() core.ChannelID                    { return c.id }
func (c *scriptedChannel) Kind() core.ChannelKind                { return core.ChannelKindAuthentication }
func (c *scriptedChannel) Properties() core.ChannelProperties    { return c.properties }
func (c *scriptedChannel) InvalidationError() error              { return nil }
func (c *scriptedChannel) OnInvalidated(fn func(error)) func()   { return func() {} }
func (c *scriptedChannel) OnNewChallenge(fn func([]byte)) func() { return func() {} }

func (c *scriptedChannel) OnStatusChanged(fn func(core.SASLStatus, string, map[string]any)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusFn = fn
	return func() {}
}

func (c *scriptedChannel) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *scriptedChannel) StartMechanism(ctx context.Context, mechanism string) error {
	return c.StartMechanismWithData(ctx, mechanism, nil)
}

func (c *scriptedChannel) StartMechanismWithData(ctx context.Context, mechanism string, data []byte) error {
	c.mu.Lock()
	c.starts = append(c.starts, struct {
		mechanism string
		data      []byte
	}{mechanism, append([]byte(nil), data...)})
	statusFn := c.statusFn
	failWith := c.failWith
	c.mu.Unlock()
	if statusFn == nil {
		return nil
	}
	if failWith != "" {
		statusFn(core.SASLStatusServerFailed, failWith, nil)
		return nil
	}
	statusFn(core.SASLStatusServerSucceeded, "", nil)
	return nil
}

func (c *scriptedChannel) Respond(ctx context.Context, data []byte) error { return nil }

func (c *scriptedChannel) AcceptSASL(ctx context.Context) error {
	c.mu.Lock()
	statusFn := c.statusFn
	c.mu.Unlock()
	if statusFn != nil {
		statusFn(core.SASLStatusSucceeded, "", nil)
	}
	return nil
}

func (c *scriptedChannel) AbortSASL(ctx context.Context, reason core.AbortReason, message string) error {
	return nil
}

func oauthChannel() *scriptedChannel {
	return &scriptedChannel{
		id:         "chan-oauth",
		properties: core.ChannelProperties{AdvertisedMechanisms: []string{"X-OAUTH2"}},
	}
}

func newResolver(t *testing.T, identity *fakeIdentity, secrets *fakeSecrets, flagger *fakeFlagger, keys core.KeyProvider) *Resolver {
	t.Helper()
	resolver, err := New(Config{
		Identity: identity,
		Secrets:  secrets,
		Flagger:  flagger,
		Keys:     keys,
	})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return resolver
}

func TestResolveOAuthSuccess(t *testing.T) {
	session := &fakeSession{
		info:   core.IdentityInfo{Username: "alice"},
		result: core.SessionData{core.SessionDataAccessToken: "T"},
	}
	identity := &fakeIdentity{session: session}
	flagger := &fakeFlagger{}
	channel := oauthChannel()

	resolver := newResolver(t, identity, &fakeSecrets{}, flagger, nil)
	account := core.Account{ID: "acct/1", CredentialRef: "cred-7"}
	if err := resolver.Resolve(context.Background(), channel, account); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if identity.lastRef != "cred-7" || identity.lastMethod != "oauth2" {
		t.Fatalf("unexpected session request: ref=%q method=%q", identity.lastRef, identity.lastMethod)
	}
	want := []byte{0x00, 0x61, 0x6c, 0x69, 0x63, 0x65, 0x00, 0x54}
	if !bytes.Equal(channel.starts[0].data, want) {
		t.Fatalf("expected google initial response % x, got % x", want, channel.starts[0].data)
	}
	if channel.closes != 1 {
		t.Fatalf("expected one close, got %d", channel.closes)
	}
	if session.closes != 1 {
		t.Fatalf("identity session must be released once, got %d", session.closes)
	}
	if len(flagger.marked) != 0 {
		t.Fatalf("success must not flag the account, got %v", flagger.marked)
	}
	if policy, ok := session.processedParams[core.SessionDataUIPolicy]; !ok || policy != core.UIPolicyNoUserInteraction {
		t.Fatalf("session must run without user interaction, got %v", session.processedParams)
	}
}

func TestResolveSeedsEmptySecretAndRetries(t *testing.T) {
	session := &fakeSession{result: core.SessionData{core.SessionDataAccessToken: "T"}}
	identity := &fakeIdentity{session: session, failures: 1}
	secrets := &fakeSecrets{}
	channel := oauthChannel()

	resolver := newResolver(t, identity, secrets, &fakeFlagger{}, nil)
	account := core.Account{ID: "acct/1", CredentialRef: "cred-7", DefaultUsername: "alice"}
	if err := resolver.Resolve(context.Background(), channel, account); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if identity.attempts != 2 {
		t.Fatalf("expected one retry, got %d attempts", identity.attempts)
	}
	if len(secrets.seeds) != 1 || secrets.seeds[0] != "" {
		t.Fatalf("expected one empty seed, got %v", secrets.seeds)
	}
}

func TestResolveNoSessionFlagsAccount(t *testing.T) {
	identity := &fakeIdentity{failures: 2}
	flagger := &fakeFlagger{}
	channel := oauthChannel()

	resolver := newResolver(t, identity, &fakeSecrets{}, flagger, nil)
	err := resolver.Resolve(context.Background(), channel, core.Account{ID: "acct/1"})
	if err == nil {
		t.Fatal("expected error without identity session")
	}
	if len(flagger.marked) != 1 {
		t.Fatalf("expected account flagged, got %v", flagger.marked)
	}
	if channel.closes != 1 {
		t.Fatalf("expected one close, got %d", channel.closes)
	}
}

func TestResolveCredentialFailureFlagsAccount(t *testing.T) {
	for _, class := range []error{
		ErrCredentialNotAvailable,
		ErrInvalidCredentials,
		ErrMissingData,
		ErrNeedsUserInteraction,
		ErrOperationFailed,
	} {
		session := &fakeSession{processErr: fmt.Errorf("process: %w", class)}
		identity := &fakeIdentity{session: session}
		flagger := &fakeFlagger{}
		channel := oauthChannel()

		resolver := newResolver(t, identity, &fakeSecrets{}, flagger, nil)
		err := resolver.Resolve(context.Background(), channel, core.Account{ID: "acct/1"})
		if err == nil {
			t.Fatalf("%v: expected error", class)
		}
		if len(flagger.marked) != 1 {
			t.Fatalf("%v: expected account flagged", class)
		}
		if session.closes != 1 {
			t.Fatalf("%v: session must be released, got %d closes", class, session.closes)
		}
		if channel.closes != 1 {
			t.Fatalf("%v: expected one close, got %d", class, channel.closes)
		}
	}
}

func TestResolveTransientFailureDoesNotFlag(t *testing.T) {
	session := &fakeSession{processErr: errors.New("daemon restarting")}
	identity := &fakeIdentity{session: session}
	flagger := &fakeFlagger{}
	channel := oauthChannel()

	resolver := newResolver(t, identity, &fakeSecrets{}, flagger, nil)
	if err := resolver.Resolve(context.Background(), channel, core.Account{ID: "acct/1"}); err == nil {
		t.Fatal("expected error")
	}
	if len(flagger.marked) != 0 {
		t.Fatalf("transient failure must not flag, got %v", flagger.marked)
	}
	if session.closes != 1 {
		t.Fatalf("session must be released, got %d closes", session.closes)
	}
}

func TestResolveAuthRejectionFlagsAccount(t *testing.T) {
	session := &fakeSession{result: core.SessionData{core.SessionDataAccessToken: "T"}}
	identity := &fakeIdentity{session: session}
	flagger := &fakeFlagger{}
	channel := oauthChannel()
	channel.failWith = "not-authorized"

	resolver := newResolver(t, identity, &fakeSecrets{}, flagger, nil)
	err := resolver.Resolve(context.Background(), channel, core.Account{ID: "acct/1"})
	if !core.IsAuthenticationFailed(err) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if len(flagger.marked) != 1 {
		t.Fatalf("expected account flagged, got %v", flagger.marked)
	}
	if channel.closes != 1 {
		t.Fatalf("expected one close, got %d", channel.closes)
	}
}

func TestResolvePasswordKind(t *testing.T) {
	session := &fakeSession{result: core.SessionData{core.SessionDataSecret: "hunter2"}}
	identity := &fakeIdentity{session: session}
	channel := &scriptedChannel{
		id:         "chan-pw",
		properties: core.ChannelProperties{AdvertisedMechanisms: []string{"X-TELEPATHY-PASSWORD"}},
	}

	resolver := newResolver(t, identity, &fakeSecrets{}, &fakeFlagger{}, nil)
	if err := resolver.Resolve(context.Background(), channel, core.Account{ID: "acct/1"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if identity.lastMethod != "password" {
		t.Fatalf("expected password method, got %q", identity.lastMethod)
	}
	if channel.starts[0].mechanism != "X-TELEPATHY-PASSWORD" || string(channel.starts[0].data) != "hunter2" {
		t.Fatalf("unexpected start: %+v", channel.starts[0])
	}
}

func TestResolveClientIDFromKeyProvider(t *testing.T) {
	session := &fakeSession{result: core.SessionData{core.SessionDataAccessToken: "tok"}}
	identity := &fakeIdentity{session: session}
	channel := &scriptedChannel{
		id:         "chan-fb",
		properties: core.ChannelProperties{AdvertisedMechanisms: []string{"X-OAUTH2"}},
	}
	keys := &fakeKeys{keys: map[string]string{"facebook/ClientId": "app-key"}}

	resolver := newResolver(t, identity, &fakeSecrets{}, &fakeFlagger{}, keys)
	account := core.Account{ID: "acct/1", Provider: "facebook", DefaultUsername: "alice"}
	if err := resolver.Resolve(context.Background(), channel, account); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := session.processedParams[core.SessionDataClientID]; got != "app-key" {
		t.Fatalf("expected client id in session params, got %v", got)
	}
}

func TestResolveNoUsableMechanism(t *testing.T) {
	channel := &scriptedChannel{
		id:         "chan-x",
		properties: core.ChannelProperties{AdvertisedMechanisms: []string{"PLAIN"}},
	}
	identity := &fakeIdentity{session: &fakeSession{}}

	resolver := newResolver(t, identity, &fakeSecrets{}, &fakeFlagger{}, nil)
	err := resolver.Resolve(context.Background(), channel, core.Account{ID: "acct/1"})
	if !core.IsArgumentError(err) {
		t.Fatalf("expected argument error, got %v", err)
	}
	if identity.attempts != 0 {
		t.Fatal("no session must be opened for unusable channels")
	}
	if channel.closes != 1 {
		t.Fatalf("expected one close, got %d", channel.closes)
	}
}
