package accounts

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/nemomobile/telepathy-accounts-signon/core"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []core.AccountEvent
}

func (r *eventRecorder) AccountEvent(event core.AccountEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) kinds() []core.AccountEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]core.AccountEventKind, 0, len(r.events))
	for _, event := range r.events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestMirror(t *testing.T) (*Mirror, *eventRecorder) {
	t.Helper()
	recorder := &eventRecorder{}
	mirror, err := NewMirror(recorder, nil)
	if err != nil {
		t.Fatalf("new mirror: %v", err)
	}
	return mirror, recorder
}

func TestEventsBufferedUntilReady(t *testing.T) {
	mirror, recorder := newTestMirror(t)
	mirror.Loaded()

	mirror.UpsertProviderAccount("uoa/google/1", "google", true, map[string]string{"user": "alice"}, 0)
	mirror.SetProviderEnabled("uoa/google/1", false)
	if recorder.count() != 0 {
		t.Fatalf("events must buffer before ready, got %v", recorder.events)
	}

	if err := mirror.Ready(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}
	want := []core.AccountEventKind{core.AccountEventCreated, core.AccountEventToggled}
	if got := recorder.kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected replay %v, got %v", want, got)
	}

	// Replay happens once; later events flow directly.
	mirror.RemoveProviderAccount("uoa/google/1")
	if got := recorder.count(); got != 3 {
		t.Fatalf("expected direct delivery after ready, got %d events", got)
	}
	if err := mirror.Ready(context.Background()); err != nil {
		t.Fatalf("second ready: %v", err)
	}
	if got := recorder.count(); got != 3 {
		t.Fatalf("second ready must not replay, got %d events", got)
	}
}

func TestDisabledRecordHeldUntilEnabled(t *testing.T) {
	mirror, recorder := newTestMirror(t)
	mirror.Loaded()
	mirror.Ready(context.Background())

	mirror.UpsertProviderAccount("uoa/google/1", "google", false, nil, 0)
	if recorder.count() != 0 {
		t.Fatalf("disabled record must stay invisible, got %v", recorder.events)
	}
	names, _ := mirror.List(context.Background())
	if len(names) != 0 {
		t.Fatalf("disabled record must not be listed, got %v", names)
	}

	mirror.SetProviderEnabled("uoa/google/1", true)
	if got := recorder.kinds(); !reflect.DeepEqual(got, []core.AccountEventKind{core.AccountEventCreated}) {
		t.Fatalf("expected single created on promotion, got %v", got)
	}
	names, _ = mirror.List(context.Background())
	if !reflect.DeepEqual(names, []string{"uoa/google/1"}) {
		t.Fatalf("promoted record must be listed, got %v", names)
	}
}

func TestEnabledUpsertClearsHeldRecord(t *testing.T) {
	mirror, recorder := newTestMirror(t)
	mirror.Loaded()
	mirror.Ready(context.Background())

	mirror.UpsertProviderAccount("uoa/google/1", "google", false, nil, 0)
	mirror.UpsertProviderAccount("uoa/google/1", "google", true, nil, 0)
	mirror.SetProviderEnabled("uoa/google/1", true)

	created := 0
	for _, kind := range recorder.kinds() {
		if kind == core.AccountEventCreated {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one created, got %v", recorder.kinds())
	}
}

func TestDeletedWhilePendingVanishesSilently(t *testing.T) {
	mirror, recorder := newTestMirror(t)
	mirror.Loaded()
	mirror.Ready(context.Background())

	mirror.UpsertProviderAccount("uoa/google/1", "google", false, nil, 0)
	mirror.RemoveProviderAccount("uoa/google/1")
	mirror.SetProviderEnabled("uoa/google/1", true)

	if recorder.count() != 0 {
		t.Fatalf("pending delete must be silent, got %v", recorder.events)
	}
}

func TestToggleCarriesEnabledFlag(t *testing.T) {
	mirror, recorder := newTestMirror(t)
	mirror.Loaded()
	mirror.Ready(context.Background())

	mirror.UpsertProviderAccount("uoa/google/1", "google", true, nil, 0)
	mirror.SetProviderEnabled("uoa/google/1", false)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	last := recorder.events[len(recorder.events)-1]
	if last.Kind != core.AccountEventToggled || last.Enabled {
		t.Fatalf("unexpected toggle event: %+v", last)
	}
}

func TestStorageSurface(t *testing.T) {
	ctx := context.Background()
	mirror, recorder := newTestMirror(t)
	mirror.Loaded()
	mirror.Ready(ctx)

	name, err := mirror.Create(ctx, "gabble", "jabber", map[string]string{"account": "alice@example.org"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if recorder.count() != 0 {
		t.Fatal("manager-initiated create must not echo a created event")
	}

	if err := mirror.Set(ctx, name, "server", "xmpp.example.org"); err != nil {
		t.Fatalf("set: %v", err)
	}
	params, err := mirror.Get(ctx, name, "server")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(params) != 0 {
		t.Fatalf("staged change must not be visible before commit, got %v", params)
	}

	if err := mirror.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	params, _ = mirror.Get(ctx, name, "server")
	if params["server"] != "xmpp.example.org" {
		t.Fatalf("committed change missing, got %v", params)
	}
	if got := recorder.kinds(); !reflect.DeepEqual(got, []core.AccountEventKind{core.AccountEventAltered}) {
		t.Fatalf("expected one altered event, got %v", got)
	}

	if id, ok := mirror.Identifier(name); !ok || id == 0 {
		t.Fatalf("expected numeric identifier, got %d ok=%v", id, ok)
	}

	if err := mirror.Delete(ctx, name, "server"); err != nil {
		t.Fatalf("stage param delete: %v", err)
	}
	mirror.Commit(ctx)
	params, _ = mirror.Get(ctx, name, "server")
	if len(params) != 0 {
		t.Fatalf("param must be removed after commit, got %v", params)
	}

	if err := mirror.Delete(ctx, name, ""); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if _, err := mirror.Get(ctx, name, ""); err == nil {
		t.Fatal("deleted account must not be readable")
	}
}

func TestProviderOwnedParametersRejected(t *testing.T) {
	ctx := context.Background()
	mirror, _ := newTestMirror(t)
	mirror.Loaded()
	mirror.Ready(ctx)

	mirror.UpsertProviderAccount("uoa/google/1", "google", true, nil, core.RestrictionCannotSetParameters)
	err := mirror.Set(ctx, "uoa/google/1", "server", "elsewhere")
	if !core.IsArgumentError(err) {
		t.Fatalf("expected restriction rejection, got %v", err)
	}
}

func TestRestrictionsForUnknownAccount(t *testing.T) {
	mirror, _ := newTestMirror(t)
	if got := mirror.Restrictions("nope"); got != core.RestrictionsAll {
		t.Fatalf("unknown account must be fully restricted, got %v", got)
	}
}
