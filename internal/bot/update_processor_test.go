package bot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/zultrabot/zultra/internal/antispam"
	"github.com/zultrabot/zultra/internal/audit"
	"github.com/zultrabot/zultra/internal/config"
	"github.com/zultrabot/zultra/internal/db"
	"github.com/zultrabot/zultra/internal/permissions"
	"github.com/zultrabot/zultra/internal/pipeline"
	"github.com/zultrabot/zultra/internal/ratelimit"
)

type memorySink struct {
	mu      sync.Mutex
	records []audit.Record
}

func (s *memorySink) Write(_ context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *memorySink) all() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Record, len(s.records))
	copy(out, s.records)
	return out
}

type fakeStore struct{}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) UpsertUser(_ context.Context, user *api.User) (*db.UserMeta, error) {
	return &db.UserMeta{ID: user.ID, FirstName: user.FirstName, UserName: user.UserName}, nil
}

func (f *fakeStore) UpsertChat(_ context.Context, chat *api.Chat) (*db.ChatMeta, error) {
	return &db.ChatMeta{ID: chat.ID, Type: chat.Type, MaxWarnings: db.DefaultMaxWarnings}, nil
}

func (f *fakeStore) GetUser(_ context.Context, _ int64) (*db.UserMeta, error) {
	return nil, db.ErrNotFound
}

func (f *fakeStore) GetChat(_ context.Context, _ int64) (*db.ChatMeta, error) {
	return nil, db.ErrNotFound
}

func (f *fakeStore) MarkUserInactive(_ context.Context, _ int64) error            { return nil }
func (f *fakeStore) SetChatFlag(_ context.Context, _ int64, _ string, _ bool) error { return nil }
func (f *fakeStore) SetChatLanguage(_ context.Context, _ int64, _ string) error   { return nil }

func (f *fakeStore) GetWarningCount(_ context.Context, _, _ int64) (int, error) { return 0, nil }
func (f *fakeStore) AddWarning(_ context.Context, _ *db.Warning) (int, error)   { return 1, nil }
func (f *fakeStore) ClearWarnings(_ context.Context, _, _ int64) error          { return nil }

// stubBotServer answers every bot api call with a generic ok payload, which
// satisfies both getMe and sendMessage.
func stubBotServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"zultra","username":"zultra_bot"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() config.Config {
	cfg := config.Config{DefaultLanguage: "en"}
	cfg.Dispatch.QueueSize = 16
	cfg.Dispatch.Workers = 1
	cfg.Dispatch.HandlerTimeout = time.Second
	cfg.Dispatch.UnknownCommandReply = true
	return cfg
}

func newTestDispatcher(t *testing.T, commands []*Command) (*Dispatcher, *memorySink) {
	t.Helper()
	srv := stubBotServer(t)
	botAPI, err := api.NewBotAPIWithClient("test-token", srv.URL+"/bot%s/%s", srv.Client())
	if err != nil {
		t.Fatalf("cant create stub bot api: %v", err)
	}

	registry := NewRegistry()
	for _, cmd := range commands {
		if err := registry.Register(cmd); err != nil {
			t.Fatalf("cant register %q: %v", cmd.Name, err)
		}
	}
	if err := registry.Validate(); err != nil {
		t.Fatalf("registry invalid: %v", err)
	}
	registry.Freeze()

	sink := &memorySink{}
	d := NewDispatcher(
		NewService(botAPI, &fakeStore{}),
		testConfig(),
		registry,
		permissions.NewResolver([]int64{900}, nil),
		ratelimit.NewLimiter(nil, ratelimit.Budget{Max: 100, Window: time.Minute}),
		antispam.NewDetector(antispam.Settings{
			BurstThreshold:     100,
			BurstWindow:        5 * time.Second,
			DuplicateThreshold: 100,
			DuplicateHistory:   10,
			LinkDensity:        1.0,
			StrikesToBlock:     3,
			CleanPeriod:        10 * time.Minute,
		}),
		audit.NewLogger(sink),
	)
	return d, sink
}

func commandUpdate(updateID int, userID int64, text string) *api.Update {
	cmdLen := len(text)
	if i := strings.IndexByte(text, ' '); i > 0 {
		cmdLen = i
	}
	return &api.Update{
		UpdateID: updateID,
		Message: &api.Message{
			MessageID: updateID,
			From:      &api.User{ID: userID, FirstName: "test"},
			Chat:      api.Chat{ID: 42, Type: "private"},
			Text:      text,
			Entities:  []api.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
		},
	}
}

func TestDispatchEmitsExactlyOneAuditRecord(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	d, sink := newTestDispatcher(t, []*Command{{
		Name:         "ping",
		RequiredTier: permissions.TierMember,
		RateScope:    ratelimit.ScopeGlobal,
		Handler: func(_ context.Context, _ *Request) (string, error) {
			calls.Add(1)
			return "pong", nil
		},
	}})

	d.HandleUpdate(context.Background(), commandUpdate(1, 100, "/ping"))

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 handler call, got %d", got)
	}
	records := sink.all()
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 audit record, got %d", len(records))
	}
	rec := records[0]
	if rec.Outcome != pipeline.OutcomeHandled {
		t.Fatalf("expected handled outcome, got %q", rec.Outcome)
	}
	if rec.Command != "ping" {
		t.Fatalf("expected command ping, got %q", rec.Command)
	}
	if rec.CorrelationID == "" {
		t.Fatal("expected a correlation id")
	}
}

func TestPermissionDenialShortCircuitsHandler(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	d, sink := newTestDispatcher(t, []*Command{{
		Name:         "purge",
		RequiredTier: permissions.TierAdmin,
		RateScope:    ratelimit.ScopeGlobal,
		Handler: func(_ context.Context, _ *Request) (string, error) {
			calls.Add(1)
			return "done", nil
		},
	}})

	d.HandleUpdate(context.Background(), commandUpdate(1, 100, "/purge"))

	if got := calls.Load(); got != 0 {
		t.Fatalf("handler must not run after a denial, got %d calls", got)
	}
	records := sink.all()
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 audit record, got %d", len(records))
	}
	if records[0].Outcome != pipeline.OutcomePermissionDenied {
		t.Fatalf("expected permission_denied, got %q", records[0].Outcome)
	}
}

func TestOwnerPassesPermissionGate(t *testing.T) {
	t.Parallel()

	d, sink := newTestDispatcher(t, []*Command{{
		Name:         "purge",
		RequiredTier: permissions.TierAdmin,
		RateScope:    ratelimit.ScopeGlobal,
		Handler: func(_ context.Context, _ *Request) (string, error) {
			return "done", nil
		},
	}})

	d.HandleUpdate(context.Background(), commandUpdate(1, 900, "/purge"))

	records := sink.all()
	if len(records) != 1 || records[0].Outcome != pipeline.OutcomeHandled {
		t.Fatalf("expected one handled record, got %+v", records)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	t.Parallel()

	d, sink := newTestDispatcher(t, []*Command{{
		Name:         "boom",
		RequiredTier: permissions.TierMember,
		RateScope:    ratelimit.ScopeGlobal,
		Handler: func(_ context.Context, _ *Request) (string, error) {
			panic("kaboom")
		},
	}})

	d.HandleUpdate(context.Background(), commandUpdate(1, 100, "/boom"))

	records := sink.all()
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 audit record, got %d", len(records))
	}
	rec := records[0]
	if rec.Outcome != pipeline.OutcomeHandlerFailed {
		t.Fatalf("expected handler_failed, got %q", rec.Outcome)
	}
	if !strings.Contains(rec.Error, "kaboom") {
		t.Fatalf("expected panic message in record, got %q", rec.Error)
	}
}

func TestHandlerTimeout(t *testing.T) {
	t.Parallel()

	d, sink := newTestDispatcher(t, []*Command{{
		Name:         "slow",
		RequiredTier: permissions.TierMember,
		RateScope:    ratelimit.ScopeGlobal,
		Timeout:      20 * time.Millisecond,
		Handler: func(ctx context.Context, _ *Request) (string, error) {
			select {
			case <-time.After(time.Second):
				return "too late", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}})

	d.HandleUpdate(context.Background(), commandUpdate(1, 100, "/slow"))

	records := sink.all()
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 audit record, got %d", len(records))
	}
	if records[0].Outcome != pipeline.OutcomeHandlerTimeout {
		t.Fatalf("expected handler_timeout, got %q", records[0].Outcome)
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()

	d, sink := newTestDispatcher(t, nil)

	d.HandleUpdate(context.Background(), commandUpdate(1, 100, "/nosuch"))

	records := sink.all()
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 audit record, got %d", len(records))
	}
	if records[0].Outcome != pipeline.OutcomeUnknownCommand {
		t.Fatalf("expected unknown_command, got %q", records[0].Outcome)
	}
}

func TestNonMessageUpdateIsIgnored(t *testing.T) {
	t.Parallel()

	d, sink := newTestDispatcher(t, nil)

	d.HandleUpdate(context.Background(), &api.Update{UpdateID: 7})

	records := sink.all()
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 audit record, got %d", len(records))
	}
	if records[0].Outcome != pipeline.OutcomeIgnored {
		t.Fatalf("expected ignored, got %q", records[0].Outcome)
	}
}

func TestRateLimitedCommandIsDenied(t *testing.T) {
	t.Parallel()

	srv := stubBotServer(t)
	botAPI, err := api.NewBotAPIWithClient("test-token", srv.URL+"/bot%s/%s", srv.Client())
	if err != nil {
		t.Fatalf("cant create stub bot api: %v", err)
	}

	registry := NewRegistry()
	if err := registry.Register(&Command{
		Name:         "ping",
		RequiredTier: permissions.TierMember,
		RateScope:    ratelimit.ScopeGlobal,
		Handler: func(_ context.Context, _ *Request) (string, error) {
			return "pong", nil
		},
	}); err != nil {
		t.Fatalf("cant register: %v", err)
	}
	registry.Freeze()

	sink := &memorySink{}
	d := NewDispatcher(
		NewService(botAPI, &fakeStore{}),
		testConfig(),
		registry,
		permissions.NewResolver([]int64{900}, nil),
		ratelimit.NewLimiter(nil, ratelimit.Budget{Max: 2, Window: time.Minute}),
		antispam.NewDetector(antispam.Settings{
			BurstThreshold:     100,
			BurstWindow:        5 * time.Second,
			DuplicateThreshold: 100,
			DuplicateHistory:   10,
			LinkDensity:        1.0,
			StrikesToBlock:     3,
			CleanPeriod:        10 * time.Minute,
		}),
		audit.NewLogger(sink),
	)

	for i := 0; i < 3; i++ {
		d.HandleUpdate(context.Background(), commandUpdate(i, 100, "/ping"))
	}

	records := sink.all()
	if len(records) != 3 {
		t.Fatalf("expected 3 audit records, got %d", len(records))
	}
	if records[0].Outcome != pipeline.OutcomeHandled || records[1].Outcome != pipeline.OutcomeHandled {
		t.Fatalf("expected first two handled, got %q %q", records[0].Outcome, records[1].Outcome)
	}
	if records[2].Outcome != pipeline.OutcomeRateLimited {
		t.Fatalf("expected rate_limited, got %q", records[2].Outcome)
	}
}

func TestDroppedUpdateIsAudited(t *testing.T) {
	t.Parallel()

	d, sink := newTestDispatcher(t, nil)

	queue := NewQueue(1)
	defer queue.Close()
	first := commandUpdate(1, 100, "/ping")
	shed := commandUpdate(2, 100, "/ping")
	if !queue.Enqueue(*first) {
		t.Fatal("first enqueue should succeed")
	}
	if queue.Enqueue(*shed) {
		t.Fatal("second enqueue should be shed")
	}
	d.DropUpdate(context.Background(), shed)

	records := sink.all()
	if len(records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(records))
	}
	rec := records[0]
	if rec.Outcome != pipeline.OutcomeQueueDropped {
		t.Fatalf("expected %q, got %q", pipeline.OutcomeQueueDropped, rec.Outcome)
	}
	if rec.UpdateID != 2 || rec.ChatID != 42 || rec.UserID != 100 {
		t.Fatalf("unexpected record identity: %+v", rec)
	}
	if rec.CorrelationID == "" {
		t.Fatal("dropped update record should carry a correlation id")
	}
}
