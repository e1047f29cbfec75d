package pipeline

import (
	"context"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"

	"github.com/zultrabot/zultra/internal/antispam"
	"github.com/zultrabot/zultra/internal/db"
	"github.com/zultrabot/zultra/internal/permissions"
	"github.com/zultrabot/zultra/internal/ratelimit"
)

type flakyStore struct {
	failing bool
	chat    *db.ChatMeta
}

func (f *flakyStore) Close() error { return nil }

func (f *flakyStore) UpsertUser(_ context.Context, user *api.User) (*db.UserMeta, error) {
	if f.failing {
		return nil, errors.New("database is locked")
	}
	return &db.UserMeta{ID: user.ID, FirstName: user.FirstName}, nil
}

func (f *flakyStore) UpsertChat(_ context.Context, chat *api.Chat) (*db.ChatMeta, error) {
	if f.failing {
		return nil, errors.New("database is locked")
	}
	if f.chat != nil {
		return f.chat, nil
	}
	return &db.ChatMeta{ID: chat.ID, Type: chat.Type, MaxWarnings: db.DefaultMaxWarnings}, nil
}

func (f *flakyStore) GetUser(_ context.Context, _ int64) (*db.UserMeta, error) {
	return nil, db.ErrNotFound
}

func (f *flakyStore) GetChat(_ context.Context, _ int64) (*db.ChatMeta, error) {
	return nil, db.ErrNotFound
}

func (f *flakyStore) MarkUserInactive(_ context.Context, _ int64) error              { return nil }
func (f *flakyStore) SetChatFlag(_ context.Context, _ int64, _ string, _ bool) error { return nil }
func (f *flakyStore) SetChatLanguage(_ context.Context, _ int64, _ string) error     { return nil }
func (f *flakyStore) GetWarningCount(_ context.Context, _, _ int64) (int, error)     { return 0, nil }
func (f *flakyStore) AddWarning(_ context.Context, _ *db.Warning) (int, error)       { return 1, nil }
func (f *flakyStore) ClearWarnings(_ context.Context, _, _ int64) error              { return nil }

func groupContext(userID int64, text string) *Context {
	return &Context{
		Update: &api.Update{
			Message: &api.Message{
				From: &api.User{ID: userID, FirstName: "test"},
				Chat: api.Chat{ID: 42, Type: "supergroup"},
				Text: text,
			},
		},
	}
}

func TestUpsertStageDegradesOnStorageFailure(t *testing.T) {
	t.Parallel()

	stage := &UpsertStage{Store: &flakyStore{failing: true}}
	pctx := groupContext(100, "hello")

	if !stage.Process(context.Background(), pctx) {
		t.Fatal("storage failure must not halt the chain")
	}
	if !pctx.Degraded {
		t.Fatal("expected degraded mode")
	}
	if pctx.User == nil || pctx.User.ID != 100 {
		t.Fatalf("expected in-memory identity stand-in, got %+v", pctx.User)
	}
	if pctx.Chat == nil || pctx.Chat.ID != 42 {
		t.Fatalf("expected in-memory chat stand-in, got %+v", pctx.Chat)
	}
}

func TestUpsertStagePopulatesMetadata(t *testing.T) {
	t.Parallel()

	stage := &UpsertStage{Store: &flakyStore{}}
	pctx := groupContext(100, "hello")

	if !stage.Process(context.Background(), pctx) {
		t.Fatal("expected chain to proceed")
	}
	if pctx.Degraded {
		t.Fatal("unexpected degraded mode")
	}
	if pctx.User == nil || pctx.Chat == nil {
		t.Fatal("expected user and chat metadata")
	}
}

func TestPermissionStageLockedChatSilencesMembers(t *testing.T) {
	t.Parallel()

	resolver := permissions.NewResolver([]int64{900}, nil)
	stage := &PermissionStage{Resolver: resolver, Required: permissions.TierMember}

	pctx := groupContext(100, "/help")
	pctx.Chat = &db.ChatMeta{ID: 42, Locked: true}

	if stage.Process(context.Background(), pctx) {
		t.Fatal("expected locked chat to halt members")
	}
	if pctx.Denial == nil || pctx.Denial.Outcome != OutcomePermissionDenied {
		t.Fatalf("expected permission denial, got %+v", pctx.Denial)
	}
	if pctx.Denial.Reply == "" {
		t.Fatal("locked chat denial should carry a reply")
	}
}

func TestPermissionStageRaidModeDropsSilently(t *testing.T) {
	t.Parallel()

	resolver := permissions.NewResolver([]int64{900}, nil)
	stage := &PermissionStage{Resolver: resolver, Required: permissions.TierMember}

	pctx := groupContext(100, "hello")
	pctx.Chat = &db.ChatMeta{ID: 42, RaidMode: true}

	if stage.Process(context.Background(), pctx) {
		t.Fatal("expected raid mode to halt members")
	}
	if pctx.Denial == nil || pctx.Denial.Reply != "" {
		t.Fatalf("raid mode denial must be silent, got %+v", pctx.Denial)
	}
}

func TestPermissionStageOwnerBypassesLocks(t *testing.T) {
	t.Parallel()

	resolver := permissions.NewResolver([]int64{900}, nil)
	stage := &PermissionStage{Resolver: resolver, Required: permissions.TierAdmin}

	pctx := groupContext(900, "/lock")
	pctx.Chat = &db.ChatMeta{ID: 42, Locked: true, RaidMode: true}

	if !stage.Process(context.Background(), pctx) {
		t.Fatalf("owner must bypass chat locks, got %+v", pctx.Denial)
	}
	if pctx.Tier != permissions.TierOwner {
		t.Fatalf("expected owner tier, got %v", pctx.Tier)
	}
}

func TestPermissionStageChatAdminGetsModeratorTier(t *testing.T) {
	t.Parallel()

	resolver := permissions.NewResolver([]int64{900}, nil)
	stage := &PermissionStage{Resolver: resolver, Required: permissions.TierModerator}

	pctx := groupContext(100, "/warn")
	pctx.ChatAdmin = true

	if !stage.Process(context.Background(), pctx) {
		t.Fatalf("chat admin should pass moderator gate, got %+v", pctx.Denial)
	}
	if pctx.Tier != permissions.TierModerator {
		t.Fatalf("expected moderator tier, got %v", pctx.Tier)
	}
}

func TestRateLimitStageHaltsWithRetryHint(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.NewLimiter(nil, ratelimit.Budget{Max: 1, Window: time.Minute})
	stage := &RateLimitStage{Limiter: limiter, Scope: ratelimit.ScopeGlobal}

	first := groupContext(100, "one")
	if !stage.Process(context.Background(), first) {
		t.Fatal("first message should pass")
	}

	second := groupContext(100, "two")
	if stage.Process(context.Background(), second) {
		t.Fatal("second message should be limited")
	}
	if second.Denial == nil || second.Denial.Outcome != OutcomeRateLimited {
		t.Fatalf("expected rate_limited denial, got %+v", second.Denial)
	}
	if second.Denial.RetryAfter <= 0 {
		t.Fatalf("expected a positive retry hint, got %v", second.Denial.RetryAfter)
	}
}

func TestSpamStageBlocksSilently(t *testing.T) {
	t.Parallel()

	detector := antispam.NewDetector(antispam.Settings{
		BurstThreshold:     2,
		BurstWindow:        time.Minute,
		DuplicateThreshold: 100,
		DuplicateHistory:   10,
		LinkDensity:        1.0,
		StrikesToBlock:     3,
		CleanPeriod:        10 * time.Minute,
	})
	stage := &SpamStage{Detector: detector}

	var halted *Context
	for i := 0; i < 5; i++ {
		pctx := groupContext(100, "message")
		pctx.Update.Message.Text = "message " + string(rune('a'+i))
		if !stage.Process(context.Background(), pctx) {
			halted = pctx
			break
		}
	}
	if halted == nil {
		t.Fatal("expected the burst to halt eventually")
	}
	if halted.Denial.Outcome != OutcomeSpamBlocked {
		t.Fatalf("expected spam_blocked, got %q", halted.Denial.Outcome)
	}
	if halted.Denial.Reply != "" {
		t.Fatal("blocked messages must be dropped silently")
	}
}

func TestChainStopsAtFirstHalt(t *testing.T) {
	t.Parallel()

	ran := []string{}
	mk := func(name string, proceed bool) Stage {
		return stageFunc{name: name, fn: func(pctx *Context) bool {
			ran = append(ran, name)
			if !proceed {
				pctx.Halt(Denial{Outcome: OutcomeIgnored})
			}
			return proceed
		}}
	}

	chain := NewChain(mk("first", true), mk("second", false), mk("third", true))
	if chain.Run(context.Background(), &Context{}) {
		t.Fatal("expected chain to halt")
	}
	if len(ran) != 2 || ran[0] != "first" || ran[1] != "second" {
		t.Fatalf("expected first and second to run, got %v", ran)
	}
}

type stageFunc struct {
	name string
	fn   func(*Context) bool
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Process(_ context.Context, pctx *Context) bool { return s.fn(pctx) }
