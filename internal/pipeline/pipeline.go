package pipeline

import (
	"context"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/zultrabot/zultra/internal/db"
	"github.com/zultrabot/zultra/internal/permissions"
)

// Outcome is the terminal classification of one inbound update. Every update
// produces exactly one.
type Outcome string

const (
	OutcomeHandled          Outcome = "handled"
	OutcomePermissionDenied Outcome = "permission_denied"
	OutcomeRateLimited      Outcome = "rate_limited"
	OutcomeSpamFlagged      Outcome = "spam_flagged"
	OutcomeSpamBlocked      Outcome = "spam_blocked"
	OutcomeHandlerFailed    Outcome = "handler_failed"
	OutcomeHandlerTimeout   Outcome = "handler_timeout"
	OutcomeUnknownCommand   Outcome = "unknown_command"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeQueueDropped     Outcome = "queue_dropped"
)

// Denial describes why a stage halted the chain and what, if anything, the
// sender should see. An empty Reply means silent drop.
type Denial struct {
	Outcome    Outcome
	Reply      string
	RetryAfter time.Duration
	Reason     string
}

// Context carries one update through the chain. It lives for a single
// dispatch and is never shared between updates.
type Context struct {
	CorrelationID string
	Update        *api.Update
	Command       string
	Args          string
	ReceivedAt    time.Time

	User      *db.UserMeta
	Chat      *db.ChatMeta
	ChatAdmin bool
	Tier      permissions.Tier

	Degraded bool
	Denial   *Denial
}

func (c *Context) Halt(denial Denial) {
	c.Denial = &denial
}

func (c *Context) Sender() *api.User {
	if c.Update == nil {
		return nil
	}
	return c.Update.SentFrom()
}

func (c *Context) ChatRef() *api.Chat {
	if c.Update == nil {
		return nil
	}
	return c.Update.FromChat()
}

// Stage is one composable pre-dispatch check. Returning false halts the
// chain; the stage must set a Denial on the context before doing so.
type Stage interface {
	Name() string
	Process(ctx context.Context, pctx *Context) bool
}

// Chain runs stages strictly in registration order. It is assembled at
// startup and never reordered at runtime.
type Chain struct {
	stages []Stage
}

func NewChain(stages ...Stage) *Chain {
	return &Chain{stages: stages}
}

// Run returns false as soon as any stage halts; later stages do not run.
func (c *Chain) Run(ctx context.Context, pctx *Context) bool {
	for _, stage := range c.stages {
		if !stage.Process(ctx, pctx) {
			return false
		}
	}
	return true
}
