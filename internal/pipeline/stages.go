package pipeline

import (
	"context"
	"time"

	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/zultrabot/zultra/internal/antispam"
	"github.com/zultrabot/zultra/internal/db"
	"github.com/zultrabot/zultra/internal/observability"
	"github.com/zultrabot/zultra/internal/permissions"
	"github.com/zultrabot/zultra/internal/ratelimit"
)

// TraceStage assigns the correlation id and logs the incoming update. It is
// always the first stage.
type TraceStage struct{}

func (s *TraceStage) Name() string { return "trace" }

func (s *TraceStage) Process(_ context.Context, pctx *Context) bool {
	pctx.CorrelationID = uuid.New()
	pctx.ReceivedAt = time.Now()

	fields := log.Fields{
		"correlation_id": pctx.CorrelationID,
		"command":        pctx.Command,
	}
	if user := pctx.Sender(); user != nil {
		fields["user_id"] = user.ID
	}
	if chat := pctx.ChatRef(); chat != nil {
		fields["chat_id"] = chat.ID
		fields["chat_type"] = chat.Type
	}
	log.WithFields(fields).Debug("incoming update")
	return true
}

// UpsertStage resolves and refreshes the identity and chat rows. Storage
// failures degrade to in-memory stand-ins so a flaky database never halts
// the pipeline.
type UpsertStage struct {
	Store db.Client
}

func (s *UpsertStage) Name() string { return "upsert" }

func (s *UpsertStage) Process(ctx context.Context, pctx *Context) bool {
	user := pctx.Sender()
	chat := pctx.ChatRef()

	if user != nil {
		meta, err := s.Store.UpsertUser(ctx, user)
		if err != nil {
			log.WithFields(log.Fields{
				"correlation_id": pctx.CorrelationID,
				"user_id":        user.ID,
				"error":          err.Error(),
			}).Warn("user upsert failed, degrading to in-memory identity")
			pctx.Degraded = true
			meta = &db.UserMeta{
				ID:        user.ID,
				FirstName: user.FirstName,
				LastName:  user.LastName,
				UserName:  user.UserName,
				LastSeen:  time.Now(),
			}
		}
		pctx.User = meta
	}

	if chat != nil {
		meta, err := s.Store.UpsertChat(ctx, chat)
		if err != nil {
			log.WithFields(log.Fields{
				"correlation_id": pctx.CorrelationID,
				"chat_id":        chat.ID,
				"error":          err.Error(),
			}).Warn("chat upsert failed, degrading to in-memory chat")
			pctx.Degraded = true
			meta = &db.ChatMeta{
				ID:          chat.ID,
				Title:       chat.Title,
				Type:        chat.Type,
				MaxWarnings: db.DefaultMaxWarnings,
			}
		}
		pctx.Chat = meta
	}

	return true
}

// PermissionStage resolves the effective tier and enforces the command's
// required tier plus chat-level locks.
type PermissionStage struct {
	Resolver *permissions.Resolver
	Required permissions.Tier
}

func (s *PermissionStage) Name() string { return "permission" }

func (s *PermissionStage) Process(_ context.Context, pctx *Context) bool {
	user := pctx.Sender()
	if user == nil {
		return true
	}
	pctx.Tier = s.Resolver.EffectiveTier(user.ID, pctx.ChatAdmin)

	if pctx.Chat != nil && pctx.Tier < permissions.TierModerator {
		if pctx.Chat.Flag(db.FlagRaidMode) {
			pctx.Halt(Denial{Outcome: OutcomePermissionDenied, Reason: "raid mode"})
			return false
		}
		if pctx.Chat.Flag(db.FlagLocked) {
			pctx.Halt(Denial{
				Outcome: OutcomePermissionDenied,
				Reply:   "This chat is locked.",
				Reason:  "chat locked",
			})
			return false
		}
	}

	if pctx.Tier < s.Required {
		pctx.Halt(Denial{
			Outcome: OutcomePermissionDenied,
			Reply:   "You don't have permission to use this command.",
			Reason:  "required tier " + s.Required.String(),
		})
		return false
	}
	return true
}

// RateLimitStage admits against the global budget first, then the command's
// own scope when it differs. Budgets are independent.
type RateLimitStage struct {
	Limiter *ratelimit.Limiter
	Scope   string
}

func (s *RateLimitStage) Name() string { return "ratelimit" }

func (s *RateLimitStage) Process(_ context.Context, pctx *Context) bool {
	user := pctx.Sender()
	if user == nil {
		return true
	}
	now := time.Now()

	decision := s.Limiter.Admit(user.ID, ratelimit.ScopeGlobal, now)
	if decision.Allowed && s.Scope != ratelimit.ScopeGlobal {
		decision = s.Limiter.Admit(user.ID, s.Scope, now)
	}
	if decision.Allowed {
		return true
	}

	pctx.Halt(Denial{
		Outcome:    OutcomeRateLimited,
		Reply:      "Slow down! Try again in %s.",
		RetryAfter: decision.RetryAfter.Round(time.Second),
		Reason:     "scope " + s.Scope,
	})
	return false
}

// SpamStage runs the verdict FSM. FLAG halts with an optional warning reply,
// BLOCK always halts silently.
type SpamStage struct {
	Detector   *antispam.Detector
	WarnOnFlag bool
}

func (s *SpamStage) Name() string { return "spam" }

func (s *SpamStage) Process(_ context.Context, pctx *Context) bool {
	user := pctx.Sender()
	chat := pctx.ChatRef()
	if user == nil || chat == nil || pctx.Update.Message == nil {
		return true
	}

	verdict, reason := s.Detector.Evaluate(user.ID, chat.ID, pctx.Update.Message.Text, time.Now())
	observability.RecordSpamVerdict(verdict.String())

	switch verdict {
	case antispam.VerdictBlock:
		pctx.Halt(Denial{Outcome: OutcomeSpamBlocked, Reason: reason})
		return false
	case antispam.VerdictFlag:
		denial := Denial{Outcome: OutcomeSpamFlagged, Reason: reason}
		if s.WarnOnFlag {
			denial.Reply = "Please don't repeat yourself."
		}
		pctx.Halt(denial)
		return false
	}
	return true
}
