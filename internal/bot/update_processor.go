package bot

import (
	"context"
	"fmt"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"
	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/zultrabot/zultra/internal/antispam"
	"github.com/zultrabot/zultra/internal/audit"
	"github.com/zultrabot/zultra/internal/config"
	"github.com/zultrabot/zultra/internal/i18n"
	"github.com/zultrabot/zultra/internal/observability"
	"github.com/zultrabot/zultra/internal/permissions"
	"github.com/zultrabot/zultra/internal/pipeline"
	"github.com/zultrabot/zultra/internal/ratelimit"
)

// Dispatcher is the outermost failure boundary: it resolves the command,
// runs the stage chain, invokes the handler under a timeout and guarantees
// exactly one audit record per inbound update.
type Dispatcher struct {
	s        Service
	cfg      config.Config
	registry *Registry
	resolver *permissions.Resolver
	limiter  *ratelimit.Limiter
	detector *antispam.Detector
	audit    *audit.Logger
	admins   *AdminCache

	chains       map[string]*pipeline.Chain
	messageChain *pipeline.Chain
}

func NewDispatcher(
	s Service,
	cfg config.Config,
	registry *Registry,
	resolver *permissions.Resolver,
	limiter *ratelimit.Limiter,
	detector *antispam.Detector,
	auditLog *audit.Logger,
) *Dispatcher {
	d := &Dispatcher{
		s:        s,
		cfg:      cfg,
		registry: registry,
		resolver: resolver,
		limiter:  limiter,
		detector: detector,
		audit:    auditLog,
		admins:   NewAdminCache(s.GetBot()),
		chains:   map[string]*pipeline.Chain{},
	}
	d.assembleChains()
	return d
}

// assembleChains builds one static chain per command at startup. Order is
// fixed: trace, upsert, permission, rate limit, spam.
func (d *Dispatcher) assembleChains() {
	for _, cmd := range d.registry.List() {
		stages := []pipeline.Stage{
			&pipeline.TraceStage{},
			&pipeline.UpsertStage{Store: d.s.GetDB()},
		}
		if !cmd.SkipPermission {
			stages = append(stages, &pipeline.PermissionStage{Resolver: d.resolver, Required: cmd.RequiredTier})
		}
		stages = append(stages, &pipeline.RateLimitStage{Limiter: d.limiter, Scope: cmd.RateScope})
		if !cmd.SkipSpamCheck {
			stages = append(stages, &pipeline.SpamStage{Detector: d.detector, WarnOnFlag: d.cfg.AntiSpam.WarnOnFlag})
		}
		d.chains[cmd.Name] = pipeline.NewChain(stages...)
	}

	d.messageChain = pipeline.NewChain(
		&pipeline.TraceStage{},
		&pipeline.UpsertStage{Store: d.s.GetDB()},
		&pipeline.PermissionStage{Resolver: d.resolver, Required: permissions.TierMember},
		&pipeline.RateLimitStage{Limiter: d.limiter, Scope: ratelimit.ScopeGlobal},
		&pipeline.SpamStage{Detector: d.detector, WarnOnFlag: d.cfg.AntiSpam.WarnOnFlag},
	)
}

// HandleUpdate processes one inbound update to its terminal outcome. It
// never lets a panic or error escape.
func (d *Dispatcher) HandleUpdate(ctx context.Context, u *api.Update) {
	start := time.Now()
	rec := audit.Record{UpdateID: u.UpdateID}

	defer func() {
		if r := recover(); r != nil {
			rec.Outcome = pipeline.OutcomeHandlerFailed
			rec.Error = fmt.Sprintf("panic: %v", r)
		}
		rec.LatencyMS = time.Since(start).Milliseconds()
		d.audit.Record(ctx, rec)
	}()

	msg := u.Message
	if msg == nil {
		rec.Outcome = pipeline.OutcomeIgnored
		return
	}
	if chat := u.FromChat(); chat != nil {
		rec.ChatID = chat.ID
	}
	if user := u.SentFrom(); user != nil {
		rec.UserID = user.ID
	}

	if msg.LeftChatMember != nil {
		if err := d.s.GetDB().MarkUserInactive(ctx, msg.LeftChatMember.ID); err != nil {
			log.WithError(err).Warn("cant mark user inactive")
		}
		rec.Outcome = pipeline.OutcomeHandled
		rec.Reason = "member left"
		return
	}

	pctx := &pipeline.Context{Update: u}
	if msg.IsCommand() {
		pctx.Command = msg.Command()
		pctx.Args = msg.CommandArguments()
	}
	rec.Command = pctx.Command

	if chat := u.FromChat(); chat != nil && chat.Type != "private" {
		if user := u.SentFrom(); user != nil {
			pctx.ChatAdmin = d.admins.IsChatAdmin(chat.ID, user.ID)
		}
	}

	ctx, observe := observability.StartDispatch(ctx, pctx.Command)
	defer observe()

	var cmd *Command
	chain := d.messageChain
	if pctx.Command != "" {
		var known bool
		cmd, known = d.registry.Get(pctx.Command)
		if !known {
			d.handleUnknownCommand(ctx, pctx, &rec)
			return
		}
		chain = d.chains[pctx.Command]
	}

	if !chain.Run(ctx, pctx) {
		rec.CorrelationID = pctx.CorrelationID
		d.handleDenial(ctx, pctx, &rec)
		return
	}
	rec.CorrelationID = pctx.CorrelationID

	if cmd == nil {
		// Plain message that passed all gates; nothing to dispatch.
		rec.Outcome = pipeline.OutcomeHandled
		return
	}

	d.invokeHandler(ctx, cmd, pctx, &rec)
}

// DropUpdate writes the audit record for an update shed by a full queue. The
// update never reaches the pipeline, so the trail is written here.
func (d *Dispatcher) DropUpdate(ctx context.Context, u *api.Update) {
	rec := audit.Record{
		CorrelationID: uuid.New(),
		UpdateID:      u.UpdateID,
		Outcome:       pipeline.OutcomeQueueDropped,
		Reason:        "queue full",
	}
	if chat := u.FromChat(); chat != nil {
		rec.ChatID = chat.ID
	}
	if user := u.SentFrom(); user != nil {
		rec.UserID = user.ID
	}
	d.audit.Record(ctx, rec)
}

func (d *Dispatcher) handleUnknownCommand(ctx context.Context, pctx *pipeline.Context, rec *audit.Record) {
	pctx.CorrelationID = uuid.New()
	rec.CorrelationID = pctx.CorrelationID
	rec.Outcome = pipeline.OutcomeUnknownCommand
	chat := pctx.ChatRef()
	if chat == nil {
		return
	}
	// Groups stay quiet; private chats may get a pointer to /help.
	if chat.Type == "private" && d.cfg.Dispatch.UnknownCommandReply {
		lang := d.s.GetLanguage(ctx, chat.ID, pctx.Sender())
		d.reply(pctx, i18n.Get("Unknown command. Use /help to see what I can do.", lang))
	}
}

func (d *Dispatcher) handleDenial(ctx context.Context, pctx *pipeline.Context, rec *audit.Record) {
	denial := pctx.Denial
	if denial == nil {
		rec.Outcome = pipeline.OutcomeIgnored
		return
	}
	rec.Outcome = denial.Outcome
	rec.Reason = denial.Reason

	if denial.Outcome == pipeline.OutcomeSpamBlocked {
		if msg := pctx.Update.Message; msg != nil {
			if err := DeleteChatMessage(ctx, d.s.GetBot(), msg.Chat.ID, msg.MessageID); err != nil {
				log.WithFields(log.Fields{
					"correlation_id": pctx.CorrelationID,
					"error":          err.Error(),
				}).Debug("cant delete blocked message")
			}
		}
	}

	if denial.Reply == "" {
		return
	}
	chat := pctx.ChatRef()
	if chat == nil {
		return
	}
	lang := d.s.GetLanguage(ctx, chat.ID, pctx.Sender())
	text := i18n.Get(denial.Reply, lang)
	if denial.Outcome == pipeline.OutcomeRateLimited {
		text = fmt.Sprintf(text, denial.RetryAfter)
	}
	d.reply(pctx, text)
}

type handlerResult struct {
	reply string
	err   error
}

func (d *Dispatcher) invokeHandler(ctx context.Context, cmd *Command, pctx *pipeline.Context, rec *audit.Record) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = d.cfg.Dispatch.HandlerTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	chat := pctx.ChatRef()
	lang := d.cfg.DefaultLanguage
	if chat != nil {
		lang = d.s.GetLanguage(ctx, chat.ID, pctx.Sender())
	}
	req := &Request{
		Context: pctx,
		Message: pctx.Update.Message,
		Lang:    lang,
	}

	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		reply, err := cmd.Handler(hctx, req)
		done <- handlerResult{reply: reply, err: err}
	}()

	select {
	case <-hctx.Done():
		// Abandon the in-flight handler; collaborators must tolerate it.
		rec.Outcome = pipeline.OutcomeHandlerTimeout
		rec.Error = hctx.Err().Error()
		d.reply(pctx, i18n.Get("Something went wrong. Please try again later.", lang))
	case res := <-done:
		if res.err != nil {
			rec.Outcome = pipeline.OutcomeHandlerFailed
			rec.Error = res.err.Error()
			log.WithFields(log.Fields{
				"correlation_id": pctx.CorrelationID,
				"command":        cmd.Name,
				"error":          res.err.Error(),
			}).Error("handler failed")
			d.reply(pctx, i18n.Get("Something went wrong. Please try again later.", lang))
			return
		}
		rec.Outcome = pipeline.OutcomeHandled
		if res.reply != "" {
			d.reply(pctx, res.reply)
		}
	}
}

func (d *Dispatcher) reply(pctx *pipeline.Context, text string) {
	chat := pctx.ChatRef()
	if chat == nil || text == "" {
		return
	}
	out := api.NewMessage(chat.ID, text)
	if pctx.Update.Message != nil {
		out.ReplyParameters = api.ReplyParameters{
			MessageID:                pctx.Update.Message.MessageID,
			AllowSendingWithoutReply: true,
		}
	}
	if err := tool.Err(d.s.GetBot().Send(out)); err != nil {
		log.WithFields(log.Fields{
			"correlation_id": pctx.CorrelationID,
			"chat_id":        chat.ID,
			"error":          err.Error(),
		}).Warn("cant send reply")
	}
}
