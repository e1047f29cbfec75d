package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/zultrabot/zultra/internal/antispam"
	"github.com/zultrabot/zultra/internal/bot"
	"github.com/zultrabot/zultra/internal/db"
	"github.com/zultrabot/zultra/internal/i18n"
	"github.com/zultrabot/zultra/internal/permissions"
	"github.com/zultrabot/zultra/internal/ratelimit"
)

const defaultMuteDuration = time.Hour

// target returns the user a moderation command acts on. Moderation commands
// are reply-driven: the moderator replies to the offending message.
func target(req *bot.Request) *api.User {
	if req.Message == nil || req.Message.ReplyToMessage == nil {
		return nil
	}
	return req.Message.ReplyToMessage.From
}

func needTarget(req *bot.Request) string {
	return i18n.Get("Reply to a message from the user you want to act on.", req.Lang)
}

// RegisterAdmin wires the moderation commands. They require at least the
// moderator tier; destructive ones require admin.
func RegisterAdmin(reg *bot.Registry, s bot.Service, detector *antispam.Detector) error {
	return registerAll(reg, []*bot.Command{
		{
			Name:          "warn",
			Description:   "Warn a user, ban at the warning cap",
			RequiredTier:  permissions.TierModerator,
			RateScope:     ratelimit.ScopeGlobal,
			SkipSpamCheck: true,
			Handler: func(ctx context.Context, req *bot.Request) (string, error) {
				victim := target(req)
				if victim == nil {
					return needTarget(req), nil
				}
				chat := req.ChatRef()
				count, err := s.GetDB().AddWarning(ctx, &db.Warning{
					UserID:   victim.ID,
					ChatID:   chat.ID,
					IssuedBy: req.Sender().ID,
					Reason:   req.Args,
				})
				if err != nil {
					return "", err
				}
				maxWarnings := db.DefaultMaxWarnings
				if req.Chat != nil && req.Chat.MaxWarnings > 0 {
					maxWarnings = req.Chat.MaxWarnings
				}
				if count >= maxWarnings {
					if err := bot.BanUserFromChat(ctx, s.GetBot(), victim.ID, chat.ID, 0); err != nil {
						return "", err
					}
					if err := s.GetDB().ClearWarnings(ctx, victim.ID, chat.ID); err != nil {
						log.WithError(err).Warn("cant clear warnings after ban")
					}
					return fmt.Sprintf(i18n.Get("%s reached %d warnings and was banned.", req.Lang), bot.GetUN(victim), count), nil
				}
				return fmt.Sprintf(i18n.Get("%s warned (%d/%d).", req.Lang), bot.GetUN(victim), count, maxWarnings), nil
			},
		},
		{
			Name:          "warnings",
			Description:   "Show a user's warning count",
			RequiredTier:  permissions.TierModerator,
			RateScope:     ratelimit.ScopeGlobal,
			SkipSpamCheck: true,
			Handler: func(ctx context.Context, req *bot.Request) (string, error) {
				victim := target(req)
				if victim == nil {
					return needTarget(req), nil
				}
				count, err := s.GetDB().GetWarningCount(ctx, victim.ID, req.ChatRef().ID)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf(i18n.Get("%s has %d warning(s).", req.Lang), bot.GetUN(victim), count), nil
			},
		},
		{
			Name:          "ban",
			Description:   "Ban a user from the chat",
			RequiredTier:  permissions.TierAdmin,
			RateScope:     ratelimit.ScopeGlobal,
			SkipSpamCheck: true,
			Handler: func(ctx context.Context, req *bot.Request) (string, error) {
				victim := target(req)
				if victim == nil {
					return needTarget(req), nil
				}
				chat := req.ChatRef()
				if err := bot.BanUserFromChat(ctx, s.GetBot(), victim.ID, chat.ID, 0); err != nil {
					return "", err
				}
				return fmt.Sprintf(i18n.Get("%s banned.", req.Lang), bot.GetUN(victim)), nil
			},
		},
		{
			Name:          "unban",
			Description:   "Lift a ban and clear the user's record",
			RequiredTier:  permissions.TierAdmin,
			RateScope:     ratelimit.ScopeGlobal,
			SkipSpamCheck: true,
			Handler: func(ctx context.Context, req *bot.Request) (string, error) {
				victim := target(req)
				if victim == nil {
					return needTarget(req), nil
				}
				chat := req.ChatRef()
				if err := bot.UnbanUserFromChat(ctx, s.GetBot(), victim.ID, chat.ID); err != nil {
					return "", err
				}
				detector.Reset(victim.ID, chat.ID)
				if err := s.GetDB().ClearWarnings(ctx, victim.ID, chat.ID); err != nil {
					log.WithError(err).Warn("cant clear warnings on unban")
				}
				return fmt.Sprintf(i18n.Get("%s unbanned.", req.Lang), bot.GetUN(victim)), nil
			},
		},
		{
			Name:          "mute",
			Description:   "Mute a user, optionally for a duration",
			RequiredTier:  permissions.TierModerator,
			RateScope:     ratelimit.ScopeGlobal,
			SkipSpamCheck: true,
			Handler: func(ctx context.Context, req *bot.Request) (string, error) {
				victim := target(req)
				if victim == nil {
					return needTarget(req), nil
				}
				duration := defaultMuteDuration
				if req.Args != "" {
					parsed, err := time.ParseDuration(strings.TrimSpace(req.Args))
					if err != nil {
						return i18n.Get("I can't parse that duration. Try something like 30m or 2h.", req.Lang), nil
					}
					duration = parsed
				}
				chat := req.ChatRef()
				if err := bot.RestrictChatting(ctx, s.GetBot(), victim.ID, chat.ID, time.Now().Add(duration)); err != nil {
					return "", err
				}
				return fmt.Sprintf(i18n.Get("%s muted for %s.", req.Lang), bot.GetUN(victim), duration), nil
			},
		},
		flagCommand(s, "lock", "Restrict the chat to moderators", db.FlagLocked, true,
			"Chat locked. Only moderators can use commands now."),
		flagCommand(s, "unlock", "Lift the chat lock", db.FlagLocked, false,
			"Chat unlocked."),
		toggleCommand(s, "raidmode", "Toggle raid mode (silence non-staff)", db.FlagRaidMode,
			"Raid mode enabled. Messages from regular members are dropped.",
			"Raid mode disabled."),
		toggleCommand(s, "captcha", "Toggle join captcha", db.FlagCaptchaRequired,
			"Captcha enabled for new members.",
			"Captcha disabled."),
	})
}

// flagCommand sets a chat flag to a fixed value.
func flagCommand(s bot.Service, name, description, flag string, value bool, reply string) *bot.Command {
	return &bot.Command{
		Name:          name,
		Description:   description,
		RequiredTier:  permissions.TierModerator,
		RateScope:     ratelimit.ScopeGlobal,
		SkipSpamCheck: true,
		Handler: func(ctx context.Context, req *bot.Request) (string, error) {
			if err := s.GetDB().SetChatFlag(ctx, req.ChatRef().ID, flag, value); err != nil {
				return "", err
			}
			return i18n.Get(reply, req.Lang), nil
		},
	}
}

// toggleCommand accepts "on"/"off" arguments, defaulting to flipping on.
func toggleCommand(s bot.Service, name, description, flag, onReply, offReply string) *bot.Command {
	return &bot.Command{
		Name:          name,
		Description:   description,
		RequiredTier:  permissions.TierModerator,
		RateScope:     ratelimit.ScopeGlobal,
		SkipSpamCheck: true,
		Handler: func(ctx context.Context, req *bot.Request) (string, error) {
			enable := true
			switch strings.ToLower(strings.TrimSpace(req.Args)) {
			case "off", "disable", "0":
				enable = false
			}
			if err := s.GetDB().SetChatFlag(ctx, req.ChatRef().ID, flag, enable); err != nil {
				return "", err
			}
			if enable {
				return i18n.Get(onReply, req.Lang), nil
			}
			return i18n.Get(offReply, req.Lang), nil
		},
	}
}
