package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zultrabot/zultra/internal/bot"
	"github.com/zultrabot/zultra/internal/config"
	"github.com/zultrabot/zultra/internal/db"
	"github.com/zultrabot/zultra/internal/i18n"
	"github.com/zultrabot/zultra/internal/permissions"
	"github.com/zultrabot/zultra/internal/ratelimit"
)

const version = "1.2.0"

func registerAll(reg *bot.Registry, cmds []*bot.Command) error {
	for _, cmd := range cmds {
		if err := reg.Register(cmd); err != nil {
			return errors.Wrap(err, "cant register command")
		}
	}
	return nil
}

// RegisterCore wires the informational commands every member may use.
func RegisterCore(reg *bot.Registry, s bot.Service, cfg config.Config, startedAt time.Time) error {
	return registerAll(reg, []*bot.Command{
		{
			Name:         "start",
			Description:  "Introduce the bot",
			RequiredTier: permissions.TierMember,
			RateScope:    ratelimit.ScopeGlobal,
			Handler: func(ctx context.Context, req *bot.Request) (string, error) {
				name := bot.GetUN(req.Sender())
				return fmt.Sprintf(i18n.Get("Hi %s! I keep this chat tidy. Use /help to see what I can do.", req.Lang), name), nil
			},
		},
		{
			Name:         "help",
			Description:  "List available commands",
			RequiredTier: permissions.TierMember,
			RateScope:    ratelimit.ScopeGlobal,
			Handler: func(ctx context.Context, req *bot.Request) (string, error) {
				var b strings.Builder
				b.WriteString(i18n.Get("Available commands:", req.Lang))
				b.WriteString("\n")
				for _, cmd := range reg.List() {
					if cmd.RequiredTier > req.Tier || cmd.Description == "" {
						continue
					}
					fmt.Fprintf(&b, "/%s - %s\n", cmd.Name, cmd.Description)
				}
				return strings.TrimRight(b.String(), "\n"), nil
			},
		},
		{
			Name:         "about",
			Description:  "Bot version and source",
			RequiredTier: permissions.TierMember,
			RateScope:    ratelimit.ScopeGlobal,
			Handler: func(ctx context.Context, req *bot.Request) (string, error) {
				return fmt.Sprintf("zultra v%s\nhttps://github.com/zultrabot/zultra", version), nil
			},
		},
		{
			Name:         "uptime",
			Description:  "How long the bot has been running",
			RequiredTier: permissions.TierMember,
			RateScope:    ratelimit.ScopeGlobal,
			Handler: func(ctx context.Context, req *bot.Request) (string, error) {
				up := time.Since(startedAt).Round(time.Second)
				return fmt.Sprintf(i18n.Get("Up for %s.", req.Lang), up), nil
			},
		},
		{
			Name:         "settings",
			Description:  "Show chat settings",
			RequiredTier: permissions.TierModerator,
			RateScope:    ratelimit.ScopeGlobal,
			Handler: func(ctx context.Context, req *bot.Request) (string, error) {
				chat := req.Chat
				if chat == nil {
					return i18n.Get("No settings available here.", req.Lang), nil
				}
				if fields := strings.Fields(req.Args); len(fields) == 2 && fields[0] == "lang" {
					if err := s.GetDB().SetChatLanguage(ctx, chat.ID, fields[1]); err != nil {
						return "", err
					}
					return fmt.Sprintf(i18n.Get("Chat language set to %s.", req.Lang), fields[1]), nil
				}
				onOff := func(v bool) string {
					if v {
						return "on"
					}
					return "off"
				}
				maxWarnings := chat.MaxWarnings
				if maxWarnings <= 0 {
					maxWarnings = db.DefaultMaxWarnings
				}
				return fmt.Sprintf(
					"language: %s\nlocked: %s\nraid mode: %s\ncaptcha: %s\nmax warnings: %d",
					orDefault(chat.Language, cfg.DefaultLanguage),
					onOff(chat.Locked),
					onOff(chat.RaidMode),
					onOff(chat.CaptchaRequired),
					maxWarnings,
				), nil
			},
		},
	})
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
