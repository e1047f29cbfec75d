package handlers

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"

	"github.com/zultrabot/zultra/internal/bot"
	"github.com/zultrabot/zultra/internal/i18n"
	"github.com/zultrabot/zultra/internal/permissions"
	"github.com/zultrabot/zultra/internal/ratelimit"
)

var eightBallAnswers = []string{
	"It is certain.",
	"Without a doubt.",
	"Most likely.",
	"Signs point to yes.",
	"Ask again later.",
	"Better not tell you now.",
	"Don't count on it.",
	"My sources say no.",
	"Very doubtful.",
}

// RegisterFun wires the toy commands.
func RegisterFun(reg *bot.Registry, s bot.Service) error {
	return registerAll(reg, []*bot.Command{
		{
			Name:          "dice",
			Description:   "Roll a die",
			RequiredTier:  permissions.TierMember,
			RateScope:     ratelimit.CommandScope("dice"),
			SkipSpamCheck: true,
			Handler: func(ctx context.Context, req *bot.Request) (string, error) {
				chat := req.ChatRef()
				if chat == nil {
					return "", nil
				}
				// Telegram animates the roll itself.
				return "", tool.Err(s.GetBot().Send(api.NewDice(chat.ID)))
			},
		},
		{
			Name:          "coin",
			Description:   "Flip a coin",
			RequiredTier:  permissions.TierMember,
			RateScope:     ratelimit.CommandScope("coin"),
			SkipSpamCheck: true,
			Handler: func(ctx context.Context, req *bot.Request) (string, error) {
				if tool.RandInt(0, 1) == 0 {
					return i18n.Get("Heads!", req.Lang), nil
				}
				return i18n.Get("Tails!", req.Lang), nil
			},
		},
		{
			Name:          "eightball",
			Description:   "Ask the magic 8-ball",
			RequiredTier:  permissions.TierMember,
			RateScope:     ratelimit.CommandScope("eightball"),
			SkipSpamCheck: true,
			Handler: func(ctx context.Context, req *bot.Request) (string, error) {
				if req.Args == "" {
					return i18n.Get("Ask me a question first.", req.Lang), nil
				}
				answer := eightBallAnswers[tool.RandInt(0, len(eightBallAnswers)-1)]
				return i18n.Get(answer, req.Lang), nil
			},
		},
	})
}
