package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/zultrabot/zultra/internal/adapters"
	"github.com/zultrabot/zultra/internal/adapters/llm"
	"github.com/zultrabot/zultra/internal/bot"
	"github.com/zultrabot/zultra/internal/i18n"
	"github.com/zultrabot/zultra/internal/permissions"
	"github.com/zultrabot/zultra/internal/ratelimit"
)

const askSystemPrompt = "You are a concise assistant inside a Telegram group chat. " +
	"Answer in a few sentences, no markdown."

// RegisterAI wires the LLM-backed commands. They share the tighter "ai"
// rate budget. Pass a nil client to leave them unregistered.
func RegisterAI(reg *bot.Registry, client adapters.LLM) error {
	if client == nil {
		return nil
	}
	return registerAll(reg, []*bot.Command{
		{
			Name:         "ask",
			Description:  "Ask the assistant a question",
			RequiredTier: permissions.TierMember,
			RateScope:    ratelimit.ScopeAI,
			Handler: func(ctx context.Context, req *bot.Request) (string, error) {
				question := strings.TrimSpace(req.Args)
				if question == "" {
					return i18n.Get("Ask me a question first.", req.Lang), nil
				}
				return complete(ctx, client, req.Lang, []llm.ChatCompletionMessage{
					{Role: llm.RoleSystem, Content: askSystemPrompt},
					{Role: llm.RoleUser, Content: question},
				})
			},
		},
		{
			Name:         "translate",
			Description:  "Translate the replied-to message or the given text",
			RequiredTier: permissions.TierMember,
			RateScope:    ratelimit.ScopeAI,
			Handler: func(ctx context.Context, req *bot.Request) (string, error) {
				text := strings.TrimSpace(req.Args)
				if text == "" && req.Message != nil && req.Message.ReplyToMessage != nil {
					text = req.Message.ReplyToMessage.Text
				}
				if text == "" {
					return i18n.Get("Give me text to translate, or reply to a message.", req.Lang), nil
				}
				prompt := fmt.Sprintf(
					"Translate the following text to %s. Reply with the translation only.\n\n%s",
					languageName(req.Lang), text,
				)
				return complete(ctx, client, req.Lang, []llm.ChatCompletionMessage{
					{Role: llm.RoleUser, Content: prompt},
				})
			},
		},
	})
}

func complete(ctx context.Context, client adapters.LLM, lang string, messages []llm.ChatCompletionMessage) (string, error) {
	resp, err := client.ChatCompletion(ctx, messages)
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return i18n.Get("The assistant is busy right now. Try again in a minute.", lang), nil
	case errors.Is(err, llm.ErrUnavailable):
		return i18n.Get("The assistant is unavailable right now.", lang), nil
	case err != nil:
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return i18n.Get("I have no answer for that.", lang), nil
	}
	return resp.Choices[0].Message.Content, nil
}

func languageName(code string) string {
	switch code {
	case "ru":
		return "Russian"
	case "de":
		return "German"
	case "es":
		return "Spanish"
	default:
		return "English"
	}
}
