package bot

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/zultrabot/zultra/internal/config"
	"github.com/zultrabot/zultra/internal/db"
)

// ServiceBot defines bot-specific operations
type ServiceBot interface {
	GetBot() *api.BotAPI
}

// ServiceDB defines database-specific operations
type ServiceDB interface {
	GetDB() db.Client
}

// Service defines the core bot service interface
type Service interface {
	ServiceBot
	ServiceDB
	GetLanguage(ctx context.Context, chatID int64, user *api.User) string
}

type service struct {
	bot *api.BotAPI
	db  db.Client
}

func NewService(bot *api.BotAPI, db db.Client) *service {
	return &service{
		bot: bot,
		db:  db,
	}
}

func (s *service) GetBot() *api.BotAPI {
	return s.bot
}

func (s *service) GetDB() db.Client {
	return s.db
}

// GetLanguage prefers the chat's configured language, then the sender's
// client language, then the bot default.
func (s *service) GetLanguage(ctx context.Context, chatID int64, user *api.User) string {
	if chat, err := s.db.GetChat(ctx, chatID); err == nil && chat.Language != "" {
		return chat.Language
	}
	if user != nil && user.LanguageCode != "" {
		return user.LanguageCode
	}
	return config.Get().DefaultLanguage
}
