package db

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
)

// Client is the persistence collaborator contract. All calls may fail with a
// transient storage error; the pipeline degrades instead of halting.
type Client interface {
	Close() error

	UpsertUser(ctx context.Context, user *api.User) (*UserMeta, error)
	UpsertChat(ctx context.Context, chat *api.Chat) (*ChatMeta, error)
	GetUser(ctx context.Context, userID int64) (*UserMeta, error)
	GetChat(ctx context.Context, chatID int64) (*ChatMeta, error)
	MarkUserInactive(ctx context.Context, userID int64) error
	SetChatFlag(ctx context.Context, chatID int64, flag string, value bool) error
	SetChatLanguage(ctx context.Context, chatID int64, language string) error

	GetWarningCount(ctx context.Context, userID, chatID int64) (int, error)
	AddWarning(ctx context.Context, warning *Warning) (int, error)
	ClearWarnings(ctx context.Context, userID, chatID int64) error
}
