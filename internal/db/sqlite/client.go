package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/zultrabot/zultra/internal/db"
	"github.com/zultrabot/zultra/internal/infra"
	"github.com/zultrabot/zultra/resources"
)

type sqliteClient struct {
	db *sqlx.DB
}

func NewSQLiteClient(dbPath string) *sqliteClient {
	dbx, err := sqlx.Open("sqlite", filepath.Join(infra.GetWorkDir(), dbPath))
	if err != nil {
		log.WithError(err).Fatalln("cant open db")
	}
	dbx.SetMaxOpenConns(42)

	migrationsSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: resources.FS,
		Root:       "migrations",
	}
	n, err := migrate.Exec(dbx.DB, "sqlite3", migrationsSource, migrate.Up)
	if err != nil {
		log.WithError(err).Fatalln("migrate up failed")
	}
	if n > 0 {
		log.Infof("applied %d migrations!", n)
	}

	return &sqliteClient{db: dbx}
}

func (c *sqliteClient) Close() error {
	return c.db.Close()
}

func (c *sqliteClient) UpsertUser(ctx context.Context, user *api.User) (*db.UserMeta, error) {
	if user == nil {
		return nil, errors.New("nil user")
	}
	query := `
		INSERT INTO users (id, first_name, last_name, username, language_code, is_bot, message_count, last_seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		first_name=excluded.first_name,
		last_name=excluded.last_name,
		username=excluded.username,
		language_code=excluded.language_code,
		message_count=users.message_count+1,
		last_seen=excluded.last_seen,
		inactive=0;
	`
	now := time.Now()
	if _, err := c.db.ExecContext(ctx, query,
		user.ID, user.FirstName, user.LastName, user.UserName, user.LanguageCode, user.IsBot, now, now,
	); err != nil {
		return nil, errors.WithMessage(err, "cant upsert user")
	}
	return c.GetUser(ctx, user.ID)
}

func (c *sqliteClient) UpsertChat(ctx context.Context, chat *api.Chat) (*db.ChatMeta, error) {
	if chat == nil {
		return nil, errors.New("nil chat")
	}
	query := `
		INSERT INTO chats (id, title, type, language, max_warnings, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		title=excluded.title,
		type=excluded.type;
	`
	if _, err := c.db.ExecContext(ctx, query,
		chat.ID, chat.Title, chat.Type, "", db.DefaultMaxWarnings, time.Now(),
	); err != nil {
		return nil, errors.WithMessage(err, "cant upsert chat")
	}
	return c.GetChat(ctx, chat.ID)
}

func (c *sqliteClient) GetUser(ctx context.Context, userID int64) (*db.UserMeta, error) {
	res := &db.UserMeta{}
	err := c.db.GetContext(ctx, res, "SELECT * FROM users WHERE id=?", userID)
	if err == sql.ErrNoRows {
		return nil, db.ErrNotFound
	}
	return res, err
}

func (c *sqliteClient) GetChat(ctx context.Context, chatID int64) (*db.ChatMeta, error) {
	res := &db.ChatMeta{}
	err := c.db.GetContext(ctx, res, "SELECT * FROM chats WHERE id=?", chatID)
	if err == sql.ErrNoRows {
		return nil, db.ErrNotFound
	}
	return res, err
}

func (c *sqliteClient) MarkUserInactive(ctx context.Context, userID int64) error {
	_, err := c.db.ExecContext(ctx, "UPDATE users SET inactive=1 WHERE id=?", userID)
	return errors.WithMessage(err, "cant mark user inactive")
}

func (c *sqliteClient) SetChatFlag(ctx context.Context, chatID int64, flag string, value bool) error {
	var column string
	switch flag {
	case db.FlagLocked:
		column = "locked"
	case db.FlagRaidMode:
		column = "raid_mode"
	case db.FlagCaptchaRequired:
		column = "captcha_required"
	default:
		return errors.Errorf("unknown chat flag %q", flag)
	}
	_, err := c.db.ExecContext(ctx, "UPDATE chats SET "+column+"=? WHERE id=?", value, chatID)
	return errors.WithMessage(err, "cant set chat flag")
}

func (c *sqliteClient) SetChatLanguage(ctx context.Context, chatID int64, language string) error {
	_, err := c.db.ExecContext(ctx, "UPDATE chats SET language=? WHERE id=?", language, chatID)
	return errors.WithMessage(err, "cant set chat language")
}
