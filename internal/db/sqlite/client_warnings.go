package sqlite

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/zultrabot/zultra/internal/db"
)

func (c *sqliteClient) GetWarningCount(ctx context.Context, userID, chatID int64) (int, error) {
	var count int
	err := c.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM warnings WHERE user_id=? AND chat_id=?", userID, chatID)
	return count, errors.WithMessage(err, "cant count warnings")
}

// AddWarning stores the warning and returns the new total for the
// (user, chat) pair, which drives auto-escalation.
func (c *sqliteClient) AddWarning(ctx context.Context, warning *db.Warning) (int, error) {
	if warning == nil {
		return 0, errors.New("nil warning")
	}
	if warning.CreatedAt.IsZero() {
		warning.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO warnings (user_id, chat_id, issued_by, reason, created_at)
		VALUES (:user_id, :chat_id, :issued_by, :reason, :created_at);
	`
	if _, err := c.db.NamedExecContext(ctx, query, warning); err != nil {
		return 0, errors.WithMessage(err, "cant insert warning")
	}
	return c.GetWarningCount(ctx, warning.UserID, warning.ChatID)
}

func (c *sqliteClient) ClearWarnings(ctx context.Context, userID, chatID int64) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM warnings WHERE user_id=? AND chat_id=?", userID, chatID)
	return errors.WithMessage(err, "cant clear warnings")
}
