package db

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Chat feature flags toggled by admin commands.
const (
	FlagLocked          = "locked"
	FlagRaidMode        = "raid_mode"
	FlagCaptchaRequired = "captcha_required"
)

type (
	UserMeta struct {
		ID           int64     `db:"id"`
		FirstName    string    `db:"first_name"`
		LastName     string    `db:"last_name"`
		UserName     string    `db:"username"`
		LanguageCode string    `db:"language_code"`
		IsBot        bool      `db:"is_bot"`
		Inactive     bool      `db:"inactive"`
		MessageCount int64     `db:"message_count"`
		LastSeen     time.Time `db:"last_seen"`
		CreatedAt    time.Time `db:"created_at"`
	}

	ChatMeta struct {
		ID              int64     `db:"id"`
		Title           string    `db:"title"`
		Type            string    `db:"type"`
		Language        string    `db:"language"`
		Locked          bool      `db:"locked"`
		RaidMode        bool      `db:"raid_mode"`
		CaptchaRequired bool      `db:"captcha_required"`
		MaxWarnings     int       `db:"max_warnings"`
		CreatedAt       time.Time `db:"created_at"`
	}

	Warning struct {
		ID        int64     `db:"id"`
		UserID    int64     `db:"user_id"`
		ChatID    int64     `db:"chat_id"`
		IssuedBy  int64     `db:"issued_by"`
		Reason    string    `db:"reason"`
		CreatedAt time.Time `db:"created_at"`
	}
)

const DefaultMaxWarnings = 3

func (cm *ChatMeta) Flag(name string) bool {
	if cm == nil {
		return false
	}
	switch name {
	case FlagLocked:
		return cm.Locked
	case FlagRaidMode:
		return cm.RaidMode
	case FlagCaptchaRequired:
		return cm.CaptchaRequired
	}
	return false
}
