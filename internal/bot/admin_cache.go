package bot

import (
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
)

const adminCacheTTL = 5 * time.Minute

// AdminCache answers "is this user a chat admin right now" without hitting
// the platform on every message. Entries refresh lazily after the TTL.
type AdminCache struct {
	bot *api.BotAPI
	mu  sync.Mutex
	set map[int64]adminEntry
}

type adminEntry struct {
	admins    map[int64]struct{}
	fetchedAt time.Time
}

func NewAdminCache(bot *api.BotAPI) *AdminCache {
	return &AdminCache{
		bot: bot,
		set: map[int64]adminEntry{},
	}
}

func (c *AdminCache) IsChatAdmin(chatID, userID int64) bool {
	c.mu.Lock()
	entry, ok := c.set[chatID]
	c.mu.Unlock()

	if !ok || time.Since(entry.fetchedAt) > adminCacheTTL {
		entry = c.refresh(chatID)
	}
	_, isAdmin := entry.admins[userID]
	return isAdmin
}

func (c *AdminCache) refresh(chatID int64) adminEntry {
	entry := adminEntry{admins: map[int64]struct{}{}, fetchedAt: time.Now()}

	admins, err := c.bot.GetChatAdministrators(api.ChatAdministratorsConfig{
		ChatConfig: api.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		log.WithFields(log.Fields{
			"chat_id": chatID,
			"error":   err.Error(),
		}).Debug("cant fetch chat administrators")
	}
	for _, member := range admins {
		if member.User != nil {
			entry.admins[member.User.ID] = struct{}{}
		}
	}

	c.mu.Lock()
	c.set[chatID] = entry
	c.mu.Unlock()
	return entry
}
