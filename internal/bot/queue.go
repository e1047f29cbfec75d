package bot

import (
	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/zultrabot/zultra/internal/observability"
)

// Queue is the bounded buffer between the transport pump and the dispatch
// workers. A full queue sheds load instead of spawning unbounded tasks.
type Queue struct {
	ch chan api.Update
}

func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan api.Update, size)}
}

// Enqueue never blocks; it reports whether the update was accepted.
func (q *Queue) Enqueue(u api.Update) bool {
	select {
	case q.ch <- u:
		return true
	default:
		observability.RecordQueueDrop()
		return false
	}
}

func (q *Queue) Updates() <-chan api.Update {
	return q.ch
}

func (q *Queue) Close() {
	close(q.ch)
}

func (q *Queue) Len() int {
	return len(q.ch)
}
