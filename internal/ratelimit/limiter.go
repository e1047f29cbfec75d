package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Scope names a logical budget. Distinct scopes for the same user are
// accounted independently.
const (
	ScopeGlobal = "global"
	ScopeAI     = "ai"
)

func CommandScope(command string) string {
	return "command:" + command
}

type (
	Decision struct {
		Allowed    bool
		RetryAfter time.Duration
	}

	Budget struct {
		Max    int
		Window time.Duration
	}

	// Limiter admits or rejects requests per (user, scope) key within a
	// sliding window. State is in-memory only; a restart clears it.
	Limiter struct {
		mu       sync.Mutex
		budgets  map[string]Budget
		fallback Budget
		entries  map[string]*entry
	}

	entry struct {
		mu     sync.Mutex
		stamps []time.Time
	}
)

func NewLimiter(budgets map[string]Budget, fallback Budget) *Limiter {
	if budgets == nil {
		budgets = map[string]Budget{}
	}
	return &Limiter{
		budgets:  budgets,
		fallback: fallback,
		entries:  map[string]*entry{},
	}
}

func ScopeKey(userID int64, scope string) string {
	return fmt.Sprintf("%d/%s", userID, scope)
}

// Admit decides for one request. The first ever request for a key always
// passes. Rejections carry the time until the oldest counted request leaves
// the window.
func (l *Limiter) Admit(userID int64, scope string, now time.Time) Decision {
	budget := l.budgetFor(scope)
	e := l.entryFor(ScopeKey(userID, scope))

	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := now.Add(-budget.Window)
	kept := e.stamps[:0]
	for _, ts := range e.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.stamps = kept

	if len(e.stamps) < budget.Max {
		e.stamps = append(e.stamps, now)
		return Decision{Allowed: true}
	}

	retry := budget.Window - now.Sub(e.stamps[0])
	if retry < 0 {
		retry = 0
	}
	return Decision{Allowed: false, RetryAfter: retry}
}

func (l *Limiter) budgetFor(scope string) Budget {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.budgets[scope]; ok {
		return b
	}
	return l.fallback
}

func (l *Limiter) entryFor(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	return e
}
