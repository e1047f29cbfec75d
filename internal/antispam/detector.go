package antispam

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictFlag
	VerdictBlock
)

func (v Verdict) String() string {
	switch v {
	case VerdictFlag:
		return "flag"
	case VerdictBlock:
		return "block"
	default:
		return "allow"
	}
}

type Settings struct {
	BurstThreshold     int
	BurstWindow        time.Duration
	DuplicateThreshold int
	DuplicateHistory   int
	LinkDensity        float64
	StrikesToBlock     int
	CleanPeriod        time.Duration
	Whitelist          []int64
}

type (
	// Detector scores messages per identity. Each identity moves between
	// clean, flagged(n) and blocked depending on rule hits and strike decay.
	Detector struct {
		settings  Settings
		whitelist map[int64]struct{}
		mu        sync.Mutex
		states    map[stateKey]*state
		logger    *log.Entry
	}

	stateKey struct {
		userID int64
		chatID int64
	}

	state struct {
		mu           sync.Mutex
		stamps       []time.Time
		fingerprints []string
		strikes      int
		lastFlag     time.Time
	}
)

var (
	urlPattern     = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.\S+|\bt\.me/\S+`)
	mentionPattern = regexp.MustCompile(`@\w+`)
	spacePattern   = regexp.MustCompile(`\s+`)
)

func NewDetector(settings Settings) *Detector {
	wl := make(map[int64]struct{}, len(settings.Whitelist))
	for _, id := range settings.Whitelist {
		wl[id] = struct{}{}
	}
	return &Detector{
		settings:  settings,
		whitelist: wl,
		states:    map[stateKey]*state{},
		logger:    log.WithField("context", "antispam"),
	}
}

// Evaluate applies the rules in severity order, first match wins. The
// identity's strike state is updated as a side effect.
func (d *Detector) Evaluate(userID, chatID int64, text string, now time.Time) (Verdict, string) {
	if _, trusted := d.whitelist[userID]; trusted {
		return VerdictAllow, "whitelisted"
	}

	s := d.stateFor(stateKey{userID: userID, chatID: chatID})
	s.mu.Lock()
	defer s.mu.Unlock()

	s.decay(now, d.settings.CleanPeriod)
	s.observe(text, now, d.settings)

	if s.strikes >= d.settings.StrikesToBlock {
		// Blocked until the clean period passes without further flags.
		return VerdictBlock, "blocked"
	}

	if burst := s.burstCount(); burst > d.settings.BurstThreshold {
		s.strikes = d.settings.StrikesToBlock
		s.lastFlag = now
		d.logger.WithFields(log.Fields{
			"user_id": userID,
			"chat_id": chatID,
			"burst":   burst,
		}).Debug("burst rule hit")
		return VerdictBlock, "message burst"
	}

	if dupes := s.duplicateCount(text); dupes >= d.settings.DuplicateThreshold {
		return s.flag(now, d.settings, "duplicate content", d.logger)
	}

	if density(text) > d.settings.LinkDensity {
		return s.flag(now, d.settings, "link density", d.logger)
	}

	return VerdictAllow, ""
}

// Reset clears an identity's strike state in one chat, for administrative
// override.
func (d *Detector) Reset(userID, chatID int64) {
	s := d.stateFor(stateKey{userID: userID, chatID: chatID})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strikes = 0
	s.lastFlag = time.Time{}
	s.stamps = nil
	s.fingerprints = nil
}

func (d *Detector) stateFor(key stateKey) *state {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.states[key]
	if !ok {
		s = &state{}
		d.states[key] = s
	}
	return s
}

func (s *state) decay(now time.Time, cleanPeriod time.Duration) {
	if s.strikes > 0 && !s.lastFlag.IsZero() && now.Sub(s.lastFlag) >= cleanPeriod {
		s.strikes = 0
		s.lastFlag = time.Time{}
	}
}

func (s *state) observe(text string, now time.Time, settings Settings) {
	s.stamps = append(s.stamps, now)
	cutoff := now.Add(-settings.BurstWindow)
	kept := s.stamps[:0]
	for _, ts := range s.stamps {
		if ts.After(cutoff) || ts.Equal(cutoff) {
			kept = append(kept, ts)
		}
	}
	s.stamps = kept

	s.fingerprints = append(s.fingerprints, Fingerprint(text))
	if over := len(s.fingerprints) - settings.DuplicateHistory; over > 0 {
		s.fingerprints = s.fingerprints[over:]
	}
}

func (s *state) burstCount() int {
	return len(s.stamps)
}

func (s *state) duplicateCount(text string) int {
	fp := Fingerprint(text)
	count := 0
	for _, known := range s.fingerprints {
		if known == fp {
			count++
		}
	}
	return count
}

func (s *state) flag(now time.Time, settings Settings, reason string, logger *log.Entry) (Verdict, string) {
	s.strikes++
	s.lastFlag = now
	logger.WithFields(log.Fields{
		"reason":  reason,
		"strikes": s.strikes,
	}).Debug("flag rule hit")
	if s.strikes >= settings.StrikesToBlock {
		return VerdictBlock, reason + " (strike limit)"
	}
	return VerdictFlag, reason
}

// Fingerprint normalizes a message so trivially altered repeats still match.
func Fingerprint(text string) string {
	normalized := spacePattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:8])
}

func density(text string) float64 {
	length := len([]rune(text))
	if length == 0 {
		return 0
	}
	matched := 0
	for _, m := range urlPattern.FindAllString(text, -1) {
		matched += len([]rune(m))
	}
	for _, m := range mentionPattern.FindAllString(text, -1) {
		matched += len([]rune(m))
	}
	return float64(matched) / float64(length)
}
