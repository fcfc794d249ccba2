package gate

import (
	"fmt"
	"sync"
	"time"

	arena "github.com/clickarena/backend"
)

type Op string

const (
	OpStartSession Op = "start_session"
	OpSubmitAction Op = "submit_action"
)

type Rule struct {
	Max    int
	Window time.Duration
}

// DefaultRules: at most 10 action submissions per rolling minute and 5
// session starts per rolling hour, per user.
func DefaultRules() map[Op]Rule {
	return map[Op]Rule{
		OpSubmitAction: {Max: 10, Window: time.Minute},
		OpStartSession: {Max: 5, Window: time.Hour},
	}
}

// Limiter enforces per-user-per-operation rolling windows. A denied call
// records nothing, so probing while limited does not extend the wait.
type Limiter struct {
	Clock arena.Clock
	Rules map[Op]Rule

	mu   sync.Mutex
	hits map[string][]time.Time
}

func NewLimiter(clock arena.Clock, rules map[Op]Rule) *Limiter {
	return &Limiter{
		Clock: clock,
		Rules: rules,
		hits:  map[string][]time.Time{},
	}
}

func (l *Limiter) Allow(op Op, userId arena.UserId) bool {
	rule, ok := l.Rules[op]
	if !ok {
		return true
	}
	now := l.Clock.Now()
	key := fmt.Sprintf("%s:%d", op, userId)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := prune(l.hits[key], now.Add(-rule.Window))
	if len(recent) >= rule.Max {
		l.hits[key] = recent
		return false
	}
	l.hits[key] = append(recent, now)
	return true
}

func prune(hits []time.Time, cutoff time.Time) []time.Time {
	kept := hits[:0]
	for _, hit := range hits {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}
	return kept
}
