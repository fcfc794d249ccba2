package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	arena "github.com/clickarena/backend"
)

// GameStore keeps all game state behind one mutex, which makes every store
// operation a serializable transaction. CommitAction re-checks the consumed
// token's active flag under the lock, so a race on the same token admits
// exactly one winner.
type GameStore struct {
	mu sync.RWMutex

	sessions     map[string]arena.Session
	activeByUser map[arena.UserId]string

	tokens          map[string]arena.ActionToken
	activeBySession map[string]string

	scores map[arena.UserId]arena.UserScore
	events map[arena.UserId][]arena.ScoreEvent
}

var _ arena.GameStore = (*GameStore)(nil)

func NewGameStore() *GameStore {
	return &GameStore{
		sessions:        map[string]arena.Session{},
		activeByUser:    map[arena.UserId]string{},
		tokens:          map[string]arena.ActionToken{},
		activeBySession: map[string]string{},
		scores:          map[arena.UserId]arena.UserScore{},
		events:          map[arena.UserId][]arena.ScoreEvent{},
	}
}

func (s *GameStore) CreateSession(ctx context.Context, session arena.Session, first arena.ActionToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingId, ok := s.activeByUser[session.UserId]; ok {
		if existing, ok := s.sessions[existingId]; ok && existing.Active {
			return arena.ErrSessionAlreadyActive
		}
	}
	s.sessions[session.Id] = session
	s.activeByUser[session.UserId] = session.Id
	s.tokens[first.Id] = first
	s.activeBySession[session.Id] = first.Id
	return nil
}

func (s *GameStore) ActiveSession(ctx context.Context, userId arena.UserId) (arena.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionId, ok := s.activeByUser[userId]
	if !ok {
		return arena.Session{}, arena.ErrSessionNotFound
	}
	session, ok := s.sessions[sessionId]
	if !ok || !session.Active {
		return arena.Session{}, arena.ErrSessionNotFound
	}
	return session, nil
}

func (s *GameStore) SessionById(ctx context.Context, sessionId string) (arena.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionId]
	if !ok {
		return arena.Session{}, arena.ErrSessionNotFound
	}
	return session, nil
}

func (s *GameStore) TokenById(ctx context.Context, tokenId string) (arena.ActionToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[tokenId]
	if !ok {
		return arena.ActionToken{}, arena.ErrTokenNotFound
	}
	return token, nil
}

func (s *GameStore) ActiveTokenBySession(ctx context.Context, sessionId string) (arena.ActionToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokenId, ok := s.activeBySession[sessionId]
	if !ok {
		return arena.ActionToken{}, arena.ErrTokenNotFound
	}
	token, ok := s.tokens[tokenId]
	if !ok {
		return arena.ActionToken{}, arena.ErrTokenNotFound
	}
	return token, nil
}

func (s *GameStore) CommitAction(ctx context.Context, commit arena.ActionCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tokens[commit.Consumed.Id]
	if !ok {
		return arena.ErrTokenNotFound
	}
	// Commit point: the loser of a concurrent rotation stops here.
	if !current.Active {
		return arena.ErrTokenAlreadyUsed
	}

	s.tokens[commit.Consumed.Id] = commit.Consumed
	s.tokens[commit.Next.Id] = commit.Next
	s.activeBySession[commit.Session.Id] = commit.Next.Id
	s.sessions[commit.Session.Id] = commit.Session
	s.scores[commit.Score.UserId] = commit.Score
	s.events[commit.Event.UserId] = append(s.events[commit.Event.UserId], commit.Event)
	return nil
}

func (s *GameStore) EndSession(ctx context.Context, session arena.Session, retired arena.ActionToken) (arena.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[session.Id]
	if !ok || !current.Active {
		return arena.Session{}, arena.ErrSessionNotFound
	}
	// An action may have committed after the caller read the session; the
	// stored counter is the authoritative one.
	session.ActionsCompleted = current.ActionsCompleted
	s.sessions[session.Id] = session
	s.tokens[retired.Id] = retired
	delete(s.activeBySession, session.Id)
	delete(s.activeByUser, session.UserId)
	return session, nil
}

func (s *GameStore) MarkExpired(ctx context.Context, session arena.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[session.Id]
	if !ok {
		return arena.ErrSessionNotFound
	}
	current.Active = false
	s.sessions[session.Id] = current

	if tokenId, ok := s.activeBySession[session.Id]; ok {
		if token, ok := s.tokens[tokenId]; ok {
			token.Active = false
			s.tokens[tokenId] = token
		}
		delete(s.activeBySession, session.Id)
	}
	if s.activeByUser[session.UserId] == session.Id {
		delete(s.activeByUser, session.UserId)
	}
	return nil
}

func (s *GameStore) Score(ctx context.Context, userId arena.UserId) (arena.UserScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	score, ok := s.scores[userId]
	if !ok {
		return arena.UserScore{}, arena.ErrUserNotFound
	}
	return score, nil
}

func (s *GameStore) Scores(ctx context.Context) ([]arena.UserScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scores := make([]arena.UserScore, 0, len(s.scores))
	for _, score := range s.scores {
		scores = append(scores, score)
	}
	return scores, nil
}

func (s *GameStore) EventsByUserId(ctx context.Context, userId arena.UserId, limit int) ([]arena.ScoreEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.events[userId]
	events := make([]arena.ScoreEvent, len(all))
	copy(events, all)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.After(events[j].OccurredAt)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *GameStore) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, session := range s.sessions {
		if session.Active || !session.ExpiresAt.Before(before) {
			continue
		}
		delete(s.sessions, id)
		purged++
	}
	for id, token := range s.tokens {
		if token.ExpiresAt.Before(before) {
			if _, ok := s.sessions[token.SessionId]; !ok {
				delete(s.tokens, id)
				purged++
			}
		}
	}
	return purged, nil
}
