package persistent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	arena "github.com/clickarena/backend"
	"github.com/tidwall/buntdb"
)

// Records stay readable for a grace period after expiry before buntdb's TTL
// reclaims them, so an expired session still answers with SessionExpired
// instead of TokenNotFound.
const expiryGrace = 24 * time.Hour

type Session struct {
	Id               string    `json:"id"`
	UserId           int64     `json:"userId"`
	CreatedAt        time.Time `json:"createdAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
	EndedAt          time.Time `json:"endedAt"`
	Active           bool      `json:"active"`
	ActionsCompleted int       `json:"actionsCompleted"`
}

func sessionRecord(s arena.Session) Session {
	return Session{
		Id:               s.Id,
		UserId:           int64(s.UserId),
		CreatedAt:        s.CreatedAt,
		ExpiresAt:        s.ExpiresAt,
		EndedAt:          s.EndedAt,
		Active:           s.Active,
		ActionsCompleted: s.ActionsCompleted,
	}
}

func (s Session) ToDomain() arena.Session {
	return arena.Session{
		Id:               s.Id,
		UserId:           arena.UserId(s.UserId),
		CreatedAt:        s.CreatedAt,
		ExpiresAt:        s.ExpiresAt,
		EndedAt:          s.EndedAt,
		Active:           s.Active,
		ActionsCompleted: s.ActionsCompleted,
	}
}

type ActionToken struct {
	Id         string    `json:"id"`
	SessionId  string    `json:"sessionId"`
	UserId     int64     `json:"userId"`
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Active     bool      `json:"active"`
	ConsumedAt time.Time `json:"consumedAt"`
}

func tokenRecord(t arena.ActionToken) ActionToken {
	return ActionToken{
		Id:         t.Id,
		SessionId:  t.SessionId,
		UserId:     int64(t.UserId),
		IssuedAt:   t.IssuedAt,
		ExpiresAt:  t.ExpiresAt,
		Active:     t.Active,
		ConsumedAt: t.ConsumedAt,
	}
}

func (t ActionToken) ToDomain() arena.ActionToken {
	return arena.ActionToken{
		Id:         t.Id,
		SessionId:  t.SessionId,
		UserId:     arena.UserId(t.UserId),
		IssuedAt:   t.IssuedAt,
		ExpiresAt:  t.ExpiresAt,
		Active:     t.Active,
		ConsumedAt: t.ConsumedAt,
	}
}

type UserScore struct {
	UserId    int64     `json:"userId"`
	Score     int       `json:"score"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s UserScore) ToDomain() arena.UserScore {
	return arena.UserScore{UserId: arena.UserId(s.UserId), Score: s.Score, UpdatedAt: s.UpdatedAt}
}

type ScoreEvent struct {
	Id          string    `json:"id"`
	UserId      int64     `json:"userId"`
	ActionType  string    `json:"actionType"`
	Points      int       `json:"points"`
	TokenId     string    `json:"tokenId"`
	ScoreBefore int       `json:"scoreBefore"`
	ScoreAfter  int       `json:"scoreAfter"`
	OccurredAt  time.Time `json:"occurredAt"`
}

func (e ScoreEvent) ToDomain() arena.ScoreEvent {
	return arena.ScoreEvent{
		Id:          e.Id,
		UserId:      arena.UserId(e.UserId),
		ActionType:  arena.ActionType(e.ActionType),
		Points:      e.Points,
		TokenId:     e.TokenId,
		ScoreBefore: e.ScoreBefore,
		ScoreAfter:  e.ScoreAfter,
		OccurredAt:  e.OccurredAt,
	}
}

// GameStore keeps the whole hot path in one buntdb database. Every mutation
// runs inside a single serializable Update transaction, which is what makes
// the rotate+score+event commit all-or-nothing.
type GameStore struct {
	Buntdb *buntdb.DB
	Clock  arena.Clock
}

var _ arena.GameStore = (*GameStore)(nil)

func sessionKey(id string) string            { return "session:" + id }
func sessionActiveKey(u int64) string        { return "session_active:" + strconv.FormatInt(u, 10) }
func tokenKey(id string) string              { return "token:" + id }
func tokenActiveKey(sessionId string) string { return "token_active:" + sessionId }
func scoreKey(u int64) string                { return "score:" + strconv.FormatInt(u, 10) }

func eventKey(e ScoreEvent) string {
	return fmt.Sprintf("event:%d:%020d:%s", e.UserId, e.OccurredAt.UnixNano(), e.Id)
}

func (s *GameStore) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now().UTC()
}

func (s *GameStore) sessionOptions(expiresAt time.Time) *buntdb.SetOptions {
	ttl := expiresAt.Add(expiryGrace).Sub(s.now())
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &buntdb.SetOptions{Expires: true, TTL: ttl}
}

func setJson(tx *buntdb.Tx, key string, record interface{}, options *buntdb.SetOptions) error {
	serialized, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("serialize %q: %w", key, err)
	}
	if _, _, err := tx.Set(key, string(serialized), options); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *GameStore) CreateSession(ctx context.Context, session arena.Session, first arena.ActionToken) error {
	record := sessionRecord(session)
	token := tokenRecord(first)
	options := s.sessionOptions(session.ExpiresAt)

	err := s.Buntdb.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(sessionActiveKey(record.UserId)); err == nil {
			return arena.ErrSessionAlreadyActive
		} else if !errors.Is(err, buntdb.ErrNotFound) {
			return fmt.Errorf("get active session pointer: %w", err)
		}

		if err := setJson(tx, sessionKey(record.Id), record, options); err != nil {
			return err
		}
		if _, _, err := tx.Set(sessionActiveKey(record.UserId), record.Id, options); err != nil {
			return fmt.Errorf("set active session pointer: %w", err)
		}
		if err := setJson(tx, tokenKey(token.Id), token, options); err != nil {
			return err
		}
		if _, _, err := tx.Set(tokenActiveKey(record.Id), token.Id, options); err != nil {
			return fmt.Errorf("set active token pointer: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, arena.ErrSessionAlreadyActive) {
			return arena.ErrSessionAlreadyActive
		}
		return fmt.Errorf("bunt update: %w", err)
	}
	return nil
}

func (s *GameStore) ActiveSession(ctx context.Context, userId arena.UserId) (arena.Session, error) {
	var record Session
	err := s.Buntdb.View(func(tx *buntdb.Tx) error {
		sessionId, err := tx.Get(sessionActiveKey(int64(userId)))
		if err != nil {
			return err
		}
		serialized, err := tx.Get(sessionKey(sessionId))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(serialized), &record)
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return arena.Session{}, arena.ErrSessionNotFound
		}
		return arena.Session{}, fmt.Errorf("bunt view: %w", err)
	}
	if !record.Active {
		return arena.Session{}, arena.ErrSessionNotFound
	}
	return record.ToDomain(), nil
}

func (s *GameStore) SessionById(ctx context.Context, sessionId string) (arena.Session, error) {
	var record Session
	err := s.Buntdb.View(func(tx *buntdb.Tx) error {
		serialized, err := tx.Get(sessionKey(sessionId))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(serialized), &record)
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return arena.Session{}, arena.ErrSessionNotFound
		}
		return arena.Session{}, fmt.Errorf("bunt view: %w", err)
	}
	return record.ToDomain(), nil
}

func (s *GameStore) TokenById(ctx context.Context, tokenId string) (arena.ActionToken, error) {
	var record ActionToken
	err := s.Buntdb.View(func(tx *buntdb.Tx) error {
		serialized, err := tx.Get(tokenKey(tokenId))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(serialized), &record)
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return arena.ActionToken{}, arena.ErrTokenNotFound
		}
		return arena.ActionToken{}, fmt.Errorf("bunt view: %w", err)
	}
	return record.ToDomain(), nil
}

func (s *GameStore) ActiveTokenBySession(ctx context.Context, sessionId string) (arena.ActionToken, error) {
	var record ActionToken
	err := s.Buntdb.View(func(tx *buntdb.Tx) error {
		tokenId, err := tx.Get(tokenActiveKey(sessionId))
		if err != nil {
			return err
		}
		serialized, err := tx.Get(tokenKey(tokenId))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(serialized), &record)
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return arena.ActionToken{}, arena.ErrTokenNotFound
		}
		return arena.ActionToken{}, fmt.Errorf("bunt view: %w", err)
	}
	return record.ToDomain(), nil
}

func (s *GameStore) CommitAction(ctx context.Context, commit arena.ActionCommit) error {
	session := sessionRecord(commit.Session)
	consumed := tokenRecord(commit.Consumed)
	next := tokenRecord(commit.Next)
	score := UserScore{
		UserId:    int64(commit.Score.UserId),
		Score:     commit.Score.Score,
		UpdatedAt: commit.Score.UpdatedAt,
	}
	event := ScoreEvent{
		Id:          commit.Event.Id,
		UserId:      int64(commit.Event.UserId),
		ActionType:  string(commit.Event.ActionType),
		Points:      commit.Event.Points,
		TokenId:     commit.Event.TokenId,
		ScoreBefore: commit.Event.ScoreBefore,
		ScoreAfter:  commit.Event.ScoreAfter,
		OccurredAt:  commit.Event.OccurredAt,
	}
	options := s.sessionOptions(session.ExpiresAt)

	err := s.Buntdb.Update(func(tx *buntdb.Tx) error {
		serialized, err := tx.Get(tokenKey(consumed.Id))
		if err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return arena.ErrTokenNotFound
			}
			return fmt.Errorf("get consumed token: %w", err)
		}
		var current ActionToken
		if err := json.Unmarshal([]byte(serialized), &current); err != nil {
			return fmt.Errorf("deserialize consumed token: %w", err)
		}
		// Commit point: exactly one of two racing submissions passes.
		if !current.Active {
			return arena.ErrTokenAlreadyUsed
		}

		if err := setJson(tx, tokenKey(consumed.Id), consumed, options); err != nil {
			return err
		}
		if err := setJson(tx, tokenKey(next.Id), next, options); err != nil {
			return err
		}
		if _, _, err := tx.Set(tokenActiveKey(session.Id), next.Id, options); err != nil {
			return fmt.Errorf("set active token pointer: %w", err)
		}
		if err := setJson(tx, sessionKey(session.Id), session, options); err != nil {
			return err
		}
		if err := setJson(tx, scoreKey(score.UserId), score, nil); err != nil {
			return err
		}
		return setJson(tx, eventKey(event), event, nil)
	})
	if err != nil {
		if errors.Is(err, arena.ErrTokenNotFound) || errors.Is(err, arena.ErrTokenAlreadyUsed) {
			return err
		}
		return fmt.Errorf("bunt update: %w", err)
	}
	return nil
}

func (s *GameStore) EndSession(ctx context.Context, session arena.Session, retired arena.ActionToken) (arena.Session, error) {
	record := sessionRecord(session)
	token := tokenRecord(retired)
	options := s.sessionOptions(record.ExpiresAt)

	err := s.Buntdb.Update(func(tx *buntdb.Tx) error {
		serialized, err := tx.Get(sessionKey(record.Id))
		if err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return arena.ErrSessionNotFound
			}
			return fmt.Errorf("get session: %w", err)
		}
		var current Session
		if err := json.Unmarshal([]byte(serialized), &current); err != nil {
			return fmt.Errorf("deserialize session: %w", err)
		}
		if !current.Active {
			return arena.ErrSessionNotFound
		}
		// An action may have committed after the caller read the session;
		// the stored counter is the authoritative one.
		record.ActionsCompleted = current.ActionsCompleted

		if err := setJson(tx, sessionKey(record.Id), record, options); err != nil {
			return err
		}
		if err := setJson(tx, tokenKey(token.Id), token, options); err != nil {
			return err
		}
		if _, err := tx.Delete(tokenActiveKey(record.Id)); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
			return fmt.Errorf("delete active token pointer: %w", err)
		}
		if _, err := tx.Delete(sessionActiveKey(record.UserId)); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
			return fmt.Errorf("delete active session pointer: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, arena.ErrSessionNotFound) {
			return arena.Session{}, arena.ErrSessionNotFound
		}
		return arena.Session{}, fmt.Errorf("bunt update: %w", err)
	}
	return record.ToDomain(), nil
}

func (s *GameStore) MarkExpired(ctx context.Context, session arena.Session) error {
	record := sessionRecord(session)
	record.Active = false
	options := s.sessionOptions(record.ExpiresAt)

	err := s.Buntdb.Update(func(tx *buntdb.Tx) error {
		if err := setJson(tx, sessionKey(record.Id), record, options); err != nil {
			return err
		}
		if tokenId, err := tx.Get(tokenActiveKey(record.Id)); err == nil {
			serialized, err := tx.Get(tokenKey(tokenId))
			if err == nil {
				var token ActionToken
				if err := json.Unmarshal([]byte(serialized), &token); err != nil {
					return fmt.Errorf("deserialize token: %w", err)
				}
				token.Active = false
				if err := setJson(tx, tokenKey(tokenId), token, options); err != nil {
					return err
				}
			}
			if _, err := tx.Delete(tokenActiveKey(record.Id)); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
				return fmt.Errorf("delete active token pointer: %w", err)
			}
		}
		current, err := tx.Get(sessionActiveKey(record.UserId))
		if err == nil && current == record.Id {
			if _, err := tx.Delete(sessionActiveKey(record.UserId)); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
				return fmt.Errorf("delete active session pointer: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bunt update: %w", err)
	}
	return nil
}

func (s *GameStore) Score(ctx context.Context, userId arena.UserId) (arena.UserScore, error) {
	var record UserScore
	err := s.Buntdb.View(func(tx *buntdb.Tx) error {
		serialized, err := tx.Get(scoreKey(int64(userId)))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(serialized), &record)
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return arena.UserScore{}, arena.ErrUserNotFound
		}
		return arena.UserScore{}, fmt.Errorf("bunt view: %w", err)
	}
	return record.ToDomain(), nil
}

func (s *GameStore) Scores(ctx context.Context) ([]arena.UserScore, error) {
	var scores []arena.UserScore
	var scanErr error
	err := s.Buntdb.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("score:*", func(key, value string) bool {
			var record UserScore
			if err := json.Unmarshal([]byte(value), &record); err != nil {
				scanErr = fmt.Errorf("deserialize %q: %w", key, err)
				return false
			}
			scores = append(scores, record.ToDomain())
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bunt view: %w", err)
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return scores, nil
}

func (s *GameStore) EventsByUserId(ctx context.Context, userId arena.UserId, limit int) ([]arena.ScoreEvent, error) {
	var events []arena.ScoreEvent
	var scanErr error
	pattern := fmt.Sprintf("event:%d:*", userId)
	err := s.Buntdb.View(func(tx *buntdb.Tx) error {
		return tx.DescendKeys(pattern, func(key, value string) bool {
			var record ScoreEvent
			if err := json.Unmarshal([]byte(value), &record); err != nil {
				scanErr = fmt.Errorf("deserialize %q: %w", key, err)
				return false
			}
			events = append(events, record.ToDomain())
			return limit <= 0 || len(events) < limit
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bunt view: %w", err)
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return events, nil
}

// PurgeExpired drops inactive sessions and their tokens past the grace
// window. The TTLs already reclaim them eventually; this sweep is for callers
// that want the storage back now.
func (s *GameStore) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	type doomed struct {
		key       string
		sessionId string
	}
	var sessions []doomed
	var tokens []string
	var scanErr error

	err := s.Buntdb.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("session:*", func(key, value string) bool {
			var record Session
			if err := json.Unmarshal([]byte(value), &record); err != nil {
				scanErr = fmt.Errorf("deserialize %q: %w", key, err)
				return false
			}
			if !record.Active && record.ExpiresAt.Before(before) {
				sessions = append(sessions, doomed{key: key, sessionId: record.Id})
			}
			return true
		})
	})
	if err != nil {
		return 0, fmt.Errorf("bunt view: %w", err)
	}
	if scanErr != nil {
		return 0, scanErr
	}
	if len(sessions) == 0 {
		return 0, nil
	}

	condemned := make(map[string]bool, len(sessions))
	for _, d := range sessions {
		condemned[d.sessionId] = true
	}
	err = s.Buntdb.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("token:*", func(key, value string) bool {
			var record ActionToken
			if err := json.Unmarshal([]byte(value), &record); err != nil {
				scanErr = fmt.Errorf("deserialize %q: %w", key, err)
				return false
			}
			if condemned[record.SessionId] {
				tokens = append(tokens, key)
			}
			return true
		})
	})
	if err != nil {
		return 0, fmt.Errorf("bunt view: %w", err)
	}
	if scanErr != nil {
		return 0, scanErr
	}

	purged := 0
	err = s.Buntdb.Update(func(tx *buntdb.Tx) error {
		for _, d := range sessions {
			if _, err := tx.Delete(d.key); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
				return fmt.Errorf("delete %q: %w", d.key, err)
			}
			purged++
		}
		for _, key := range tokens {
			if _, err := tx.Delete(key); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
				return fmt.Errorf("delete %q: %w", key, err)
			}
			purged++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bunt update: %w", err)
	}
	return purged, nil
}
