package arena

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSessionAlreadyActive = errors.New("session already active")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionExpired       = errors.New("session expired")
	ErrTokenNotFound        = errors.New("token not found")
	ErrInvalidToken         = errors.New("invalid token")
	ErrTokenAlreadyUsed     = errors.New("token already used")
)

// Session is a bounded window of play for one user. ExpiresAt is fixed at
// creation and never extended by later activity.
type Session struct {
	Id               string
	UserId           UserId
	CreatedAt        time.Time
	ExpiresAt        time.Time
	EndedAt          time.Time
	Active           bool
	ActionsCompleted int
}

func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ActionToken proves the right to submit exactly one scoring action. Its
// ExpiresAt is copied verbatim from the owning session at issuance, so every
// token in a chain shares the session's expiry instant.
type ActionToken struct {
	Id         string
	SessionId  string
	UserId     UserId
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Active     bool
	ConsumedAt time.Time
}

// ActionCommit is the single atomic unit a successful action produces:
// the consumed token, its successor, the bumped session, the new score and
// the appended history event. Stores apply it all-or-nothing, with the
// consumed token's active flag as the compare-and-swap commit point.
type ActionCommit struct {
	Session  Session
	Consumed ActionToken
	Next     ActionToken
	Score    UserScore
	Event    ScoreEvent
}

type GameStore interface {
	// CreateSession persists a session and its first token as one unit.
	// Fails with ErrSessionAlreadyActive if the user already has one.
	CreateSession(ctx context.Context, session Session, first ActionToken) error

	ActiveSession(ctx context.Context, userId UserId) (Session, error)

	SessionById(ctx context.Context, sessionId string) (Session, error)

	TokenById(ctx context.Context, tokenId string) (ActionToken, error)

	ActiveTokenBySession(ctx context.Context, sessionId string) (ActionToken, error)

	// CommitAction applies the commit atomically. Returns ErrTokenAlreadyUsed
	// when the consumed token is no longer active (a concurrent caller won).
	CommitAction(ctx context.Context, commit ActionCommit) error

	// EndSession persists the ended session and its retired token (no
	// successor). The stored action counter wins over the caller's copy, so
	// a commit landing between the caller's read and this write still
	// counts. Returns the persisted session, or ErrSessionNotFound if the
	// session is no longer active.
	EndSession(ctx context.Context, session Session, retired ActionToken) (Session, error)

	// MarkExpired flips an expired session inactive; detected lazily at
	// validation time, never by a timer.
	MarkExpired(ctx context.Context, session Session) error

	Score(ctx context.Context, userId UserId) (UserScore, error)

	Scores(ctx context.Context) ([]UserScore, error)

	// EventsByUserId returns the user's most recent score events, newest first.
	EventsByUserId(ctx context.Context, userId UserId, limit int) ([]ScoreEvent, error)

	// PurgeExpired removes inactive sessions and tokens whose expiry passed
	// before the given instant. Returns how many records were dropped.
	PurgeExpired(ctx context.Context, before time.Time) (int, error)
}
