// Package chain owns the session-scoped one-time-use token chain. A session
// carries one fixed expiry instant; every token issued within it inherits that
// instant verbatim, so no action can extend play time. At most one token per
// session is active, and a consumed token never comes back.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	arena "github.com/clickarena/backend"
)

const DefaultSessionDuration = 30 * time.Minute

type Manager struct {
	Store           arena.GameStore
	Clock           arena.Clock
	SessionDuration time.Duration
}

func (m *Manager) sessionDuration() time.Duration {
	if m.SessionDuration > 0 {
		return m.SessionDuration
	}
	return DefaultSessionDuration
}

type StartResult struct {
	Session arena.Session
	Token   arena.ActionToken
}

// Rotation is a prepared, not yet committed, token hand-over: the consumed
// token, its successor and the session with its action count bumped. The
// ledger folds the score delta in and commits everything at once.
type Rotation struct {
	Session  arena.Session
	Consumed arena.ActionToken
	Next     arena.ActionToken
}

// EndResult summarizes an explicitly ended session.
type EndResult struct {
	Session          arena.Session
	ActionsCompleted int
	Duration         time.Duration
}

func (m *Manager) StartSession(ctx context.Context, userId arena.UserId) (StartResult, error) {
	now := m.Clock.Now()

	existing, err := m.Store.ActiveSession(ctx, userId)
	switch {
	case err == nil:
		if !existing.Expired(now) {
			return StartResult{}, arena.ErrSessionAlreadyActive
		}
		// Lazy expiry: the previous session ran out without an explicit end.
		if err := m.Store.MarkExpired(ctx, existing); err != nil {
			return StartResult{}, fmt.Errorf("mark expired session: %w", err)
		}
	case errors.Is(err, arena.ErrSessionNotFound):
	default:
		return StartResult{}, fmt.Errorf("lookup active session: %w", err)
	}

	sessionId, err := newSessionId()
	if err != nil {
		return StartResult{}, fmt.Errorf("generate session id: %w", err)
	}
	session := arena.Session{
		Id:        sessionId,
		UserId:    userId,
		CreatedAt: now,
		ExpiresAt: now.Add(m.sessionDuration()),
		Active:    true,
	}
	token, err := m.issueToken(session, now)
	if err != nil {
		return StartResult{}, err
	}

	if err := m.Store.CreateSession(ctx, session, token); err != nil {
		return StartResult{}, err
	}
	return StartResult{Session: session, Token: token}, nil
}

// ValidateAndRotate runs the security checks in their fixed order and fails
// fast on the first violation: token exists, token belongs to the caller,
// token unconsumed, session alive. On success it prepares the rotation; the
// store commit (done by the caller) is the point where a concurrent race on
// the same token is decided.
func (m *Manager) ValidateAndRotate(ctx context.Context, userId arena.UserId, tokenId string) (Rotation, error) {
	now := m.Clock.Now()

	token, err := m.Store.TokenById(ctx, tokenId)
	if err != nil {
		if errors.Is(err, arena.ErrTokenNotFound) {
			return Rotation{}, arena.ErrTokenNotFound
		}
		return Rotation{}, fmt.Errorf("lookup token: %w", err)
	}
	// Do not reveal that the token belongs to someone else.
	if token.UserId != userId {
		return Rotation{}, arena.ErrInvalidToken
	}
	if !token.Active {
		return Rotation{}, arena.ErrTokenAlreadyUsed
	}

	session, err := m.Store.SessionById(ctx, token.SessionId)
	if err != nil {
		return Rotation{}, fmt.Errorf("lookup session %q: %w", token.SessionId, err)
	}
	if !session.Active {
		return Rotation{}, arena.ErrSessionExpired
	}
	if session.Expired(now) {
		if err := m.Store.MarkExpired(ctx, session); err != nil {
			return Rotation{}, fmt.Errorf("mark expired session: %w", err)
		}
		return Rotation{}, arena.ErrSessionExpired
	}

	token.Active = false
	token.ConsumedAt = now
	next, err := m.issueToken(session, now)
	if err != nil {
		return Rotation{}, err
	}
	session.ActionsCompleted++

	return Rotation{Session: session, Consumed: token, Next: next}, nil
}

// EndSession retires the current token without a successor and flips the
// session inactive. Ending a session that is gone, ended or expired fails
// with ErrSessionNotFound.
func (m *Manager) EndSession(ctx context.Context, userId arena.UserId) (EndResult, error) {
	now := m.Clock.Now()

	session, err := m.Store.ActiveSession(ctx, userId)
	if err != nil {
		if errors.Is(err, arena.ErrSessionNotFound) {
			return EndResult{}, arena.ErrSessionNotFound
		}
		return EndResult{}, fmt.Errorf("lookup active session: %w", err)
	}
	if session.Expired(now) {
		if err := m.Store.MarkExpired(ctx, session); err != nil {
			return EndResult{}, fmt.Errorf("mark expired session: %w", err)
		}
		return EndResult{}, arena.ErrSessionNotFound
	}

	token, err := m.Store.ActiveTokenBySession(ctx, session.Id)
	if err != nil {
		return EndResult{}, fmt.Errorf("lookup active token: %w", err)
	}
	token.Active = false
	token.ConsumedAt = now

	session.Active = false
	session.EndedAt = now

	// The store hands back the session it actually persisted; its action
	// counter may be ahead of the copy read above.
	persisted, err := m.Store.EndSession(ctx, session, token)
	if err != nil {
		return EndResult{}, err
	}
	return EndResult{
		Session:          persisted,
		ActionsCompleted: persisted.ActionsCompleted,
		Duration:         now.Sub(persisted.CreatedAt),
	}, nil
}

// issueToken creates a token inheriting the session's expiry. Copied, never
// recomputed: recomputing per token would quietly extend play time.
func (m *Manager) issueToken(session arena.Session, now time.Time) (arena.ActionToken, error) {
	id, err := newTokenId()
	if err != nil {
		return arena.ActionToken{}, fmt.Errorf("generate token id: %w", err)
	}
	return arena.ActionToken{
		Id:        id,
		SessionId: session.Id,
		UserId:    session.UserId,
		IssuedAt:  now,
		ExpiresAt: session.ExpiresAt,
		Active:    true,
	}, nil
}
