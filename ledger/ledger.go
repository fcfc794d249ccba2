// Package ledger applies accepted actions to user scores. Point values come
// from a fixed table; the token rotation, the score write and the history
// append commit as one unit through the game store.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	arena "github.com/clickarena/backend"
	"github.com/clickarena/backend/chain"
	"github.com/google/uuid"
)

type Ledger struct {
	Store arena.GameStore
	Chain *chain.Manager
	Clock arena.Clock
}

type ApplyResult struct {
	Score        arena.UserScore
	PointsEarned int
	NewTokenId   string
	ExpiresAt    time.Time
	Event        arena.ScoreEvent
}

// ApplyAction validates and rotates the token, then commits the score change
// and the history event atomically with the rotation. Any failure leaves the
// score and history untouched.
func (l *Ledger) ApplyAction(ctx context.Context, userId arena.UserId, tokenId string, actionType arena.ActionType) (ApplyResult, error) {
	points, ok := arena.PointsFor(actionType)
	if !ok {
		return ApplyResult{}, arena.ErrInvalidActionType
	}

	rotation, err := l.Chain.ValidateAndRotate(ctx, userId, tokenId)
	if err != nil {
		return ApplyResult{}, err
	}

	now := l.Clock.Now()
	current, err := l.Store.Score(ctx, userId)
	if err != nil {
		if !errors.Is(err, arena.ErrUserNotFound) {
			return ApplyResult{}, fmt.Errorf("read score: %w", err)
		}
		current = arena.UserScore{UserId: userId}
	}

	score := arena.UserScore{
		UserId:    userId,
		Score:     current.Score + points,
		UpdatedAt: now,
	}
	event := arena.ScoreEvent{
		Id:          uuid.New().String(),
		UserId:      userId,
		ActionType:  actionType,
		Points:      points,
		TokenId:     rotation.Consumed.Id,
		ScoreBefore: current.Score,
		ScoreAfter:  score.Score,
		OccurredAt:  now,
	}

	commit := arena.ActionCommit{
		Session:  rotation.Session,
		Consumed: rotation.Consumed,
		Next:     rotation.Next,
		Score:    score,
		Event:    event,
	}
	if err := l.Store.CommitAction(ctx, commit); err != nil {
		return ApplyResult{}, err
	}

	return ApplyResult{
		Score:        score,
		PointsEarned: points,
		NewTokenId:   rotation.Next.Id,
		ExpiresAt:    rotation.Next.ExpiresAt,
		Event:        event,
	}, nil
}
