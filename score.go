package arena

import (
	"errors"
	"time"
)

var (
	ErrInvalidActionType = errors.New("invalid action type")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

type ActionType string

const (
	ActionWatchAd       ActionType = "watch_ad"
	ActionSolvePuzzle   ActionType = "solve_puzzle"
	ActionCompleteLevel ActionType = "complete_level"
	ActionDailyBonus    ActionType = "daily_bonus"
)

// Fixed point table. Clients never choose point values; an asserted value
// that disagrees with this table is rejected, never corrected.
var actionPoints = map[ActionType]int{
	ActionWatchAd:       10,
	ActionSolvePuzzle:   15,
	ActionCompleteLevel: 20,
	ActionDailyBonus:    5,
}

func PointsFor(actionType ActionType) (int, bool) {
	points, ok := actionPoints[actionType]
	return points, ok
}

// UserScore is the authoritative current score. It only ever grows: every
// action type awards a positive amount.
type UserScore struct {
	UserId    UserId
	Score     int
	UpdatedAt time.Time
}

// ScoreEvent is one accepted action. Append-only, never mutated or deleted.
type ScoreEvent struct {
	Id          string
	UserId      UserId
	ActionType  ActionType
	Points      int
	TokenId     string
	ScoreBefore int
	ScoreAfter  int
	OccurredAt  time.Time
}
