package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	arena "github.com/clickarena/backend"
	"github.com/clickarena/backend/chain"
	"github.com/clickarena/backend/inmem"
	"github.com/clickarena/backend/mock"
	"github.com/stretchr/testify/assert"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger() (*Ledger, *inmem.GameStore, *mock.Clock) {
	store := inmem.NewGameStore()
	clock := mock.NewClock(testStart)
	manager := &chain.Manager{Store: store, Clock: clock}
	return &Ledger{Store: store, Chain: manager, Clock: clock}, store, clock
}

func TestApplyAction(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	ledger, store, _ := newTestLedger()

	started, err := ledger.Chain.StartSession(ctx, 100)
	if !assert.NoError(err) {
		return
	}

	applied, err := ledger.ApplyAction(ctx, 100, started.Token.Id, arena.ActionWatchAd)
	if !assert.NoError(err) {
		return
	}
	assert.Equal(10, applied.PointsEarned)
	assert.Equal(10, applied.Score.Score)
	assert.NotEqual(started.Token.Id, applied.NewTokenId)
	assert.Equal(started.Session.ExpiresAt, applied.ExpiresAt)

	// ledger and history agree
	score, err := store.Score(ctx, 100)
	if assert.NoError(err) {
		assert.Equal(10, score.Score)
	}
	events, err := store.EventsByUserId(ctx, 100, 10)
	if assert.NoError(err) && assert.Len(events, 1) {
		assert.Equal(arena.ActionWatchAd, events[0].ActionType)
		assert.Equal(0, events[0].ScoreBefore)
		assert.Equal(10, events[0].ScoreAfter)
		assert.Equal(started.Token.Id, events[0].TokenId)
	}

	// chained action accumulates
	applied2, err := ledger.ApplyAction(ctx, 100, applied.NewTokenId, arena.ActionCompleteLevel)
	if !assert.NoError(err) {
		return
	}
	assert.Equal(30, applied2.Score.Score)
}

func TestApplyActionInvalidType(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	ledger, store, _ := newTestLedger()

	started, err := ledger.Chain.StartSession(ctx, 100)
	if !assert.NoError(err) {
		return
	}

	_, err = ledger.ApplyAction(ctx, 100, started.Token.Id, "grand_theft")
	assert.ErrorIs(err, arena.ErrInvalidActionType)

	// rejected before any mutation: the token is still usable
	token, err := store.TokenById(ctx, started.Token.Id)
	if assert.NoError(err) {
		assert.True(token.Active)
	}
}

// A failed submit leaves no trace: no score, no history entry.
func TestApplyActionAllOrNothing(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	ledger, store, clock := newTestLedger()

	started, err := ledger.Chain.StartSession(ctx, 100)
	if !assert.NoError(err) {
		return
	}
	applied, err := ledger.ApplyAction(ctx, 100, started.Token.Id, arena.ActionWatchAd)
	if !assert.NoError(err) {
		return
	}

	failures := []struct {
		tokenId    string
		actionType arena.ActionType
		wantErr    error
	}{
		{"tok_missing", arena.ActionWatchAd, arena.ErrTokenNotFound},
		{started.Token.Id, arena.ActionWatchAd, arena.ErrTokenAlreadyUsed},
		{applied.NewTokenId, "bogus", arena.ErrInvalidActionType},
	}
	for _, failure := range failures {
		_, err := ledger.ApplyAction(ctx, 100, failure.tokenId, failure.actionType)
		assert.ErrorIs(err, failure.wantErr)
	}

	// session expiry also aborts cleanly
	clock.Advance(chain.DefaultSessionDuration + time.Second)
	_, err = ledger.ApplyAction(ctx, 100, applied.NewTokenId, arena.ActionWatchAd)
	assert.ErrorIs(err, arena.ErrSessionExpired)

	score, err := store.Score(ctx, 100)
	if assert.NoError(err) {
		assert.Equal(10, score.Score)
	}
	events, err := store.EventsByUserId(ctx, 100, 100)
	if assert.NoError(err) {
		assert.Len(events, 1)
	}
}

// N racing submissions of one token: exactly one success, one increment.
func TestApplyActionRace(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	ledger, store, _ := newTestLedger()

	started, err := ledger.Chain.StartSession(ctx, 100)
	if !assert.NoError(err) {
		return
	}

	const racers = 32
	var wg sync.WaitGroup
	errs := make([]error, racers)
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ledger.ApplyAction(ctx, 100, started.Token.Id, arena.ActionWatchAd)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(err, arena.ErrTokenAlreadyUsed)
		}
	}
	assert.Equal(1, successes)

	score, err := store.Score(ctx, 100)
	if assert.NoError(err) {
		assert.Equal(10, score.Score)
	}
	events, err := store.EventsByUserId(ctx, 100, 100)
	if assert.NoError(err) {
		assert.Len(events, 1)
	}
}
