// Package gate is the entry point the transport layer calls. It sequences
// rate limiting, the token-gated score apply, the rank patch and the
// broadcast. The caller's response always reflects the state it just wrote;
// delivery to everyone else happens off the critical path.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	arena "github.com/clickarena/backend"
	"github.com/clickarena/backend/chain"
	"github.com/clickarena/backend/ledger"
	"github.com/sirupsen/logrus"
)

// MaxTopN caps leaderboard reads; the broadcast payload always carries ten.
const (
	MaxTopN            = 100
	broadcastTopSize   = 10
	broadcastQueueSize = 256
)

type Gate struct {
	Chain   *chain.Manager
	Ledger  *ledger.Ledger
	Rank    arena.RankIndex
	Hub     arena.Broadcaster
	Store   arena.GameStore
	Users   arena.UserStore // optional; nil degrades leaderboard names
	Limiter *Limiter

	// rankMu serializes rank patch + snapshot + enqueue so broadcast order
	// matches the order the rank index applied the commits.
	rankMu        sync.Mutex
	broadcastOnce sync.Once
	broadcasts    chan broadcastJob
}

// broadcastJob is one post-commit snapshot awaiting delivery. Jobs leave the
// queue in the order they were taken.
type broadcastJob struct {
	userId   arena.UserId
	top      []arena.RankedScore
	personal arena.PersonalUpdate
}

type StartSessionResult struct {
	SessionId string
	TokenId   string
	ExpiresAt time.Time
}

type SubmitActionResult struct {
	NewScore     int
	PointsEarned int
	Rank         int
	NewTokenId   string
	ExpiresAt    time.Time
}

type EndSessionResult struct {
	FinalScore       int
	ActionsCompleted int
	SessionDuration  time.Duration
}

type UserRankResult struct {
	UserId arena.UserId
	Score  int
	Rank   int
}

// Warm rebuilds the rank index from the ledger. Called once at startup.
func (g *Gate) Warm(ctx context.Context) error {
	scores, err := g.Store.Scores(ctx)
	if err != nil {
		return fmt.Errorf("load scores: %w", err)
	}
	g.rankMu.Lock()
	g.Rank.Rebuild(scores)
	g.rankMu.Unlock()
	return nil
}

func (g *Gate) StartSession(ctx context.Context, userId arena.UserId) (StartSessionResult, error) {
	if !g.Limiter.Allow(OpStartSession, userId) {
		return StartSessionResult{}, arena.ErrRateLimited
	}
	started, err := g.Chain.StartSession(ctx, userId)
	if err != nil {
		return StartSessionResult{}, err
	}
	return StartSessionResult{
		SessionId: started.Session.Id,
		TokenId:   started.Token.Id,
		ExpiresAt: started.Token.ExpiresAt,
	}, nil
}

// SubmitAction is the score mutation path: rate check, validate + rotate +
// apply as one commit, rank patch, then broadcast. The rank the caller gets
// back is computed after the commit, never before.
func (g *Gate) SubmitAction(ctx context.Context, userId arena.UserId, tokenId string, actionType arena.ActionType) (SubmitActionResult, error) {
	if !g.Limiter.Allow(OpSubmitAction, userId) {
		return SubmitActionResult{}, arena.ErrRateLimited
	}

	previousRank := 0
	if ranked, ok := g.Rank.RankOf(userId); ok {
		previousRank = ranked.Rank
	}

	applied, err := g.Ledger.ApplyAction(ctx, userId, tokenId, actionType)
	if err != nil {
		return SubmitActionResult{}, err
	}

	// Patch, snapshot and enqueue under one lock: subscribers receive
	// snapshots in the order the commits were applied to the index, and name
	// lookups stay on the worker, off this path.
	g.rankMu.Lock()
	g.Rank.Update(applied.Score)
	ranked, ok := g.Rank.RankOf(userId)
	if !ok {
		// The index was just patched with this user; missing means a
		// concurrent rebuild raced us, so fall back to a direct read.
		ranked = arena.RankedScore{UserId: userId, Score: applied.Score.Score}
	}
	personal := arena.PersonalUpdate{
		UserId:       userId,
		Score:        applied.Score.Score,
		Rank:         ranked.Rank,
		PointsEarned: applied.PointsEarned,
		PreviousRank: previousRank,
	}
	g.enqueueBroadcast(broadcastJob{
		userId:   userId,
		top:      g.Rank.TopN(broadcastTopSize),
		personal: personal,
	})
	g.rankMu.Unlock()

	return SubmitActionResult{
		NewScore:     applied.Score.Score,
		PointsEarned: applied.PointsEarned,
		Rank:         ranked.Rank,
		NewTokenId:   applied.NewTokenId,
		ExpiresAt:    applied.ExpiresAt,
	}, nil
}

func (g *Gate) EndSession(ctx context.Context, userId arena.UserId) (EndSessionResult, error) {
	ended, err := g.Chain.EndSession(ctx, userId)
	if err != nil {
		return EndSessionResult{}, err
	}

	final := 0
	score, err := g.Store.Score(ctx, userId)
	switch {
	case err == nil:
		final = score.Score
	case errors.Is(err, arena.ErrUserNotFound):
		// Session ended without a single accepted action.
	default:
		return EndSessionResult{}, fmt.Errorf("read final score: %w", err)
	}

	return EndSessionResult{
		FinalScore:       final,
		ActionsCompleted: ended.ActionsCompleted,
		SessionDuration:  ended.Duration,
	}, nil
}

func (g *Gate) TopN(ctx context.Context, n int) ([]arena.LeaderboardEntry, error) {
	if n <= 0 {
		n = broadcastTopSize
	}
	if n > MaxTopN {
		n = MaxTopN
	}
	return g.leaderboard(ctx, g.Rank.TopN(n)), nil
}

func (g *Gate) UserRank(ctx context.Context, userId arena.UserId) (UserRankResult, error) {
	ranked, ok := g.Rank.RankOf(userId)
	if !ok {
		return UserRankResult{}, arena.ErrUserNotFound
	}
	return UserRankResult{UserId: userId, Score: ranked.Score, Rank: ranked.Rank}, nil
}

// History returns the acting user's recent score events, newest first.
func (g *Gate) History(ctx context.Context, userId arena.UserId, limit int) ([]arena.ScoreEvent, error) {
	if limit <= 0 || limit > MaxTopN {
		limit = broadcastTopSize
	}
	events, err := g.Store.EventsByUserId(ctx, userId, limit)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

// enqueueBroadcast hands the snapshot to the delivery worker. Never blocks
// the mutation path: when the queue is full the update is dropped and the
// next action carries a fresher snapshot anyway.
func (g *Gate) enqueueBroadcast(job broadcastJob) {
	g.broadcastOnce.Do(func() {
		g.broadcasts = make(chan broadcastJob, broadcastQueueSize)
		go g.broadcastLoop()
	})
	select {
	case g.broadcasts <- job:
	default:
		logrus.
			WithField("user_id", job.userId).
			Warningln("Broadcast queue full, dropping update.")
	}
}

func (g *Gate) broadcastLoop() {
	for job := range g.broadcasts {
		update := arena.GlobalUpdate{
			Top:       g.leaderboard(context.Background(), job.top),
			Timestamp: time.Now().UTC().Unix(),
		}
		g.Hub.PublishGlobal(update)
		g.Hub.PublishPersonal(job.userId, job.personal)
	}
}

// leaderboard attaches display names to ranked scores when a registry is
// wired; a missing name leaves the bare user id.
func (g *Gate) leaderboard(ctx context.Context, ranked []arena.RankedScore) []arena.LeaderboardEntry {
	entries := make([]arena.LeaderboardEntry, len(ranked))
	for i, r := range ranked {
		entries[i] = arena.LeaderboardEntry{Rank: r.Rank, UserId: r.UserId, Score: r.Score}
	}
	if g.Users == nil || len(entries) == 0 {
		return entries
	}

	ids := make([]arena.UserId, len(ranked))
	for i, r := range ranked {
		ids[i] = r.UserId
	}
	names, err := g.Users.NamesByIds(ctx, ids)
	if err != nil {
		logrus.WithError(err).Warningln("Could not resolve leaderboard names.")
		return entries
	}
	for i := range entries {
		entries[i].Name = names[entries[i].UserId]
	}
	return entries
}
