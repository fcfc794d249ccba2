package rank

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	arena "github.com/clickarena/backend"
	"github.com/stretchr/testify/assert"
)

func score(userId arena.UserId, points int) arena.UserScore {
	return arena.UserScore{UserId: userId, Score: points, UpdatedAt: time.Now()}
}

func TestTopN(t *testing.T) {
	assert := assert.New(t)
	index := New()

	index.Update(score(1, 50))
	index.Update(score(2, 80))
	index.Update(score(3, 20))
	index.Update(score(4, 80))

	top := index.TopN(3)
	if !assert.Len(top, 3) {
		return
	}
	// ties rank by ascending user id
	assert.Equal(arena.RankedScore{UserId: 2, Score: 80, Rank: 1}, top[0])
	assert.Equal(arena.RankedScore{UserId: 4, Score: 80, Rank: 2}, top[1])
	assert.Equal(arena.RankedScore{UserId: 1, Score: 50, Rank: 3}, top[2])

	// stable across repeated reads with no writes in between
	assert.Equal(top, index.TopN(3))

	assert.Len(index.TopN(100), 4)
	assert.Empty(index.TopN(0))
}

func TestRankOf(t *testing.T) {
	assert := assert.New(t)
	index := New()

	index.Update(score(1, 50))
	index.Update(score(2, 80))
	index.Update(score(3, 50))

	ranked, ok := index.RankOf(2)
	if assert.True(ok) {
		assert.Equal(1, ranked.Rank)
	}
	ranked, ok = index.RankOf(1)
	if assert.True(ok) {
		assert.Equal(2, ranked.Rank)
	}
	ranked, ok = index.RankOf(3)
	if assert.True(ok) {
		assert.Equal(3, ranked.Rank)
	}

	_, ok = index.RankOf(99)
	assert.False(ok)
}

func TestUpdateReplacesOldEntry(t *testing.T) {
	assert := assert.New(t)
	index := New()

	index.Update(score(1, 10))
	index.Update(score(2, 20))
	index.Update(score(1, 30))

	assert.Equal(2, index.Len())
	ranked, ok := index.RankOf(1)
	if assert.True(ok) {
		assert.Equal(30, ranked.Score)
		assert.Equal(1, ranked.Rank)
	}
}

// rank(u) == 1 + users with strictly higher score + tied users with smaller id
func TestRankFormula(t *testing.T) {
	assert := assert.New(t)
	index := New()

	rng := rand.New(rand.NewSource(42))
	scores := map[arena.UserId]int{}
	for userId := arena.UserId(1); userId <= 200; userId++ {
		points := rng.Intn(20) * 5
		scores[userId] = points
		index.Update(score(userId, points))
	}

	for userId, points := range scores {
		expected := 1
		for otherId, otherPoints := range scores {
			if otherPoints > points || (otherPoints == points && otherId < userId) {
				expected++
			}
		}
		ranked, ok := index.RankOf(userId)
		if assert.True(ok) {
			assert.Equal(expected, ranked.Rank, "user %d", userId)
		}
	}

	// the full ordering agrees with a plain sort
	top := index.TopN(len(scores))
	sorted := make([]arena.RankedScore, 0, len(scores))
	for userId, points := range scores {
		sorted = append(sorted, arena.RankedScore{UserId: userId, Score: points})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].UserId < sorted[j].UserId
	})
	for i := range sorted {
		sorted[i].Rank = i + 1
	}
	assert.Equal(sorted, top)
}

func TestRebuild(t *testing.T) {
	assert := assert.New(t)
	index := New()

	index.Update(score(1, 10))
	index.Update(score(2, 20))

	index.Rebuild([]arena.UserScore{score(5, 100), score(6, 200)})

	assert.Equal(2, index.Len())
	_, ok := index.RankOf(1)
	assert.False(ok)
	ranked, ok := index.RankOf(6)
	if assert.True(ok) {
		assert.Equal(1, ranked.Rank)
	}
}
