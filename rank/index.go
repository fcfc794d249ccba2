// Package rank keeps a derived ordering of users by (score desc, userId asc).
// It is patched on every committed score change and can always be rebuilt
// from the ledger, so it is never treated as a source of truth.
package rank

import (
	"sync"

	arena "github.com/clickarena/backend"
	"github.com/tidwall/btree"
)

type entry struct {
	score  int
	userId arena.UserId
}

func entryLess(a, b entry) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.userId < b.userId
}

type Index struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[entry]
	byUser map[arena.UserId]int
}

var _ arena.RankIndex = (*Index)(nil)

func New() *Index {
	return &Index{
		tree:   btree.NewBTreeG(entryLess),
		byUser: map[arena.UserId]int{},
	}
}

func (i *Index) Update(score arena.UserScore) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if old, ok := i.byUser[score.UserId]; ok {
		i.tree.Delete(entry{score: old, userId: score.UserId})
	}
	i.tree.Set(entry{score: score.Score, userId: score.UserId})
	i.byUser[score.UserId] = score.Score
}

func (i *Index) TopN(n int) []arena.RankedScore {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	top := make([]arena.RankedScore, 0, n)
	i.tree.Scan(func(e entry) bool {
		top = append(top, arena.RankedScore{
			UserId: e.userId,
			Score:  e.score,
			Rank:   len(top) + 1,
		})
		return len(top) < n
	})
	return top
}

// RankOf walks the ordering until it reaches the user, which yields exactly
// 1 + users with a strictly higher score + tied users with a smaller id.
func (i *Index) RankOf(userId arena.UserId) (arena.RankedScore, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	score, ok := i.byUser[userId]
	if !ok {
		return arena.RankedScore{}, false
	}
	rank := 0
	i.tree.Scan(func(e entry) bool {
		rank++
		return e.userId != userId || e.score != score
	})
	return arena.RankedScore{UserId: userId, Score: score, Rank: rank}, true
}

func (i *Index) Rebuild(scores []arena.UserScore) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.tree = btree.NewBTreeG(entryLess)
	i.byUser = make(map[arena.UserId]int, len(scores))
	for _, s := range scores {
		i.tree.Set(entry{score: s.Score, userId: s.UserId})
		i.byUser[s.UserId] = s.Score
	}
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.byUser)
}
