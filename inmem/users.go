package inmem

import (
	"context"
	"sync"

	arena "github.com/clickarena/backend"
)

type UserStore struct {
	mu    sync.RWMutex
	users map[arena.UserId]arena.User
}

var _ arena.UserStore = (*UserStore)(nil)

func NewUserStore() *UserStore {
	return &UserStore{users: map[arena.UserId]arena.User{}}
}

func (s *UserStore) Upsert(ctx context.Context, user arena.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.Id] = user
	return nil
}

func (s *UserStore) ById(ctx context.Context, userId arena.UserId) (arena.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userId]
	if !ok {
		return arena.User{}, arena.ErrUserNotFound
	}
	return user, nil
}

func (s *UserStore) NamesByIds(ctx context.Context, userIds []arena.UserId) (map[arena.UserId]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make(map[arena.UserId]string, len(userIds))
	for _, id := range userIds {
		if user, ok := s.users[id]; ok {
			names[id] = user.Name
		}
	}
	return names, nil
}
