package persistent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	arena "github.com/clickarena/backend"
	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:player"`

	Id        int64     `bun:",pk"`
	Name      string    `bun:",notnull"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

func (u User) ToDomain() arena.User {
	return arena.User{
		Id:        arena.UserId(u.Id),
		Name:      u.Name,
		CreatedAt: u.CreatedAt,
	}
}

// UserStore is the durable player registry. Identity verification happens
// outside this service; the registry only keeps display names for
// leaderboard output.
type UserStore struct {
	DB *bun.DB
}

var _ arena.UserStore = (*UserStore)(nil)

func (s *UserStore) Upsert(ctx context.Context, user arena.User) error {
	record := &User{
		Id:        int64(user.Id),
		Name:      user.Name,
		CreatedAt: user.CreatedAt,
	}
	_, err := s.DB.NewInsert().
		Model(record).
		On(`CONFLICT (id) DO UPDATE SET name=EXCLUDED.name`).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

func (s *UserStore) ById(ctx context.Context, userId arena.UserId) (arena.User, error) {
	record := new(User)
	err := s.DB.NewSelect().
		Model(record).
		Where(`id=?`, int64(userId)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return arena.User{}, arena.ErrUserNotFound
		}
		return arena.User{}, fmt.Errorf("select player: %w", err)
	}
	return record.ToDomain(), nil
}

func (s *UserStore) NamesByIds(ctx context.Context, userIds []arena.UserId) (map[arena.UserId]string, error) {
	if len(userIds) == 0 {
		return map[arena.UserId]string{}, nil
	}
	ids := make([]int64, len(userIds))
	for i, id := range userIds {
		ids[i] = int64(id)
	}

	var records []User
	err := s.DB.NewSelect().
		Model(&records).
		Where(`id IN (?)`, bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select players: %w", err)
	}

	names := make(map[arena.UserId]string, len(records))
	for _, record := range records {
		names[arena.UserId(record.Id)] = record.Name
	}
	return names, nil
}
