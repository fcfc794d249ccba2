package persistent

import (
	"context"
	"testing"

	arena "github.com/clickarena/backend"
	"github.com/clickarena/backend/pgdb"
	"github.com/stretchr/testify/assert"
)

func TestUserStore(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
		return
	}
	assert := assert.New(t)
	ctx := context.Background()
	db := pgdb.OpenTest(ctx)
	defer db.Close()

	_, err := db.NewDelete().
		Model((*User)(nil)).
		Where("1=1").
		Exec(ctx)
	if !assert.NoError(err) {
		return
	}

	store := &UserStore{DB: db}

	if !assert.NoError(store.Upsert(ctx, arena.User{Id: 100, Name: "sniezny"})) {
		return
	}
	if !assert.NoError(store.Upsert(ctx, arena.User{Id: 200, Name: "makin"})) {
		return
	}

	user, err := store.ById(ctx, 100)
	if assert.NoError(err) {
		assert.Equal("sniezny", user.Name)
	}

	// upsert on the same id replaces the name
	if !assert.NoError(store.Upsert(ctx, arena.User{Id: 100, Name: "sniezny2"})) {
		return
	}
	user, err = store.ById(ctx, 100)
	if assert.NoError(err) {
		assert.Equal("sniezny2", user.Name)
	}

	_, err = store.ById(ctx, 999)
	assert.ErrorIs(err, arena.ErrUserNotFound)

	names, err := store.NamesByIds(ctx, []arena.UserId{100, 200, 999})
	if assert.NoError(err) {
		assert.Equal(map[arena.UserId]string{100: "sniezny2", 200: "makin"}, names)
	}

	names, err = store.NamesByIds(ctx, nil)
	if assert.NoError(err) {
		assert.Empty(names)
	}
}
