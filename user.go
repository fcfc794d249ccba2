package arena

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUnauthenticated = errors.New("unauthenticated")
)

type UserId int64

// User is the player registry entry. Registration and credential handling
// live outside this service; the registry only maps a verified identity to a
// display name for leaderboard output.
type User struct {
	Id        UserId
	Name      string
	CreatedAt time.Time
}

type UserStore interface {
	Upsert(ctx context.Context, user User) error

	ById(ctx context.Context, userId UserId) (User, error)

	NamesByIds(ctx context.Context, userIds []UserId) (map[UserId]string, error)
}

// IdentityVerifier resolves a bearer credential to a verified user id.
// Credential issuance and verification are external; this is the whole
// contract the core needs from them.
type IdentityVerifier func(ctx context.Context, bearer string) (UserId, error)
