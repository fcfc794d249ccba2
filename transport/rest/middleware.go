package rest

import (
	"errors"
	"fmt"
	"strings"

	arena "github.com/clickarena/backend"
	"github.com/gofiber/fiber/v2"
)

const userLocalsKey = "user_id"

// RequestAuthorizer resolves the bearer credential to a verified user id
// through the injected verifier and stores it in locals. Credential issuance
// and verification live outside this service.
func RequestAuthorizer(verify arena.IdentityVerifier) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		auth := ctx.Get(fiber.HeaderAuthorization)
		if auth == "" {
			return fiber.ErrUnauthorized
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			return fiber.NewError(fiber.ErrBadRequest.Code, "invalid auth type")
		}
		bearer := strings.TrimPrefix(auth, "Bearer ")

		userId, err := verify(ctx.Context(), bearer)
		if err != nil {
			if errors.Is(err, arena.ErrUnauthenticated) {
				return fiber.ErrUnauthorized
			}
			return fmt.Errorf("verify identity: %w", err)
		}

		ctx.Locals(userLocalsKey, userId)
		return nil
	}
}

func requestUserId(ctx *fiber.Ctx) (arena.UserId, bool) {
	userId, ok := ctx.Locals(userLocalsKey).(arena.UserId)
	return userId, ok
}
