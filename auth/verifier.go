// Package auth adapts the external credential service to the one contract
// the core needs: bearer string in, verified user id out.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	arena "github.com/clickarena/backend"
	"github.com/gofiber/fiber/v2"
)

// RestIntrospectVerifier asks the external auth service to introspect the
// bearer. Anything but 200 with a user id means the caller is not
// authenticated.
func RestIntrospectVerifier(introspectUrl string) arena.IdentityVerifier {
	return func(ctx context.Context, bearer string) (arena.UserId, error) {
		agent := fiber.AcquireAgent()
		defer fiber.ReleaseAgent(agent)

		req := agent.Request()
		req.Header.SetMethod(fiber.MethodPost)
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+bearer)
		req.SetRequestURI(introspectUrl)

		if err := agent.Parse(); err != nil {
			return 0, fmt.Errorf("agent parse: %w", err)
		}

		statusCode, bodyBytes, errArr := agent.Bytes()
		if len(errArr) != 0 {
			return 0, fmt.Errorf("agent bytes: %v", errArr)
		}
		switch statusCode {
		case fiber.StatusOK:
		case fiber.StatusUnauthorized, fiber.StatusForbidden:
			return 0, arena.ErrUnauthenticated
		default:
			return 0, fmt.Errorf("introspect status: %d", statusCode)
		}

		var response struct {
			UserId int64 `json:"userId"`
		}
		if err := json.Unmarshal(bodyBytes, &response); err != nil {
			return 0, fmt.Errorf("response unmarshal: %w", err)
		}
		if response.UserId == 0 {
			return 0, arena.ErrUnauthenticated
		}
		return arena.UserId(response.UserId), nil
	}
}

// DevVerifier accepts bearers of the form "dev:<userId>". Local runs only.
func DevVerifier() arena.IdentityVerifier {
	return func(ctx context.Context, bearer string) (arena.UserId, error) {
		raw, ok := cutPrefix(bearer, "dev:")
		if !ok {
			return 0, arena.ErrUnauthenticated
		}
		userId, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userId <= 0 {
			return 0, arena.ErrUnauthenticated
		}
		return arena.UserId(userId), nil
	}
}

func cutPrefix(s, prefix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return s, false
	}
	return strings.TrimPrefix(s, prefix), true
}
