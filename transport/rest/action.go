package rest

import (
	"errors"
	"fmt"

	arena "github.com/clickarena/backend"
	"github.com/clickarena/backend/gate"
	"github.com/gofiber/fiber/v2"
)

type ActionController struct {
	Gate *gate.Gate
}

func (c *ActionController) InstallTo(requestAuthorizer fiber.Handler, app *fiber.App) {
	app.Post("/actions", combineHandlers(requestAuthorizer, c.serveSubmitAction))
}

func (c *ActionController) serveSubmitAction(ctx *fiber.Ctx) error {
	userId, ok := requestUserId(ctx)
	if !ok {
		return fiber.ErrUnauthorized
	}

	body := struct {
		TokenId    string `json:"tokenId"`
		ActionType string `json:"actionType"`
		Points     *int   `json:"points"`
	}{}
	if err := ctx.BodyParser(&body); err != nil {
		requestLog(ctx).WithError(err).Infoln("Invalid body.")
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if body.TokenId == "" {
		return fiber.NewError(fiber.StatusBadRequest, "no token id")
	}

	actionType := arena.ActionType(body.ActionType)
	points, known := arena.PointsFor(actionType)
	if !known {
		return fiber.NewError(fiber.StatusBadRequest, "invalid action type")
	}
	// Points come from the fixed table only. A caller asserting its own
	// value is rejected, never silently corrected.
	if body.Points != nil && *body.Points != points {
		return fiber.NewError(fiber.StatusBadRequest, "points mismatch")
	}

	result, err := c.Gate.SubmitAction(ctx.Context(), userId, body.TokenId, actionType)
	if err != nil {
		switch {
		case errors.Is(err, arena.ErrRateLimited):
			return fiber.NewError(fiber.StatusTooManyRequests, err.Error())
		case errors.Is(err, arena.ErrInvalidActionType):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.Is(err, arena.ErrTokenNotFound),
			errors.Is(err, arena.ErrInvalidToken),
			errors.Is(err, arena.ErrTokenAlreadyUsed),
			errors.Is(err, arena.ErrSessionExpired):
			// Authorization failures: the client has to start over.
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		default:
			return fmt.Errorf("submit action: %w", err)
		}
	}

	return ctx.JSON(map[string]interface{}{
		"newScore":     result.NewScore,
		"pointsEarned": result.PointsEarned,
		"rank":         result.Rank,
		"newTokenId":   result.NewTokenId,
		"expiresAt":    result.ExpiresAt.Unix(),
	})
}
