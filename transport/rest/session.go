package rest

import (
	"errors"
	"fmt"

	arena "github.com/clickarena/backend"
	"github.com/clickarena/backend/gate"
	"github.com/gofiber/fiber/v2"
)

type SessionController struct {
	Gate *gate.Gate
}

func (c *SessionController) InstallTo(requestAuthorizer fiber.Handler, app *fiber.App) {
	app.Post("/session", combineHandlers(requestAuthorizer, c.serveStartSession))
	app.Delete("/session", combineHandlers(requestAuthorizer, c.serveEndSession))
}

func (c *SessionController) serveStartSession(ctx *fiber.Ctx) error {
	userId, ok := requestUserId(ctx)
	if !ok {
		return fiber.ErrUnauthorized
	}

	started, err := c.Gate.StartSession(ctx.Context(), userId)
	if err != nil {
		switch {
		case errors.Is(err, arena.ErrRateLimited):
			return fiber.NewError(fiber.StatusTooManyRequests, err.Error())
		case errors.Is(err, arena.ErrSessionAlreadyActive):
			return fiber.NewError(fiber.StatusConflict, err.Error())
		default:
			return fmt.Errorf("start session: %w", err)
		}
	}

	requestLog(ctx).
		WithField("user_id", userId).
		WithField("session_id", started.SessionId).
		Infoln("Session started.")
	return ctx.Status(fiber.StatusCreated).JSON(map[string]interface{}{
		"tokenId":   started.TokenId,
		"expiresAt": started.ExpiresAt.Unix(),
	})
}

func (c *SessionController) serveEndSession(ctx *fiber.Ctx) error {
	userId, ok := requestUserId(ctx)
	if !ok {
		return fiber.ErrUnauthorized
	}

	ended, err := c.Gate.EndSession(ctx.Context(), userId)
	if err != nil {
		if errors.Is(err, arena.ErrSessionNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return fmt.Errorf("end session: %w", err)
	}

	return ctx.JSON(map[string]interface{}{
		"finalScore":             ended.FinalScore,
		"actionsCompleted":       ended.ActionsCompleted,
		"sessionDurationSeconds": int64(ended.SessionDuration.Seconds()),
	})
}
