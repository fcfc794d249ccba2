package rest

import (
	"errors"
	"fmt"
	"strconv"

	arena "github.com/clickarena/backend"
	"github.com/clickarena/backend/gate"
	"github.com/gofiber/fiber/v2"
)

type LeaderboardController struct {
	Gate *gate.Gate
}

func (c *LeaderboardController) InstallTo(requestAuthorizer fiber.Handler, app *fiber.App) {
	app.Get("/leaderboard", c.serveLeaderboard)
	app.Get("/rank/:user_id", c.serveUserRank)
	app.Get("/history", combineHandlers(requestAuthorizer, c.serveHistory))
}

func (c *LeaderboardController) serveLeaderboard(ctx *fiber.Ctx) error {
	limit := 0
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}

	entries, err := c.Gate.TopN(ctx.Context(), limit)
	if err != nil {
		return fmt.Errorf("top n: %w", err)
	}
	return ctx.JSON(entries)
}

func (c *LeaderboardController) serveUserRank(ctx *fiber.Ctx) error {
	raw := ctx.Params("user_id")
	if raw == "" {
		return fiber.NewError(fiber.StatusBadRequest, "no user id")
	}
	userId, err := strconv.ParseInt(raw, 10, 0)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid user id")
	}

	ranked, err := c.Gate.UserRank(ctx.Context(), arena.UserId(userId))
	if err != nil {
		if errors.Is(err, arena.ErrUserNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		return fmt.Errorf("user rank: %w", err)
	}
	return ctx.JSON(map[string]interface{}{
		"userId": ranked.UserId,
		"score":  ranked.Score,
		"rank":   ranked.Rank,
	})
}

func (c *LeaderboardController) serveHistory(ctx *fiber.Ctx) error {
	userId, ok := requestUserId(ctx)
	if !ok {
		return fiber.ErrUnauthorized
	}

	limit := 0
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}

	events, err := c.Gate.History(ctx.Context(), userId, limit)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	type EventMeta struct {
		ActionType   string `json:"actionType"`
		PointsEarned int    `json:"pointsEarned"`
		ScoreAfter   int    `json:"scoreAfter"`
		OccurredAt   int64  `json:"occurredAt"`
	}
	// History never echoes token ids back to the client.
	metas := make([]EventMeta, len(events))
	for i, event := range events {
		metas[i] = EventMeta{
			ActionType:   string(event.ActionType),
			PointsEarned: event.Points,
			ScoreAfter:   event.ScoreAfter,
			OccurredAt:   event.OccurredAt.Unix(),
		}
	}
	return ctx.JSON(metas)
}
