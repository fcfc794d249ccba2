package rest

import (
	arena "github.com/clickarena/backend"
	"github.com/clickarena/backend/hub"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

// LiveController upgrades authorized clients to a websocket and attaches them
// to the broadcast hub. The connection only ever receives; reads are drained
// to notice disconnects promptly so the hub stops targeting dead peers.
type LiveController struct {
	Hub *hub.Hub
}

func (c *LiveController) InstallTo(requestAuthorizer fiber.Handler, app *fiber.App) {
	app.Use("/live", combineHandlers(requestAuthorizer, func(ctx *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(ctx) {
			return fiber.ErrUpgradeRequired
		}
		return ctx.Next()
	}))
	app.Get("/live", websocket.New(c.serveLive))
}

func (c *LiveController) serveLive(conn *websocket.Conn) {
	userId, ok := conn.Locals(userLocalsKey).(arena.UserId)
	if !ok {
		_ = conn.Close()
		return
	}

	logrus.WithField("user_id", userId).Infoln("Live connection opened.")
	subscription := c.Hub.Subscribe(userId, conn)
	defer subscription.Close()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			logrus.
				WithField("user_id", userId).
				WithError(err).
				Debugln("Live connection closed.")
			return
		}
	}
}
