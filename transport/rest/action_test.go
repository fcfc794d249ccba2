package rest

import (
	"net/http"
	"testing"
	"time"

	arena "github.com/clickarena/backend"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func startTestSession(t *testing.T, server *testServer, userId arena.UserId) string {
	t.Helper()
	status, body := server.request(t, http.MethodPost, "/session", userId, nil)
	if status != fiber.StatusCreated {
		t.Fatalf("start session: status %d", status)
	}
	return body["tokenId"].(string)
}

func TestSubmitAction(t *testing.T) {
	assert := assert.New(t)
	server := newTestServer()
	tokenId := startTestSession(t, server, 100)

	status, body := server.request(t, http.MethodPost, "/actions", 100,
		map[string]interface{}{"tokenId": tokenId, "actionType": "solve_puzzle"})
	assert.Equal(fiber.StatusOK, status)
	assert.EqualValues(15, body["newScore"])
	assert.EqualValues(15, body["pointsEarned"])
	assert.EqualValues(1, body["rank"])
	assert.EqualValues(testStart.Add(30*time.Minute).Unix(), body["expiresAt"])
	nextTokenId, _ := body["newTokenId"].(string)
	assert.NotEmpty(nextTokenId)
	assert.NotEqual(tokenId, nextTokenId)

	// the consumed token is burned, the issued one works
	status, body = server.request(t, http.MethodPost, "/actions", 100,
		map[string]interface{}{"tokenId": tokenId, "actionType": "solve_puzzle"})
	assert.Equal(fiber.StatusUnauthorized, status)
	assert.Equal(arena.ErrTokenAlreadyUsed.Error(), body["error_message"])

	status, body = server.request(t, http.MethodPost, "/actions", 100,
		map[string]interface{}{"tokenId": nextTokenId, "actionType": "watch_ad"})
	assert.Equal(fiber.StatusOK, status)
	assert.EqualValues(25, body["newScore"])
}

func TestSubmitActionValidation(t *testing.T) {
	assert := assert.New(t)
	server := newTestServer()
	tokenId := startTestSession(t, server, 100)

	cases := []struct {
		name       string
		body       map[string]interface{}
		returnCode int
		message    string
	}{
		{name: "missing token id",
			body:       map[string]interface{}{"actionType": "watch_ad"},
			returnCode: fiber.StatusBadRequest, message: "no token id"},
		{name: "unknown action type",
			body:       map[string]interface{}{"tokenId": tokenId, "actionType": "hack_the_planet"},
			returnCode: fiber.StatusBadRequest, message: "invalid action type"},
		{name: "points mismatch",
			body:       map[string]interface{}{"tokenId": tokenId, "actionType": "watch_ad", "points": 9999},
			returnCode: fiber.StatusBadRequest, message: "points mismatch"},
		{name: "unknown token",
			body:       map[string]interface{}{"tokenId": "tok_missing", "actionType": "watch_ad"},
			returnCode: fiber.StatusUnauthorized, message: arena.ErrTokenNotFound.Error()},
	}
	for _, tc := range cases {
		status, body := server.request(t, http.MethodPost, "/actions", 100, tc.body)
		assert.Equal(tc.returnCode, status, tc.name)
		assert.Equal(tc.message, body["error_message"], tc.name)
	}

	// rejected calls did not burn the token
	status, _ := server.request(t, http.MethodPost, "/actions", 100,
		map[string]interface{}{"tokenId": tokenId, "actionType": "watch_ad"})
	assert.Equal(fiber.StatusOK, status)
}

func TestSubmitActionMatchingPointsAccepted(t *testing.T) {
	assert := assert.New(t)
	server := newTestServer()
	tokenId := startTestSession(t, server, 100)

	status, body := server.request(t, http.MethodPost, "/actions", 100,
		map[string]interface{}{"tokenId": tokenId, "actionType": "daily_bonus", "points": 5})
	assert.Equal(fiber.StatusOK, status)
	assert.EqualValues(5, body["newScore"])
}

func TestSubmitActionForeignToken(t *testing.T) {
	assert := assert.New(t)
	server := newTestServer()
	tokenId := startTestSession(t, server, 100)
	startTestSession(t, server, 200)

	status, body := server.request(t, http.MethodPost, "/actions", 200,
		map[string]interface{}{"tokenId": tokenId, "actionType": "watch_ad"})
	assert.Equal(fiber.StatusUnauthorized, status)
	assert.Equal(arena.ErrInvalidToken.Error(), body["error_message"])

	// the owner can still spend it
	status, _ = server.request(t, http.MethodPost, "/actions", 100,
		map[string]interface{}{"tokenId": tokenId, "actionType": "watch_ad"})
	assert.Equal(fiber.StatusOK, status)
}

func TestSubmitActionExpiredSession(t *testing.T) {
	assert := assert.New(t)
	server := newTestServer()
	tokenId := startTestSession(t, server, 100)

	server.Clock.Advance(31 * time.Minute)
	status, body := server.request(t, http.MethodPost, "/actions", 100,
		map[string]interface{}{"tokenId": tokenId, "actionType": "watch_ad"})
	assert.Equal(fiber.StatusUnauthorized, status)
	assert.Equal(arena.ErrSessionExpired.Error(), body["error_message"])
}
