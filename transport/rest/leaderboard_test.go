package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	arena "github.com/clickarena/backend"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func submitTestAction(t *testing.T, server *testServer, userId arena.UserId, tokenId, actionType string) string {
	t.Helper()
	status, body := server.request(t, http.MethodPost, "/actions", userId,
		map[string]interface{}{"tokenId": tokenId, "actionType": actionType})
	if status != fiber.StatusOK {
		t.Fatalf("submit action: status %d", status)
	}
	return body["newTokenId"].(string)
}

func TestLeaderboard(t *testing.T) {
	assert := assert.New(t)
	server := newTestServer()
	ctx := context.Background()

	_ = server.Users.Upsert(ctx, arena.User{Id: 100, Name: "sniezny"})
	_ = server.Users.Upsert(ctx, arena.User{Id: 200, Name: "makin"})

	tokenA := startTestSession(t, server, 100)
	submitTestAction(t, server, 100, tokenA, "complete_level")
	tokenB := startTestSession(t, server, 200)
	submitTestAction(t, server, 200, tokenB, "watch_ad")

	status, raw := server.rawRequest(t, http.MethodGet, "/leaderboard", 0, nil)
	assert.Equal(fiber.StatusOK, status)
	var entries []arena.LeaderboardEntry
	if !assert.NoError(json.Unmarshal(raw, &entries)) {
		return
	}
	if assert.Len(entries, 2) {
		assert.Equal(arena.LeaderboardEntry{Rank: 1, UserId: 100, Name: "sniezny", Score: 20}, entries[0])
		assert.Equal(arena.LeaderboardEntry{Rank: 2, UserId: 200, Name: "makin", Score: 10}, entries[1])
	}

	status, raw = server.rawRequest(t, http.MethodGet, "/leaderboard?limit=1", 0, nil)
	assert.Equal(fiber.StatusOK, status)
	if assert.NoError(json.Unmarshal(raw, &entries)) {
		assert.Len(entries, 1)
	}

	status, _ = server.rawRequest(t, http.MethodGet, "/leaderboard?limit=minus", 0, nil)
	assert.Equal(fiber.StatusBadRequest, status)
}

func TestUserRankEndpoint(t *testing.T) {
	assert := assert.New(t)
	server := newTestServer()

	status, _ := server.request(t, http.MethodGet, "/rank/100", 0, nil)
	assert.Equal(fiber.StatusNotFound, status)

	tokenId := startTestSession(t, server, 100)
	submitTestAction(t, server, 100, tokenId, "solve_puzzle")

	status, body := server.request(t, http.MethodGet, "/rank/100", 0, nil)
	assert.Equal(fiber.StatusOK, status)
	assert.EqualValues(100, body["userId"])
	assert.EqualValues(15, body["score"])
	assert.EqualValues(1, body["rank"])

	status, _ = server.request(t, http.MethodGet, "/rank/not_a_number", 0, nil)
	assert.Equal(fiber.StatusBadRequest, status)
}

func TestHistory(t *testing.T) {
	assert := assert.New(t)
	server := newTestServer()

	status, _ := server.rawRequest(t, http.MethodGet, "/history", 0, nil)
	assert.Equal(fiber.StatusUnauthorized, status)

	tokenId := startTestSession(t, server, 100)
	tokenId = submitTestAction(t, server, 100, tokenId, "watch_ad")
	server.Clock.Advance(1)
	submitTestAction(t, server, 100, tokenId, "solve_puzzle")

	status, raw := server.rawRequest(t, http.MethodGet, "/history", 100, nil)
	assert.Equal(fiber.StatusOK, status)
	var events []map[string]interface{}
	if !assert.NoError(json.Unmarshal(raw, &events)) {
		return
	}
	if assert.Len(events, 2) {
		// newest first, token ids never leave the server
		assert.Equal("solve_puzzle", events[0]["actionType"])
		assert.EqualValues(15, events[0]["pointsEarned"])
		assert.EqualValues(25, events[0]["scoreAfter"])
		assert.Equal("watch_ad", events[1]["actionType"])
		assert.NotContains(events[0], "tokenId")
	}

	status, raw = server.rawRequest(t, http.MethodGet, "/history?limit=1", 100, nil)
	assert.Equal(fiber.StatusOK, status)
	if assert.NoError(json.Unmarshal(raw, &events)) {
		assert.Len(events, 1)
	}
}
