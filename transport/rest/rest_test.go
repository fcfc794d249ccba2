package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	arena "github.com/clickarena/backend"
	"github.com/clickarena/backend/chain"
	"github.com/clickarena/backend/gate"
	"github.com/clickarena/backend/inmem"
	"github.com/clickarena/backend/ledger"
	"github.com/clickarena/backend/mock"
	"github.com/clickarena/backend/rank"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// testVerifier accepts the user id itself as the bearer credential.
func testVerifier(ctx context.Context, bearer string) (arena.UserId, error) {
	id, err := strconv.ParseInt(bearer, 10, 64)
	if err != nil {
		return 0, arena.ErrUnauthenticated
	}
	return arena.UserId(id), nil
}

type testServer struct {
	App   *fiber.App
	Gate  *gate.Gate
	Clock *mock.Clock
	Users *inmem.UserStore
}

func newTestServer() *testServer {
	store := inmem.NewGameStore()
	clock := mock.NewClock(testStart)
	manager := &chain.Manager{Store: store, Clock: clock}
	users := inmem.NewUserStore()
	g := &gate.Gate{
		Chain:   manager,
		Ledger:  &ledger.Ledger{Store: store, Chain: manager, Clock: clock},
		Rank:    rank.New(),
		Hub:     mock.NewBroadcaster(),
		Store:   store,
		Users:   users,
		Limiter: gate.NewLimiter(clock, gate.DefaultRules()),
	}

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	authorizer := RequestAuthorizer(testVerifier)
	(&SessionController{Gate: g}).InstallTo(authorizer, app)
	(&ActionController{Gate: g}).InstallTo(authorizer, app)
	(&LeaderboardController{Gate: g}).InstallTo(authorizer, app)
	app.Use(NotFoundHandler)
	return &testServer{App: app, Gate: g, Clock: clock, Users: users}
}

func (s *testServer) request(t *testing.T, method, path string, userId arena.UserId, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	status, raw := s.rawRequest(t, method, path, userId, body)
	if len(raw) == 0 {
		return status, nil
	}
	parsed := map[string]interface{}{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("unmarshal response %q: %s", raw, err)
	}
	return status, parsed
}

func (s *testServer) rawRequest(t *testing.T, method, path string, userId arena.UserId, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		serialized, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %s", err)
		}
		reader = bytes.NewReader(serialized)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if userId != 0 {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+strconv.FormatInt(int64(userId), 10))
	}

	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %s", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %s", err)
	}
	return resp.StatusCode, raw
}

func TestNotFoundHandler(t *testing.T) {
	assert := assert.New(t)
	server := newTestServer()

	status, raw := server.rawRequest(t, http.MethodGet, "/unknown_path", 0, nil)
	assert.Equal(fiber.StatusNotFound, status)
	assert.Equal(JsonErrorMessageResponse("Not Found"), string(raw))
}

func TestRequestAuthorizer(t *testing.T) {
	assert := assert.New(t)
	server := newTestServer()

	// no credential
	status, _ := server.request(t, http.MethodPost, "/session", 0, nil)
	assert.Equal(fiber.StatusUnauthorized, status)

	// wrong scheme
	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Basic abc")
	resp, err := server.App.Test(req)
	if assert.NoError(err) {
		defer resp.Body.Close()
		assert.Equal(fiber.StatusBadRequest, resp.StatusCode)
	}

	// rejected credential
	req = httptest.NewRequest(http.MethodPost, "/session", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer not_a_user")
	resp, err = server.App.Test(req)
	if assert.NoError(err) {
		defer resp.Body.Close()
		assert.Equal(fiber.StatusUnauthorized, resp.StatusCode)
	}
}
