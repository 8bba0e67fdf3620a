package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/whatsease-server/internal/auth"
	"github.com/vovakirdan/whatsease-server/internal/bot"
	"github.com/vovakirdan/whatsease-server/internal/config"
	"github.com/vovakirdan/whatsease-server/internal/core"
	"github.com/vovakirdan/whatsease-server/internal/store"
	"github.com/vovakirdan/whatsease-server/internal/store/sqlite"
)

type testEnv struct {
	ts     *httptest.Server
	store  *sqlite.SQLiteStore
	coord  *core.Coordinator
	cfg    config.Config
	router *core.Router
}

func startTestServer(t *testing.T, tweaks ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.BotResponseDelay = 0
	cfg.WSPingInterval = 0
	cfg.WSRateLimit = 0
	cfg.CORSOrigins = []string{"*"}
	for _, tweak := range tweaks {
		tweak(&cfg)
	}

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, err := st.EnsureUser(context.Background(), &store.User{
		Email:        cfg.BotEmail,
		Username:     "whatsease_bot",
		FullName:     cfg.BotName,
		PasswordHash: "!",
	}); err != nil {
		t.Fatalf("seed bot: %v", err)
	}

	logger := zerolog.Nop()
	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	})
	registry := core.NewRegistry()
	router := core.NewRouter(registry, st, bot.NewResponder(cfg.BotHistoryLimit, &logger), core.RouterConfig{
		BotIdentity: cfg.BotEmail,
		BotDelay:    cfg.BotResponseDelay,
	}, &logger)
	coord := core.NewCoordinator(authService, registry, router, st, &logger)

	handler := NewHandler(Deps{Coordinator: coord, Auth: authService, Store: st}, &cfg, &logger)
	ts := httptest.NewServer(handler)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
		ts.Close()
		router.Wait()
		st.Close()
	})

	return &testEnv{ts: ts, store: st, coord: coord, cfg: cfg, router: router}
}

// do sends a JSON request and decodes the response into out when out is non-nil.
func (e *testEnv) do(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := stdhttp.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// signUp registers a user and returns a bearer token for it.
func (e *testEnv) signUp(t *testing.T, email, username string) string {
	t.Helper()

	status := e.do(t, stdhttp.MethodPost, "/api/auth/register", "", RegisterRequest{
		Email:    email,
		Username: username,
		Password: "secret123",
	}, nil)
	if status != stdhttp.StatusCreated {
		t.Fatalf("register %s: status %d", email, status)
	}

	var resp AuthResponse
	status = e.do(t, stdhttp.MethodPost, "/api/auth/login", "", LoginRequest{
		Email:    email,
		Password: "secret123",
	}, &resp)
	if status != stdhttp.StatusOK {
		t.Fatalf("login %s: status %d", email, status)
	}
	return resp.AccessToken
}

func (e *testEnv) wsURL(token string) string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws/chat?token=" + token
}

type frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

func (f frame) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(f.Data, v); err != nil {
		t.Fatalf("decode %s data: %v", f.Type, err)
	}
}

// connect dials the chat endpoint and consumes the connection ack.
func (e *testEnv) connect(t *testing.T, ctx context.Context, token string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, e.wsURL(token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	ack := mustFrame(t, ctx, conn, "connection_established", nil)
	if ack.Timestamp == "" {
		t.Fatalf("connection ack without timestamp")
	}
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	if err := wsjson.Write(ctx, conn, map[string]any{"type": typ, "data": data}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// mustFrame reads until a frame of the given type satisfying match arrives.
func mustFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, match func(frame) bool) frame {
	t.Helper()
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if f.Type == typ && (match == nil || match(f)) {
			return f
		}
	}
}
