package app

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/whatsease-server/internal/config"
	"github.com/vovakirdan/whatsease-server/internal/store/sqlite"
)

func TestNewSeedsBotUser(t *testing.T) {
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "app.db")
	logger := zerolog.Nop()

	a, err := New(context.Background(), &cfg, &logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.cleanup(context.Background())

	u, err := a.store.GetUserByEmail(context.Background(), cfg.BotEmail)
	if err != nil {
		t.Fatalf("bot user missing: %v", err)
	}
	if u.FullName != cfg.BotName {
		t.Fatalf("bot name %q, want %q", u.FullName, cfg.BotName)
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.DBDriver = "mysql"
	logger := zerolog.Nop()

	if _, err := New(context.Background(), &cfg, &logger); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestCleanupClosesLiveSessionsBeforeStore(t *testing.T) {
	cfg := config.Default()
	dbPath := filepath.Join(t.TempDir(), "app.db")
	cfg.DatabasePath = dbPath
	cfg.WSPingInterval = 0
	cfg.CORSOrigins = []string{"*"}
	logger := zerolog.Nop()
	ctx := context.Background()

	a, err := New(ctx, &cfg, &logger)
	require.NoError(t, err)
	ts := httptest.NewServer(a.server.Handler)
	defer ts.Close()

	token := signUp(t, ts.URL, "alice@example.com", "alice")
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat?token=" + url.QueryEscape(token)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var frame map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &frame))
	require.Equal(t, "connection_established", frame["type"])

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	a.cleanup(shutdownCtx)

	readCtx, cancelRead := context.WithTimeout(ctx, 2*time.Second)
	defer cancelRead()
	_, _, err = conn.Read(readCtx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	reopened, err := sqlite.New(dbPath)
	require.NoError(t, err)
	defer reopened.Close()
	u, err := reopened.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, u.IsOnline, "offline flag was not persisted before the store closed")
}

func signUp(t *testing.T, baseURL, email, username string) string {
	t.Helper()

	post := func(path string, body any) *stdhttp.Response {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		resp, err := stdhttp.Post(baseURL+path, "application/json", bytes.NewReader(payload))
		require.NoError(t, err)
		return resp
	}

	creds := map[string]string{"email": email, "username": username, "password": "secret123"}
	resp := post("/api/auth/register", creds)
	resp.Body.Close()
	require.Equal(t, stdhttp.StatusCreated, resp.StatusCode)

	resp = post("/api/auth/login", creds)
	defer resp.Body.Close()
	require.Equal(t, stdhttp.StatusOK, resp.StatusCode)

	var out struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.AccessToken
}
