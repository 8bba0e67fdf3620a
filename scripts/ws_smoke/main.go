package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/whatsease-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "http://localhost:8000", "server base URL")
	email := flag.String("email", "", "account e-mail")
	password := flag.String("password", "", "account password")
	to := flag.String("to", "bot@whatsease.ai", "recipient e-mail")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	token, err := login(ctx, *server, *email, *password)
	if err != nil {
		return err
	}

	base := strings.Replace(strings.TrimRight(*server, "/"), "http", "ws", 1)
	conn, _, err := websocket.Dial(ctx, base+"/ws/chat?token="+url.QueryEscape(token), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	msg := map[string]any{
		"type": proto.InboundTypeNewMessage,
		"data": proto.NewMessageData{Recipient: *to, Content: *text},
	}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	for {
		var f struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("Received: type=%s data=%s\n", f.Type, f.Data)

		switch f.Type {
		case proto.OutboundTypeError:
			return fmt.Errorf("server rejected frame: %s", f.Data)
		case proto.OutboundTypeNewMessage:
			var m proto.MessageData
			if err := json.Unmarshal(f.Data, &m); err != nil {
				return fmt.Errorf("unmarshal message: %w", err)
			}
			if m.Sender == *email && m.Content == *text {
				fmt.Printf("Echo: id=%s status=%s\n", m.MessageID, m.Status)
				return nil
			}
		}
	}
}

func login(ctx context.Context, server, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", fmt.Errorf("marshal login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login: status %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	return out.AccessToken, nil
}
