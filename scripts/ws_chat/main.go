package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/whatsease-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "http://localhost:8000", "server base URL")
	email := flag.String("email", "", "account e-mail")
	password := flag.String("password", "", "account password")
	to := flag.String("to", "bot@whatsease.ai", "recipient e-mail")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	token, err := login(ctx, *server, *email, *password)
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, wsURL(*server, token), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to %s as %s, chatting with %s\n", *server, *email, *to)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn, *email)
	}()

	writeLoop(ctx, conn, *to)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

// login exchanges credentials for a bearer token over the REST API.
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

func wsURL(server, token string) string {
	base := strings.TrimRight(server, "/")
	base = strings.Replace(base, "http", "ws", 1)
	return base + "/ws/chat?token=" + url.QueryEscape(token)
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readLoop(ctx context.Context, conn *websocket.Conn, self string) {
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch f.Type {
		case proto.OutboundTypeNewMessage:
			var msg proto.MessageData
			if err := json.Unmarshal(f.Data, &msg); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			if msg.Sender == self {
				fmt.Printf("  (%s) %s\n", msg.Status, msg.Content)
				continue
			}
			fmt.Printf("%s: %s\n", msg.Sender, msg.Content)
			mark := proto.MarkData{MessageID: msg.MessageID, Sender: msg.Sender}
			if err := wsjson.Write(ctx, conn, map[string]any{"type": proto.InboundTypeMarkRead, "data": mark}); err != nil {
				log.Printf("mark read: %v", err)
			}
		case proto.OutboundTypeStatusUpdate:
			var st proto.StatusUpdateData
			if err := json.Unmarshal(f.Data, &st); err == nil {
				fmt.Printf("  [%s %s]\n", st.MessageID, st.Status)
			}
		case proto.OutboundTypeUserStatusChange:
			var p proto.UserStatusData
			if err := json.Unmarshal(f.Data, &p); err == nil {
				state := "offline"
				if p.IsOnline {
					state = "online"
				}
				fmt.Printf("* %s is %s\n", p.UserEmail, state)
			}
		case proto.OutboundTypeTypingIndicator:
		case proto.OutboundTypeError:
			var perr proto.Error
			if err := json.Unmarshal(f.Data, &perr); err == nil {
				fmt.Printf("! %s: %s\n", perr.Code, perr.Message)
			}
		default:
			fmt.Printf("event=%s data=%s\n", f.Type, f.Data)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, to string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			msg := proto.NewMessageData{Recipient: to, Content: text}
			if err := wsjson.Write(ctx, conn, map[string]any{"type": proto.InboundTypeNewMessage, "data": msg}); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
