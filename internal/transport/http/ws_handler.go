package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/whatsease-server/internal/core"
	"github.com/vovakirdan/whatsease-server/internal/proto"
	"github.com/vovakirdan/whatsease-server/internal/utils"
)

// StatusInvalidToken closes connections whose credential was rejected.
const StatusInvalidToken = websocket.StatusCode(4001)

const writeTimeout = 10 * time.Second

// errSlowConsumer ends a connection whose outbound queue overflowed.
var errSlowConsumer = errors.New("connection dropped by server")

// WSOptions tunes the per-connection behavior of the WebSocket endpoint.
type WSOptions struct {
	SendBuffer      int
	PingInterval    time.Duration
	MaxMessageBytes int64
	// RateLimit is the number of inbound frames allowed per minute. Zero disables it.
	RateLimit      int
	OriginPatterns []string
}

// WSHandler upgrades HTTP connections and bridges them to a core session.
type WSHandler struct {
	coord *core.Coordinator
	opts  WSOptions
	log   *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(coord *core.Coordinator, opts WSOptions, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{coord: coord, opts: opts, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = bearerToken(r.Header.Get("Authorization"))
	}

	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.opts.MaxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := core.NewClient(utils.NewID(), h.opts.SendBuffer)
	session, err := h.coord.Accept(ctx, token, client)
	if err != nil {
		if errors.Is(err, core.ErrUnauthorized) {
			h.log.Debug().Err(err).Msg("ws rejected credential")
			conn.Close(StatusInvalidToken, "Invalid token")
			return
		}
		if errors.Is(err, core.ErrShuttingDown) {
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
		h.log.Warn().Err(err).Msg("ws session setup failed")
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}
	defer session.Close(ctx)

	errCh := make(chan error, 3)
	go func() {
		errCh <- h.readLoop(ctx, conn, session)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.pingLoop(ctx, conn)
	}()

	err = <-errCh
	session.Close(ctx)

	status, reason := closeStatus(err)
	if h.coord.Closing() {
		status, reason = websocket.StatusGoingAway, "server shutting down"
	}
	if status == websocket.StatusInternalError || status == websocket.StatusPolicyViolation {
		h.log.Warn().Err(err).Str("user", session.User()).Msg("ws connection closed with error")
	}
	conn.Close(status, reason)
}

func (h *WSHandler) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, origin := range h.opts.OriginPatterns {
		if origin == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
	}
	opts.OriginPatterns = h.opts.OriginPatterns
	return opts
}

// closeStatus maps the error that ended a connection to the close frame sent to the peer.
func closeStatus(err error) (websocket.StatusCode, string) {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return websocket.StatusNormalClosure, "closing"
	}
	if s := websocket.CloseStatus(err); s != -1 {
		if s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway {
			return websocket.StatusNormalClosure, "closing"
		}
		return s, "closing"
	}
	if errors.Is(err, errSlowConsumer) {
		return websocket.StatusPolicyViolation, err.Error()
	}
	return websocket.StatusInternalError, "internal error"
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *core.Session) error {
	limiter := newRateLimiter(h.opts.RateLimit)
	for {
		typ, raw, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			session.Reject(&core.CoreError{Code: core.ErrCodeBadRequest, Message: "binary frames are not supported"})
			continue
		}
		if !limiter.allow() {
			session.Reject(&core.CoreError{Code: core.ErrCodeRateLimited, Message: "too many messages"})
			continue
		}

		inbound, perr := proto.Decode(raw)
		if perr != nil {
			session.Reject(fromProtoError(perr))
			continue
		}
		cmd, cerr := inboundToCommand(inbound)
		if cerr != nil {
			session.Reject(cerr)
			continue
		}
		if err := session.Handle(ctx, cmd); err != nil {
			return err
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event := <-client.Events:
			if err := h.write(ctx, conn, event); err != nil {
				h.log.Error().Err(err).Str("conn_id", client.ID()).Msg("write ws event")
				return err
			}
		case <-client.Done():
			// Flush what was queued before the close, then stop.
			for {
				select {
				case event := <-client.Events:
					if err := h.write(ctx, conn, event); err != nil {
						return err
					}
				default:
					return errSlowConsumer
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, event *core.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, outboundFromEvent(event))
}

func (h *WSHandler) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	if h.opts.PingInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.opts.PingInterval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
