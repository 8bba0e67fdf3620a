package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/whatsease-server/internal/store"
)

const botTaskTimeout = 30 * time.Second

// RouterConfig configures the synthetic bot peer.
type RouterConfig struct {
	// BotIdentity is the identity whose inbound messages are answered by the Responder.
	BotIdentity string
	// BotDelay is waited before the reply is persisted, imitating typing.
	BotDelay time.Duration
}

// DeliveryReport summarizes one Deliver call.
type DeliveryReport struct {
	// Recipients are the identities the event was addressed to.
	Recipients []string
	// Delivered counts connections that accepted the event.
	Delivered int
	// Dropped counts recipients with no live connection.
	Dropped int
	// Failed counts connections that rejected the event and were deregistered.
	Failed int
}

func (d *DeliveryReport) merge(other DeliveryReport) {
	d.Recipients = append(d.Recipients, other.Recipients...)
	d.Delivered += other.Delivered
	d.Dropped += other.Dropped
	d.Failed += other.Failed
}

// Router resolves an event's recipients through the registry and fans it out.
type Router struct {
	registry  *Registry
	store     Store
	responder Responder
	cfg       RouterConfig
	log       zerolog.Logger

	tasks sync.WaitGroup
}

// NewRouter builds a router. store and responder may be nil when the bot and
// status persistence are not needed.
func NewRouter(registry *Registry, st Store, responder Responder, cfg RouterConfig, logger *zerolog.Logger) *Router {
	return &Router{
		registry:  registry,
		store:     st,
		responder: responder,
		cfg:       cfg,
		log:       componentLogger(logger, "router"),
	}
}

// Deliver routes ev to its recipients. Offline recipients are dropped silently.
func (r *Router) Deliver(ctx context.Context, ev *Event) DeliveryReport {
	switch ev.Kind {
	case EventNewMessage:
		return r.deliverMessage(ctx, ev)
	case EventStatusUpdate, EventTyping:
		return r.sendTo(ev, ev.Target)
	case EventMessageEdited, EventMessageDeleted:
		report := r.sendTo(ev, ev.Target)
		if ev.User != ev.Target {
			report.merge(r.sendTo(ev, ev.User))
		}
		return report
	case EventPresence:
		var report DeliveryReport
		for _, identity := range r.registry.OnlineIdentities() {
			if identity == ev.User {
				continue
			}
			report.merge(r.sendTo(ev, identity))
		}
		return report
	default:
		r.log.Warn().Str("event", ev.Kind.String()).Msg("event kind is not routable")
		return DeliveryReport{}
	}
}

// deliverMessage marks ev's message Delivered in place when the recipient is
// online, then sends it to the recipient and echoes it to the sender.
func (r *Router) deliverMessage(ctx context.Context, ev *Event) DeliveryReport {
	msg := ev.Message

	if r.registry.IsOnline(msg.Recipient) && msg.Status.Advances(store.StatusDelivered) {
		if r.store != nil {
			if err := r.store.SetStatus(ctx, msg.ID, store.StatusDelivered); err != nil && !errors.Is(err, store.ErrStatusRegression) {
				r.log.Warn().Err(err).Str("message_id", msg.ID).Msg("persist delivered status")
			}
		}
		msg.Status = store.StatusDelivered
		ev.Message.Status = store.StatusDelivered
	}

	report := r.sendTo(ev, msg.Recipient)
	if msg.Sender != msg.Recipient {
		report.merge(r.sendTo(ev, msg.Sender))
	}

	if r.cfg.BotIdentity != "" && msg.Recipient == r.cfg.BotIdentity && !msg.IsBotResponse && r.responder != nil {
		r.spawnReply(ctx, msg)
	}
	return report
}

// sendTo fans ev out to every live connection of identity. A failing connection
// is deregistered and closed without affecting its siblings.
func (r *Router) sendTo(ev *Event, identity string) DeliveryReport {
	report := DeliveryReport{Recipients: []string{identity}}
	if identity == "" {
		return report
	}

	conns := r.registry.ConnectionsFor(identity)
	if len(conns) == 0 {
		report.Dropped++
		return report
	}

	for _, conn := range conns {
		if err := conn.Send(ev); err != nil {
			r.log.Warn().Err(err).
				Str("user", identity).
				Str("conn_id", conn.ID()).
				Str("event", ev.Kind.String()).
				Msg("send failed, dropping connection")
			r.registry.Deregister(conn)
			conn.Close()
			report.Failed++
			continue
		}
		r.registry.countSent()
		report.Delivered++
	}
	return report
}

// spawnReply runs the responder off the delivery path and routes its answer
// back to the original sender as a new message from the bot.
func (r *Router) spawnReply(ctx context.Context, original Message) {
	r.tasks.Add(1)
	go func() {
		defer r.tasks.Done()

		taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), botTaskTimeout)
		defer cancel()

		reply := r.responder.Respond(original.Sender, original.Content)
		if r.cfg.BotDelay > 0 {
			select {
			case <-time.After(r.cfg.BotDelay):
			case <-taskCtx.Done():
				return
			}
		}

		var payload Message
		if r.store != nil {
			rec, err := r.store.CreateMessage(taskCtx, store.NewMessage{
				Sender:        r.cfg.BotIdentity,
				Recipient:     original.Sender,
				Content:       reply,
				IsBotResponse: true,
			})
			if err != nil {
				r.log.Error().Err(err).Str("user", original.Sender).Msg("persist bot reply")
				return
			}
			payload = MessageFromRecord(rec)
		} else {
			payload = Message{
				Sender:        r.cfg.BotIdentity,
				Recipient:     original.Sender,
				Content:       reply,
				Timestamp:     now(),
				Status:        store.StatusSent,
				IsBotResponse: true,
			}
		}

		report := r.Deliver(taskCtx, NewMessageEvent(payload))
		r.log.Debug().
			Str("user", original.Sender).
			Int("delivered", report.Delivered).
			Msg("bot replied")
	}()
}

// Wait blocks until all in-flight bot replies have been delivered.
func (r *Router) Wait() {
	r.tasks.Wait()
}

func componentLogger(logger *zerolog.Logger, component string) zerolog.Logger {
	if logger == nil {
		return zerolog.Nop()
	}
	return logger.With().Str("component", component).Logger()
}
