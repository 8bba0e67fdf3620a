// Package bot implements the rule-based assistant that answers messages sent
// to the bot identity.
package bot

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

// DefaultName is the display name of the assistant account.
const DefaultName = "WhatsEase AI Assistant"

const fallbackReply = "I apologize, but I encountered an error. Please try again."

// DefaultHistoryLimit bounds the remembered turns per user when none is configured.
const DefaultHistoryLimit = 50

type rule struct {
	words   []string
	phrases []string
	reply   func(now time.Time) []string
}

func fixed(replies ...string) func(time.Time) []string {
	return func(time.Time) []string { return replies }
}

// rules are checked in order; the first match wins.
var rules = []rule{
	{
		words: []string{"hello", "hi", "hey", "greetings"},
		reply: fixed(
			"Hello! 👋 How can I assist you today?",
			"Hi there! How are you doing?",
			"Hey! What can I help you with?",
			"Greetings! How may I help you today?",
		),
	},
	{
		phrases: []string{"how are you", "how are u", "how r you"},
		reply: fixed(
			"I'm doing great, thank you for asking! 😊 How about you?",
			"I'm functioning perfectly! How can I help you?",
			"I'm excellent! What brings you here today?",
			"I'm wonderful! What would you like to chat about?",
		),
	},
	{
		words: []string{"help", "assist", "support"},
		reply: fixed("I'm here to help! I can:\n" +
			"• Answer your questions\n" +
			"• Provide information\n" +
			"• Have a friendly conversation\n" +
			"• Assist with various tasks\n\n" +
			"What would you like to know?"),
	},
	{
		words: []string{"time", "date", "today", "day"},
		reply: func(now time.Time) []string {
			return []string{fmt.Sprintf("The current UTC time is %s and today is %s.",
				now.Format("15:04:05"), now.Format("Monday, January 02, 2006"))}
		},
	},
	{
		words: []string{"thank", "thanks", "thx"},
		reply: fixed(
			"You're welcome! 😊",
			"Happy to help!",
			"My pleasure!",
			"Anytime! Is there anything else I can help with?",
		),
	},
	{
		words:   []string{"bye", "goodbye", "farewell"},
		phrases: []string{"see you"},
		reply: fixed(
			"Goodbye! Have a great day! 👋",
			"See you later! Take care!",
			"Farewell! Come back anytime!",
			"Bye! It was nice chatting with you!",
		),
	},
	{
		words: []string{"weather"},
		reply: fixed("I don't have access to real-time weather data, but I recommend checking a weather service for accurate information! ☀️"),
	},
	{
		phrases: []string{"what is your name", "your name", "who are you"},
		reply:   fixed("I'm " + DefaultName + "! 🤖 I'm here to help you with various tasks and have friendly conversations."),
	},
	{
		words:   []string{"capabilities", "features"},
		phrases: []string{"what can you do"},
		reply: fixed("I can help you with:\n" +
			"• Answering general questions\n" +
			"• Providing information and explanations\n" +
			"• Having casual conversations\n" +
			"• Offering suggestions and advice\n" +
			"• And much more!\n\n" +
			"Just ask me anything!"),
	},
	{
		words: []string{"joke", "jokes"},
		reply: fixed(
			"Why don't scientists trust atoms? Because they make up everything! 😄",
			"Why did the scarecrow win an award? Because he was outstanding in his field! 🌾",
			"What do you call a bear with no teeth? A gummy bear! 🐻",
			"Why don't eggs tell jokes? They'd crack each other up! 🥚",
			"What did one wall say to the other? I'll meet you at the corner! 🧱",
		),
	},
	{
		words: []string{"good", "great", "awesome", "excellent", "amazing"},
		reply: fixed(
			"I'm glad you think so! 😊",
			"That's wonderful to hear!",
			"Thank you! That's very kind!",
			"Awesome! What else can I help with?",
		),
	},
	{
		words: []string{"bad", "terrible", "awful", "hate", "stupid"},
		reply: fixed(
			"I'm sorry to hear that. How can I make things better?",
			"I apologize if something went wrong. How can I assist you?",
			"I understand your frustration. Let me help you with that.",
		),
	},
}

var questionReplies = []string{
	"That's an interesting question! Could you provide more details so I can give you a better answer?",
	"I'd be happy to help with that! Can you tell me more about what you're looking for?",
	"Let me think about that... Could you elaborate a bit more?",
	"Great question! I'll need a bit more context to give you the best answer.",
}

var defaultReplies = []string{
	"That's interesting! Tell me more about that.",
	"I see! How can I help you with that?",
	"Interesting point! What would you like to know?",
	"I understand. Is there something specific you'd like help with?",
	"Got it! What else would you like to discuss?",
	"I'm here to help! Could you clarify what you need assistance with?",
}

// Responder answers user messages with keyword rules and remembers a bounded
// per-user history.
type Responder struct {
	log   zerolog.Logger
	limit int
	now   func() time.Time
	pick  func(n int) int

	mu      sync.Mutex
	history map[string]*ring
}

// Option customizes a Responder.
type Option func(*Responder)

// WithClock replaces the time source used by date replies and history.
func WithClock(now func() time.Time) Option {
	return func(r *Responder) { r.now = now }
}

// WithPicker replaces the random choice among equivalent replies.
func WithPicker(pick func(n int) int) Option {
	return func(r *Responder) { r.pick = pick }
}

// NewResponder builds a responder keeping at most historyLimit turns per user.
func NewResponder(historyLimit int, logger *zerolog.Logger, opts ...Option) *Responder {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	r := &Responder{
		limit:   historyLimit,
		now:     func() time.Time { return time.Now().UTC() },
		pick:    rand.IntN,
		history: make(map[string]*ring),
	}
	if logger != nil {
		r.log = logger.With().Str("component", "bot").Logger()
	} else {
		r.log = zerolog.Nop()
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Respond records text in identity's history and returns the reply. It never
// returns an empty string.
func (r *Responder) Respond(identity, text string) (reply string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Str("user", identity).Msg("generate reply")
			reply = fallbackReply
		}
	}()

	r.remember(identity, RoleUser, text)
	reply = r.generate(text)
	r.remember(identity, RoleAssistant, reply)

	r.log.Debug().Str("user", identity).Msg("bot responded")
	return reply
}

func (r *Responder) generate(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	words := tokenize(lower)
	now := r.now()

	for _, rl := range rules {
		if rl.matches(lower, words) {
			return r.choose(rl.reply(now))
		}
	}
	if strings.HasSuffix(lower, "?") {
		return r.choose(questionReplies)
	}
	return r.choose(defaultReplies)
}

func (rl rule) matches(lower string, words map[string]struct{}) bool {
	for _, w := range rl.words {
		if _, ok := words[w]; ok {
			return true
		}
	}
	for _, p := range rl.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func (r *Responder) choose(replies []string) string {
	if len(replies) == 1 {
		return replies[0]
	}
	return replies[r.pick(len(replies))]
}

func tokenize(lower string) map[string]struct{} {
	fields := strings.FieldsFunc(lower, func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '\''
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

func (r *Responder) remember(identity string, role Role, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.history[identity]
	if !ok {
		h = newRing(r.limit)
		r.history[identity] = h
	}
	h.push(Turn{Role: role, Content: content, Timestamp: r.now()})
}

// History returns up to limit of identity's most recent turns, oldest first.
// A non-positive limit returns everything retained.
func (r *Responder) History(identity string, limit int) []Turn {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.history[identity]
	if !ok {
		return nil
	}
	return h.last(limit)
}

// Clear forgets identity's history.
func (r *Responder) Clear(identity string) {
	r.mu.Lock()
	delete(r.history, identity)
	r.mu.Unlock()
}
