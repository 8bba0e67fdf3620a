package bot

import "time"

// Role identifies who produced a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one remembered line of a conversation with the bot.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ring keeps the most recent turns up to its capacity.
type ring struct {
	buf   []Turn
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Turn, capacity)}
}

func (r *ring) push(t Turn) {
	if len(r.buf) == 0 {
		return
	}
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = t
		r.size++
		return
	}
	r.buf[r.start] = t
	r.start = (r.start + 1) % len(r.buf)
}

// last returns up to n turns, oldest first.
func (r *ring) last(n int) []Turn {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]Turn, 0, n)
	for i := r.size - n; i < r.size; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}
