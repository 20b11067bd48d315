package recognize

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/domwait/mutation"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateSubscribed State = iota // waiting for a matching batch
	StateMatched                 // matched, delayed delivery pending
	StateDelivered               // handler invoked (or about to be)
	StateCancelled               // cancelled before delivery
)

func (s State) String() string {
	switch s {
	case StateSubscribed:
		return "subscribed"
	case StateMatched:
		return "matched"
	case StateDelivered:
		return "delivered"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Mode names how a session delivers matches.
type Mode string

const (
	ModeOnce  Mode = "once"  // OnRecognize
	ModeAsync Mode = "async" // OnRecognizeAsync
	ModeWatch Mode = "watch" // Watch, every matching batch
)

// Session is one activation of a Recognizer, from subscribe to first match
// or cancellation. It is the handle returned to callers.
type Session struct {
	id          string
	name        string
	description string
	mode        Mode
	startedAt   time.Time

	// live is cleared on cancel and on delivery. Timer callbacks check it
	// before invoking the handler.
	live    atomic.Bool
	state   atomic.Int32
	matches atomic.Int64

	mu       sync.Mutex
	sub      mutation.Subscription
	detached bool
	timer    Timer

	done     chan struct{}
	doneOnce sync.Once
	onClose  func(*Session)
}

func newSession(id, name, description string, mode Mode) *Session {
	s := &Session{
		id:          id,
		name:        name,
		description: description,
		mode:        mode,
		startedAt:   time.Now(),
		done:        make(chan struct{}),
	}
	s.live.Store(true)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Matches returns how many batches matched. At most 1 except in watch mode.
func (s *Session) Matches() int64 { return s.matches.Load() }

// Done is closed when the session is over: delivered or cancelled. A watch
// session only ends on Cancel.
func (s *Session) Done() <-chan struct{} { return s.done }

// Cancel releases the subscription and suppresses any pending delayed
// delivery. It is idempotent and a no-op once the handler was invoked.
func (s *Session) Cancel() {
	for {
		st := State(s.state.Load())
		if st == StateDelivered || st == StateCancelled {
			return
		}
		if s.state.CompareAndSwap(int32(st), int32(StateCancelled)) {
			break
		}
	}
	s.live.Store(false)
	s.detach()

	s.mu.Lock()
	t := s.timer
	s.timer = nil
	s.mu.Unlock()
	if t != nil {
		t.Stop()
	}
	s.close()
}

// transition moves the session from one state to another, reporting
// whether this caller won the race.
func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// attach records the host subscription. If the session was already detached
// (a match or cancel raced Observe returning), the subscription is released
// immediately.
func (s *Session) attach(sub mutation.Subscription) {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		sub.Disconnect()
		return
	}
	s.sub = sub
	s.mu.Unlock()
}

func (s *Session) detach() {
	s.mu.Lock()
	s.detached = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Disconnect()
	}
}

func (s *Session) setTimer(t Timer) {
	s.mu.Lock()
	s.timer = t
	s.mu.Unlock()
}

func (s *Session) close() {
	s.doneOnce.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// SessionInfo is a point-in-time view of a session for diagnostics.
type SessionInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description"`
	Mode        Mode      `json:"mode"`
	State       string    `json:"state"`
	Matches     int64     `json:"matches"`
	StartedAt   time.Time `json:"started_at"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:          s.id,
		Name:        s.name,
		Description: s.description,
		Mode:        s.mode,
		State:       s.State().String(),
		Matches:     s.Matches(),
		StartedAt:   s.startedAt,
	}
}
