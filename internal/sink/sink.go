// Package sink defines output backends for recognition events.
package sink

import (
	"context"
	"time"

	"github.com/hazyhaar/domwait/mutation"
	"github.com/hazyhaar/domwait/recognize"
)

// Outcome of one recognizer run.
const (
	OutcomeRecognized = "recognized"
	OutcomeTimeout    = "timeout"
)

// maxText bounds the node text copied into an event.
const maxText = 512

// Event reports what a recognizer saw, or that it gave up.
type Event struct {
	ID          string `json:"id"`
	Recognizer  string `json:"recognizer"`
	Session     string `json:"session,omitempty"`
	Outcome     string `json:"outcome"`
	Description string `json:"description"`
	Kind        string `json:"kind,omitempty"`
	Node        string `json:"node,omitempty"`
	XPath       string `json:"xpath,omitempty"`
	Attribute   string `json:"attribute,omitempty"`
	Value       string `json:"value,omitempty"`
	Present     bool   `json:"present,omitempty"`
	Text        string `json:"text,omitempty"`
	Timestamp   int64  `json:"timestamp"` // epoch milliseconds
}

// Recognized builds the event for m. ID, Session and XPath are left to the
// caller, which knows the host.
func Recognized(name, description string, m recognize.Match) Event {
	e := Event{
		Recognizer:  name,
		Outcome:     OutcomeRecognized,
		Description: description,
		Kind:        m.Kind.String(),
		Node:        mutation.Label(m.Node),
		Timestamp:   time.Now().UnixMilli(),
	}
	if m.Node != nil {
		e.Text = truncate(m.Node.TextContent(), maxText)
	}
	if a := m.Attribute; a != nil {
		e.Attribute = a.Name
		e.Value = a.Value
		e.Present = a.Present
	}
	return e
}

// TimedOut builds the event for a recognizer that never fired.
func TimedOut(name, description string) Event {
	return Event{
		Recognizer:  name,
		Outcome:     OutcomeTimeout,
		Description: description,
		Timestamp:   time.Now().UnixMilli(),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Do not cut a UTF-8 sequence in half.
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}

// Sink is the output interface.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
