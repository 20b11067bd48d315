package recognize

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/domwait/idgen"
	"github.com/hazyhaar/domwait/mutation"
)

// Recognizer wires a Filter to a host subscription. Each OnRecognize,
// OnRecognizeAsync or Watch call opens an independent Session.
type Recognizer struct {
	name     string
	host     mutation.Host
	target   mutation.Node
	filter   *Filter
	pattern  Pattern
	sched    Scheduler
	registry *Registry
	newID    idgen.Generator
	logger   *slog.Logger
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Recognizer) { r.logger = l }
}

// WithScheduler replaces the timer facility used for delayed delivery.
func WithScheduler(s Scheduler) Option {
	return func(r *Recognizer) { r.sched = s }
}

// WithRegistry makes sessions visible in reg while they are live.
func WithRegistry(reg *Registry) Option {
	return func(r *Recognizer) { r.registry = reg }
}

// WithName labels the recognizer in logs and diagnostics.
func WithName(name string) Option {
	return func(r *Recognizer) { r.name = name }
}

// WithIDGenerator sets the session ID generator. Default: idgen.Session.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(r *Recognizer) { r.newID = gen }
}

// New creates a Recognizer for p observed through host.
func New(host mutation.Host, p Pattern, opts ...Option) *Recognizer {
	r := &Recognizer{
		host:    host,
		target:  p.Target,
		filter:  NewFilter(p),
		pattern: p,
		sched:   SystemScheduler{},
		newID:   idgen.Session,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Name returns the recognizer label set with WithName.
func (r *Recognizer) Name() string { return r.name }

// Filter returns the underlying matcher.
func (r *Recognizer) Filter() *Filter { return r.filter }

// Description returns the matcher's diagnostic summary.
func (r *Recognizer) Description() string {
	return r.filter.Description()
}

// ObserveConfig derives the minimal subscription the pattern needs. Shapes
// take precedence over the watched attribute, which takes precedence over
// the watched text. A pattern with none of them yields the zero config.
// Text patterns also ask for Subtree: the text nodes of an element target are
// its descendants, and without it their changes would never be delivered.
func (r *Recognizer) ObserveConfig() mutation.ObserveConfig {
	f := r.filter
	switch {
	case f.added != nil || f.removed != nil:
		return mutation.ObserveConfig{ChildList: true, Subtree: true}
	case f.attribute != "":
		return mutation.ObserveConfig{Attributes: true, AttributeFilter: []string{f.attribute}}
	case f.text != "":
		return mutation.ObserveConfig{CharacterData: true, Subtree: true}
	}
	return mutation.ObserveConfig{}
}

// OnRecognize subscribes and calls handler synchronously, on the delivering
// goroutine, for the first matching batch. The subscription is released
// before handler runs; handler is called at most once.
func (r *Recognizer) OnRecognize(handler func(Match)) (*Session, error) {
	return r.start(ModeOnce, func(s *Session, m Match) {
		if !s.transition(StateSubscribed, StateDelivered) {
			return
		}
		s.live.Store(false)
		s.matches.Add(1)
		s.detach()
		r.logger.Debug("recognize: matched",
			"recognizer", r.name, "session", s.id, "kind", m.Kind, "node", mutation.Label(m.Node))
		s.close()
		handler(m)
	})
}

// OnRecognizeAsync behaves like OnRecognize but runs handler delay after
// the match (DefaultDelay when delay <= 0). The subscription is released at
// match time; cancelling the session before the timer fires suppresses the
// handler.
func (r *Recognizer) OnRecognizeAsync(handler func(Match), delay time.Duration) (*Session, error) {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return r.start(ModeAsync, func(s *Session, m Match) {
		if !s.transition(StateSubscribed, StateMatched) {
			return
		}
		s.matches.Add(1)
		s.detach()
		r.logger.Debug("recognize: matched, delivery scheduled",
			"recognizer", r.name, "session", s.id, "kind", m.Kind,
			"node", mutation.Label(m.Node), "delay", delay)

		s.setTimer(r.sched.AfterFunc(delay, func() {
			if !s.live.Load() {
				return
			}
			if !s.transition(StateMatched, StateDelivered) {
				return
			}
			s.live.Store(false)
			s.close()
			handler(m)
		}))
	})
}

// Watch calls handler for every batch that matches, until the session is
// cancelled.
func (r *Recognizer) Watch(handler func(Match)) (*Session, error) {
	return r.start(ModeWatch, func(s *Session, m Match) {
		s.matches.Add(1)
		handler(m)
	})
}

func (r *Recognizer) start(mode Mode, onMatch func(*Session, Match)) (*Session, error) {
	if r.host == nil {
		return nil, ErrNoHost
	}

	desc := r.Description()
	s := newSession(r.newID(), r.name, desc, mode)
	if r.registry != nil {
		r.registry.add(s)
		s.onClose = r.registry.remove
	}

	if err := r.pattern.Validate(); err != nil {
		r.logger.Warn("recognize: pattern will not behave as declared",
			"recognizer", r.name, "description", desc, "error", err)
	}

	cfg := r.ObserveConfig()
	if cfg.IsZero() {
		// Nothing to subscribe to: the session stays live and never fires,
		// the caller's own timeout ends it.
		r.logger.Warn("recognize: empty subscription, recognizer can never fire",
			"recognizer", r.name, "session", s.id, "description", desc)
		return s, nil
	}

	sub, err := r.host.Observe(r.target, cfg, func(batch []mutation.Record) {
		if !s.live.Load() {
			return
		}
		m, ok := r.filter.Match(batch)
		if !ok {
			return
		}
		onMatch(s, m)
	})
	if err != nil {
		s.Cancel()
		return nil, fmt.Errorf("recognize: observe %s: %w", mutation.Label(r.target), err)
	}
	s.attach(sub)

	r.logger.Debug("recognize: subscribed",
		"recognizer", r.name, "session", s.id, "mode", mode,
		"config", cfg.String(), "description", desc)
	return s, nil
}
