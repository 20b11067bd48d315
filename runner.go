// Package domwait runs recognizer scenarios: a set of configured
// recognizers against one page, each reported to sinks exactly once as
// recognized or timed out.
//
// The page is any mutation.Host. The live host (internal/cdp) and the
// offline replay host (internal/htmldom) are wired up by cmd/domwait.
package domwait

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/domwait/idgen"
	"github.com/hazyhaar/domwait/internal/config"
	"github.com/hazyhaar/domwait/internal/sink"
	"github.com/hazyhaar/domwait/mutation"
	"github.com/hazyhaar/domwait/recognize"
)

// ErrUnrecognized is returned by Run when at least one recognizer timed out.
var ErrUnrecognized = errors.New("domwait: recognizer timed out")

// Resolver finds a recognizer's target on the page.
type Resolver func(ctx context.Context, xpath string) (mutation.Node, error)

// Driver produces the page changes once every recognizer is subscribed.
// Live pages change on their own and need none.
type Driver func(ctx context.Context) error

// Runner wires configured recognizers to a host and a sink.
type Runner struct {
	host     mutation.Host
	resolve  Resolver
	out      sink.Sink
	registry *recognize.Registry
	xpath    func(mutation.Node) string
	newID    idgen.Generator
	grace    time.Duration
	logger   *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithRegistry exposes the runner's sessions in reg.
func WithRegistry(reg *recognize.Registry) Option {
	return func(r *Runner) { r.registry = reg }
}

// WithXPath sets how matched nodes are located in events.
func WithXPath(fn func(mutation.Node) string) Option {
	return func(r *Runner) { r.xpath = fn }
}

// WithIDGenerator sets the event ID generator. Default: "evt_" + UUIDv7.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(r *Runner) { r.newID = gen }
}

// WithGrace bounds how long recognizers still wait once the driver has
// returned. Zero keeps each recognizer's own timeout.
func WithGrace(d time.Duration) Option {
	return func(r *Runner) { r.grace = d }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner emitting to out.
func NewRunner(host mutation.Host, resolve Resolver, out sink.Sink, opts ...Option) *Runner {
	r := &Runner{
		host:    host,
		resolve: resolve,
		out:     out,
		newID:   idgen.Prefixed("evt_", idgen.UUIDv7()),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.registry == nil {
		r.registry = recognize.NewRegistry()
	}
	return r
}

// Registry returns the registry sessions are tracked in.
func (r *Runner) Registry() *recognize.Registry { return r.registry }

// outcome of one recognizer.
type outcome struct {
	rc    config.RecognizerConfig
	rec   *recognize.Recognizer
	sess  *recognize.Session
	ch    chan recognize.Match
	event sink.Event
}

// Run subscribes every recognizer, runs drive (when non-nil), then waits for
// each to fire or time out. Every outcome is sent to the sink. It returns
// the events in configuration order, and ErrUnrecognized if any timed out.
func (r *Runner) Run(ctx context.Context, recs []config.RecognizerConfig, drive Driver) ([]sink.Event, error) {
	pending := make([]*outcome, 0, len(recs))
	cancelAll := func() {
		for _, p := range pending {
			p.sess.Cancel()
		}
	}

	for _, rc := range recs {
		p, err := r.subscribe(ctx, rc)
		if err != nil {
			cancelAll()
			return nil, err
		}
		pending = append(pending, p)
	}

	start := time.Now()
	waitCtx := ctx
	if drive != nil {
		if err := drive(ctx); err != nil {
			cancelAll()
			return nil, fmt.Errorf("domwait: drive: %w", err)
		}
		if r.grace > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, r.grace)
			defer cancel()
		}
	}

	var wg sync.WaitGroup
	for _, p := range pending {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.await(waitCtx, start, p)
		}()
	}
	wg.Wait()

	events := make([]sink.Event, 0, len(pending))
	var missed []string
	for _, p := range pending {
		events = append(events, p.event)
		if p.event.Outcome == sink.OutcomeTimeout {
			missed = append(missed, p.rc.Name)
		}
	}
	if len(missed) > 0 {
		return events, fmt.Errorf("%w: %v", ErrUnrecognized, missed)
	}
	return events, nil
}

func (r *Runner) subscribe(ctx context.Context, rc config.RecognizerConfig) (*outcome, error) {
	target, err := r.resolve(ctx, rc.Target)
	if err != nil {
		return nil, fmt.Errorf("domwait: recognizer %q: target %s: %w", rc.Name, rc.Target, err)
	}
	rec := recognize.New(r.host, rc.Pattern(target),
		recognize.WithName(rc.Name),
		recognize.WithRegistry(r.registry),
		recognize.WithLogger(r.logger),
	)

	p := &outcome{rc: rc, rec: rec, ch: make(chan recognize.Match, 1)}
	deliver := func(m recognize.Match) { p.ch <- m }
	if rc.Async {
		p.sess, err = rec.OnRecognizeAsync(deliver, rc.Delay)
	} else {
		p.sess, err = rec.OnRecognize(deliver)
	}
	if err != nil {
		return nil, fmt.Errorf("domwait: recognizer %q: %w", rc.Name, err)
	}
	r.logger.Info("domwait: waiting",
		"recognizer", rc.Name, "session", p.sess.ID(), "description", rec.Description())
	return p, nil
}

// await blocks until p fires, its timeout (counted from start) elapses or
// ctx ends, then records and emits the outcome.
func (r *Runner) await(ctx context.Context, start time.Time, p *outcome) {
	timeout := p.rc.Timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}
	ctx, cancel := context.WithDeadline(ctx, start.Add(timeout))
	defer cancel()

	desc := p.rec.Description()
	select {
	case m := <-p.ch:
		p.event = r.recognized(p, desc, m)
	case <-ctx.Done():
		p.sess.Cancel()
		// Delivery may have won the race against the deadline.
		select {
		case m := <-p.ch:
			p.event = r.recognized(p, desc, m)
		default:
			p.event = sink.TimedOut(p.rc.Name, desc)
			p.event.ID = r.newID()
			p.event.Session = p.sess.ID()
			r.logger.Warn("domwait: not recognized",
				"recognizer", p.rc.Name, "session", p.sess.ID(),
				"description", desc, "error", ctx.Err())
		}
	}

	// The run context may already be over; sinks still get the outcome.
	if err := r.out.Send(context.WithoutCancel(ctx), p.event); err != nil {
		r.logger.Error("domwait: emit failed", "recognizer", p.rc.Name, "error", err)
	}
}

func (r *Runner) recognized(p *outcome, desc string, m recognize.Match) sink.Event {
	e := sink.Recognized(p.rc.Name, desc, m)
	e.ID = r.newID()
	e.Session = p.sess.ID()
	if r.xpath != nil && m.Node != nil {
		e.XPath = r.xpath(m.Node)
	}
	r.logger.Info("domwait: recognized",
		"recognizer", p.rc.Name, "session", e.Session, "kind", e.Kind, "node", e.Node)
	return e
}
