package domwait

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/domwait/idgen"
	"github.com/hazyhaar/domwait/internal/config"
	"github.com/hazyhaar/domwait/internal/htmldom"
	"github.com/hazyhaar/domwait/internal/sink"
	"github.com/hazyhaar/domwait/recognize"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const page = `<html><body><div id="root" aria-expanded="false"><p id="msg">idle</p></div></body></html>`

type collector struct {
	mu     sync.Mutex
	events []sink.Event
}

func (c *collector) callback() sink.Callback {
	return func(_ context.Context, e sink.Event) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events = append(c.events, e)
		return nil
	}
}

func (c *collector) byName() map[string]sink.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]sink.Event, len(c.events))
	for _, e := range c.events {
		out[e.Recognizer] = e
	}
	return out
}

func newRunner(t *testing.T, c *collector, opts ...Option) (*htmldom.Document, *Runner) {
	t.Helper()
	d, err := htmldom.ParseString(page)
	require.NoError(t, err)
	opts = append([]Option{
		WithLogger(quiet),
		WithXPath(htmldom.PathOf),
		WithIDGenerator(idgen.Sequence("evt_")),
	}, opts...)
	return d, NewRunner(d, d.Resolve, c.callback(), opts...)
}

func TestRun_RecognizesAll(t *testing.T) {
	c := &collector{}
	d, r := newRunner(t, c, WithGrace(time.Second))

	recs := []config.RecognizerConfig{
		{
			Name:       "panel",
			Target:     "//div[@id='root']",
			AddedChild: &recognize.Shape{Name: "div", Attributes: map[string]string{"class": "panel"}},
			Timeout:    time.Second,
		},
		{
			Name:             "expanded",
			Target:           "//div[@id='root']",
			ChangedAttribute: "aria-expanded",
			Async:            true,
			Delay:            time.Millisecond,
			Timeout:          time.Second,
		},
	}

	events, err := r.Run(context.Background(), recs, func(context.Context) error {
		root := d.ByID("root")
		if _, err := d.AppendHTML(root, `<div class="panel wide">Hello</div>`); err != nil {
			return err
		}
		if err := d.SetAttribute(root, "aria-expanded", "true"); err != nil {
			return err
		}
		d.Flush()
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "panel", events[0].Recognizer)
	require.Equal(t, "expanded", events[1].Recognizer)

	panel := events[0]
	require.Equal(t, sink.OutcomeRecognized, panel.Outcome)
	require.Equal(t, "childList", panel.Kind)
	require.Equal(t, "/html/body/div/div", panel.XPath)
	require.Equal(t, "Hello", panel.Text)
	require.NotEmpty(t, panel.Session)

	exp := events[1]
	require.Equal(t, sink.OutcomeRecognized, exp.Outcome)
	require.Equal(t, "aria-expanded", exp.Attribute)
	require.Equal(t, "true", exp.Value)
	require.True(t, exp.Present)

	require.Len(t, c.byName(), 2, "every outcome reaches the sink")
	require.Zero(t, r.Registry().Len(), "delivered sessions leave the registry")
}

func TestRun_TimeoutIsReported(t *testing.T) {
	c := &collector{}
	d, r := newRunner(t, c, WithGrace(20*time.Millisecond))

	recs := []config.RecognizerConfig{
		{Name: "msg", Target: "//p[@id='msg']", Text: "done", Timeout: time.Minute},
		{Name: "attr", Target: "//div[@id='root']", ChangedAttribute: "hidden", Timeout: time.Minute},
	}
	events, err := r.Run(context.Background(), recs, func(context.Context) error {
		root := d.ByID("root")
		if err := d.SetAttribute(root, "hidden", ""); err != nil {
			return err
		}
		d.Flush()
		return nil
	})
	require.ErrorIs(t, err, ErrUnrecognized)
	require.ErrorContains(t, err, "msg")
	require.Len(t, events, 2)

	got := c.byName()
	require.Equal(t, sink.OutcomeTimeout, got["msg"].Outcome)
	require.Contains(t, got["msg"].Description, "done")
	require.NotEmpty(t, got["msg"].ID)
	require.Equal(t, sink.OutcomeRecognized, got["attr"].Outcome)
	require.Zero(t, r.Registry().Len(), "timed out sessions are cancelled")
}

func TestRun_PerRecognizerTimeout(t *testing.T) {
	c := &collector{}
	_, r := newRunner(t, c)

	start := time.Now()
	_, err := r.Run(context.Background(), []config.RecognizerConfig{
		{Name: "quick", Target: "//div[@id='root']", ChangedAttribute: "x", Timeout: 10 * time.Millisecond},
	}, nil)
	require.ErrorIs(t, err, ErrUnrecognized)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_TargetNotFound(t *testing.T) {
	c := &collector{}
	_, r := newRunner(t, c)

	_, err := r.Run(context.Background(), []config.RecognizerConfig{
		{Name: "ok", Target: "//div[@id='root']", ChangedAttribute: "x", Timeout: time.Second},
		{Name: "missing", Target: "//section", ChangedAttribute: "x", Timeout: time.Second},
	}, nil)
	require.ErrorIs(t, err, htmldom.ErrNotFound)
	require.ErrorContains(t, err, `"missing"`)
	require.Zero(t, r.Registry().Len(), "sessions opened before the failure are cancelled")
	require.Empty(t, c.byName())
}

func TestRun_DriveError(t *testing.T) {
	c := &collector{}
	_, r := newRunner(t, c)
	boom := errors.New("boom")

	_, err := r.Run(context.Background(), []config.RecognizerConfig{
		{Name: "a", Target: "//div[@id='root']", ChangedAttribute: "x", Timeout: time.Second},
	}, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	require.Zero(t, r.Registry().Len())
}
