package cdp

import (
	"slices"
	"time"

	"github.com/hazyhaar/domwait/mutation"
)

// routed is a record plus the observers that could see it when it happened.
// Visibility is decided at event time because ancestry changes afterwards.
type routed struct {
	rec   mutation.Record
	to    []*observer
	entry mutation.Entry // zero unless a recorder is set
}

// debounceConfig controls batching.
type debounceConfig struct {
	// Window is the quiet period closing a batch. Default: 10ms.
	Window time.Duration
	// MaxBuffer flushes immediately when this many records accumulate. Default: 1000.
	MaxBuffer int
}

func (dc *debounceConfig) defaults() {
	if dc.Window <= 0 {
		dc.Window = DefaultWindow
	}
	if dc.MaxBuffer <= 0 {
		dc.MaxBuffer = DefaultMaxBuffer
	}
}

// debouncer collects routed records and emits them as one batch when the
// window expires or the buffer fills. It is owned by the Host loop goroutine.
type debouncer struct {
	cfg     debounceConfig
	items   []routed
	timer   *time.Timer
	timerCh <-chan time.Time
	flushFn func([]routed)
}

func newDebouncer(cfg debounceConfig, flushFn func([]routed)) *debouncer {
	cfg.defaults()
	return &debouncer{
		cfg:     cfg,
		items:   make([]routed, 0, cfg.MaxBuffer),
		flushFn: flushFn,
	}
}

// add buffers an item. It reports whether the buffer filled and was flushed.
func (d *debouncer) add(it routed) bool {
	d.items = append(d.items, it)

	if len(d.items) >= d.cfg.MaxBuffer {
		d.flush()
		return true
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.cfg.Window)
	d.timerCh = d.timer.C
	return false
}

// timerC fires when the window expires. Nil (blocks forever) when idle.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

func (d *debouncer) flush() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
	if len(d.items) == 0 {
		return
	}

	batch := compress(slices.Clone(d.items))
	d.items = d.items[:0]
	d.flushFn(batch)
}

// compress folds runs that cannot change what a recognizer sees:
//   - consecutive attribute changes on the same (node, name) keep the first
//     record, whose OldValue is the value before the run
//   - consecutive text changes on the same node likewise
//
// Child list records are never folded. The recorded wire entry keeps the
// last value of the run.
func compress(items []routed) []routed {
	if len(items) <= 1 {
		return items
	}
	out := make([]routed, 0, len(items))
	for _, it := range items {
		if n := len(out); n > 0 && mergeable(out[n-1], it) {
			last := &out[n-1]
			if it.entry.Op != "" {
				e := it.entry
				e.OldValue = last.entry.OldValue
				last.entry = e
			}
			continue
		}
		out = append(out, it)
	}
	return out
}

func mergeable(a, b routed) bool {
	if !slices.Equal(a.to, b.to) {
		return false
	}
	switch ra := a.rec.(type) {
	case mutation.AttributeChange:
		rb, ok := b.rec.(mutation.AttributeChange)
		return ok && ra.Target == rb.Target && ra.Name == rb.Name
	case mutation.TextChange:
		rb, ok := b.rec.(mutation.TextChange)
		return ok && ra.Target == rb.Target
	}
	return false
}
