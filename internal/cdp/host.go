// Package cdp is the live mutation.Host. It keeps a mirror of a Chrome page's
// DOM current from CDP DOM domain events and delivers typed records to
// observers with MutationObserver semantics: visibility is decided when the
// change happens, delivery is batched per observer.
//
// DOM.getDocument must be called with depth -1 before events are trusted:
// Chrome only reports mutations on nodes the client already knows about.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/domwait/idgen"
	"github.com/hazyhaar/domwait/mutation"
)

const (
	DefaultWindow    = 10 * time.Millisecond
	DefaultMaxBuffer = 1000

	// maxDetached bounds the removed-node table. When full it is dropped and
	// later re-inserts of those nodes get fresh mirrors.
	maxDetached = 4096
)

var (
	ErrUnknownNode = errors.New("cdp: node not in mirror")
	ErrForeign     = errors.New("cdp: node belongs to another host")
	ErrClosed      = errors.New("cdp: host closed")
)

// Config for Attach.
type Config struct {
	// Window is the debounce window closing a batch. Default: 10ms.
	Window time.Duration
	// MaxBuffer flushes a batch early when this many records accumulate.
	// Default: 1000.
	MaxBuffer int
	// PageID labels recorded batches.
	PageID string
	// Recorder, when set, receives every flushed batch in wire form.
	Recorder func(mutation.Batch)
	Logger   *slog.Logger
}

// Host mirrors one page.
type Host struct {
	page   *rod.Page
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	nodes map[proto.DOMNodeID]*Node
	// detached holds removed mirrors by ID so a node moved elsewhere keeps
	// its identity when Chrome re-inserts it.
	detached map[proto.DOMNodeID]*Node
	root     *Node

	obsMu     sync.Mutex
	observers []*observer

	raw     chan routed
	seq     atomic.Uint64
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
	closed  atomic.Bool
}

func newHost(ctx context.Context, cfg Config) *Host {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Host{
		cfg:    cfg,
		logger: cfg.Logger,
		nodes:    make(map[proto.DOMNodeID]*Node),
		detached: make(map[proto.DOMNodeID]*Node),
		raw:    make(chan routed, 4096),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Attach enables the DOM domain on page, mirrors the current document and
// starts listening. The host runs until ctx ends or Close is called.
func Attach(ctx context.Context, page *rod.Page, cfg Config) (*Host, error) {
	h := newHost(ctx, cfg)
	h.page = page

	if err := (proto.DOMEnable{}).Call(page); err != nil {
		h.cancel()
		return nil, fmt.Errorf("cdp: DOM.enable: %w", err)
	}

	// Subscribe before the snapshot so nothing between the two is lost;
	// events are only consumed once wait runs.
	wait := page.Context(h.ctx).EachEvent(
		h.onInserted,
		h.onRemoved,
		h.onAttrModified,
		h.onAttrRemoved,
		h.onCharacterData,
		h.onSetChildNodes,
		func(*proto.DOMDocumentUpdated) { h.resync() },
	)

	if err := h.snapshot(); err != nil {
		h.cancel()
		return nil, err
	}

	go wait()
	h.run()
	return h, nil
}

func (h *Host) snapshot() error {
	depth := -1
	doc, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(h.page)
	if err != nil {
		return fmt.Errorf("cdp: DOM.getDocument: %w", err)
	}
	h.mu.Lock()
	h.buildLocked(doc.Root)
	n := len(h.nodes)
	h.mu.Unlock()

	h.logger.Info("cdp: DOM mirrored", "page", h.cfg.PageID, "nodes", n)
	return nil
}

// resync rebuilds the mirror after the document was replaced. Observers on
// nodes of the old document receive nothing further.
func (h *Host) resync() {
	h.logger.Warn("cdp: document replaced, re-mirroring", "page", h.cfg.PageID)
	if err := h.snapshot(); err != nil {
		h.logger.Error("cdp: re-mirror failed", "page", h.cfg.PageID, "error", err)
	}
}

// Root returns the mirrored document node.
func (h *Host) Root() *Node {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.root
}

// Node returns the mirror of a CDP node ID.
func (h *Host) Node(id proto.DOMNodeID) (*Node, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n, ok := h.nodes[id]
	return n, ok
}

// Find evaluates xpath in the page (DOM.performSearch, full XPath 1.0) and
// maps the results onto mirror nodes.
func (h *Host) Find(ctx context.Context, xpath string) ([]*Node, error) {
	page := h.page.Context(ctx)
	res, err := proto.DOMPerformSearch{Query: xpath}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("cdp: search %q: %w", xpath, err)
	}
	defer func() {
		_ = proto.DOMDiscardSearchResults{SearchID: res.SearchID}.Call(page)
	}()
	if res.ResultCount == 0 {
		return nil, nil
	}

	found, err := proto.DOMGetSearchResults{
		SearchID:  res.SearchID,
		FromIndex: 0,
		ToIndex:   res.ResultCount,
	}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("cdp: search results %q: %w", xpath, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Node, 0, len(found.NodeIDs))
	for _, id := range found.NodeIDs {
		if n, ok := h.nodes[id]; ok {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("cdp: search %q: %w", xpath, ErrUnknownNode)
	}
	return out, nil
}

// FindOne returns the first node at xpath.
func (h *Host) FindOne(ctx context.Context, xpath string) (*Node, error) {
	nodes, err := h.Find(ctx, xpath)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("cdp: no node at %q", xpath)
	}
	return nodes[0], nil
}

// Resolve is FindOne typed for callers that only know mutation.Node.
func (h *Host) Resolve(ctx context.Context, xpath string) (mutation.Node, error) {
	n, err := h.FindOne(ctx, xpath)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// PathOf returns the mirror XPath of n, or "" when n is not a mirror node.
func PathOf(n mutation.Node) string {
	if cn, ok := n.(*Node); ok && cn != nil {
		return cn.XPath()
	}
	return ""
}

// Close stops listening and flushes buffered records. It waits for the
// delivery loop to exit when one is running.
func (h *Host) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.cancel()
	if h.running.Load() {
		<-h.done
	}
	return nil
}

func (h *Host) run() {
	h.running.Store(true)
	go h.loop()
}

// loop batches routed records and delivers them.
func (h *Host) loop() {
	defer close(h.done)
	deb := newDebouncer(debounceConfig{Window: h.cfg.Window, MaxBuffer: h.cfg.MaxBuffer}, h.dispatch)

	for {
		select {
		case <-h.ctx.Done():
			drain(h.raw, deb)
			return

		case it := <-h.raw:
			deb.add(it)

		case <-deb.timerC():
			deb.flush()
		}
	}
}

func drain(raw <-chan routed, deb *debouncer) {
	for {
		select {
		case it := <-raw:
			deb.add(it)
		default:
			deb.flush()
			return
		}
	}
}

// push hands an item to the loop. Items nobody can see are dropped unless a
// recorder wants them.
func (h *Host) push(it routed) {
	if len(it.to) == 0 && h.cfg.Recorder == nil {
		return
	}
	select {
	case h.raw <- it:
	case <-h.ctx.Done():
	}
}

// dispatch delivers one flushed batch: each observer gets its own records,
// in event order.
func (h *Host) dispatch(items []routed) {
	if h.cfg.Recorder != nil {
		h.record(items)
	}

	var order []*observer
	per := make(map[*observer][]mutation.Record)
	for _, it := range items {
		for _, o := range it.to {
			if _, seen := per[o]; !seen {
				order = append(order, o)
			}
			per[o] = append(per[o], it.rec)
		}
	}
	for _, o := range order {
		if !o.active.Load() {
			continue
		}
		o.fn(per[o])
	}
}

func (h *Host) record(items []routed) {
	b := mutation.Batch{
		ID:        idgen.New(),
		PageID:    h.cfg.PageID,
		Seq:       h.seq.Add(1),
		Timestamp: time.Now().UnixMilli(),
	}
	for _, it := range items {
		if it.entry.Op != "" {
			b.Entries = append(b.Entries, it.entry)
		}
	}
	if len(b.Entries) > 0 {
		h.cfg.Recorder(b)
	}
}
