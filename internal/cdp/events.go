package cdp

import (
	"fmt"
	"sync/atomic"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/domwait/mutation"
)

// observer is one registration made through Observe.
type observer struct {
	h      *Host
	target *Node
	cfg    mutation.ObserveConfig
	fn     func([]mutation.Record)
	active atomic.Bool
}

func (o *observer) Disconnect() {
	if !o.active.CompareAndSwap(true, false) {
		return
	}
	h := o.h
	h.obsMu.Lock()
	defer h.obsMu.Unlock()
	for i, x := range h.observers {
		if x == o {
			h.observers = append(h.observers[:i], h.observers[i+1:]...)
			break
		}
	}
}

// Observe implements mutation.Host. fn runs on the host's delivery
// goroutine.
func (h *Host) Observe(target mutation.Node, cfg mutation.ObserveConfig, fn func([]mutation.Record)) (mutation.Subscription, error) {
	t, ok := target.(*Node)
	if !ok || t == nil || t.h != h {
		return nil, fmt.Errorf("cdp: observe %s: %w", mutation.Label(target), ErrForeign)
	}
	if h.closed.Load() {
		return nil, ErrClosed
	}
	o := &observer{h: h, target: t, cfg: cfg, fn: fn}
	o.active.Store(true)

	h.obsMu.Lock()
	h.observers = append(h.observers, o)
	h.obsMu.Unlock()
	return o, nil
}

// routeLocked decides, at event time, which observers see rec. at is the
// node whose ancestry counts: the parent for child list changes, the node
// itself otherwise. Caller holds h.mu.
func (h *Host) routeLocked(at *Node, rec mutation.Record) routed {
	h.obsMu.Lock()
	defer h.obsMu.Unlock()

	it := routed{rec: rec}
	for _, o := range h.observers {
		if !o.active.Load() {
			continue
		}
		self := o.target == at
		if !self && !contains(o.target, at) {
			continue
		}
		if o.cfg.Wants(rec, self) {
			it.to = append(it.to, o)
		}
	}
	return it
}

func (h *Host) recording() bool { return h.cfg.Recorder != nil }

func (h *Host) onInserted(e *proto.DOMChildNodeInserted) {
	h.mu.Lock()
	parent, n, err := h.insertLocked(e.ParentNodeID, e.PreviousNodeID, e.Node)
	if err != nil {
		h.mu.Unlock()
		h.logger.Debug("cdp: insert ignored", "parent", e.ParentNodeID, "error", err)
		return
	}
	it := h.routeLocked(parent, mutation.ChildList{Target: parent, Added: []mutation.Node{n}})
	if h.recording() {
		it.entry = mutation.Entry{
			Op:    mutation.OpInsert,
			XPath: xpathOf(parent),
			Tag:   n.name,
			HTML:  outerHTML(n),
		}
	}
	h.mu.Unlock()
	h.push(it)
}

func (h *Host) onRemoved(e *proto.DOMChildNodeRemoved) {
	h.mu.Lock()
	var xpath string
	if h.recording() {
		if n, ok := h.nodes[e.NodeID]; ok {
			xpath = xpathOf(n)
		}
	}
	parent, n, err := h.removeLocked(e.ParentNodeID, e.NodeID)
	if err != nil {
		h.mu.Unlock()
		h.logger.Debug("cdp: remove ignored", "node", e.NodeID, "error", err)
		return
	}
	it := h.routeLocked(parent, mutation.ChildList{Target: parent, Removed: []mutation.Node{n}})
	if xpath != "" {
		it.entry = mutation.Entry{Op: mutation.OpRemove, XPath: xpath}
	}
	h.mu.Unlock()
	h.push(it)
}

func (h *Host) onAttrModified(e *proto.DOMAttributeModified) {
	h.mu.Lock()
	n, old, err := h.setAttrLocked(e.NodeID, e.Name, e.Value)
	if err != nil {
		h.mu.Unlock()
		h.logger.Debug("cdp: attribute change ignored", "node", e.NodeID, "error", err)
		return
	}
	it := h.routeLocked(n, mutation.AttributeChange{Target: n, Name: e.Name, OldValue: old})
	if h.recording() {
		it.entry = mutation.Entry{
			Op: mutation.OpAttr, XPath: xpathOf(n),
			Name: e.Name, Value: e.Value, OldValue: old,
		}
	}
	h.mu.Unlock()
	h.push(it)
}

func (h *Host) onAttrRemoved(e *proto.DOMAttributeRemoved) {
	h.mu.Lock()
	n, old, ok, err := h.removeAttrLocked(e.NodeID, e.Name)
	if err != nil || !ok {
		h.mu.Unlock()
		if err != nil {
			h.logger.Debug("cdp: attribute removal ignored", "node", e.NodeID, "error", err)
		}
		return
	}
	it := h.routeLocked(n, mutation.AttributeChange{Target: n, Name: e.Name, OldValue: old})
	if h.recording() {
		it.entry = mutation.Entry{Op: mutation.OpAttrDel, XPath: xpathOf(n), Name: e.Name, OldValue: old}
	}
	h.mu.Unlock()
	h.push(it)
}

func (h *Host) onCharacterData(e *proto.DOMCharacterDataModified) {
	h.mu.Lock()
	n, old, err := h.setDataLocked(e.NodeID, e.CharacterData)
	if err != nil {
		h.mu.Unlock()
		h.logger.Debug("cdp: text change ignored", "node", e.NodeID, "error", err)
		return
	}
	it := h.routeLocked(n, mutation.TextChange{Target: n, OldValue: old})
	if h.recording() {
		it.entry = mutation.Entry{Op: mutation.OpText, XPath: xpathOf(n), Value: e.CharacterData, OldValue: old}
	}
	h.mu.Unlock()
	h.push(it)
}

func (h *Host) onSetChildNodes(e *proto.DOMSetChildNodes) {
	h.mu.Lock()
	err := h.setChildrenLocked(e.ParentID, e.Nodes)
	h.mu.Unlock()
	if err != nil {
		h.logger.Debug("cdp: setChildNodes ignored", "parent", e.ParentID, "error", err)
	}
}
