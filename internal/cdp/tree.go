package cdp

import (
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/domwait/mutation"
)

// The mirror is a tree of *Node keyed by CDP node ID. Every method here
// expects h.mu to be held for writing.

// buildLocked replaces the mirror with the tree returned by DOM.getDocument.
func (h *Host) buildLocked(root *proto.DOMNode) {
	h.nodes = make(map[proto.DOMNodeID]*Node)
	h.detached = make(map[proto.DOMNodeID]*Node)
	h.root = h.adoptLocked(root, nil)
}

// adoptLocked creates mirrors for p and everything below it. A node ID the
// mirror already knows, live or removed, keeps its *Node so observers
// anchored on it survive moves. Its attributes are refreshed, and its
// children too when p carries them. Shadow roots and frame documents are
// tracked so their events resolve, but they are not children: observers
// never see across those boundaries.
func (h *Host) adoptLocked(p *proto.DOMNode, parent *Node) *Node {
	if p == nil {
		return nil
	}
	n := h.reclaimLocked(p.NodeID)
	reused := n != nil
	if !reused {
		n = &Node{h: h, id: p.NodeID}
	}
	n.typ = mutation.NodeType(p.NodeType)
	n.parent = parent
	n.name, n.data, n.attrs = "", "", nil
	switch n.typ {
	case mutation.ElementNode:
		n.name = p.LocalName
		if n.name == "" {
			n.name = p.NodeName
		}
		n.name = strings.ToLower(n.name)
		for i := 0; i+1 < len(p.Attributes); i += 2 {
			n.attrs = append(n.attrs, attr{name: p.Attributes[i], value: p.Attributes[i+1]})
		}
	case mutation.TextNode, mutation.CommentNode:
		n.data = p.NodeValue
	}
	h.nodes[n.id] = n

	if reused && p.Children == nil {
		// Chrome did not resend the subtree: the kept children stand.
		for _, c := range n.children {
			h.retrackLocked(c)
		}
	} else {
		for _, c := range n.children {
			c.parent = nil
		}
		n.children = nil
		for _, c := range p.Children {
			if child := h.adoptLocked(c, n); child != nil {
				n.children = append(n.children, child)
			}
		}
	}
	for _, sr := range p.ShadowRoots {
		h.adoptLocked(sr, nil)
	}
	if p.ContentDocument != nil {
		h.adoptLocked(p.ContentDocument, nil)
	}
	return n
}

// reclaimLocked takes the mirror for id out of the live or removed table,
// detached from any parent. Nil when the ID is new.
func (h *Host) reclaimLocked(id proto.DOMNodeID) *Node {
	if n, ok := h.nodes[id]; ok {
		h.detachLocked(n)
		h.forgetLocked(n)
	}
	n, ok := h.detached[id]
	if !ok {
		return nil
	}
	delete(h.detached, id)
	return n
}

// retrackLocked moves a kept subtree back from the removed table.
func (h *Host) retrackLocked(n *Node) {
	if h.detached[n.id] == n {
		delete(h.detached, n.id)
	}
	h.nodes[n.id] = n
	for _, c := range n.children {
		h.retrackLocked(c)
	}
}

func (h *Host) lookupLocked(id proto.DOMNodeID) (*Node, error) {
	n, ok := h.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	return n, nil
}

// insertLocked adopts p under parent, after the sibling prev (first when prev
// is zero or unknown).
func (h *Host) insertLocked(parentID, prevID proto.DOMNodeID, p *proto.DOMNode) (*Node, *Node, error) {
	parent, err := h.lookupLocked(parentID)
	if err != nil {
		return nil, nil, err
	}
	n := h.adoptLocked(p, parent)
	if n == nil {
		return nil, nil, fmt.Errorf("cdp: insert under %d: empty node", parentID)
	}

	at := 0
	if prevID != 0 {
		for i, c := range parent.children {
			if c.id == prevID {
				at = i + 1
				break
			}
		}
	}
	parent.children = append(parent.children, nil)
	copy(parent.children[at+1:], parent.children[at:])
	parent.children[at] = n
	return parent, n, nil
}

// removeLocked detaches the node and stops tracking its subtree. The
// returned mirror keeps its children so a removed subtree stays readable.
func (h *Host) removeLocked(parentID, id proto.DOMNodeID) (*Node, *Node, error) {
	parent, err := h.lookupLocked(parentID)
	if err != nil {
		return nil, nil, err
	}
	n, err := h.lookupLocked(id)
	if err != nil {
		return nil, nil, err
	}
	h.detachLocked(n)
	h.forgetLocked(n)
	return parent, n, nil
}

func (h *Host) detachLocked(n *Node) {
	p := n.parent
	if p == nil {
		return
	}
	for i, c := range p.children {
		if c == n {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	n.parent = nil
}

// forgetLocked stops resolving events for n's subtree and keeps the
// mirrors in the removed table.
func (h *Host) forgetLocked(n *Node) {
	if h.nodes[n.id] == n {
		delete(h.nodes, n.id)
	}
	if len(h.detached) >= maxDetached {
		h.detached = make(map[proto.DOMNodeID]*Node)
	}
	h.detached[n.id] = n
	for _, c := range n.children {
		h.forgetLocked(c)
	}
}

// setChildrenLocked handles DOM.setChildNodes: the backend filling in
// children it had not sent yet. No record is produced.
func (h *Host) setChildrenLocked(parentID proto.DOMNodeID, kids []*proto.DOMNode) error {
	parent, err := h.lookupLocked(parentID)
	if err != nil {
		return err
	}
	for _, c := range parent.children {
		c.parent = nil
		h.forgetLocked(c)
	}
	parent.children = nil
	for _, k := range kids {
		if child := h.adoptLocked(k, parent); child != nil {
			parent.children = append(parent.children, child)
		}
	}
	return nil
}

// setAttrLocked returns the previous value ("" when the attribute was new).
func (h *Host) setAttrLocked(id proto.DOMNodeID, name, value string) (*Node, string, error) {
	n, err := h.lookupLocked(id)
	if err != nil {
		return nil, "", err
	}
	for i, a := range n.attrs {
		if a.name == name {
			n.attrs[i].value = value
			return n, a.value, nil
		}
	}
	n.attrs = append(n.attrs, attr{name: name, value: value})
	return n, "", nil
}

// removeAttrLocked reports ok=false when the attribute was not set.
func (h *Host) removeAttrLocked(id proto.DOMNodeID, name string) (n *Node, old string, ok bool, err error) {
	n, err = h.lookupLocked(id)
	if err != nil {
		return nil, "", false, err
	}
	for i, a := range n.attrs {
		if a.name == name {
			n.attrs = append(n.attrs[:i], n.attrs[i+1:]...)
			return n, a.value, true, nil
		}
	}
	return n, "", false, nil
}

func (h *Host) setDataLocked(id proto.DOMNodeID, data string) (*Node, string, error) {
	n, err := h.lookupLocked(id)
	if err != nil {
		return nil, "", err
	}
	old := n.data
	n.data = data
	return n, old, nil
}
