package cdp

import (
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"

	"github.com/hazyhaar/domwait/mutation"
)

type attr struct {
	name, value string
}

// Node is the mirror of one page node. The Host hands out exactly one *Node
// per CDP node ID for as long as the node is tracked, so mirrors compare by
// identity. Removed nodes keep their subtree and stay readable.
type Node struct {
	h        *Host
	id       proto.DOMNodeID
	typ      mutation.NodeType
	name     string
	data     string
	attrs    []attr
	parent   *Node
	children []*Node
}

var _ mutation.Node = (*Node)(nil)

// ID returns the CDP node ID.
func (n *Node) ID() proto.DOMNodeID { return n.id }

func (n *Node) Type() mutation.NodeType { return n.typ }

func (n *Node) LocalName() string {
	if n.typ != mutation.ElementNode {
		return ""
	}
	return n.name
}

func (n *Node) Attr(name string) (string, bool) {
	n.h.mu.RLock()
	defer n.h.mu.RUnlock()
	return n.attrLocked(name)
}

func (n *Node) attrLocked(name string) (string, bool) {
	for _, a := range n.attrs {
		if a.name == name {
			return a.value, true
		}
	}
	return "", false
}

func (n *Node) TextContent() string {
	n.h.mu.RLock()
	defer n.h.mu.RUnlock()
	if n.typ == mutation.TextNode || n.typ == mutation.CommentNode {
		return n.data
	}
	var b strings.Builder
	n.collectText(&b)
	return b.String()
}

func (n *Node) collectText(b *strings.Builder) {
	for _, c := range n.children {
		if c.typ == mutation.TextNode {
			b.WriteString(c.data)
			continue
		}
		c.collectText(b)
	}
}

func (n *Node) ElementsByTagName(name string) []mutation.Node {
	n.h.mu.RLock()
	defer n.h.mu.RUnlock()

	name = strings.ToLower(name)
	all := name == "" || name == "*"
	var out []mutation.Node
	var walk func(*Node)
	walk = func(p *Node) {
		for _, c := range p.children {
			if c.typ == mutation.ElementNode && (all || c.name == name) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

// XPath returns the node's absolute path in the mirror.
func (n *Node) XPath() string {
	n.h.mu.RLock()
	defer n.h.mu.RUnlock()
	return xpathOf(n)
}

func (n *Node) String() string { return mutation.Label(n) }

// contains reports whether anc is a proper ancestor of n.
func contains(anc, n *Node) bool {
	for p := n.parent; p != nil; p = p.parent {
		if p == anc {
			return true
		}
	}
	return false
}

// xpathOf computes the path the way htmldom.XPath does, so recorded entries
// resolve against a parse of the same page. Caller holds h.mu.
func xpathOf(n *Node) string {
	var parts []string
	for p := n; p != nil && p.typ != mutation.DocumentNode; p = p.parent {
		parts = append(parts, stepOf(p))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

func stepOf(n *Node) string {
	name := n.name
	switch n.typ {
	case mutation.TextNode:
		name = "text()"
	case mutation.CommentNode:
		name = "comment()"
	}
	if n.parent == nil {
		return name
	}
	idx, total := 0, 0
	for _, s := range n.parent.children {
		if s.typ == n.typ && s.name == n.name {
			total++
			if s == n {
				idx = total
			}
		}
	}
	if total > 1 {
		return fmt.Sprintf("%s[%d]", name, idx)
	}
	return name
}

// outerHTML renders the mirror subtree through x/net/html so the recorded
// markup is escaped exactly like a parsed document would be.
func outerHTML(n *Node) string {
	var b strings.Builder
	if err := html.Render(&b, toHTML(n)); err != nil {
		return ""
	}
	return b.String()
}

func toHTML(n *Node) *html.Node {
	h := &html.Node{Data: n.data}
	switch n.typ {
	case mutation.ElementNode:
		h.Type = html.ElementNode
		h.Data = n.name
		for _, a := range n.attrs {
			h.Attr = append(h.Attr, html.Attribute{Key: a.name, Val: a.value})
		}
	case mutation.TextNode:
		h.Type = html.TextNode
	case mutation.CommentNode:
		h.Type = html.CommentNode
	default:
		h.Type = html.DocumentNode
	}
	for _, c := range n.children {
		h.AppendChild(toHTML(c))
	}
	return h
}
