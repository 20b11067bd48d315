// Package htmldom is an in-memory document host built on golang.org/x/net/html.
// It implements mutation.Host with MutationObserver semantics: mutations are
// queued per observer and delivered as one batch per observer on Flush, the
// way a browser delivers at a microtask checkpoint.
//
// It backs recognizer tests and the offline replay mode of cmd/domwait.
// A Document is meant to be driven from one goroutine.
package htmldom

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domwait/mutation"
)

// Node wraps an *html.Node. A Document hands out exactly one *Node per
// underlying node, so wrappers compare by identity.
type Node struct {
	n   *html.Node
	doc *Document
}

var _ mutation.Node = (*Node)(nil)

// HTML returns the underlying x/net/html node.
func (n *Node) HTML() *html.Node { return n.n }

func (n *Node) Type() mutation.NodeType {
	switch n.n.Type {
	case html.ElementNode:
		return mutation.ElementNode
	case html.TextNode:
		return mutation.TextNode
	case html.CommentNode:
		return mutation.CommentNode
	case html.DocumentNode:
		return mutation.DocumentNode
	}
	return 0
}

func (n *Node) LocalName() string {
	if n.n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(n.n.Data)
}

func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// TextContent concatenates descendant text, or returns the data of a text
// node.
func (n *Node) TextContent() string {
	switch n.n.Type {
	case html.TextNode, html.CommentNode:
		return n.n.Data
	}
	var b strings.Builder
	collectText(n.n, &b)
	return b.String()
}

func collectText(h *html.Node, b *strings.Builder) {
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			continue
		}
		collectText(c, b)
	}
}

// ElementsByTagName returns descendant elements in document order.
func (n *Node) ElementsByTagName(name string) []mutation.Node {
	name = strings.ToLower(name)
	all := name == "" || name == "*"

	var out []mutation.Node
	// Explicit stack, children pushed in reverse so pops follow document order.
	var stack []*html.Node
	for c := n.n.LastChild; c != nil; c = c.PrevSibling {
		stack = append(stack, c)
	}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if h.Type == html.ElementNode && (all || strings.ToLower(h.Data) == name) {
			out = append(out, n.doc.wrap(h))
		}
		for c := h.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}
	return out
}

// Parent returns the parent node, or nil when detached or at the root.
func (n *Node) Parent() *Node {
	if n.n.Parent == nil {
		return nil
	}
	return n.doc.wrap(n.n.Parent)
}

// Children returns the direct children.
func (n *Node) Children() []*Node {
	var out []*Node
	for c := n.n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, n.doc.wrap(c))
	}
	return out
}

// OuterHTML renders the node.
func (n *Node) OuterHTML() string {
	var b strings.Builder
	if err := html.Render(&b, n.n); err != nil {
		return ""
	}
	return b.String()
}

func (n *Node) String() string { return mutation.Label(n) }

// contains reports whether h is a strict descendant of anc.
func contains(anc, h *html.Node) bool {
	for p := h.Parent; p != nil; p = p.Parent {
		if p == anc {
			return true
		}
	}
	return false
}
