// Package mutation defines the host contract consumed by the recognizer: the
// document node view, the typed change records a host delivers, the
// subscription configuration, and the JSON wire format used to record and
// replay mutation streams.
//
// Any host (the offline x/net/html document, the live CDP mirror) implements
// Node and Host from this package. Nothing here mutates a tree.
package mutation

import "strings"

// NodeType mirrors the DOM nodeType values the recognizer cares about.
type NodeType int

const (
	ElementNode  NodeType = 1
	TextNode     NodeType = 3
	CommentNode  NodeType = 8
	DocumentNode NodeType = 9
)

// Node is a read-only view of a document node owned by the host.
//
// Implementations must be comparable pointer types: two Node values refer to
// the same document node if and only if a == b.
type Node interface {
	Type() NodeType
	// LocalName is the lower-case tag name for elements, "" otherwise.
	LocalName() string
	Attr(name string) (string, bool)
	TextContent() string
	// ElementsByTagName returns descendant elements (not the node itself) in
	// document order. "" and "*" select every element.
	ElementsByTagName(name string) []Node
}

// ClassList returns the whitespace-separated tokens of the class attribute.
func ClassList(n Node) []string {
	if n == nil {
		return nil
	}
	v, ok := n.Attr("class")
	if !ok {
		return nil
	}
	return strings.Fields(v)
}

// HasClasses reports whether n carries every token of want (token-set
// containment, order and duplicates ignored).
func HasClasses(n Node, want string) bool {
	have := ClassList(n)
	for _, tok := range strings.Fields(want) {
		found := false
		for _, c := range have {
			if c == tok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Label renders a short human label for a node: "div#main", "#text", "<nil>".
func Label(n Node) string {
	if n == nil {
		return "<nil>"
	}
	switch n.Type() {
	case TextNode:
		return "#text"
	case CommentNode:
		return "#comment"
	case DocumentNode:
		return "#document"
	}
	name := n.LocalName()
	if id, ok := n.Attr("id"); ok && id != "" {
		return name + "#" + id
	}
	return name
}
