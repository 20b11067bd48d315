package recognize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hazyhaar/domwait/mutation"
)

// Attribute is the post-change state of a watched attribute.
type Attribute struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Present bool   `json:"present"` // false when the change removed it
}

// Match is the single entity a batch was recognized on: an element for shape
// matches, the target plus its attribute for attribute matches, or a text
// node for text matches.
type Match struct {
	Kind      mutation.Kind
	Node      mutation.Node
	Attribute *Attribute
}

// Filter is the pattern matcher. It is immutable after NewFilter and safe
// for concurrent use as long as the host's nodes are.
type Filter struct {
	target    mutation.Node
	added     *Shape
	removed   *Shape
	attribute string
	text      string
}

// NewFilter builds a matcher for p. Nothing is validated: a malformed
// pattern yields a filter that never matches.
func NewFilter(p Pattern) *Filter {
	f := &Filter{
		target:    p.Target,
		attribute: p.ChangedAttribute,
		text:      p.Text,
	}
	if p.AddedChild != nil {
		f.added = p.AddedChild.clone()
	} else {
		f.removed = p.RemovedChild.clone()
	}
	return f
}

// Match scans batch in arrival order and returns the first match. Records
// after the first match are not examined.
func (f *Filter) Match(batch []mutation.Record) (Match, bool) {
	for _, rec := range batch {
		switch r := rec.(type) {
		case mutation.ChildList:
			var n mutation.Node
			if f.added != nil && len(r.Added) > 0 {
				n = f.firstMatch(r.Added, f.added, true)
			} else if f.removed != nil && len(r.Removed) > 0 {
				n = f.firstMatch(r.Removed, f.removed, false)
			}
			if n != nil {
				return Match{Kind: mutation.KindChildList, Node: n}, true
			}

		case mutation.AttributeChange:
			if f.attribute == "" || r.Target == nil || f.target == nil {
				continue
			}
			if r.Target == f.target && r.Name == f.attribute {
				v, ok := r.Target.Attr(r.Name)
				return Match{
					Kind:      mutation.KindAttribute,
					Node:      r.Target,
					Attribute: &Attribute{Name: r.Name, Value: v, Present: ok},
				}, true
			}

		case mutation.TextChange:
			if f.text == "" || r.Target == nil {
				continue
			}
			if r.Target.TextContent() == f.text {
				return Match{Kind: mutation.KindText, Node: r.Target}, true
			}
		}
	}
	return Match{}, false
}

// firstMatch walks nodes in list order. With deep set, each node is checked
// before its descendants (pre-order), so the first hit in document order
// below an added node wins. Removed subtrees are frozen and checked shallowly.
func (f *Filter) firstMatch(nodes []mutation.Node, s *Shape, deep bool) mutation.Node {
	for _, n := range nodes {
		if n == nil || n.Type() != mutation.ElementNode {
			continue
		}
		if f.candidate(n, s) {
			return n
		}
		if !deep {
			continue
		}
		for _, d := range n.ElementsByTagName(s.Name) {
			if f.candidate(d, s) {
				return d
			}
		}
	}
	return nil
}

func (f *Filter) candidate(n mutation.Node, s *Shape) bool {
	if n == nil || n.Type() != mutation.ElementNode {
		return false
	}
	if !s.anyTag() && !strings.EqualFold(n.LocalName(), s.Name) {
		return false
	}
	for name, want := range s.Attributes {
		got, ok := n.Attr(name)
		if !ok {
			return false
		}
		if name == "class" {
			if !mutation.HasClasses(n, want) {
				return false
			}
			continue
		}
		if got != want {
			return false
		}
	}
	// Text is checked on the candidate itself, descendants found by the deep
	// search included; text held only by an enclosing added node does not count.
	if f.text != "" && !strings.Contains(n.TextContent(), f.text) {
		return false
	}
	return true
}

type description struct {
	Target           string `json:"target"`
	AddedChild       *Shape `json:"addedChild,omitempty"`
	RemovedChild     *Shape `json:"removedChild,omitempty"`
	ChangedAttribute string `json:"changedAttribute,omitempty"`
	Text             string `json:"text,omitempty"`
	XPath            string `json:"xpath"`
}

// Description serialises the pattern for logs. It never panics, even when
// the host's target node misbehaves.
func (f *Filter) Description() (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf(`{"error":%q}`, fmt.Sprint(r))
		}
	}()

	d := description{
		Target:           mutation.Label(f.target),
		AddedChild:       f.added,
		RemovedChild:     f.removed,
		ChangedAttribute: f.attribute,
		Text:             f.text,
		XPath:            f.XPath(),
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Sprintf("%+v", d)
	}
	return string(data)
}
