package htmldom

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/domwait/mutation"
)

var (
	ErrDetached   = errors.New("htmldom: node is detached")
	ErrNotElement = errors.New("htmldom: node is not an element")
	ErrAttached   = errors.New("htmldom: node already has a parent")
	ErrForeign    = errors.New("htmldom: node belongs to another document")
	ErrNotFound   = errors.New("htmldom: no node at path")
)

// Document is a parsed HTML document with observers.
type Document struct {
	root *html.Node

	mu        sync.Mutex
	wrappers  map[*html.Node]*Node
	observers []*observer
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	return &Document{root: root, wrappers: make(map[*html.Node]*Node)}, nil
}

// ParseString is Parse on a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the document node.
func (d *Document) Root() *Node { return d.wrap(d.root) }

// Body returns the body element, or nil.
func (d *Document) Body() *Node {
	if nodes := d.Find("/html/body"); len(nodes) > 0 {
		return nodes[0]
	}
	return nil
}

// ByID returns the first element with the given id attribute, or nil.
func (d *Document) ByID(id string) *Node {
	for _, n := range d.Root().ElementsByTagName("*") {
		if v, ok := n.Attr("id"); ok && v == id {
			return n.(*Node)
		}
	}
	return nil
}

func (d *Document) wrap(h *html.Node) *Node {
	if h == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.wrappers[h]; ok {
		return w
	}
	w := &Node{n: h, doc: d}
	d.wrappers[h] = w
	return w
}

func (d *Document) own(n *Node) error {
	if n == nil || n.doc != d {
		return ErrForeign
	}
	return nil
}

// CreateElement returns a detached element.
func (d *Document) CreateElement(tag string, attrs ...html.Attribute) *Node {
	tag = strings.ToLower(tag)
	// ParseFragment rejects a context element whose DataAtom disagrees with Data.
	return d.wrap(&html.Node{Type: html.ElementNode, DataAtom: atom.Lookup([]byte(tag)), Data: tag, Attr: attrs})
}

// CreateText returns a detached text node.
func (d *Document) CreateText(data string) *Node {
	return d.wrap(&html.Node{Type: html.TextNode, Data: data})
}

// AppendChild appends a detached child to parent.
func (d *Document) AppendChild(parent, child *Node) error {
	if err := d.own(parent); err != nil {
		return err
	}
	if err := d.own(child); err != nil {
		return err
	}
	if child.n.Parent != nil {
		return ErrAttached
	}
	parent.n.AppendChild(child.n)
	d.enqueue(parent, mutation.ChildList{Target: parent, Added: []mutation.Node{child}})
	return nil
}

// AppendHTML parses fragment in the context of parent and appends the
// resulting nodes as one childList change.
func (d *Document) AppendHTML(parent *Node, fragment string) ([]*Node, error) {
	if err := d.own(parent); err != nil {
		return nil, err
	}
	if parent.n.Type != html.ElementNode {
		return nil, ErrNotElement
	}
	parsed, err := html.ParseFragment(strings.NewReader(fragment), parent.n)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse fragment: %w", err)
	}
	if len(parsed) == 0 {
		return nil, nil
	}

	added := make([]*Node, 0, len(parsed))
	records := make([]mutation.Node, 0, len(parsed))
	for _, h := range parsed {
		parent.n.AppendChild(h)
		w := d.wrap(h)
		added = append(added, w)
		records = append(records, w)
	}
	d.enqueue(parent, mutation.ChildList{Target: parent, Added: records})
	return added, nil
}

// Remove detaches n from its parent. The detached subtree stays readable.
func (d *Document) Remove(n *Node) error {
	if err := d.own(n); err != nil {
		return err
	}
	if n.n.Parent == nil {
		return ErrDetached
	}
	parent := d.wrap(n.n.Parent)
	// Queue before detaching: observer reach is decided by current ancestry.
	d.enqueue(parent, mutation.ChildList{Target: parent, Removed: []mutation.Node{n}})
	parent.n.RemoveChild(n.n)
	return nil
}

// SetAttribute sets or replaces an attribute on an element.
func (d *Document) SetAttribute(n *Node, name, value string) error {
	if err := d.own(n); err != nil {
		return err
	}
	if n.n.Type != html.ElementNode {
		return ErrNotElement
	}
	old := ""
	replaced := false
	for i, a := range n.n.Attr {
		if a.Namespace == "" && a.Key == name {
			old = a.Val
			n.n.Attr[i].Val = value
			replaced = true
			break
		}
	}
	if !replaced {
		n.n.Attr = append(n.n.Attr, html.Attribute{Key: name, Val: value})
	}
	d.enqueue(n, mutation.AttributeChange{Target: n, Name: name, OldValue: old})
	return nil
}

// RemoveAttribute removes an attribute. Removing an absent attribute is a
// no-op and produces no record.
func (d *Document) RemoveAttribute(n *Node, name string) error {
	if err := d.own(n); err != nil {
		return err
	}
	if n.n.Type != html.ElementNode {
		return ErrNotElement
	}
	for i, a := range n.n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.n.Attr = append(n.n.Attr[:i], n.n.Attr[i+1:]...)
			d.enqueue(n, mutation.AttributeChange{Target: n, Name: name, OldValue: a.Val})
			return nil
		}
	}
	return nil
}

// SetData replaces the character data of a text node.
func (d *Document) SetData(n *Node, data string) error {
	if err := d.own(n); err != nil {
		return err
	}
	if n.n.Type != html.TextNode && n.n.Type != html.CommentNode {
		return fmt.Errorf("htmldom: set data on %s: not character data", mutation.Label(n))
	}
	old := n.n.Data
	n.n.Data = data
	d.enqueue(n, mutation.TextChange{Target: n, OldValue: old})
	return nil
}

// SetTextContent replaces every child of an element with one text node,
// producing a single childList change.
func (d *Document) SetTextContent(n *Node, text string) error {
	if err := d.own(n); err != nil {
		return err
	}
	if n.n.Type != html.ElementNode {
		return ErrNotElement
	}
	var removed []mutation.Node
	for c := n.n.FirstChild; c != nil; c = c.NextSibling {
		removed = append(removed, d.wrap(c))
	}
	rec := mutation.ChildList{Target: n, Removed: removed}
	if text != "" {
		rec.Added = []mutation.Node{d.CreateText(text)}
	}
	d.enqueue(n, rec)

	for n.n.FirstChild != nil {
		n.n.RemoveChild(n.n.FirstChild)
	}
	if text != "" {
		n.n.AppendChild(rec.Added[0].(*Node).n)
	}
	return nil
}

// observer is one registration made through Observe.
type observer struct {
	doc    *Document
	target *Node
	cfg    mutation.ObserveConfig
	fn     func([]mutation.Record)
	queue  []mutation.Record
	active atomic.Bool
}

func (o *observer) Disconnect() {
	if !o.active.CompareAndSwap(true, false) {
		return
	}
	d := o.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, x := range d.observers {
		if x == o {
			d.observers = append(d.observers[:i], d.observers[i+1:]...)
			break
		}
	}
	o.queue = nil
}

// Observe implements mutation.Host.
func (d *Document) Observe(target mutation.Node, cfg mutation.ObserveConfig, fn func([]mutation.Record)) (mutation.Subscription, error) {
	t, ok := target.(*Node)
	if !ok || t == nil {
		return nil, fmt.Errorf("htmldom: observe %s: %w", mutation.Label(target), ErrForeign)
	}
	if err := d.own(t); err != nil {
		return nil, err
	}
	o := &observer{doc: d, target: t, cfg: cfg, fn: fn}
	o.active.Store(true)

	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
	return o, nil
}

// enqueue offers rec (about node at) to every observer that can see it.
func (d *Document) enqueue(at *Node, rec mutation.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.observers {
		self := o.target == at
		if !self && !contains(o.target.n, at.n) {
			continue
		}
		if o.cfg.Wants(rec, self) {
			o.queue = append(o.queue, rec)
		}
	}
}

// Pending reports the number of queued records across observers.
func (d *Document) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, o := range d.observers {
		n += len(o.queue)
	}
	return n
}

// Flush delivers each observer's queued records as one batch, in
// registration order, on the calling goroutine. Callbacks may disconnect
// any observer, including themselves; a disconnected observer receives
// nothing further.
func (d *Document) Flush() {
	type delivery struct {
		o     *observer
		batch []mutation.Record
	}
	d.mu.Lock()
	var pending []delivery
	for _, o := range d.observers {
		if len(o.queue) == 0 {
			continue
		}
		pending = append(pending, delivery{o: o, batch: o.queue})
		o.queue = nil
	}
	d.mu.Unlock()

	for _, p := range pending {
		if !p.o.active.Load() {
			continue
		}
		p.o.fn(p.batch)
	}
}
