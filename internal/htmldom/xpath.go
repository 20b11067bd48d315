package htmldom

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domwait/mutation"
)

// Find evaluates a practical XPath subset against the document:
//   - /html/body/div       absolute path
//   - //article            descendant anywhere
//   - //div[@class='x']    attribute predicate
//   - /html/body/div[2]    positional predicate
//   - /html/body/p/text()  text node children
func (d *Document) Find(xpath string) []*Node {
	var out []*Node
	for _, h := range evaluateXPath(d.root, xpath) {
		out = append(out, d.wrap(h))
	}
	return out
}

// FindOne returns the first node at xpath.
func (d *Document) FindOne(xpath string) (*Node, error) {
	nodes := d.Find(xpath)
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, xpath)
	}
	return nodes[0], nil
}

// Resolve is FindOne typed for callers that only know mutation.Node.
func (d *Document) Resolve(_ context.Context, xpath string) (mutation.Node, error) {
	n, err := d.FindOne(xpath)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// PathOf returns XPath(n) for nodes of this package and "" for any other.
func PathOf(n mutation.Node) string {
	if hn, ok := n.(*Node); ok {
		return XPath(hn)
	}
	return ""
}

// XPath computes the absolute path of n, with positional predicates only
// where siblings share the tag. Detached nodes get a path relative to their
// detached root.
func XPath(n *Node) string {
	if n == nil {
		return ""
	}
	var parts []string
	for h := n.n; h != nil && h.Type != html.DocumentNode; h = h.Parent {
		parts = append(parts, stepFor(h))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

func stepFor(h *html.Node) string {
	name := strings.ToLower(h.Data)
	switch h.Type {
	case html.TextNode:
		name = "text()"
	case html.CommentNode:
		name = "comment()"
	}
	if h.Parent == nil {
		return name
	}
	idx, total := 0, 0
	for s := h.Parent.FirstChild; s != nil; s = s.NextSibling {
		if sameStep(s, h) {
			total++
			if s == h {
				idx = total
			}
		}
	}
	if total > 1 {
		return fmt.Sprintf("%s[%d]", name, idx)
	}
	return name
}

func sameStep(a, b *html.Node) bool {
	if a.Type != b.Type {
		return false
	}
	if a.Type == html.ElementNode {
		return strings.EqualFold(a.Data, b.Data)
	}
	return true
}

func evaluateXPath(root *html.Node, xpath string) []*html.Node {
	xpath = strings.TrimSpace(xpath)
	if xpath == "" || xpath == "/" {
		return []*html.Node{root}
	}

	if strings.HasPrefix(xpath, "//") {
		return findDescendants(root, xpath[2:])
	}
	if strings.HasPrefix(xpath, "/") {
		return followPath(root, xpath[1:])
	}
	return findDescendants(root, xpath)
}

// findDescendants handles //step/rest: every node matching step anywhere,
// then rest as a relative path from each.
func findDescendants(root *html.Node, expr string) []*html.Node {
	steps := strings.SplitN(expr, "/", 2)
	tag, pred := parseXPathStep(steps[0])

	var matches []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if matchesXPathStep(n, tag, pred) {
			matches = append(matches, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if len(steps) > 1 && steps[1] != "" {
		var filtered []*html.Node
		for _, m := range matches {
			filtered = append(filtered, followPath(m, steps[1])...)
		}
		return filtered
	}
	return matches
}

// followPath follows child steps from node.
func followPath(node *html.Node, path string) []*html.Node {
	current := []*html.Node{node}
	for _, step := range strings.Split(path, "/") {
		if step == "" {
			continue
		}
		tag, pred := parseXPathStep(step)
		var next []*html.Node
		for _, parent := range current {
			for c := parent.FirstChild; c != nil; c = c.NextSibling {
				if matchesXPathStep(c, tag, pred) {
					next = append(next, c)
				}
			}
		}
		current = next
	}
	return current
}

type xpathPredicate struct {
	attrName  string
	attrValue string
	hasValue  bool
	position  int // 1-based
}

// parseXPathStep parses "div", "div[@class='x']", "div[2]", "text()".
func parseXPathStep(step string) (string, *xpathPredicate) {
	idx := strings.IndexByte(step, '[')
	if idx < 0 {
		return strings.ToLower(step), nil
	}

	tag := strings.ToLower(step[:idx])
	predStr := strings.TrimSuffix(step[idx+1:], "]")
	pred := &xpathPredicate{}

	if n, err := strconv.Atoi(predStr); err == nil {
		pred.position = n
		return tag, pred
	}

	if strings.HasPrefix(predStr, "@") {
		attrExpr := predStr[1:]
		if eq := strings.IndexByte(attrExpr, '='); eq >= 0 {
			pred.attrName = attrExpr[:eq]
			pred.attrValue = strings.Trim(attrExpr[eq+1:], `'"`)
			pred.hasValue = true
		} else {
			pred.attrName = attrExpr
		}
		return tag, pred
	}

	return tag, nil
}

func matchesXPathStep(n *html.Node, tag string, pred *xpathPredicate) bool {
	switch tag {
	case "text()":
		if n.Type != html.TextNode {
			return false
		}
	case "comment()":
		if n.Type != html.CommentNode {
			return false
		}
	case "node()":
	default:
		if n.Type != html.ElementNode {
			return false
		}
		if tag != "*" && !strings.EqualFold(n.Data, tag) {
			return false
		}
	}

	if pred == nil {
		return true
	}

	if pred.attrName != "" {
		for _, a := range n.Attr {
			if a.Key == pred.attrName {
				return !pred.hasValue || a.Val == pred.attrValue
			}
		}
		return false
	}

	if pred.position > 0 {
		if n.Parent == nil {
			return pred.position == 1
		}
		pos := 0
		for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
			if matchesXPathStep(s, tag, nil) {
				pos++
				if s == n {
					return pos == pred.position
				}
			}
		}
		return false
	}

	return true
}
