package recognize

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/domwait/internal/htmldom"
	"github.com/hazyhaar/domwait/mutation"
)

func newDoc(t *testing.T) *htmldom.Document {
	t.Helper()
	d, err := htmldom.ParseString(`<html><body><div id="root"></div><div id="other"></div></body></html>`)
	if err != nil {
		t.Fatalf("parse document: %v", err)
	}
	return d
}

// frag parses markup into detached nodes owned by d.
func frag(t *testing.T, d *htmldom.Document, markup string) []mutation.Node {
	t.Helper()
	holder := d.CreateElement("div")
	nodes, err := d.AppendHTML(holder, markup)
	if err != nil {
		t.Fatalf("frag %q: %v", markup, err)
	}
	out := make([]mutation.Node, len(nodes))
	for i, n := range nodes {
		out[i] = n
	}
	return out
}

func TestFilter_EndToEndPanel(t *testing.T) {
	d := newDoc(t)
	root := d.ByID("root")
	added := frag(t, d, `<span>no class</span><div class="panel open">x</div>`)

	f := NewFilter(Pattern{
		Target:     root,
		AddedChild: &Shape{Name: "div", Attributes: map[string]string{"class": "panel"}},
	})
	m, ok := f.Match([]mutation.Record{mutation.ChildList{Target: root, Added: added}})
	require.True(t, ok)
	require.Equal(t, mutation.KindChildList, m.Kind)
	require.Same(t, added[1], m.Node)
	require.Nil(t, m.Attribute)
}

func TestFilter_FirstMatchWins(t *testing.T) {
	d := newDoc(t)
	root := d.ByID("root")
	first := frag(t, d, `<p class="hit" id="a"></p>`)
	second := frag(t, d, `<p class="hit" id="b"></p>`)

	f := NewFilter(Pattern{Target: root, AddedChild: &Shape{Name: "p", Attributes: map[string]string{"class": "hit"}}})
	m, ok := f.Match([]mutation.Record{
		mutation.ChildList{Target: root, Added: first},
		mutation.ChildList{Target: root, Added: second},
	})
	require.True(t, ok)
	require.Same(t, first[0], m.Node)
}

func TestFilter_ClassTokenContainment(t *testing.T) {
	d := newDoc(t)
	root := d.ByID("root")
	f := NewFilter(Pattern{Target: root, AddedChild: &Shape{Name: "div", Attributes: map[string]string{"class": "a b"}}})

	superset := frag(t, d, `<div class="c b a"></div>`)
	_, ok := f.Match([]mutation.Record{mutation.ChildList{Added: superset}})
	require.True(t, ok)

	subset := frag(t, d, `<div class="a"></div>`)
	_, ok = f.Match([]mutation.Record{mutation.ChildList{Added: subset}})
	require.False(t, ok)
}

func TestFilter_ExactAttributeAndMissingAttribute(t *testing.T) {
	d := newDoc(t)
	f := NewFilter(Pattern{Target: d.ByID("root"), AddedChild: &Shape{
		Name:       "input",
		Attributes: map[string]string{"type": "text"},
	}})

	for markup, want := range map[string]bool{
		`<input type="text">`:      true,
		`<input type="text-area">`: false,
		`<input>`:                  false,
	} {
		_, ok := f.Match([]mutation.Record{mutation.ChildList{Added: frag(t, d, markup)}})
		require.Equal(t, want, ok, markup)
	}
}

func TestFilter_AddedSearchesDescendantsPreOrder(t *testing.T) {
	d := newDoc(t)
	added := frag(t, d, `<section><div id="outer" class="card"><div id="inner" class="card"></div></div></section>`)

	f := NewFilter(Pattern{Target: d.ByID("root"), AddedChild: &Shape{Name: "div", Attributes: map[string]string{"class": "card"}}})
	m, ok := f.Match([]mutation.Record{mutation.ChildList{Added: added}})
	require.True(t, ok)
	id, _ := m.Node.Attr("id")
	require.Equal(t, "outer", id)
}

func TestFilter_RemovedIsShallow(t *testing.T) {
	d := newDoc(t)
	root := d.ByID("root")
	f := NewFilter(Pattern{Target: root, RemovedChild: &Shape{Name: "li"}})

	wrapped := frag(t, d, `<ul><li>gone</li></ul>`)
	_, ok := f.Match([]mutation.Record{mutation.ChildList{Target: root, Removed: wrapped}})
	require.False(t, ok, "descendant of a removed node must not match")

	direct := frag(t, d, `<ul><li>gone</li></ul>`)[0].ElementsByTagName("li")
	m, ok := f.Match([]mutation.Record{mutation.ChildList{Target: root, Removed: direct}})
	require.True(t, ok)
	require.Same(t, direct[0], m.Node)
}

func TestFilter_AddedShapeIgnoresRemovals(t *testing.T) {
	d := newDoc(t)
	f := NewFilter(Pattern{Target: d.ByID("root"), AddedChild: &Shape{Name: "p"}})
	_, ok := f.Match([]mutation.Record{mutation.ChildList{Removed: frag(t, d, `<p></p>`)}})
	require.False(t, ok)
}

func TestFilter_BothShapesAddedWins(t *testing.T) {
	d := newDoc(t)
	f := NewFilter(Pattern{
		Target:       d.ByID("root"),
		AddedChild:   &Shape{Name: "p"},
		RemovedChild: &Shape{Name: "span"},
	})
	_, ok := f.Match([]mutation.Record{mutation.ChildList{Removed: frag(t, d, `<span></span>`)}})
	require.False(t, ok)
	_, ok = f.Match([]mutation.Record{mutation.ChildList{Added: frag(t, d, `<p></p>`)}})
	require.True(t, ok)
}

func TestFilter_WildcardTag(t *testing.T) {
	d := newDoc(t)
	for _, name := range []string{"", "*"} {
		f := NewFilter(Pattern{Target: d.ByID("root"), AddedChild: &Shape{Name: name, Attributes: map[string]string{"role": "alert"}}})
		m, ok := f.Match([]mutation.Record{mutation.ChildList{Added: frag(t, d, `<section><em role="alert"></em></section>`)}})
		require.True(t, ok, "name %q", name)
		require.Equal(t, "em", m.Node.LocalName())
	}
}

func TestFilter_AddedWithText(t *testing.T) {
	d := newDoc(t)
	f := NewFilter(Pattern{Target: d.ByID("root"), AddedChild: &Shape{Name: "div"}, Text: "Saved"})

	_, ok := f.Match([]mutation.Record{mutation.ChildList{Added: frag(t, d, `<div>Loading</div>`)}})
	require.False(t, ok)
	m, ok := f.Match([]mutation.Record{mutation.ChildList{Added: frag(t, d, `<div>Changes Saved.</div>`)}})
	require.True(t, ok)
	require.Equal(t, "Changes Saved.", m.Node.TextContent())
}

func TestFilter_TextIsCheckedOnEachCandidate(t *testing.T) {
	d := newDoc(t)
	f := NewFilter(Pattern{
		Target:     d.ByID("root"),
		AddedChild: &Shape{Name: "div", Attributes: map[string]string{"class": "panel"}},
		Text:       "hello",
	})

	_, ok := f.Match([]mutation.Record{mutation.ChildList{
		Added: frag(t, d, `<section>hello <div class="panel">x</div></section>`),
	}})
	require.False(t, ok, "text on the enclosing node does not qualify a descendant")

	m, ok := f.Match([]mutation.Record{mutation.ChildList{
		Added: frag(t, d, `<section>intro <div class="panel">hello</div></section>`),
	}})
	require.True(t, ok)
	require.Equal(t, "div", m.Node.LocalName())
	require.Equal(t, "hello", m.Node.TextContent())
}

func TestFilter_AttributeIdentityAndName(t *testing.T) {
	d := newDoc(t)
	root, other := d.ByID("root"), d.ByID("other")
	require.NoError(t, d.SetAttribute(root, "open", "true"))

	f := NewFilter(Pattern{Target: root, ChangedAttribute: "open"})

	_, ok := f.Match([]mutation.Record{mutation.AttributeChange{Target: root, Name: "class"}})
	require.False(t, ok, "different attribute on the same target")

	_, ok = f.Match([]mutation.Record{mutation.AttributeChange{Target: other, Name: "open"}})
	require.False(t, ok, "same attribute on a different target")

	m, ok := f.Match([]mutation.Record{mutation.AttributeChange{Target: root, Name: "open"}})
	require.True(t, ok)
	require.Equal(t, mutation.KindAttribute, m.Kind)
	require.Same(t, root, m.Node)
	require.Equal(t, &Attribute{Name: "open", Value: "true", Present: true}, m.Attribute)

	require.NoError(t, d.RemoveAttribute(root, "open"))
	m, ok = f.Match([]mutation.Record{mutation.AttributeChange{Target: root, Name: "open"}})
	require.True(t, ok)
	require.False(t, m.Attribute.Present)
}

func TestFilter_TextChangeIsExact(t *testing.T) {
	d := newDoc(t)
	text := d.CreateText("Done!")
	f := NewFilter(Pattern{Target: d.ByID("root"), Text: "Done"})

	_, ok := f.Match([]mutation.Record{mutation.TextChange{Target: text}})
	require.False(t, ok, "substring is not enough for text records")

	require.NoError(t, d.SetData(text, "Done"))
	m, ok := f.Match([]mutation.Record{mutation.TextChange{Target: text}})
	require.True(t, ok)
	require.Equal(t, mutation.KindText, m.Kind)
	require.Same(t, text, m.Node)
}

func TestFilter_SkipsInapplicableRecords(t *testing.T) {
	d := newDoc(t)
	root := d.ByID("root")
	text := d.CreateText("ready")
	f := NewFilter(Pattern{Target: root, Text: "ready"})

	// The attribute and childList records carry no applicable criterion and
	// must not stop the scan.
	m, ok := f.Match([]mutation.Record{
		mutation.AttributeChange{Target: root, Name: "open"},
		mutation.ChildList{Target: root, Added: frag(t, d, `<p>ready</p>`)},
		nil,
		mutation.TextChange{Target: text},
	})
	require.True(t, ok)
	require.Same(t, text, m.Node)
}

func TestFilter_EmptyPatternNeverMatches(t *testing.T) {
	d := newDoc(t)
	root := d.ByID("root")
	f := NewFilter(Pattern{Target: root})

	_, ok := f.Match([]mutation.Record{
		mutation.ChildList{Target: root, Added: frag(t, d, `<div></div>`)},
		mutation.AttributeChange{Target: root, Name: "id"},
		mutation.TextChange{Target: d.CreateText("")},
	})
	require.False(t, ok)

	_, ok = f.Match(nil)
	require.False(t, ok)
}

func TestFilter_EmptyNodeListsAreNotMatches(t *testing.T) {
	d := newDoc(t)
	f := NewFilter(Pattern{Target: d.ByID("root"), AddedChild: &Shape{}})
	_, ok := f.Match([]mutation.Record{mutation.ChildList{Added: nil}})
	require.False(t, ok)
	_, ok = f.Match([]mutation.Record{mutation.ChildList{Added: []mutation.Node{d.CreateText("t")}}})
	require.False(t, ok, "text nodes are not element candidates")
}

func TestFilter_ShapeIsCopied(t *testing.T) {
	d := newDoc(t)
	shape := &Shape{Name: "DIV", Attributes: map[string]string{"class": "x"}}
	f := NewFilter(Pattern{Target: d.ByID("root"), AddedChild: shape})
	shape.Attributes["class"] = "y"

	_, ok := f.Match([]mutation.Record{mutation.ChildList{Added: frag(t, d, `<div class="x"></div>`)}})
	require.True(t, ok)
}

func TestFilter_Description(t *testing.T) {
	d := newDoc(t)
	f := NewFilter(Pattern{
		Target:     d.ByID("root"),
		AddedChild: &Shape{Name: "div", Attributes: map[string]string{"class": "panel", "role": "dialog"}},
		Text:       "Hello",
	})

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.Description()), &got))
	require.Equal(t, "div#root", got["target"])
	require.Equal(t, "Hello", got["text"])
	require.Equal(t,
		`//div[contains(concat(' ', normalize-space(@class), ' '), ' panel ')][@role='dialog'][contains(text(), 'Hello')]`,
		got["xpath"])
}

func TestFilter_DescriptionNeverPanics(t *testing.T) {
	require.NotPanics(t, func() {
		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(NewFilter(Pattern{}).Description()), &got))
		require.Equal(t, "<nil>", got["target"])
		require.Equal(t, "//*", got["xpath"])
	})

	var typedNil *htmldom.Node
	require.NotPanics(t, func() {
		desc := NewFilter(Pattern{Target: typedNil, ChangedAttribute: "x"}).Description()
		require.True(t, strings.HasPrefix(desc, "{"))
	})
}

func TestFilter_XPath(t *testing.T) {
	cases := []struct {
		p    Pattern
		want string
	}{
		{Pattern{}, "//*"},
		{Pattern{AddedChild: &Shape{Name: "li"}}, "//li"},
		{Pattern{RemovedChild: &Shape{Name: "li", Attributes: map[string]string{"id": "x"}}}, "//li[@id='x']"},
		{Pattern{Text: "it's"}, `//*[contains(text(), "it's")]`},
		{Pattern{AddedChild: &Shape{Attributes: map[string]string{"title": `a'b"c`}}}, `//*[@title=concat('a', "'", 'b"c')]`},
	}
	for _, c := range cases {
		require.Equal(t, c.want, NewFilter(c.p).XPath())
	}
}

func TestPatternValidate(t *testing.T) {
	d := newDoc(t)
	root := d.ByID("root")

	require.NoError(t, Pattern{Target: root, ChangedAttribute: "open"}.Validate())
	require.ErrorIs(t, Pattern{Target: root}.Validate(), ErrEmptyPattern)
	require.ErrorIs(t, Pattern{ChangedAttribute: "x"}.Validate(), ErrNoTarget)

	err := Pattern{AddedChild: &Shape{}, RemovedChild: &Shape{}}.Validate()
	require.ErrorIs(t, err, ErrAmbiguousShape)
	require.ErrorIs(t, err, ErrNoTarget)
}
