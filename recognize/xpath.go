package recognize

import (
	"slices"
	"strings"
)

// XPath renders a location path equivalent to the filter's shape criteria,
// for logs only. Matching never evaluates it.
func (f *Filter) XPath() string {
	var b strings.Builder
	b.WriteString("//")

	switch {
	case f.added != nil:
		writeShapeStep(&b, f.added)
	case f.removed != nil:
		writeShapeStep(&b, f.removed)
	default:
		b.WriteString("*")
	}

	if f.text != "" {
		b.WriteString("[contains(text(), ")
		b.WriteString(xpathLiteral(f.text))
		b.WriteString(")]")
	}
	return b.String()
}

func writeShapeStep(b *strings.Builder, s *Shape) {
	if s.anyTag() {
		b.WriteString("*")
	} else {
		b.WriteString(s.Name)
	}

	keys := make([]string, 0, len(s.Attributes))
	for k := range s.Attributes {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		v := s.Attributes[k]
		if k == "class" {
			for _, tok := range strings.Fields(v) {
				b.WriteString("[contains(concat(' ', normalize-space(@class), ' '), ")
				b.WriteString(xpathLiteral(" " + tok + " "))
				b.WriteString(")]")
			}
			continue
		}
		b.WriteString("[@")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(xpathLiteral(v))
		b.WriteString("]")
	}
}

// xpathLiteral quotes s with whichever quote it does not contain. XPath 1.0
// has no escape; strings holding both quotes fall back to concat().
func xpathLiteral(s string) string {
	switch {
	case !strings.Contains(s, "'"):
		return "'" + s + "'"
	case !strings.Contains(s, `"`):
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	var b strings.Builder
	b.WriteString("concat(")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`, "'", `)
		}
		b.WriteString("'" + p + "'")
	}
	b.WriteString(")")
	return b.String()
}
