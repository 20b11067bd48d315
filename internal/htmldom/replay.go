package htmldom

import (
	"fmt"

	"github.com/hazyhaar/domwait/mutation"
)

// Apply replays a recorded batch onto the document and flushes, so every
// observer receives the batch's records as one delivery. Entries are applied
// in order; the first failing entry aborts the batch and pending records are
// still flushed.
func (d *Document) Apply(b mutation.Batch) error {
	defer d.Flush()
	for i, e := range b.Entries {
		if err := d.applyEntry(e); err != nil {
			return fmt.Errorf("htmldom: batch %s entry %d (%s %s): %w", b.ID, i, e.Op, e.XPath, err)
		}
	}
	return nil
}

func (d *Document) applyEntry(e mutation.Entry) error {
	n, err := d.FindOne(e.XPath)
	if err != nil {
		return err
	}

	switch e.Op {
	case mutation.OpInsert:
		if e.HTML != "" {
			_, err := d.AppendHTML(n, e.HTML)
			return err
		}
		if e.Tag == "" {
			return fmt.Errorf("htmldom: insert needs html or tag")
		}
		return d.AppendChild(n, d.CreateElement(e.Tag))

	case mutation.OpRemove:
		return d.Remove(n)

	case mutation.OpAttr:
		return d.SetAttribute(n, e.Name, e.Value)

	case mutation.OpAttrDel:
		return d.RemoveAttribute(n, e.Name)

	case mutation.OpText:
		if n.Type() == mutation.ElementNode {
			return d.SetTextContent(n, e.Value)
		}
		return d.SetData(n, e.Value)
	}
	return fmt.Errorf("htmldom: unknown op %q", e.Op)
}
