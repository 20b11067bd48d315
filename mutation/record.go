package mutation

// Kind discriminates the three change record variants.
type Kind int

const (
	KindChildList Kind = iota + 1
	KindAttribute
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindChildList:
		return "childList"
	case KindAttribute:
		return "attributes"
	case KindText:
		return "characterData"
	default:
		return "unknown"
	}
}

// Record is one change in a batch. The set of implementations is closed:
// ChildList, AttributeChange and TextChange. Records are snapshots owned by
// the host and only valid for the duration of the delivery callback.
type Record interface {
	Kind() Kind
	// Node returns the node the change happened on.
	Node() Node
	isRecord()
}

// ChildList reports children added to or removed from Target.
type ChildList struct {
	Target  Node
	Added   []Node
	Removed []Node
}

// AttributeChange reports that attribute Name changed on Target.
type AttributeChange struct {
	Target   Node
	Name     string
	OldValue string
}

// TextChange reports that the character data of the text node Target changed.
type TextChange struct {
	Target   Node
	OldValue string
}

func (ChildList) Kind() Kind       { return KindChildList }
func (AttributeChange) Kind() Kind { return KindAttribute }
func (TextChange) Kind() Kind      { return KindText }

func (r ChildList) Node() Node       { return r.Target }
func (r AttributeChange) Node() Node { return r.Target }
func (r TextChange) Node() Node      { return r.Target }

func (ChildList) isRecord()       {}
func (AttributeChange) isRecord() {}
func (TextChange) isRecord()      {}
