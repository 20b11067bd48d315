package mutation

// Op is the type of a recorded DOM mutation in the wire format.
type Op string

const (
	OpInsert  Op = "insert"   // child inserted (HTML carries the serialised subtree)
	OpRemove  Op = "remove"   // child removed
	OpText    Op = "text"     // character data modified
	OpAttr    Op = "attr"     // attribute set
	OpAttrDel Op = "attr_del" // attribute removed
)

// Entry is a single recorded mutation. XPath locates the node the mutation
// applies to: the parent for inserts, the node itself otherwise.
type Entry struct {
	Op       Op     `json:"op"`
	XPath    string `json:"xpath"`
	Tag      string `json:"tag,omitempty"`
	Name     string `json:"name,omitempty"`      // attribute name for attr/attr_del
	Value    string `json:"value,omitempty"`     // new value
	OldValue string `json:"old_value,omitempty"` // previous value
	HTML     string `json:"html,omitempty"`      // fragment for insert
}

// Batch is a recorded group of mutations that a host delivered together.
// Replaying a Batch reproduces one delivery to every observer.
type Batch struct {
	ID        string  `json:"id"` // UUIDv7
	PageID    string  `json:"page_id,omitempty"`
	Seq       uint64  `json:"seq"` // monotonically increasing per page
	Entries   []Entry `json:"entries"`
	Timestamp int64   `json:"timestamp"` // epoch milliseconds
}
