// Package host defines the contract between the in-page pipeline and the
// document tree it translates. The host owns the tree; the pipeline only
// reads elements, writes translated content, and listens for structural
// changes.
package host

import "errors"

// NodeID is an opaque, comparable handle into the host tree. Two handles
// denote the same node iff they are equal.
type NodeID int64

var (
	// ErrNodeGone is returned when a node was removed from the tree.
	ErrNodeGone = errors.New("host: node no longer attached")
	// ErrUnknownNode is returned for handles the host never issued.
	ErrUnknownNode = errors.New("host: unknown node")
)

// Rect is a layout box in viewport coordinates.
type Rect struct {
	X, Y, Width, Height float64
}

// Empty reports whether the box has no area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Within reports whether r lies entirely inside outer.
func (r Rect) Within(outer Rect) bool {
	return r.X >= outer.X && r.Y >= outer.Y &&
		r.X+r.Width <= outer.X+outer.Width &&
		r.Y+r.Height <= outer.Y+outer.Height
}

// Element is a point-in-time description of a node.
type Element struct {
	ID     NodeID
	Kind   string // lower-case tag name
	Text   string // rendered text content
	Hidden bool   // explicit hidden presentation state
	Box    Rect
}

// Op is the kind of structural change reported by the host.
type Op string

const (
	OpInsert   Op = "insert"    // one or more subtrees were added
	OpRemove   Op = "remove"    // a subtree was removed
	OpAttr     Op = "attr"      // attribute-only change
	OpText     Op = "text"      // character data change
	OpDocReset Op = "doc_reset" // the whole document was replaced
)

// Change is one structural-change notification.
type Change struct {
	Op     Op
	Target NodeID   // parent for insert/remove, node for attr/text
	Added  []NodeID // roots of inserted subtrees (OpInsert only)
}

// ChangeFunc receives change notifications. Hosts may call it from any
// goroutine; receivers must not call back into the host synchronously.
type ChangeFunc func(Change)

// Host is the tree the pipeline walks and writes into.
type Host interface {
	// Body returns the root of the translatable tree. Ancestor walks stop here.
	Body() NodeID
	// Title returns the document title node, if any.
	Title() (NodeID, bool)
	// Parent returns the parent of id, or false at the tree root.
	Parent(id NodeID) (NodeID, bool)
	// Children returns the element children of id in document order.
	Children(id NodeID) []NodeID
	// Describe returns kind, rendered text, visibility and geometry for id.
	Describe(id NodeID) (Element, error)
	// ReadContent returns the serialised inner content of id.
	ReadContent(id NodeID) (string, error)
	// WriteContent replaces the inner content of id.
	WriteContent(id NodeID, content string) error
	// Viewport returns the visible viewport bounds.
	Viewport() Rect
	// Subscribe registers fn for structural changes and returns a cancel func.
	Subscribe(fn ChangeFunc) (cancel func())
}

// Walk visits root and its descendants in pre-order. If visit returns
// false the children of that node are skipped.
func Walk(h Host, root NodeID, visit func(NodeID) bool) {
	if !visit(root) {
		return
	}
	for _, c := range h.Children(root) {
		Walk(h, c, visit)
	}
}
