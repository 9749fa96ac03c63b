package tree

import (
	"time"

	ierr "github.com/flexprice/invoicetree/internal/errors"
)

// Payload is the data attached to one node. The tree is ignorant of billing
// semantics; all it ever asks of a payload is to split itself when a node has
// to be cut at a child boundary during insertion.
type Payload[P any] interface {
	Split(at time.Time) (P, P, error)
}

// AddNodeCallback lets the caller decide the billing-specific insertion
// policy while the tree handles structure.
type AddNodeCallback[P Payload[P]] interface {
	// OnExistingNode fires when the incoming node's range exactly matches an
	// existing non-root node. Returning false means the callback has absorbed
	// the incoming node (typically by merging its items) and no structural
	// insertion happens; returning true proceeds to insert the incoming node
	// underneath the matching node.
	OnExistingNode(existing, incoming *NodeInterval[P]) (bool, error)
	// ShouldInsertNode fires right before the incoming node would be linked
	// as a child of parent. Returning false drops the structural insertion.
	ShouldInsertNode(parent, incoming *NodeInterval[P]) (bool, error)
}

// BuildNodeCallback receives the depth-first traversal of the tree: leaves,
// and the gaps in between children where no node exists at all.
type BuildNodeCallback[P Payload[P]] interface {
	OnMissingInterval(node *NodeInterval[P], start, end time.Time) error
	OnLastNode(node *NodeInterval[P]) error
}

// NodeInterval is a date-range-keyed, ordered multi-child tree node over a
// half-open interval [Start, End). Children of a node are pairwise
// non-overlapping, sorted by start date and contained within the parent's
// range. The root carries no fixed range up front; its range grows to the
// union of everything inserted.
type NodeInterval[P Payload[P]] struct {
	Start   time.Time
	End     time.Time
	Payload P

	parent       *NodeInterval[P]
	leftChild    *NodeInterval[P]
	rightSibling *NodeInterval[P]
}

// NewNodeInterval creates a detached node covering [start, end).
func NewNodeInterval[P Payload[P]](start, end time.Time, payload P) *NodeInterval[P] {
	return &NodeInterval[P]{
		Start:   start,
		End:     end,
		Payload: payload,
	}
}

func (n *NodeInterval[P]) IsRoot() bool {
	return n.parent == nil
}

func (n *NodeInterval[P]) Parent() *NodeInterval[P] {
	return n.parent
}

func (n *NodeInterval[P]) IsLeaf() bool {
	return n.leftChild == nil
}

func (n *NodeInterval[P]) containsNode(o *NodeInterval[P]) bool {
	return !o.Start.Before(n.Start) && !o.End.After(n.End)
}

func (n *NodeInterval[P]) containsDate(d time.Time) bool {
	return !d.Before(n.Start) && d.Before(n.End)
}

func (n *NodeInterval[P]) sameRange(o *NodeInterval[P]) bool {
	return n.Start.Equal(o.Start) && n.End.Equal(o.End)
}

func (n *NodeInterval[P]) intersects(o *NodeInterval[P]) bool {
	return o.Start.Before(n.End) && o.End.After(n.Start)
}

// AddNode inserts newNode into the subtree rooted at n. An incoming node
// whose range crosses an existing child's boundary is split at that boundary
// and each half is re-inserted, so an arbitrarily wide item always finds its
// exact place relative to narrower ones.
func (n *NodeInterval[P]) AddNode(newNode *NodeInterval[P], callback AddNodeCallback[P]) error {
	if !newNode.End.After(newNode.Start) {
		return ierr.NewError("invalid node interval").
			WithHintf("interval [%s, %s) is empty or inverted",
				newNode.Start.Format(time.DateOnly), newNode.End.Format(time.DateOnly)).
			Mark(ierr.ErrValidation)
	}

	if n.IsRoot() {
		n.extendRootRange(newNode)
	} else if n.sameRange(newNode) {
		insert, err := callback.OnExistingNode(n, newNode)
		if err != nil || !insert {
			return err
		}
	}

	var prev *NodeInterval[P]
	cur := n.leftChild
	for cur != nil {
		switch {
		case !newNode.End.After(cur.Start):
			// entirely before cur
			return n.insertChild(prev, cur, newNode, callback)
		case cur.containsNode(newNode):
			return cur.AddNode(newNode, callback)
		case newNode.intersects(cur):
			// crosses one of cur's boundaries; cut and re-insert each half
			at := cur.Start
			if !newNode.Start.Before(cur.Start) {
				at = cur.End
			}
			left, right, err := newNode.split(at)
			if err != nil {
				return err
			}
			if err := n.AddNode(left, callback); err != nil {
				return err
			}
			return n.AddNode(right, callback)
		}
		prev = cur
		cur = cur.rightSibling
	}
	return n.insertChild(prev, nil, newNode, callback)
}

func (n *NodeInterval[P]) insertChild(prev, next, newNode *NodeInterval[P], callback AddNodeCallback[P]) error {
	insert, err := callback.ShouldInsertNode(n, newNode)
	if err != nil || !insert {
		return err
	}
	newNode.parent = n
	newNode.rightSibling = next
	if prev == nil {
		n.leftChild = newNode
	} else {
		prev.rightSibling = newNode
	}
	return nil
}

func (n *NodeInterval[P]) extendRootRange(newNode *NodeInterval[P]) {
	if n.Start.IsZero() && n.End.IsZero() {
		n.Start = newNode.Start
		n.End = newNode.End
		return
	}
	if newNode.Start.Before(n.Start) {
		n.Start = newNode.Start
	}
	if newNode.End.After(n.End) {
		n.End = newNode.End
	}
}

// split cuts a detached node in two at the given date, delegating the payload
// split to the payload itself. Only nodes without children can be split; the
// tree only ever splits incoming nodes, which are always leaves.
func (n *NodeInterval[P]) split(at time.Time) (*NodeInterval[P], *NodeInterval[P], error) {
	if !n.IsLeaf() {
		return nil, nil, ierr.NewError("cannot split node with children").
			Mark(ierr.ErrInvalidOperation)
	}
	if !at.After(n.Start) || !at.Before(n.End) {
		return nil, nil, ierr.NewError("split date outside node interval").
			WithHintf("date %s not strictly inside [%s, %s)",
				at.Format(time.DateOnly), n.Start.Format(time.DateOnly), n.End.Format(time.DateOnly)).
			Mark(ierr.ErrInvalidOperation)
	}
	leftPayload, rightPayload, err := n.Payload.Split(at)
	if err != nil {
		return nil, nil, err
	}
	return NewNodeInterval(n.Start, at, leftPayload), NewNodeInterval(at, n.End, rightPayload), nil
}

// Build walks the subtree depth first. Leaves are reported through
// OnLastNode; any stretch of a node's range not covered by its children is
// reported through OnMissingInterval. Gaps represent service periods with no
// node on file at all; the callback decides whether that is a no-op or an
// error.
func (n *NodeInterval[P]) Build(callback BuildNodeCallback[P]) error {
	if n.IsLeaf() {
		return callback.OnLastNode(n)
	}
	cursor := n.Start
	for child := n.leftChild; child != nil; child = child.rightSibling {
		if cursor.Before(child.Start) {
			if err := callback.OnMissingInterval(n, cursor, child.Start); err != nil {
				return err
			}
		}
		if err := child.Build(callback); err != nil {
			return err
		}
		cursor = child.End
	}
	if cursor.Before(n.End) {
		return callback.OnMissingInterval(n, cursor, n.End)
	}
	return nil
}

// FindNode returns the first node (depth first, excluding the root) matching
// the predicate.
func (n *NodeInterval[P]) FindNode(predicate func(*NodeInterval[P]) bool) *NodeInterval[P] {
	if !n.IsRoot() && predicate(n) {
		return n
	}
	for child := n.leftChild; child != nil; child = child.rightSibling {
		if found := child.FindNode(predicate); found != nil {
			return found
		}
	}
	return nil
}

// FindNodeAt is FindNode restricted to nodes whose range contains the date.
func (n *NodeInterval[P]) FindNodeAt(date time.Time, predicate func(*NodeInterval[P]) bool) *NodeInterval[P] {
	if !n.IsRoot() && !n.containsDate(date) {
		return nil
	}
	if !n.IsRoot() && predicate(n) {
		return n
	}
	for child := n.leftChild; child != nil; child = child.rightSibling {
		if found := child.FindNodeAt(date, predicate); found != nil {
			return found
		}
	}
	return nil
}

// Walk visits every node depth first with its depth, root at 0. Used for
// validation and pretty printing.
func (n *NodeInterval[P]) Walk(fn func(depth int, node *NodeInterval[P]) error) error {
	return n.walk(0, fn)
}

func (n *NodeInterval[P]) walk(depth int, fn func(int, *NodeInterval[P]) error) error {
	if err := fn(depth, n); err != nil {
		return err
	}
	for child := n.leftChild; child != nil; child = child.rightSibling {
		if err := child.walk(depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}
