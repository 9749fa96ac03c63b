package tree

import (
	"fmt"
	"testing"
	"time"

	ierr "github.com/flexprice/invoicetree/internal/errors"
	"github.com/flexprice/invoicetree/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBuildCallback captures the traversal as strings for structural
// assertions.
type recordingBuildCallback struct {
	events []string
}

func (c *recordingBuildCallback) OnMissingInterval(node *ItemsNodeInterval, start, end time.Time) error {
	c.events = append(c.events, fmt.Sprintf("gap[%s,%s)", start.Format("01-02"), end.Format("01-02")))
	return nil
}

func (c *recordingBuildCallback) OnLastNode(node *ItemsNodeInterval) error {
	c.events = append(c.events, fmt.Sprintf("leaf[%s,%s)", node.Start.Format("01-02"), node.End.Format("01-02")))
	return nil
}

func addItemNode(t *testing.T, root *ItemsNodeInterval, id string, start, end time.Time) {
	t.Helper()
	src := newRecurringRecord(id, "subs_1", start, end, "30")
	err := root.AddNode(newItemsNodeInterval(NewItem(src, "inv_target", types.ItemActionAdd)), existingItemCallback{})
	require.NoError(t, err)
}

func TestAddNodeNesting(t *testing.T) {
	root := newItemsRoot()
	addItemNode(t, root, "item_outer", date(2026, time.January, 1), date(2026, time.January, 31))
	addItemNode(t, root, "item_inner", date(2026, time.January, 10), date(2026, time.January, 20))

	outer := root.FindNode(func(n *ItemsNodeInterval) bool { return n.Payload.ContainsItemID("item_outer") })
	inner := root.FindNode(func(n *ItemsNodeInterval) bool { return n.Payload.ContainsItemID("item_inner") })
	require.NotNil(t, outer)
	require.NotNil(t, inner)
	assert.Same(t, outer, inner.Parent())
	assert.True(t, root.Start.Equal(date(2026, time.January, 1)))
	assert.True(t, root.End.Equal(date(2026, time.January, 31)))
}

func TestAddNodeSiblingOrder(t *testing.T) {
	root := newItemsRoot()
	addItemNode(t, root, "item_feb", date(2026, time.February, 1), date(2026, time.March, 1))
	addItemNode(t, root, "item_jan", date(2026, time.January, 1), date(2026, time.February, 1))

	cb := &recordingBuildCallback{}
	require.NoError(t, root.Build(cb))
	assert.Equal(t, []string{"leaf[01-01,02-01)", "leaf[02-01,03-01)"}, cb.events)
}

func TestAddNodeSplitsAcrossChildBoundary(t *testing.T) {
	root := newItemsRoot()
	addItemNode(t, root, "item_a", date(2026, time.January, 1), date(2026, time.January, 15))
	// Crosses item_a's end boundary; must be split at Jan 15.
	addItemNode(t, root, "item_b", date(2026, time.January, 10), date(2026, time.January, 25))

	inside := root.FindNodeAt(date(2026, time.January, 12), func(n *ItemsNodeInterval) bool {
		return n.Payload.ContainsItemID("item_b")
	})
	require.NotNil(t, inside)
	assert.True(t, inside.Start.Equal(date(2026, time.January, 10)))
	assert.True(t, inside.End.Equal(date(2026, time.January, 15)))

	outside := root.FindNodeAt(date(2026, time.January, 20), func(n *ItemsNodeInterval) bool {
		return n.Payload.ContainsItemID("item_b")
	})
	require.NotNil(t, outside)
	assert.True(t, outside.Start.Equal(date(2026, time.January, 15)))
	assert.True(t, outside.End.Equal(date(2026, time.January, 25)))
}

func TestBuildReportsGaps(t *testing.T) {
	root := newItemsRoot()
	addItemNode(t, root, "item_outer", date(2026, time.January, 1), date(2026, time.January, 31))
	addItemNode(t, root, "item_mid", date(2026, time.January, 10), date(2026, time.January, 20))

	cb := &recordingBuildCallback{}
	require.NoError(t, root.Build(cb))
	assert.Equal(t, []string{
		"gap[01-01,01-10)",
		"leaf[01-10,01-20)",
		"gap[01-20,01-31)",
	}, cb.events)
}

func TestAddNodeRejectsEmptyInterval(t *testing.T) {
	root := newItemsRoot()
	node := NewNodeInterval(date(2026, time.January, 10), date(2026, time.January, 10), newItemsInterval())
	err := root.AddNode(node, existingItemCallback{})
	assert.True(t, ierr.IsValidation(err))
}

func TestWalkDepths(t *testing.T) {
	root := newItemsRoot()
	addItemNode(t, root, "item_outer", date(2026, time.January, 1), date(2026, time.January, 31))
	addItemNode(t, root, "item_inner", date(2026, time.January, 10), date(2026, time.January, 20))

	var depths []int
	require.NoError(t, root.Walk(func(depth int, n *ItemsNodeInterval) error {
		depths = append(depths, depth)
		return nil
	}))
	assert.Equal(t, []int{0, 1, 2}, depths)
}
