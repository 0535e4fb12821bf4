package yae

// Chainable is anything with a single entry node and a single exit node:
// a bare Node or a Branch. Chain links such items head-to-tail.
type Chainable[S any] interface {
	EntryNode() *Node[S]
	ExitNode() *Node[S]
}

// EntryNode implements Chainable; a node is its own entry.
func (n *Node[S]) EntryNode() *Node[S] { return n }

// ExitNode implements Chainable; a node is its own exit.
func (n *Node[S]) ExitNode() *Node[S] { return n }

// Branch is a composable subgraph: a router whose named routes all converge
// on a shared exit node, so the whole construct chains like a single node.
type Branch[S any] struct {
	Entry *Node[S]
	Exit  *Node[S]
}

// EntryNode implements Chainable.
func (b *Branch[S]) EntryNode() *Node[S] { return b.Entry }

// ExitNode implements Chainable.
func (b *Branch[S]) ExitNode() *Node[S] { return b.Exit }

// NewBranch wires router to the route lists: for each action the list is
// linked head-to-tail, the router gets an edge to the head, and the tail is
// linked to an auto-created exit node. Empty route lists connect the action
// straight to the exit.
func NewBranch[S any](router *Node[S], routes map[Action][]*Node[S]) *Branch[S] {
	exit := newBareNode[S](router.Name() + ":exit")
	for action, nodes := range routes {
		if len(nodes) == 0 {
			router.When(action, exit)
			continue
		}
		router.When(action, nodes[0])
		for i := 0; i < len(nodes)-1; i++ {
			nodes[i].To(nodes[i+1])
		}
		nodes[len(nodes)-1].To(exit)
	}
	return &Branch[S]{Entry: router, Exit: exit}
}

// Chain links a mixed sequence of nodes and branches by connecting each
// item's exit to the next item's entry, returning the composite as a Branch.
// Chain of nothing returns nil.
func Chain[S any](items ...Chainable[S]) *Branch[S] {
	if len(items) == 0 {
		return nil
	}
	for i := 0; i < len(items)-1; i++ {
		items[i].ExitNode().To(items[i+1].EntryNode())
	}
	return &Branch[S]{
		Entry: items[0].EntryNode(),
		Exit:  items[len(items)-1].ExitNode(),
	}
}

// Sequence links nodes head-to-tail and returns the composite.
func Sequence[S any](nodes ...*Node[S]) *Branch[S] {
	items := make([]Chainable[S], len(nodes))
	for i, n := range nodes {
		items[i] = n
	}
	return Chain(items...)
}
