package browser

import (
	"slices"
	"strings"
	"sync"

	"github.com/go-rod/rod/lib/proto"
)

// DOM node types as reported by CDP.
const (
	nodeElement  = 1
	nodeDocument = 9
	nodeFragment = 11 // shadow roots
)

type indexNode struct {
	typ      int
	name     string // lower-case
	parent   proto.DOMNodeID
	children []proto.DOMNodeID
	shadows  []proto.DOMNodeID
}

// nodeIndex mirrors the CDP node tree. CDP events mutate it from the
// listener goroutine while the pipeline reads it.
type nodeIndex struct {
	mu    sync.RWMutex
	nodes map[proto.DOMNodeID]*indexNode
	root  proto.DOMNodeID
	max   proto.DOMNodeID
}

func newNodeIndex() *nodeIndex {
	return &nodeIndex{nodes: make(map[proto.DOMNodeID]*indexNode)}
}

// build replaces the index with the tree rooted at root.
func (ix *nodeIndex) build(root *proto.DOMNode) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.nodes = make(map[proto.DOMNodeID]*indexNode)
	ix.root = 0
	if root == nil {
		return
	}
	ix.root = root.NodeID
	ix.addLocked(0, root)
}

func (ix *nodeIndex) addLocked(parent proto.DOMNodeID, n *proto.DOMNode) {
	if n == nil {
		return
	}
	if old, ok := ix.nodes[n.NodeID]; ok {
		// Re-sent subtree: drop stale children before re-adding.
		for _, c := range old.children {
			ix.dropLocked(c)
		}
		for _, s := range old.shadows {
			ix.dropLocked(s)
		}
	}
	in := &indexNode{
		typ:    n.NodeType,
		name:   strings.ToLower(n.NodeName),
		parent: parent,
	}
	ix.nodes[n.NodeID] = in
	if n.NodeID > ix.max {
		ix.max = n.NodeID
	}
	for _, c := range n.Children {
		in.children = append(in.children, c.NodeID)
		ix.addLocked(n.NodeID, c)
	}
	for _, s := range n.ShadowRoots {
		in.shadows = append(in.shadows, s.NodeID)
		ix.addLocked(n.NodeID, s)
	}
}

// insert adds n under parent after prev (0 means first child).
func (ix *nodeIndex) insert(parent, prev proto.DOMNodeID, n *proto.DOMNode) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	p, ok := ix.nodes[parent]
	if !ok || n == nil {
		return
	}
	ix.unlinkLocked(n.NodeID)
	at := 0
	if prev != 0 {
		if i := slices.Index(p.children, prev); i >= 0 {
			at = i + 1
		} else {
			at = len(p.children)
		}
	}
	p.children = slices.Insert(p.children, at, n.NodeID)
	ix.addLocked(parent, n)
}

// setChildren replaces the children of parent.
func (ix *nodeIndex) setChildren(parent proto.DOMNodeID, nodes []*proto.DOMNode) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	p, ok := ix.nodes[parent]
	if !ok {
		return
	}
	for _, c := range p.children {
		ix.dropLocked(c)
	}
	p.children = p.children[:0]
	for _, n := range nodes {
		p.children = append(p.children, n.NodeID)
		ix.addLocked(parent, n)
	}
}

// pushShadow attaches a shadow root to host.
func (ix *nodeIndex) pushShadow(host proto.DOMNodeID, root *proto.DOMNode) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	h, ok := ix.nodes[host]
	if !ok || root == nil {
		return
	}
	if !slices.Contains(h.shadows, root.NodeID) {
		h.shadows = append(h.shadows, root.NodeID)
	}
	ix.addLocked(host, root)
}

// remove detaches id and its subtree.
func (ix *nodeIndex) remove(id proto.DOMNodeID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.unlinkLocked(id)
	ix.dropLocked(id)
}

func (ix *nodeIndex) unlinkLocked(id proto.DOMNodeID) {
	n, ok := ix.nodes[id]
	if !ok {
		return
	}
	if p, ok := ix.nodes[n.parent]; ok {
		p.children = slices.DeleteFunc(p.children, func(c proto.DOMNodeID) bool { return c == id })
		p.shadows = slices.DeleteFunc(p.shadows, func(c proto.DOMNodeID) bool { return c == id })
	}
}

func (ix *nodeIndex) dropLocked(id proto.DOMNodeID) {
	n, ok := ix.nodes[id]
	if !ok {
		return
	}
	for _, c := range n.children {
		ix.dropLocked(c)
	}
	for _, s := range n.shadows {
		ix.dropLocked(s)
	}
	delete(ix.nodes, id)
}

func (ix *nodeIndex) has(id proto.DOMNodeID) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.nodes[id]
	return ok
}

// issued reports whether id was ever seen, attached or not.
func (ix *nodeIndex) issued(id proto.DOMNodeID) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return id > 0 && id <= ix.max
}

func (ix *nodeIndex) isElement(id proto.DOMNodeID) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n, ok := ix.nodes[id]
	return ok && n.typ == nodeElement
}

// elementChildren returns the element children of id in document order.
// Shadow roots come first and are flattened into their host.
func (ix *nodeIndex) elementChildren(id proto.DOMNodeID) []proto.DOMNodeID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n, ok := ix.nodes[id]
	if !ok {
		return nil
	}
	var out []proto.DOMNodeID
	for _, s := range n.shadows {
		out = ix.appendElementsLocked(out, s)
	}
	for _, c := range n.children {
		out = ix.appendElementsLocked(out, c)
	}
	return out
}

func (ix *nodeIndex) appendElementsLocked(out []proto.DOMNodeID, id proto.DOMNodeID) []proto.DOMNodeID {
	n, ok := ix.nodes[id]
	if !ok {
		return out
	}
	switch n.typ {
	case nodeElement:
		return append(out, id)
	case nodeFragment:
		for _, c := range n.children {
			out = ix.appendElementsLocked(out, c)
		}
	}
	return out
}

// parentElement returns the nearest element ancestor, crossing shadow roots.
func (ix *nodeIndex) parentElement(id proto.DOMNodeID) (proto.DOMNodeID, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n, ok := ix.nodes[id]
	for ok {
		p, found := ix.nodes[n.parent]
		if !found {
			return 0, false
		}
		if p.typ == nodeElement {
			return n.parent, true
		}
		if p.typ == nodeDocument {
			return 0, false
		}
		n = p
	}
	return 0, false
}

// find returns the first element named name in document order.
func (ix *nodeIndex) find(name string) (proto.DOMNodeID, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var walk func(id proto.DOMNodeID) (proto.DOMNodeID, bool)
	walk = func(id proto.DOMNodeID) (proto.DOMNodeID, bool) {
		n, ok := ix.nodes[id]
		if !ok {
			return 0, false
		}
		if n.typ == nodeElement && n.name == name {
			return id, true
		}
		for _, c := range n.children {
			if got, ok := walk(c); ok {
				return got, true
			}
		}
		return 0, false
	}
	return walk(ix.root)
}
