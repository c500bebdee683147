package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/overlay/inpage/host"
)

const describeJS = `() => {
	const r = this.getBoundingClientRect();
	const s = getComputedStyle(this);
	return {
		kind: this.tagName.toLowerCase(),
		text: this.innerText ?? this.textContent ?? "",
		hidden: this.hidden || s.display === "none" || s.visibility === "hidden",
		x: r.x, y: r.y, w: r.width, h: r.height,
	};
}`

// Host exposes a live page DOM as a host.Host. Node handles are CDP node
// ids; the tree is mirrored from DOM domain events.
type Host struct {
	page     *rod.Page
	ctx      context.Context
	cancel   context.CancelFunc
	idx      *nodeIndex
	notifier host.Notifier
	log      *slog.Logger
	done     chan struct{}
}

// Attach enables the DOM domain on page, indexes the full tree (piercing
// shadow roots) and starts mirroring mutations. Call Close to detach.
func Attach(ctx context.Context, page *rod.Page, logger *slog.Logger) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Host{
		page:   page.Context(ctx),
		ctx:    ctx,
		cancel: cancel,
		idx:    newNodeIndex(),
		log:    logger,
		done:   make(chan struct{}),
	}

	if err := (proto.DOMEnable{}).Call(h.page); err != nil {
		cancel()
		return nil, fmt.Errorf("browser: dom enable: %w", err)
	}
	wait := h.page.EachEvent(
		func(e *proto.DOMChildNodeInserted) { h.onInserted(e) },
		func(e *proto.DOMSetChildNodes) { h.onSetChildren(e) },
		func(e *proto.DOMChildNodeRemoved) {
			h.idx.remove(e.NodeID)
			h.notifier.Emit(host.Change{Op: host.OpRemove, Target: host.NodeID(e.ParentNodeID)})
		},
		func(e *proto.DOMShadowRootPushed) {
			h.idx.pushShadow(e.HostID, e.Root)
			h.emitInsert(e.HostID, h.idx.elementChildren(e.HostID))
		},
		func(e *proto.DOMAttributeModified) {
			h.notifier.Emit(host.Change{Op: host.OpAttr, Target: host.NodeID(e.NodeID)})
		},
		func(e *proto.DOMCharacterDataModified) {
			h.notifier.Emit(host.Change{Op: host.OpText, Target: host.NodeID(e.NodeID)})
		},
		func(e *proto.DOMDocumentUpdated) {
			if err := h.rebuild(); err != nil {
				h.log.Warn("browser: rebuild after document update", "error", err)
				return
			}
			h.notifier.Emit(host.Change{Op: host.OpDocReset})
		},
	)
	go func() {
		defer close(h.done)
		wait()
	}()

	if err := h.rebuild(); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// Close stops mirroring and waits for the event loop to exit.
func (h *Host) Close() error {
	h.cancel()
	<-h.done
	return nil
}

func (h *Host) rebuild() error {
	depth := -1
	doc, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(h.page)
	if err != nil {
		return fmt.Errorf("browser: get document: %w", err)
	}
	h.idx.build(doc.Root)
	return nil
}

func (h *Host) onInserted(e *proto.DOMChildNodeInserted) {
	h.idx.insert(e.ParentNodeID, e.PreviousNodeID, e.Node)
	if e.Node.ChildNodeCount != nil && *e.Node.ChildNodeCount > len(e.Node.Children) {
		// Subtree arrives later as DOMSetChildNodes.
		id := e.Node.NodeID
		go func() {
			depth := -1
			err := proto.DOMRequestChildNodes{NodeID: id, Depth: &depth, Pierce: true}.Call(h.page)
			if err != nil && h.ctx.Err() == nil {
				h.log.Debug("browser: request child nodes", "node", id, "error", err)
			}
		}()
	}
	if e.Node.NodeType != nodeElement {
		h.notifier.Emit(host.Change{Op: host.OpText, Target: host.NodeID(e.ParentNodeID)})
		return
	}
	h.emitInsert(e.ParentNodeID, []proto.DOMNodeID{e.Node.NodeID})
}

func (h *Host) onSetChildren(e *proto.DOMSetChildNodes) {
	h.idx.setChildren(e.ParentID, e.Nodes)
	var added []proto.DOMNodeID
	for _, n := range e.Nodes {
		if n.NodeType == nodeElement {
			added = append(added, n.NodeID)
		}
	}
	h.emitInsert(e.ParentID, added)
}

func (h *Host) emitInsert(parent proto.DOMNodeID, added []proto.DOMNodeID) {
	if len(added) == 0 {
		return
	}
	ids := make([]host.NodeID, len(added))
	for i, id := range added {
		ids[i] = host.NodeID(id)
	}
	h.notifier.Emit(host.Change{Op: host.OpInsert, Target: host.NodeID(parent), Added: ids})
}

// Body returns the body element, or 0 when the document has none.
func (h *Host) Body() host.NodeID {
	id, _ := h.idx.find("body")
	return host.NodeID(id)
}

// Title returns the <title> element.
func (h *Host) Title() (host.NodeID, bool) {
	id, ok := h.idx.find("title")
	return host.NodeID(id), ok
}

// Parent returns the nearest element ancestor, crossing shadow roots.
func (h *Host) Parent(id host.NodeID) (host.NodeID, bool) {
	p, ok := h.idx.parentElement(proto.DOMNodeID(id))
	return host.NodeID(p), ok
}

// Children returns element children in document order.
func (h *Host) Children(id host.NodeID) []host.NodeID {
	kids := h.idx.elementChildren(proto.DOMNodeID(id))
	out := make([]host.NodeID, len(kids))
	for i, k := range kids {
		out[i] = host.NodeID(k)
	}
	return out
}

// Describe reads tag, rendered text, visibility and the bounding box.
func (h *Host) Describe(id host.NodeID) (host.Element, error) {
	res, err := h.eval(id, describeJS)
	if err != nil {
		return host.Element{}, err
	}
	v := res.Value
	return host.Element{
		ID:     id,
		Kind:   v.Get("kind").Str(),
		Text:   v.Get("text").Str(),
		Hidden: v.Get("hidden").Bool(),
		Box: host.Rect{
			X:      v.Get("x").Num(),
			Y:      v.Get("y").Num(),
			Width:  v.Get("w").Num(),
			Height: v.Get("h").Num(),
		},
	}, nil
}

// ReadContent returns innerHTML.
func (h *Host) ReadContent(id host.NodeID) (string, error) {
	res, err := h.eval(id, `() => this.innerHTML`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// WriteContent replaces innerHTML. The resulting DOM events are mirrored
// like any other mutation.
func (h *Host) WriteContent(id host.NodeID, content string) error {
	_, err := h.eval(id, `(html) => { this.innerHTML = html; }`, content)
	return err
}

// Viewport returns the layout viewport at the origin.
func (h *Host) Viewport() host.Rect {
	res, err := h.page.Eval(`() => ({ w: window.innerWidth, h: window.innerHeight })`)
	if err != nil {
		h.log.Debug("browser: viewport", "error", err)
		return host.Rect{}
	}
	return host.Rect{Width: res.Value.Get("w").Num(), Height: res.Value.Get("h").Num()}
}

// Subscribe registers fn for mirrored DOM changes.
func (h *Host) Subscribe(fn host.ChangeFunc) func() {
	return h.notifier.Subscribe(fn)
}

func (h *Host) eval(id host.NodeID, js string, args ...any) (*proto.RuntimeRemoteObject, error) {
	el, err := h.element(id)
	if err != nil {
		return nil, err
	}
	defer el.Release()

	res, err := el.Eval(js, args...)
	if err != nil {
		return nil, fmt.Errorf("browser: eval on node %d: %w", id, err)
	}
	return res, nil
}

func (h *Host) element(id host.NodeID) (*rod.Element, error) {
	nid := proto.DOMNodeID(id)
	if !h.idx.has(nid) {
		if h.idx.issued(nid) {
			return nil, host.ErrNodeGone
		}
		return nil, host.ErrUnknownNode
	}
	if !h.idx.isElement(nid) {
		return nil, fmt.Errorf("browser: node %d is not an element: %w", id, host.ErrUnknownNode)
	}
	obj, err := proto.DOMResolveNode{NodeID: nid}.Call(h.page)
	if err != nil {
		return nil, fmt.Errorf("browser: resolve node %d: %w (%v)", id, host.ErrNodeGone, err)
	}
	el, err := h.page.ElementFromObject(obj.Object)
	if err != nil {
		return nil, fmt.Errorf("browser: element %d: %w", id, err)
	}
	return el, nil
}

var _ host.Host = (*Host)(nil)
