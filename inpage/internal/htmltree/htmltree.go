// Package htmltree implements host.Host over a parsed HTML document.
//
// There is no rendering engine behind it: geometry comes from a block-flow
// estimate where every visible element is a full-width box stacked below
// its preceding siblings, tall enough for its own text lines plus its
// children. Hidden state comes from markup (hidden attribute, inline
// display/visibility styles, non-rendered elements such as <head>).
package htmltree

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/overlay/inpage/host"
)

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
}

// Layout controls the geometry estimate.
type Layout struct {
	ViewportWidth  float64 // default 1280
	ViewportHeight float64 // default 800
	LineHeight     float64 // default 20
	CharWidth      float64 // default 8
}

func (l *Layout) defaults() {
	if l.ViewportWidth <= 0 {
		l.ViewportWidth = 1280
	}
	if l.ViewportHeight <= 0 {
		l.ViewportHeight = 800
	}
	if l.LineHeight <= 0 {
		l.LineHeight = 20
	}
	if l.CharWidth <= 0 {
		l.CharWidth = 8
	}
}

// Option configures a Document.
type Option func(*Document)

// WithLayout overrides the geometry estimate parameters.
func WithLayout(l Layout) Option {
	return func(d *Document) { d.layout = l }
}

// Document is a mutable HTML tree exposed as a host.Host. Safe for
// concurrent use: the pipeline reads and writes it while tests or callers
// mutate it through AppendHTML, Move and Remove.
type Document struct {
	mu     sync.Mutex
	root   *html.Node
	ids    map[*html.Node]host.NodeID
	nodes  map[host.NodeID]*html.Node
	next   host.NodeID
	layout Layout
	boxes  map[*html.Node]host.Rect
	dirty  bool

	notifier host.Notifier
}

// Parse reads an HTML document.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmltree: parse: %w", err)
	}
	d := &Document{
		root:  root,
		ids:   make(map[*html.Node]host.NodeID),
		nodes: make(map[host.NodeID]*html.Node),
		dirty: true,
	}
	for _, o := range opts {
		o(d)
	}
	d.layout.defaults()
	d.register(root)
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), opts...)
}

// register assigns IDs to every element in the subtree of n.
func (d *Document) register(n *html.Node) {
	if n.Type == html.ElementNode {
		if _, ok := d.ids[n]; !ok {
			d.next++
			d.ids[n] = d.next
			d.nodes[d.next] = n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.register(c)
	}
}

func (d *Document) lookup(id host.NodeID) (*html.Node, error) {
	n, ok := d.nodes[id]
	if !ok {
		return nil, host.ErrUnknownNode
	}
	return n, nil
}

// attached reports whether n is still reachable from the document root.
func (d *Document) attached(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

func (d *Document) find(a atom.Atom) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return found
}

// Body returns the <body> element. html.Parse always synthesises one.
func (d *Document) Body() host.NodeID {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b := d.find(atom.Body); b != nil {
		return d.ids[b]
	}
	return 0
}

// Title returns the <title> element if the document has one.
func (d *Document) Title() (host.NodeID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.find(atom.Title)
	if t == nil {
		return 0, false
	}
	return d.ids[t], true
}

func (d *Document) Parent(id host.NodeID) (host.NodeID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok || n.Parent == nil || n.Parent.Type != html.ElementNode {
		return 0, false
	}
	pid, ok := d.ids[n.Parent]
	return pid, ok
}

func (d *Document) Children(id host.NodeID) []host.NodeID {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		return nil
	}
	var out []host.NodeID
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, d.ids[c])
		}
	}
	return out
}

func (d *Document) Describe(id host.NodeID) (host.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.lookup(id)
	if err != nil {
		return host.Element{}, err
	}
	if !d.attached(n) {
		return host.Element{}, host.ErrNodeGone
	}
	if d.dirty {
		d.relayout()
	}
	return host.Element{
		ID:     id,
		Kind:   strings.ToLower(n.Data),
		Text:   textContent(n),
		Hidden: hiddenByMarkup(n),
		Box:    d.boxes[n],
	}, nil
}

func (d *Document) ReadContent(id host.NodeID) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.lookup(id)
	if err != nil {
		return "", err
	}
	return innerHTML(n)
}

// WriteContent replaces the children of id with the parsed content and
// reports the new element children as an insert.
func (d *Document) WriteContent(id host.NodeID, content string) error {
	d.mu.Lock()
	n, err := d.lookup(id)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if !d.attached(n) {
		d.mu.Unlock()
		return host.ErrNodeGone
	}
	nodes, err := html.ParseFragment(strings.NewReader(content), n)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("htmltree: parse fragment: %w", err)
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	added := d.appendLocked(n, nodes)
	d.mu.Unlock()

	d.notifier.Emit(host.Change{Op: host.OpInsert, Target: id, Added: added})
	return nil
}

// AppendHTML parses fragment in the context of parent, appends the result
// and reports it as an insert. Returns the IDs of the appended elements.
func (d *Document) AppendHTML(parent host.NodeID, fragment string) ([]host.NodeID, error) {
	d.mu.Lock()
	n, err := d.lookup(parent)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), n)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("htmltree: parse fragment: %w", err)
	}
	added := d.appendLocked(n, nodes)
	d.mu.Unlock()

	d.notifier.Emit(host.Change{Op: host.OpInsert, Target: parent, Added: added})
	return added, nil
}

func (d *Document) appendLocked(parent *html.Node, nodes []*html.Node) []host.NodeID {
	var added []host.NodeID
	for _, c := range nodes {
		parent.AppendChild(c)
		d.register(c)
		if c.Type == html.ElementNode {
			added = append(added, d.ids[c])
		}
	}
	d.dirty = true
	return added
}

// Move detaches id and appends it to newParent, keeping its identity.
// It is reported as a removal followed by an insert.
func (d *Document) Move(id, newParent host.NodeID) error {
	d.mu.Lock()
	n, err := d.lookup(id)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	p, err := d.lookup(newParent)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	var oldParent host.NodeID
	if n.Parent != nil {
		oldParent = d.ids[n.Parent]
		n.Parent.RemoveChild(n)
	}
	p.AppendChild(n)
	d.dirty = true
	d.mu.Unlock()

	d.notifier.Emit(host.Change{Op: host.OpRemove, Target: oldParent})
	d.notifier.Emit(host.Change{Op: host.OpInsert, Target: newParent, Added: []host.NodeID{id}})
	return nil
}

// Remove detaches id from the tree.
func (d *Document) Remove(id host.NodeID) error {
	d.mu.Lock()
	n, err := d.lookup(id)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if n.Parent == nil {
		d.mu.Unlock()
		return host.ErrNodeGone
	}
	parent := d.ids[n.Parent]
	n.Parent.RemoveChild(n)
	d.dirty = true
	d.mu.Unlock()

	d.notifier.Emit(host.Change{Op: host.OpRemove, Target: parent})
	return nil
}

// SetAttr sets an attribute and reports an attribute change.
func (d *Document) SetAttr(id host.NodeID, key, val string) error {
	d.mu.Lock()
	n, err := d.lookup(id)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	set := false
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			set = true
		}
	}
	if !set {
		n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	}
	d.dirty = true
	d.mu.Unlock()

	d.notifier.Emit(host.Change{Op: host.OpAttr, Target: id})
	return nil
}

// Subscribe registers fn for structural changes. Notifications are
// delivered from a separate goroutine in emission order.
func (d *Document) Subscribe(fn host.ChangeFunc) func() {
	return d.notifier.Subscribe(fn)
}

// Viewport returns the configured viewport at the origin.
func (d *Document) Viewport() host.Rect {
	return host.Rect{Width: d.layout.ViewportWidth, Height: d.layout.ViewportHeight}
}

// Render serialises the whole document.
func (d *Document) Render() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return "", fmt.Errorf("htmltree: render: %w", err)
	}
	return buf.String(), nil
}

// Lookup returns the ID of the first element matching tag and, when id is
// non-empty, carrying that id attribute.
func (d *Document) Lookup(tag, id string) (host.NodeID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var found host.NodeID
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == tag && (id == "" || attr(n, "id") == id) {
			found = d.ids[n]
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	return found, walk(d.root)
}

// relayout recomputes every box. Caller holds d.mu.
func (d *Document) relayout() {
	d.boxes = make(map[*html.Node]host.Rect, len(d.ids))
	if htmlEl := d.find(atom.Html); htmlEl != nil {
		d.place(htmlEl, 0)
	}
	d.dirty = false
}

// place lays out n at vertical offset y and returns its height.
func (d *Document) place(n *html.Node, y float64) float64 {
	if hiddenByMarkup(n) {
		return 0
	}
	l := d.layout
	cur := y
	if runes := directTextRunes(n); runes > 0 {
		perLine := math.Max(1, math.Floor(l.ViewportWidth/l.CharWidth))
		cur += math.Ceil(float64(runes)/perLine) * l.LineHeight
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			cur += d.place(c, cur)
		}
	}
	h := cur - y
	if h > 0 {
		d.boxes[n] = host.Rect{X: 0, Y: y, Width: l.ViewportWidth, Height: h}
	}
	return h
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// hiddenByMarkup reports whether n or one of its ancestors is not rendered.
func hiddenByMarkup(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		switch p.DataAtom {
		case atom.Head, atom.Script, atom.Style, atom.Template, atom.Noscript:
			return true
		}
		for _, a := range p.Attr {
			switch a.Key {
			case "hidden":
				return true
			case "style":
				for _, pat := range hiddenStylePatterns {
					if pat.MatchString(a.Val) {
						return true
					}
				}
			}
		}
	}
	return false
}

// textContent concatenates the text below n, skipping script and style.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func directTextRunes(n *html.Node) int {
	total := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			total += utf8.RuneCountInString(strings.TrimSpace(c.Data))
		}
	}
	return total
}

func innerHTML(n *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("htmltree: render: %w", err)
		}
	}
	return buf.String(), nil
}
