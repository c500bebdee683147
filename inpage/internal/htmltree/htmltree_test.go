package htmltree

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/overlay/inpage/host"
)

const page = `<!DOCTYPE html>
<html><head><title>Greeting</title></head>
<body>
<p id="a">Hello world</p>
<div id="box"><span id="s">inner</span></div>
<p id="h" style="display: none">secret</p>
<p id="h2" hidden>also secret</p>
</body></html>`

func mustParse(t *testing.T, s string, opts ...Option) *Document {
	t.Helper()
	d, err := ParseString(s, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func mustLookup(t *testing.T, d *Document, tag, id string) host.NodeID {
	t.Helper()
	n, ok := d.Lookup(tag, id)
	if !ok {
		t.Fatalf("lookup %s#%s: not found", tag, id)
	}
	return n
}

func TestBodyTitleAndChildren(t *testing.T) {
	d := mustParse(t, page)
	body := d.Body()
	if body == 0 {
		t.Fatal("no body")
	}
	title, ok := d.Title()
	if !ok {
		t.Fatal("no title")
	}
	el, err := d.Describe(title)
	if err != nil {
		t.Fatal(err)
	}
	if el.Kind != "title" || el.Text != "Greeting" {
		t.Errorf("title: got %+v", el)
	}
	if !el.Hidden {
		t.Error("title lives in <head> and must be hidden")
	}

	kids := d.Children(body)
	if len(kids) != 4 {
		t.Fatalf("body children: got %d, want 4", len(kids))
	}
	p, _ := d.Parent(kids[0])
	if p != body {
		t.Errorf("parent of first child: got %d, want %d", p, body)
	}
}

func TestDescribe_VisibilityAndGeometry(t *testing.T) {
	d := mustParse(t, page)

	a, _ := d.Describe(mustLookup(t, d, "p", "a"))
	if a.Hidden || a.Box.Empty() {
		t.Errorf("p#a should be visible with a box: %+v", a)
	}
	if !a.Box.Within(d.Viewport()) {
		t.Errorf("p#a box %+v should be inside viewport", a.Box)
	}

	h, _ := d.Describe(mustLookup(t, d, "p", "h"))
	if !h.Hidden || !h.Box.Empty() {
		t.Errorf("p#h should be hidden with empty box: %+v", h)
	}
	h2, _ := d.Describe(mustLookup(t, d, "p", "h2"))
	if !h2.Hidden {
		t.Errorf("p#h2 should be hidden: %+v", h2)
	}
}

func TestLayout_PushesContentBelowViewport(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<body>")
	for i := 0; i < 50; i++ {
		sb.WriteString("<p>line</p>")
	}
	sb.WriteString(`<p id="last">bottom</p></body>`)

	d := mustParse(t, sb.String(), WithLayout(Layout{ViewportHeight: 200}))
	last, _ := d.Describe(mustLookup(t, d, "p", "last"))
	if last.Box.Empty() {
		t.Fatal("last paragraph should have a box")
	}
	if last.Box.Within(d.Viewport()) {
		t.Errorf("last paragraph at y=%v should be outside a 200px viewport", last.Box.Y)
	}
}

func TestReadWriteContent(t *testing.T) {
	d := mustParse(t, page)
	box := mustLookup(t, d, "div", "box")

	got, err := d.ReadContent(box)
	if err != nil {
		t.Fatal(err)
	}
	if got != `<span id="s">inner</span>` {
		t.Errorf("ReadContent: got %q", got)
	}

	if err := d.WriteContent(box, "<b>dedans</b>"); err != nil {
		t.Fatal(err)
	}
	got, _ = d.ReadContent(box)
	if got != "<b>dedans</b>" {
		t.Errorf("after write: got %q", got)
	}

	// The replaced span is detached.
	oldSpan := mustID(t, d, "s")
	if _, err := d.Describe(oldSpan); !errors.Is(err, host.ErrNodeGone) {
		t.Errorf("Describe detached: got %v, want ErrNodeGone", err)
	}
}

// mustID finds an element by id attribute even after it was detached.
func mustID(t *testing.T, d *Document, id string) host.NodeID {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	for nid, n := range d.nodes {
		if attr(n, "id") == id {
			return nid
		}
	}
	t.Fatalf("id %q never registered", id)
	return 0
}

func TestWriteContent_Errors(t *testing.T) {
	d := mustParse(t, page)
	if err := d.WriteContent(9999, "x"); !errors.Is(err, host.ErrUnknownNode) {
		t.Errorf("unknown node: got %v", err)
	}
	a := mustLookup(t, d, "p", "a")
	if err := d.Remove(a); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteContent(a, "x"); !errors.Is(err, host.ErrNodeGone) {
		t.Errorf("removed node: got %v", err)
	}
}

func TestSubscribe_DeliversInOrder(t *testing.T) {
	d := mustParse(t, page)
	body := d.Body()

	got := make(chan host.Change, 16)
	cancel := d.Subscribe(func(c host.Change) { got <- c })
	defer cancel()

	added, err := d.AppendHTML(body, `<p>one</p><p>two</p>`)
	if err != nil {
		t.Fatal(err)
	}
	if len(added) != 2 {
		t.Fatalf("added: got %d, want 2", len(added))
	}
	if err := d.SetAttr(added[0], "class", "x"); err != nil {
		t.Fatal(err)
	}
	if err := d.Remove(added[1]); err != nil {
		t.Fatal(err)
	}

	want := []host.Op{host.OpInsert, host.OpAttr, host.OpRemove}
	for i, op := range want {
		select {
		case c := <-got:
			if c.Op != op {
				t.Fatalf("change %d: got %s, want %s", i, c.Op, op)
			}
			if op == host.OpInsert && len(c.Added) != 2 {
				t.Errorf("insert added: got %v", c.Added)
			}
		case <-time.After(time.Second):
			t.Fatalf("change %d: timeout", i)
		}
	}
}

func TestMove_KeepsIdentity(t *testing.T) {
	d := mustParse(t, page)
	a := mustLookup(t, d, "p", "a")
	box := mustLookup(t, d, "div", "box")

	got := make(chan host.Change, 4)
	cancel := d.Subscribe(func(c host.Change) { got <- c })
	defer cancel()

	if err := d.Move(a, box); err != nil {
		t.Fatal(err)
	}
	p, _ := d.Parent(a)
	if p != box {
		t.Errorf("parent after move: got %d, want %d", p, box)
	}
	<-got // remove
	ins := <-got
	if ins.Op != host.OpInsert || len(ins.Added) != 1 || ins.Added[0] != a {
		t.Errorf("insert after move: got %+v", ins)
	}
}

func TestRender(t *testing.T) {
	d := mustParse(t, `<p>x</p>`)
	out, err := d.Render()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "<p>x</p>") {
		t.Errorf("render: got %q", out)
	}
}
