package pipeline

import (
	"strings"

	"github.com/hazyhaar/overlay/inpage/host"
	"github.com/hazyhaar/overlay/inpage/message"
)

// discover walks root in pre-order and queues every valid node. A node
// inside an already claimed subtree is never claimed, but rejected nodes
// still have their children visited. Returns the number queued.
func (p *Pipeline) discover(root host.NodeID) int {
	vp := p.host.Viewport()
	n := 0

	var walk func(id host.NodeID, under bool)
	walk = func(id host.NodeID, under bool) {
		if el, ok := p.validate(id, under); ok {
			p.queue(el, vp)
			n++
		}
		_, self := p.claimed[id]
		for _, c := range p.host.Children(id) {
			walk(c, under || self)
		}
	}
	walk(root, p.claimedAncestor(root))
	return n
}

// validate reports whether id should be translated on its own.
func (p *Pipeline) validate(id host.NodeID, underClaimed bool) (host.Element, bool) {
	if underClaimed {
		return host.Element{}, false
	}
	if _, ok := p.claimed[id]; ok {
		return host.Element{}, false
	}
	el, err := p.host.Describe(id)
	if err != nil {
		p.logger.Debug("pipeline: describe failed", "node", id, "error", err)
		return host.Element{}, false
	}
	if !p.kinds[el.Kind] {
		return host.Element{}, false
	}
	if strings.TrimSpace(el.Text) == "" {
		return host.Element{}, false
	}
	return el, true
}

// claimedAncestor walks parents of id up to and including the body.
func (p *Pipeline) claimedAncestor(id host.NodeID) bool {
	body := p.host.Body()
	cur := id
	for cur != body {
		parent, ok := p.host.Parent(cur)
		if !ok {
			return false
		}
		if _, claimed := p.claimed[parent]; claimed {
			return true
		}
		cur = parent
	}
	return false
}

func (p *Pipeline) isClaimed(id host.NodeID) bool {
	_, ok := p.claimed[id]
	return ok
}

// queue assigns a fresh key, classifies el and records it in its tier.
func (p *Pipeline) queue(el host.Element, vp host.Rect) {
	key := message.Key(p.keys.Next())
	tier := classify(el, vp)
	p.tiers[tier][key] = el.ID
	p.claimed[el.ID] = key
	p.stats.discovered.Add(1)
	p.logger.Debug("pipeline: node queued",
		"node", el.ID, "kind", el.Kind, "tier", tier, "key", key)
}

// classify places a node in exactly one tier. Classification happens once,
// at discovery; nodes are not re-tiered on scroll or resize.
func classify(el host.Element, viewport host.Rect) message.Tier {
	switch {
	case el.Hidden || el.Box.Empty():
		return message.Hidden
	case el.Box.Within(viewport):
		return message.InViewport
	default:
		return message.OffscreenVisible
	}
}
