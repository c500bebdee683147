package pipeline

import (
	"strings"

	"github.com/hazyhaar/overlay/inpage/message"
)

// part is one slot of a multi-part group.
type part struct {
	text string
	ok   bool
}

// onResponse correlates a response with its in-flight node. Responses for
// unknown or completed nodes, and parts outside the allocated range, are
// dropped.
func (p *Pipeline) onResponse(r message.Response) {
	p.stats.responses.Add(1)
	id := r.AttrID

	if !id.Tier.Valid() {
		p.stale(id, "invalid tier")
		return
	}
	node, ok := p.tiers[id.Tier][id.Key]
	if !ok {
		p.stale(id, "no queued node")
		return
	}

	text := r.TranslatedParagraph
	slots, multi := p.parts[id.Key]
	switch {
	case id.Part > 0:
		if !multi || id.Part > len(slots) {
			p.stale(id, "part out of range")
			return
		}
		slots[id.Part-1] = part{text: text, ok: true}
		joined, complete := assemble(slots)
		if !complete {
			return
		}
		text = joined
	case multi:
		p.stale(id, "whole response for a split node")
		return
	}

	delete(p.tiers[id.Tier], id.Key)
	delete(p.inFlight, id.Key)
	delete(p.parts, id.Key)
	p.stats.completed.Add(1)

	p.commit.stage(staged{tier: id.Tier, key: id.Key, node: node, text: text})
}

// assemble concatenates the parts in index order once every slot is filled.
func assemble(slots []part) (string, bool) {
	var b strings.Builder
	for _, s := range slots {
		if !s.ok {
			return "", false
		}
		b.WriteString(s.text)
	}
	return b.String(), true
}

func (p *Pipeline) stale(id message.AttrID, reason string) {
	p.stats.stale.Add(1)
	p.logger.Debug("pipeline: response dropped",
		"attr_id", id.String(), "reason", reason)
}
