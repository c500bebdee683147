package pipeline

import (
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/overlay/inpage/host"
	"github.com/hazyhaar/overlay/inpage/message"
)

// dispatchAll sends every queued node that is not yet in flight, tier by
// tier, keys ascending within a tier.
func (p *Pipeline) dispatchAll() {
	sent := 0
	for _, tier := range message.Tiers {
		m := p.tiers[tier]
		for _, key := range slices.Sorted(maps.Keys(m)) {
			if _, busy := p.inFlight[key]; busy {
				continue
			}
			if p.submit(tier, key, m[key]) {
				sent++
			}
		}
	}
	if sent > 0 {
		p.logger.Debug("pipeline: dispatch pass", "nodes", sent,
			"in_flight", len(p.inFlight))
	}
}

// submit emits the request(s) for one node. Nodes whose content is empty
// after trimming are left queued and not marked in flight.
func (p *Pipeline) submit(tier message.Tier, key message.Key, node host.NodeID) bool {
	content, err := p.host.ReadContent(node)
	if err != nil {
		p.logger.Debug("pipeline: read content failed",
			"node", node, "key", key, "error", err)
		return false
	}
	if strings.TrimSpace(content) == "" {
		return false
	}

	var reqs []message.Request
	if utf8.RuneCountInString(content) <= p.cfg.ChunkSize {
		reqs = []message.Request{{
			Text:   content,
			Type:   message.TypeInPage,
			AttrID: message.AttrID{Tier: tier, Key: key},
		}}
	} else {
		chunks := split(content, p.cfg.ChunkSize)
		p.parts[key] = make([]part, len(chunks))
		reqs = make([]message.Request, len(chunks))
		for i, c := range chunks {
			reqs[i] = message.Request{
				Text:   c,
				Type:   message.TypeInPage,
				AttrID: message.AttrID{Tier: tier, Key: key, Part: i + 1},
			}
		}
	}

	// In flight before the first send: a node is never emitted twice, even
	// when some of its sends fail.
	p.inFlight[key] = struct{}{}
	p.stats.dispatched.Add(1)
	for _, r := range reqs {
		p.send(r)
	}
	return true
}

func (p *Pipeline) send(r message.Request) {
	p.stats.requests.Add(1)
	if err := p.backend.Send(p.ctx, r); err != nil {
		p.stats.sendErrors.Add(1)
		p.logger.Warn("pipeline: send failed",
			"attr_id", r.AttrID.String(), "error", err)
	}
}

// split cuts s into consecutive chunks of at most size runes. Joining the
// chunks yields s exactly.
func split(s string, size int) []string {
	n := utf8.RuneCountInString(s)
	chunks := make([]string, 0, (n+size-1)/size)
	for len(s) > 0 {
		cut, count := 0, 0
		for cut < len(s) && count < size {
			_, w := utf8.DecodeRuneInString(s[cut:])
			cut += w
			count++
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	return chunks
}
