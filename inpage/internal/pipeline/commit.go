package pipeline

import (
	"time"

	"github.com/hazyhaar/overlay/idgen"
	"github.com/hazyhaar/overlay/inpage/host"
	"github.com/hazyhaar/overlay/inpage/message"
)

// staged is a completed translation waiting for the next flush.
type staged struct {
	tier message.Tier
	key  message.Key
	node host.NodeID
	text string
}

// scheduler batches completed translations. The timer is armed by the
// first staging after a flush and is not extended by later ones, so a
// commit waits at most one delay.
type scheduler struct {
	delay   time.Duration
	pending map[host.NodeID]staged
	order   []host.NodeID
	timer   *time.Timer
	timerCh <-chan time.Time
	flushFn func([]staged)
}

func newScheduler(delay time.Duration, flushFn func([]staged)) *scheduler {
	return &scheduler{
		delay:   delay,
		pending: make(map[host.NodeID]staged),
		flushFn: flushFn,
	}
}

// stage records e, replacing an earlier entry for the same node.
func (s *scheduler) stage(e staged) {
	if _, dup := s.pending[e.node]; !dup {
		s.order = append(s.order, e.node)
	}
	s.pending[e.node] = e

	if s.timer == nil {
		s.timer = time.NewTimer(s.delay)
		s.timerCh = s.timer.C
	}
}

// timerC fires when the batch window expires. Nil while disarmed.
func (s *scheduler) timerC() <-chan time.Time {
	return s.timerCh
}

func (s *scheduler) empty() bool {
	return len(s.pending) == 0
}

// flush hands every pending entry to flushFn in staging order, then
// clears and disarms. An empty flush writes nothing and does not re-arm.
func (s *scheduler) flush() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.timerCh = nil
	}
	if len(s.pending) == 0 {
		return
	}

	batch := make([]staged, 0, len(s.order))
	for _, id := range s.order {
		batch = append(batch, s.pending[id])
	}
	clear(s.pending)
	s.order = s.order[:0]

	s.flushFn(batch)
}

// apply writes a flushed batch into the host and reports it.
func (p *Pipeline) apply(batch []staged) {
	out := message.CommitBatch{
		ID:      idgen.New(),
		PageID:  p.cfg.PageID,
		PageURL: p.cfg.PageURL,
		Commits: make([]message.Commit, 0, len(batch)),
	}

	for _, e := range batch {
		text := e.text
		if p.cfg.Sanitize != nil {
			text = p.cfg.Sanitize(text)
		}
		if err := p.host.WriteContent(e.node, text); err != nil {
			out.Failed++
			p.stats.writes.Add(1)
			p.logger.Debug("pipeline: commit write failed",
				"node", e.node, "key", e.key, "error", err)
			continue
		}
		p.stats.committed.Add(1)
		out.Commits = append(out.Commits, message.Commit{
			Tier: e.tier,
			Key:  e.key,
			Node: int64(e.node),
			Text: text,
		})
	}

	p.batchSeq++
	out.Seq = p.batchSeq
	out.Timestamp = time.Now().UnixMilli()

	p.logger.Info("pipeline: commit flushed",
		"seq", out.Seq, "written", len(out.Commits), "failed", out.Failed)

	if p.cfg.OnCommit != nil {
		p.cfg.OnCommit(p.ctx, out)
	}
}
