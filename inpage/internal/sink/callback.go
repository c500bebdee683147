package sink

import (
	"context"

	"github.com/hazyhaar/overlay/inpage/message"
)

// BatchFunc is called for each commit batch.
type BatchFunc func(ctx context.Context, batch message.CommitBatch) error

// SummaryFunc is called once per page run.
type SummaryFunc func(ctx context.Context, sum message.Summary) error

// Callback delivers in-process, without serialisation. Either func may be nil.
type Callback struct {
	onBatch   BatchFunc
	onSummary SummaryFunc
}

// NewCallback creates a Callback sink.
func NewCallback(onBatch BatchFunc, onSummary SummaryFunc) *Callback {
	return &Callback{onBatch: onBatch, onSummary: onSummary}
}

func (c *Callback) Send(ctx context.Context, batch message.CommitBatch) error {
	if c.onBatch != nil {
		return c.onBatch(ctx, batch)
	}
	return nil
}

func (c *Callback) SendSummary(ctx context.Context, sum message.Summary) error {
	if c.onSummary != nil {
		return c.onSummary(ctx, sum)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
