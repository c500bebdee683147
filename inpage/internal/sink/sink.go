// Package sink defines outputs for committed translations.
package sink

import (
	"context"

	"github.com/hazyhaar/overlay/inpage/message"
)

// Sink receives every flushed commit batch and one summary per page run.
// Implementations: stdout JSON lines, webhook, SQLite, in-process callback.
type Sink interface {
	Send(ctx context.Context, batch message.CommitBatch) error
	SendSummary(ctx context.Context, sum message.Summary) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
