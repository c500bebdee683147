// Package message defines the wire types exchanged between the in-page
// pipeline and a translation backend, plus the commit records emitted to
// sinks. These are the public API contract: backends and consumers import
// this package.
package message

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TypeInPage is the request type carried by every in-page request.
const TypeInPage = "inpage"

// Tier is the visibility class of a node. Lower tiers are dispatched first.
type Tier int

const (
	InViewport       Tier = iota // rendered and fully inside the viewport
	OffscreenVisible             // rendered, at least partly outside the viewport
	Hidden                       // not rendered
)

// Tiers lists every tier in dispatch order.
var Tiers = [...]Tier{InViewport, OffscreenVisible, Hidden}

var tierNames = [...]string{"InViewport", "OffscreenVisible", "Hidden"}

func (t Tier) String() string {
	if t < 0 || int(t) >= len(tierNames) {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return tierNames[t]
}

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	return t >= InViewport && t <= Hidden
}

// ParseTier maps a wire name back to a Tier.
func ParseTier(s string) (Tier, error) {
	for i, name := range tierNames {
		if name == s {
			return Tier(i), nil
		}
	}
	return 0, fmt.Errorf("message: unknown tier %q", s)
}

func (t Tier) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("message: invalid tier %d", int(t))
	}
	return json.Marshal(t.String())
}

func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("message: tier: %w", err)
	}
	parsed, err := ParseTier(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Key correlates a discovered node with its requests. Keys are assigned in
// discovery order and never reused within a pipeline.
type Key uint64

// AttrID is the correlation triple carried by requests and echoed back by
// responses. Part is 1-based; zero means the node was sent whole.
// On the wire it is the JSON array [tier, key, part|null].
type AttrID struct {
	Tier Tier
	Key  Key
	Part int
}

// MultiPart reports whether the id belongs to a multi-part group.
func (a AttrID) MultiPart() bool { return a.Part > 0 }

func (a AttrID) String() string {
	if a.Part == 0 {
		return fmt.Sprintf("%s/%d", a.Tier, a.Key)
	}
	return fmt.Sprintf("%s/%d#%d", a.Tier, a.Key, a.Part)
}

func (a AttrID) MarshalJSON() ([]byte, error) {
	var part any
	if a.Part > 0 {
		part = a.Part
	}
	return json.Marshal([3]any{a.Tier, a.Key, part})
}

func (a *AttrID) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("message: attrId: %w", err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("message: attrId: want 3 elements, got %d", len(raw))
	}
	var out AttrID
	if err := json.Unmarshal(raw[0], &out.Tier); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &out.Key); err != nil {
		return fmt.Errorf("message: attrId key: %w", err)
	}
	if !bytes.Equal(bytes.TrimSpace(raw[2]), []byte("null")) {
		if err := json.Unmarshal(raw[2], &out.Part); err != nil {
			return fmt.Errorf("message: attrId part: %w", err)
		}
		if out.Part < 1 {
			return fmt.Errorf("message: attrId part %d out of range", out.Part)
		}
	}
	*a = out
	return nil
}

// Request is one outbound translation unit.
type Request struct {
	Text   string `json:"text"`
	Type   string `json:"type"` // always TypeInPage
	AttrID AttrID `json:"attrId"`
}

// Response is one inbound translation result.
type Response struct {
	AttrID              AttrID `json:"attrId"`
	TranslatedParagraph string `json:"translatedParagraph"`
}

// Commit is one translation written back into the tree.
type Commit struct {
	Tier Tier   `json:"tier"`
	Key  Key    `json:"key"`
	Node int64  `json:"node"`
	Text string `json:"text"`
}

// CommitBatch is the unit emitted after each scheduled flush.
type CommitBatch struct {
	ID        string   `json:"id"` // UUIDv7
	PageID    string   `json:"page_id"`
	PageURL   string   `json:"page_url,omitempty"`
	Seq       uint64   `json:"seq"` // monotonically increasing per pipeline
	Commits   []Commit `json:"commits"`
	Failed    int      `json:"failed,omitempty"` // writes rejected by the host
	Timestamp int64    `json:"timestamp"`        // epoch milliseconds at flush
}

// MarshalRequest serialises a Request to JSON.
func MarshalRequest(r *Request) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalResponse deserialises a Response from JSON.
func UnmarshalResponse(data []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// MarshalCommitBatch serialises a CommitBatch to JSON.
func MarshalCommitBatch(b *CommitBatch) ([]byte, error) {
	return json.Marshal(b)
}

// Summary is emitted once when a pipeline run ends.
type Summary struct {
	PageID     string `json:"page_id"`
	PageURL    string `json:"page_url,omitempty"`
	Discovered int64  `json:"discovered"`
	Requests   int64  `json:"requests"`
	Completed  int64  `json:"completed"`
	Committed  int64  `json:"committed"`
	Stale      int64  `json:"stale"`
	Pending    int64  `json:"pending"` // dispatched but never completed
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`
}
