package domain

import "time"

type EventKind string

const (
	KindScreen    EventKind = "screen"
	KindEvent     EventKind = "event"
	KindException EventKind = "exception"
	KindSocial    EventKind = "social"
	KindGoal      EventKind = "goal"
	KindSearch    EventKind = "search"
)

// CustomVariable occupies a fixed slot index on the visit scope. The remote
// protocol supports a small number of slots, so indices are 1-based and low.
type CustomVariable struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// TrackedEvent is immutable once enqueued. Only the fields matching its Kind
// are populated; the rest stay zero and are omitted from the stored payload.
type TrackedEvent struct {
	CreatedAt time.Time `json:"created_at"`
	VisitorID string    `json:"visitor_id"`
	SessionID string    `json:"session_id"`
	NewVisit  bool      `json:"new_visit,omitempty"`
	Kind      EventKind `json:"kind"`

	Path           []string         `json:"path,omitempty"`
	Category       string           `json:"category,omitempty"`
	Action         string           `json:"action,omitempty"`
	Label          string           `json:"label,omitempty"`
	Description    string           `json:"description,omitempty"`
	Fatal          bool             `json:"fatal,omitempty"`
	Target         string           `json:"target,omitempty"`
	Network        string           `json:"network,omitempty"`
	GoalID         string           `json:"goal_id,omitempty"`
	Revenue        uint64           `json:"revenue,omitempty"`
	Keyword        string           `json:"keyword,omitempty"`
	SearchCategory string           `json:"search_category,omitempty"`
	SearchHits     *int             `json:"search_hits,omitempty"`
	CustomVars     []CustomVariable `json:"custom_vars,omitempty"`
}

// QueueRecord is the durable form of a TrackedEvent. Sequence is assigned by
// the queue store at enqueue time, never reused, and defines delivery order.
type QueueRecord struct {
	Sequence int64        `json:"sequence"`
	Event    TrackedEvent `json:"event"`
}

// Sequences extracts the delivery-order ids of a batch, oldest first.
func Sequences(batch []QueueRecord) []int64 {
	seqs := make([]int64, len(batch))
	for i := range batch {
		seqs[i] = batch[i].Sequence
	}
	return seqs
}
