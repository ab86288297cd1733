package collab

import (
	"time"

	"github.com/bgmanu2426/real-time-document-editor/backend/internal/ot/delta"
)

// DocOpEvent is the applied-operation record published to Kafka for
// downstream consumers (audit, indexing, replay).
type DocOpEvent struct {
	EventType   string      `json:"eventType"` // always "OP_APPLIED"
	DocID       string      `json:"docId"`
	OperationID string      `json:"operationId"`
	Version     uint64      `json:"version"`
	AuthorID    uint64      `json:"authorId"`
	ClientID    string      `json:"clientId"`
	BaseVersion uint64      `json:"baseVersion"`
	Ops         delta.Delta `json:"ops"`
	AppliedAt   time.Time   `json:"appliedAt"`
}
