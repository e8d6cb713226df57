package records

import (
	"fmt"
	"time"
)

// EnvelopeType tags every record pushed to the remote endpoint.
const EnvelopeType = "activity-sync"

// Envelope is the body of one sync POST.
type Envelope struct {
	Type      string `json:"type"`
	Data      Record `json:"data"`
	Timestamp string `json:"timestamp"`
}

func NewEnvelope(rec Record, now time.Time) Envelope {
	return Envelope{
		Type:      EnvelopeType,
		Data:      rec,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

// IdempotencyKey is stable for a record across retries and runs, so the
// remote endpoint can discard a replayed send.
func IdempotencyKey(rec Record) string {
	return fmt.Sprintf("activity-%d-%d", rec.ID, rec.CreatedAt.UnixNano())
}
