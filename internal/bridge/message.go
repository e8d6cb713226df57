package bridge

import "time"

const (
	TypeSyncStarted    = "SYNC_STARTED"
	TypeSyncCompleted  = "SYNC_COMPLETED"
	TypeClientsClaimed = "CLIENTS_CLAIMED"
	TypeMetrics        = "METRICS"

	TypeStartSync  = "START_SYNC"
	TypeGetMetrics = "GET_METRICS"
)

// Message is the envelope exchanged with views in both directions.
type Message struct {
	Type        string  `json:"type"`
	ActivityIDs []int64 `json:"activityIds,omitempty"`
	Version     string  `json:"version,omitempty"`
	Timestamp   string  `json:"timestamp,omitempty"`
	Payload     any     `json:"payload,omitempty"`
}

// SyncSummary is the payload of SYNC_COMPLETED.
type SyncSummary struct {
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	Total      int    `json:"total"`
	Timestamp  string `json:"timestamp"`
	Message    string `json:"message"`
}

func SyncStarted(ids []int64, now time.Time) Message {
	return Message{
		Type:        TypeSyncStarted,
		ActivityIDs: append([]int64{}, ids...),
		Timestamp:   formatTime(now),
	}
}

func SyncCompleted(summary SyncSummary) Message {
	return Message{
		Type:    TypeSyncCompleted,
		Payload: summary,
	}
}

func ClientsClaimed(version string, now time.Time) Message {
	return Message{
		Type:      TypeClientsClaimed,
		Version:   version,
		Timestamp: formatTime(now),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
