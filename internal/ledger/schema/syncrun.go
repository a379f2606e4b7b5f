package schema

import "time"

// SyncRun is one entry of the sync journal: the outcome of a single round
// trip with the server.
type SyncRun struct {
	ID        int64         `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Sent      int           `json:"sent"`     // changes in the outbound delta
	Received  int           `json:"received"` // changes in the inbound delta
	Cursor    int64         `json:"cursor"`   // cursor after the run
	Error     string        `json:"error,omitempty"`
}

// OK reports whether the run completed without error.
func (r SyncRun) OK() bool {
	return r.Error == ""
}
