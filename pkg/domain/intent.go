package domain

import "time"

// IntentType names what the upstream planner asked the robot to do.
type IntentType string

const (
	IntentMoveTo    IntentType = "move_to"
	IntentStabilize IntentType = "stabilize"
	IntentEStop     IntentType = "estop"
	IntentOscillate IntentType = "oscillate"
	IntentIdle      IntentType = "idle"
)

// Intent is the originating command descriptor recorded with every audit entry.
type Intent struct {
	Type        IntentType `json:"type"`
	Target      float64    `json:"target"`
	Priority    int        `json:"priority"`
	TimestampNS int64      `json:"timestampNs"`
}

// FailureEvent captures the context of a mode escalation for offline review.
type FailureEvent struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	Type        string        `json:"type"`
	Severity    string        `json:"severity"`
	Hazard      HazardLevel   `json:"hazard"`
	Mode        RuntimeMode   `json:"mode"`
	Description string        `json:"description"`
	Snapshot    []SampleEntry `json:"snapshot"`
}

// SampleEntry is one recorded tick in the sample history.
type SampleEntry struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Input     StepInput `json:"input"`
}
