package game

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase is the round lifecycle state. Transitions are owned exclusively
// by the Machine's tick loop: Waiting -> Running -> Crashed -> Waiting.
type Phase string

const (
	PhaseWaiting Phase = "waiting"
	PhaseRunning Phase = "running"
	PhaseCrashed Phase = "crashed"
)

// Round is the single current round. The Machine is the only writer;
// everyone else sees copies via Snapshot.
type Round struct {
	ID         string
	Phase      Phase
	Multiplier decimal.Decimal
	CrashPoint decimal.Decimal // provisional while Running, immutable once Crashed
	StartedAt  time.Time
}

// Snapshot is a read-only view of the current round.
type Snapshot struct {
	RoundID    string          `json:"roundId"`
	Phase      Phase           `json:"phase"`
	Multiplier decimal.Decimal `json:"multiplier"`
}
