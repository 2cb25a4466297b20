package orchestrator

// State is a node of the polling state machine.
//
//	IDLE → FETCHING → DECODING → RESOLVING → SIGNALING → RISK_CHECK → EXECUTING → IDLE
//
// BACKOFF is entered when a cycle fails and returns to FETCHING after the
// delay. SHUTDOWN is terminal and reachable from any state on cancellation.
type State string

const (
	StateIdle      State = "IDLE"
	StateFetching  State = "FETCHING"
	StateDecoding  State = "DECODING"
	StateResolving State = "RESOLVING"
	StateSignaling State = "SIGNALING"
	StateRiskCheck State = "RISK_CHECK"
	StateExecuting State = "EXECUTING"
	StateBackoff   State = "BACKOFF"
	StateShutdown  State = "SHUTDOWN"
)
