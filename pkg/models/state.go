package models

// State is the lifecycle of a chain as reported by the status endpoint.
type State string

const (
	Init     State = "init"
	Running  State = "running"
	Idle     State = "idle"   // between tasks
	Failed   State = "failed" // dead state
	Finished State = "finished"
)

// LoopState is a node of the per-task control loop.
type LoopState string

const (
	Reason LoopState = "REASON"
	Act    LoopState = "ACT"
	Repair LoopState = "REPAIR"
	Done   LoopState = "DONE"
)
