package event

// Meta event types describe the dispatch loop's own activity. They are never
// routed to policies; the loop hands them to its meta observer only.
const (
	TypeCycleStarted Type = "dispatch.cycle_started"
	TypeCycleEnded   Type = "dispatch.cycle_ended"
)

// CycleStarted marks the start of one outer loop iteration.
type CycleStarted struct {
	Cycle    int `json:"cycle"`
	Commands int `json:"commands"`
}

// EventType implements Payload.
func (CycleStarted) EventType() Type { return TypeCycleStarted }

// CycleEnded marks the end of one outer loop iteration.
type CycleEnded struct {
	Cycle      int `json:"cycle"`
	Dispatched int `json:"dispatched"`
	Emitted    int `json:"emitted"`
}

// EventType implements Payload.
func (CycleEnded) EventType() Type { return TypeCycleEnded }
