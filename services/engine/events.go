package engine

// Per-run event journal, useful for forensics on a single trade without
// re-running with a debugger attached.

type EventType int

const (
	EventEntryFill EventType = iota
	EventExitFill
	EventAllocationRefused
	EventWhipsawSuppressed
	EventLiquidation
)

func (t EventType) String() string {
	switch t {
	case EventEntryFill:
		return "entry_fill"
	case EventExitFill:
		return "exit_fill"
	case EventAllocationRefused:
		return "allocation_refused"
	case EventWhipsawSuppressed:
		return "whipsaw_suppressed"
	case EventLiquidation:
		return "liquidation"
	default:
		return "unknown"
	}
}

type Event struct {
	Ts       int64
	BarIndex int
	Type     EventType
	Symbol   string
	Detail   string
}

type EventLog struct {
	Events []Event
}

func (l *EventLog) append(e Event) {
	if l == nil {
		return
	}
	l.Events = append(l.Events, e)
}
