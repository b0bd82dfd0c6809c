package engine

type EventType int

const (
	EventEntryFill EventType = iota
	EventExitFill
	EventStopHit
	EventTakeProfitHit
	EventRebalance
)

func (t EventType) String() string {
	switch t {
	case EventEntryFill:
		return "entry_fill"
	case EventExitFill:
		return "exit_fill"
	case EventStopHit:
		return "stop_hit"
	case EventTakeProfitHit:
		return "take_profit_hit"
	case EventRebalance:
		return "rebalance"
	default:
		return "unknown"
	}
}

// Event is one audit record emitted during a simulation.
type Event struct {
	Ts      uint64            `json:"ts"`
	Type    EventType         `json:"type"`
	Symbol  string            `json:"symbol"`
	Details map[string]string `json:"details,omitempty"`
}

// EventLog is append-only during the run and read-only afterwards.
type EventLog struct {
	Events []Event `json:"events"`
}

func (l *EventLog) Append(e Event) { l.Events = append(l.Events, e) }

func (l *EventLog) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Events)
}
