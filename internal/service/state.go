package service

// State is a step of one analysis. Transitions only move forward; Failed
// can be entered from any non-terminal state.
type State int

const (
	StateReceived State = iota
	StateValidating
	StatePreprocessing
	StatePrompting
	StateAwaitingPermit
	StateCalling
	StateParsingResponse
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateReceived:        "received",
	StateValidating:      "validating",
	StatePreprocessing:   "preprocessing",
	StatePrompting:       "prompting",
	StateAwaitingPermit:  "awaiting_permit",
	StateCalling:         "calling",
	StateParsingResponse: "parsing_response",
	StateDone:            "done",
	StateFailed:          "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
