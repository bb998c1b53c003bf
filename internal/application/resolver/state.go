package resolver

// Status is the phase of a single asset resolution.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Terminal reports whether no attempt is pending in this status
func (s Status) Terminal() bool {
	return s != StatusLoading
}

// State is an immutable snapshot of a controller.
type State struct {
	Status     Status           `json:"state"`
	URL        string           `json:"url,omitempty"`
	IsFallback bool             `json:"isFallback"`
	Err        *ResolutionError `json:"error,omitempty"`
}

type eventKind int

const (
	eventReset eventKind = iota
	eventStart
	eventResolved
	eventFailed
)

type event struct {
	kind     eventKind
	url      string
	fallback bool
	err      *ResolutionError
}

// transition is the whole state machine. Events that are not valid from the
// current status leave it unchanged.
func transition(s State, e event) State {
	switch e.kind {
	case eventReset:
		return State{Status: StatusIdle}
	case eventStart:
		return State{Status: StatusLoading}
	case eventResolved:
		if s.Status != StatusLoading {
			return s
		}
		return State{Status: StatusSuccess, URL: e.url, IsFallback: e.fallback}
	case eventFailed:
		if s.Status != StatusLoading {
			return s
		}
		return State{Status: StatusError, Err: e.err}
	}
	return s
}
