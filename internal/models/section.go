package models

// ErrorKind describes why a section failed to load
type ErrorKind string

const (
	// ErrorKindNone is used when there is no error
	ErrorKindNone ErrorKind = ""
	// ErrorKindNetwork is set when the search backend could not be reached or answered with an error
	ErrorKindNetwork ErrorKind = "NETWORK_ERROR"
)

// Phase is the lifecycle phase of a section
type Phase string

const (
	// PhaseIdle is the phase of a section that has not received any input yet
	PhaseIdle Phase = "idle"
	// PhaseLoading is the phase of a section waiting for its result
	PhaseLoading Phase = "loading"
	// PhaseReady is the phase of a section showing its result
	PhaseReady Phase = "ready"
	// PhaseFailed is the phase of a section whose last fetch has failed
	PhaseFailed Phase = "failed"
)

// SectionState is what one section of a page currently shows
type SectionState struct {
	// The assets to show. Never set while loading
	Result *PagedResult `json:"result,omitempty"`
	// True as long as the section waits for the search backend
	IsLoading bool `json:"isLoading"`
	// Set if the last fetch has failed
	Error ErrorKind `json:"error,omitempty"`
	// Internal flag showing whether the section has ever been started
	started bool
}

// NewSectionState returns the state of a section that has been started
func NewSectionState(result *PagedResult, loading bool, errKind ErrorKind) SectionState {
	return SectionState{Result: result, IsLoading: loading, Error: errKind, started: true}
}

// Phase returns the lifecycle phase derived from the state
func (s SectionState) Phase() Phase {
	switch {
	case !s.started:
		return PhaseIdle
	case s.IsLoading:
		return PhaseLoading
	case s.Error != ErrorKindNone:
		return PhaseFailed
	default:
		return PhaseReady
	}
}

// Settled checks if the section is done loading - either successfully or not
func (s SectionState) Settled() bool {
	p := s.Phase()
	return p == PhaseReady || p == PhaseFailed
}
