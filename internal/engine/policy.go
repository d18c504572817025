package engine

// State is the decision state of a stream.
type State int

const (
	StateSilence State = iota
	StateSpeech
)

func (s State) String() string {
	switch s {
	case StateSilence:
		return "SILENCE"
	case StateSpeech:
		return "SPEECH"
	default:
		return "UNKNOWN"
	}
}

// Policy turns smoothed scores into a stable speech flag with hysteresis:
// speech starts as soon as the score reaches the threshold and ends only after
// the score stayed below it for more than the hangover length.
type Policy struct {
	threshold float64
	state     State
}

// NewPolicy returns a policy in the SILENCE state.
func NewPolicy(threshold float64) Policy {
	return Policy{threshold: threshold}
}

// Step applies the transition rule for one frame and returns the flag.
func (p *Policy) Step(score float64, h *Hangover) bool {
	below := score < p.threshold
	switch p.state {
	case StateSilence:
		if !below {
			p.state = StateSpeech
			h.Clear()
		}
	case StateSpeech:
		if h.Observe(below) {
			p.state = StateSilence
			h.Clear()
		}
	}
	return p.state == StateSpeech
}

// State returns the current decision state.
func (p *Policy) State() State {
	return p.state
}
