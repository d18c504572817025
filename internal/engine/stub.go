package engine

// StubToggleInterval is the number of frames after which the stub scorer
// flips between a silent and a speech score. At 16 ms per frame, 50 frames
// is 0.8 seconds.
const StubToggleInterval = 50

// StubScorer returns raw scores that alternate between 0 and 1 every
// StubToggleInterval frames without looking at the audio. It exists for
// load tests and for exercising the adapter without real speech.
//
// Unlike the other scorers it counts frames, so a StubScorer must belong to a
// single handle.
type StubScorer struct {
	counter  int
	speaking bool
}

// NewStubScorer creates a StubScorer starting in silence.
func NewStubScorer() *StubScorer {
	return &StubScorer{}
}

// Score ignores the samples and returns 0 or 1.
func (s *StubScorer) Score(_ []int16) (float64, error) {
	s.counter++
	if s.counter >= StubToggleInterval {
		s.counter = 0
		s.speaking = !s.speaking
	}
	if s.speaking {
		return 1, nil
	}
	return 0, nil
}

// Close is a no-op for the stub scorer.
func (s *StubScorer) Close() error {
	return nil
}
