package engine

// Hangover counts consecutive below-threshold frames while speech is active.
type Hangover struct {
	frames int // configured hangover length
	run    int // current below-threshold run
}

// Observe records one frame and reports whether the below-threshold run has
// grown strictly longer than the configured hangover.
func (h *Hangover) Observe(below bool) bool {
	if !below {
		h.run = 0
		return false
	}
	h.run++
	return h.run > h.frames
}

// Clear resets the current run.
func (h *Hangover) Clear() {
	h.run = 0
}

// Run returns the current below-threshold run length.
func (h *Hangover) Run() int {
	return h.run
}

// Tracker smooths raw scores with an exponential moving average and owns the
// hangover counter consumed by the Policy.
type Tracker struct {
	alpha    float64
	smoothed float64
	Hangover Hangover
}

// NewTracker returns a tracker with a zero accumulator.
func NewTracker(alpha float64, hangover int) Tracker {
	return Tracker{
		alpha:    alpha,
		Hangover: Hangover{frames: hangover},
	}
}

// Update folds raw into the moving average and returns the smoothed score.
func (t *Tracker) Update(raw float64) float64 {
	t.smoothed = t.alpha*raw + (1-t.alpha)*t.smoothed
	return t.smoothed
}

// Smoothed returns the most recent smoothed score.
func (t *Tracker) Smoothed() float64 {
	return t.smoothed
}
