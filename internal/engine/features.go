package engine

import (
	"fmt"
	"math"
)

const (
	// Frame levels at or below floorDB score 0, at or above ceilDB score 1.
	floorDB = -60.0
	ceilDB  = -20.0
	// powerEpsilon keeps log10 finite for digital silence (-100 dBFS).
	powerEpsilon = 1e-10

	speechBandLowHz  = 300.0
	speechBandHighHz = 3400.0
)

// Speech-band filter: RBJ band-pass with constant 0 dB peak gain, centred on
// the geometric mean of the band edges. Coefficients are normalized by a0.
var speechBand = newBandPass(
	math.Sqrt(speechBandLowHz*speechBandHighHz),
	math.Sqrt(speechBandLowHz*speechBandHighHz)/(speechBandHighHz-speechBandLowHz),
	SampleRate,
)

type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

func newBandPass(centerHz, q float64, sampleRate int) biquad {
	w0 := 2 * math.Pi * centerHz / float64(sampleRate)
	alpha := math.Sin(w0) / (2 * q)
	a0 := 1 + alpha
	return biquad{
		b0: alpha / a0,
		b1: 0,
		b2: -alpha / a0,
		a1: -2 * math.Cos(w0) / a0,
		a2: (1 - alpha) / a0,
	}
}

// EnergyScorer is the default feature extractor. It combines the frame level
// in dBFS with the share of energy that falls into the 300-3400 Hz speech
// band. It keeps no state between frames and does not allocate.
type EnergyScorer struct{}

// NewEnergyScorer returns the default feature extractor.
func NewEnergyScorer() *EnergyScorer {
	return &EnergyScorer{}
}

// Score returns a raw speech score in [0, 1].
func (EnergyScorer) Score(frame []int16) (float64, error) {
	n := len(frame)
	if n == 0 {
		return 0, nil
	}

	var mean float64
	for _, s := range frame {
		mean += float64(s)
	}
	mean /= float64(n) * 32768.0

	// Direct form I, filter state starts at zero for every frame.
	var (
		total, band    float64
		x1, x2, y1, y2 float64
		f              = speechBand
	)
	for _, s := range frame {
		x := float64(s)/32768.0 - mean
		total += x * x

		y := f.b0*x + f.b1*x1 + f.b2*x2 - f.a1*y1 - f.a2*y2
		x2, x1 = x1, x
		y2, y1 = y1, y
		band += y * y
	}

	power := total / float64(n)
	level := 10 * math.Log10(power+powerEpsilon)
	energy := clamp01((level - floorDB) / (ceilDB - floorDB))

	var ratio float64
	if total > 0 {
		ratio = clamp01(band / total)
	}

	score := energy * (0.5 + 0.5*ratio)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("%w: energy score %v (level %.2f dBFS, band ratio %v)", ErrInternal, score, level, ratio)
	}
	return clamp01(score), nil
}

// Close is a no-op for the energy scorer.
func (EnergyScorer) Close() error {
	return nil
}
