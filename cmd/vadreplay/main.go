// Command vadreplay runs a WAV recording through the VAD engine and prints one
// line per frame: "[index] probability, flag".
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/nupi-ai/plugin-vad-local-ten/internal/engine"
	"github.com/nupi-ai/plugin-vad-local-ten/internal/replay"
)

type options struct {
	wavPath      string
	kind         string
	modelPath    string
	frameLength  int
	threshold    float64
	smoothing    float64
	hangover     int
	segmentsOnly bool
}

func main() {
	var opts options
	flag.StringVar(&opts.wavPath, "wav", "", "mono 16-bit 16 kHz WAV file to replay")
	flag.StringVar(&opts.kind, "engine", engine.KindEnergy, "scorer: energy, onnx or stub")
	flag.StringVar(&opts.modelPath, "model", "", "ONNX model path (engine=onnx)")
	flag.IntVar(&opts.frameLength, "frame-length", engine.DefaultFrameLength, "samples per frame")
	flag.Float64Var(&opts.threshold, "threshold", engine.DefaultThreshold, "speech threshold in [0, 1]")
	flag.Float64Var(&opts.smoothing, "smoothing", engine.DefaultSmoothing, "moving average weight in (0, 1]")
	flag.IntVar(&opts.hangover, "hangover", engine.DefaultHangover, "frames below threshold tolerated before speech ends")
	flag.BoolVar(&opts.segmentsOnly, "segments", false, "print speech segments instead of per-frame results")
	flag.Parse()

	if opts.wavPath == "" && flag.NArg() > 0 {
		opts.wavPath = flag.Arg(0)
	}
	if opts.wavPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	out := bufio.NewWriter(os.Stdout)
	err := run(opts, out)
	if ferr := out.Flush(); err == nil {
		err = ferr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "vadreplay: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, w io.Writer) error {
	samples, err := replay.LoadWAV(opts.wavPath)
	if err != nil {
		return err
	}

	scorer, err := engine.NewScorer(opts.kind, opts.modelPath, opts.frameLength)
	if err != nil {
		return err
	}
	h, err := engine.New(engine.Config{
		FrameLength: opts.frameLength,
		Threshold:   opts.threshold,
		Smoothing:   opts.smoothing,
		Hangover:    opts.hangover,
	}, engine.WithScorer(scorer))
	if err != nil {
		_ = scorer.Close()
		return err
	}
	defer h.Close()

	var results []replay.FrameResult
	left, err := replay.Run(h, samples, func(r replay.FrameResult) error {
		if opts.segmentsOnly {
			results = append(results, r)
			return nil
		}
		speech := 0
		if r.IsSpeech {
			speech = 1
		}
		_, err := fmt.Fprintf(w, "[%d] %.6f, %d\n", r.Index, r.Probability, speech)
		return err
	})
	if err != nil {
		return err
	}

	if opts.segmentsOnly {
		for _, seg := range replay.Segments(results) {
			start := results[seg.Start].Offset
			if _, err := fmt.Fprintf(w, "speech %v - %v (%v)\n",
				start, start+seg.Duration(opts.frameLength), seg.Duration(opts.frameLength)); err != nil {
				return err
			}
		}
	}
	if left > 0 {
		fmt.Fprintf(os.Stderr, "vadreplay: %d trailing samples do not fill a frame of %d and were skipped\n", left, opts.frameLength)
	}
	return nil
}
