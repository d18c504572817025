package server

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/nupi-ai/plugin-vad-local-ten/internal/config"
	"github.com/nupi-ai/plugin-vad-local-ten/internal/engine"
	"github.com/nupi-ai/plugin-vad-local-ten/internal/metrics"
)

const frameBytes = engine.DefaultFrameLength * 2

func stubFactory(cfg config.Config) (engine.Engine, error) {
	return engine.New(cfg.EngineConfig(), engine.WithScorer(engine.NewStubScorer()))
}

func energyFactory(cfg config.Config) (engine.Engine, error) {
	return engine.New(cfg.EngineConfig())
}

// stubConfig makes the engine flag follow the stub scorer exactly: speech
// starts on frame StubToggleInterval-1 (0-based).
func stubConfig() config.Config {
	cfg := config.Default()
	cfg.Smoothing = 1
	cfg.HangoverFrames = 0
	return cfg
}

// startTestServer serves the VAD service over an in-memory listener and
// returns a client for it.
func startTestServer(t *testing.T, cfg config.Config, factory EngineFactory, opts ...Option) *Client {
	t.Helper()

	lis := bufconn.Listen(4 << 20)
	srv := New(cfg, zaptest.NewLogger(t), factory, opts...)

	gs := grpc.NewServer(grpc.MaxRecvMsgSize(MaxPCMChunkBytes + 1024))
	Register(gs, srv)
	go func() { _ = gs.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		gs.Stop()
	})
	return NewClient(conn)
}

func openStream(t *testing.T, client *Client, settings StreamSettings) DetectSpeechClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	stream, err := client.DetectSpeech(settings.Outgoing(ctx))
	require.NoError(t, err)
	return stream
}

// sendPCM sends pcm in chunks of chunkBytes and half-closes the stream.
func sendPCM(t *testing.T, stream DetectSpeechClient, pcm []byte, chunkBytes int) {
	t.Helper()
	for len(pcm) > 0 {
		n := min(chunkBytes, len(pcm))
		if err := stream.Send(wrapperspb.Bytes(pcm[:n])); err != nil {
			// The server ended the stream; Recv reports why.
			break
		}
		pcm = pcm[n:]
	}
	require.NoError(t, stream.CloseSend())
}

// recvAll reads events until the stream ends. A clean end returns a nil error.
func recvAll(t *testing.T, stream DetectSpeechClient) ([]SpeechEvent, error) {
	t.Helper()
	var events []SpeechEvent
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		evt, err := ParseSpeechEvent(msg)
		require.NoError(t, err)
		events = append(events, evt)
	}
}

func eventTypes(events []SpeechEvent) []EventType {
	types := make([]EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func silence(frames int) []byte {
	return make([]byte, frames*frameBytes)
}

// tone returns frames of a 1 kHz sine at the given amplitude as s16le.
func tone(frames int, amplitude float64) []byte {
	n := frames * engine.DefaultFrameLength
	buf := make([]byte, n*2)
	for i := range n {
		v := amplitude * math.Sin(2*math.Pi*1000*float64(i)/engine.SampleRate)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v)))
	}
	return buf
}

func TestDetectSpeech_StartOngoingEnd(t *testing.T) {
	client := startTestServer(t, stubConfig(), stubFactory)
	stream := openStream(t, client, StreamSettings{
		SessionID:  "sess-1",
		StreamID:   "mic",
		SampleRate: engine.SampleRate,
		Encoding:   "pcm_s16le",
		Channels:   1,
	})

	// Odd-sized chunks exercise the framer.
	sendPCM(t, stream, silence(engine.StubToggleInterval+1), 700)
	events, err := recvAll(t, stream)
	require.NoError(t, err)

	require.Equal(t, []EventType{EventSpeechStart, EventSpeechOngoing, EventSpeechEnd}, eventTypes(events))

	start, ongoing, end := events[0], events[1], events[2]
	assert.Equal(t, int64(engine.StubToggleInterval-1), start.Frame)
	assert.True(t, start.IsSpeech)
	assert.Equal(t, 1.0, start.Confidence)
	assert.Equal(t, int64(engine.StubToggleInterval), ongoing.Frame)
	assert.Equal(t, int64(engine.StubToggleInterval+1), end.Frame)
	assert.False(t, end.IsSpeech)

	assert.Equal(t, 16*time.Millisecond, ongoing.Timestamp.Sub(start.Timestamp))
	assert.Equal(t, 16*time.Millisecond, end.Timestamp.Sub(ongoing.Timestamp))
	for _, e := range events {
		assert.Equal(t, "sess-1", e.SessionID)
		assert.Equal(t, "mic", e.StreamID)
	}
}

func TestDetectSpeech_SilenceOnly(t *testing.T) {
	client := startTestServer(t, config.Default(), energyFactory)
	stream := openStream(t, client, StreamSettings{})

	sendPCM(t, stream, silence(40), frameBytes*3)
	events, err := recvAll(t, stream)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDetectSpeech_EnergyEngineToneAndSilence(t *testing.T) {
	client := startTestServer(t, config.Default(), energyFactory)
	stream := openStream(t, client, StreamSettings{SampleRate: engine.SampleRate})

	pcm := append(silence(10), tone(20, 16000)...)
	pcm = append(pcm, silence(20)...)
	sendPCM(t, stream, pcm, 4096)
	events, err := recvAll(t, stream)
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, EventSpeechStart, events[0].Type)
	assert.Equal(t, EventSpeechEnd, events[len(events)-1].Type)
	assert.GreaterOrEqual(t, events[0].Frame, int64(10))
	// Hangover holds the flag past the end of the tone.
	assert.Greater(t, events[len(events)-1].Frame, int64(30+config.Default().HangoverFrames))
	for _, e := range events[1 : len(events)-1] {
		assert.Equal(t, EventSpeechOngoing, e.Type)
	}
	assert.NotEmpty(t, events[0].StreamID, "stream id is generated when absent")
}

func TestDetectSpeech_FlushesEndOnEOF(t *testing.T) {
	client := startTestServer(t, stubConfig(), stubFactory)
	stream := openStream(t, client, StreamSettings{})

	sendPCM(t, stream, silence(engine.StubToggleInterval+5), frameBytes)
	events, err := recvAll(t, stream)
	require.NoError(t, err)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventSpeechEnd, last.Type)
	assert.Equal(t, int64(engine.StubToggleInterval+5), last.Frame)
	assert.Equal(t, 1.0, last.Confidence)
}

func TestDetectSpeech_EmitFrames(t *testing.T) {
	client := startTestServer(t, config.Default(), energyFactory)
	stream := openStream(t, client, StreamSettings{Config: `{"emit_frames":true}`})

	sendPCM(t, stream, silence(10), 1000)
	events, err := recvAll(t, stream)
	require.NoError(t, err)

	require.Len(t, events, 10)
	for i, e := range events {
		assert.Equal(t, EventFrame, e.Type)
		assert.Equal(t, int64(i), e.Frame)
		assert.False(t, e.IsSpeech)
		assert.Zero(t, e.Confidence)
	}
}

func TestDetectSpeech_LegacyMinSpeechDurationAccepted(t *testing.T) {
	client := startTestServer(t, config.Default(), energyFactory)
	stream := openStream(t, client, StreamSettings{Config: `{"min_speech_duration_ms":250}`})

	sendPCM(t, stream, silence(4), frameBytes)
	events, err := recvAll(t, stream)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDetectSpeech_TrailingPartialFrameIsDropped(t *testing.T) {
	client := startTestServer(t, config.Default(), energyFactory)
	stream := openStream(t, client, StreamSettings{Config: "emit_frames: true"})

	sendPCM(t, stream, make([]byte, 3*frameBytes+100), 64)
	events, err := recvAll(t, stream)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestDetectSpeech_InvalidArguments(t *testing.T) {
	tests := []struct {
		name     string
		settings StreamSettings
		pcm      []byte
	}{
		{"sample rate", StreamSettings{SampleRate: 8000}, silence(1)},
		{"encoding", StreamSettings{Encoding: "opus"}, silence(1)},
		{"channels", StreamSettings{Channels: 2}, silence(1)},
		{"bit depth", StreamSettings{BitDepth: 8}, silence(1)},
		{"config", StreamSettings{Config: `{"threshold":3}`}, silence(1)},
		{"speech pad", StreamSettings{Config: `{"speech_pad_ms":30}`}, silence(1)},
		{"odd chunk", StreamSettings{}, make([]byte, 301)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := startTestServer(t, config.Default(), energyFactory)
			stream := openStream(t, client, tt.settings)

			sendPCM(t, stream, tt.pcm, len(tt.pcm))
			_, err := recvAll(t, stream)
			require.Error(t, err)
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}
}

func TestDetectSpeech_EngineCreationFailure(t *testing.T) {
	failing := func(config.Config) (engine.Engine, error) {
		return nil, errors.New("no model")
	}
	client := startTestServer(t, config.Default(), failing)
	stream := openStream(t, client, StreamSettings{})

	sendPCM(t, stream, silence(1), frameBytes)
	_, err := recvAll(t, stream)
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestDetectSpeech_EmptyStreamCreatesNoEngine(t *testing.T) {
	var calls int
	var mu sync.Mutex
	counting := func(cfg config.Config) (engine.Engine, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return energyFactory(cfg)
	}
	client := startTestServer(t, config.Default(), counting)
	stream := openStream(t, client, StreamSettings{})

	require.NoError(t, stream.Send(wrapperspb.Bytes(nil)))
	require.NoError(t, stream.CloseSend())
	events, err := recvAll(t, stream)
	require.NoError(t, err)
	assert.Empty(t, events)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestDetectSpeech_ConcurrentStreamsAreIsolated(t *testing.T) {
	client := startTestServer(t, stubConfig(), stubFactory)

	const streams = 4
	var wg sync.WaitGroup
	results := make([][]SpeechEvent, streams)
	errs := make([]error, streams)
	for i := range streams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			// Odd streams raise the threshold above the stub's top score.
			settings := StreamSettings{}
			if i%2 == 1 {
				settings.Config = `{"threshold":1,"smoothing":0.5}`
			}
			stream, err := client.DetectSpeech(settings.Outgoing(ctx))
			if err != nil {
				errs[i] = err
				return
			}
			pcm := silence(engine.StubToggleInterval + 1)
			for off := 0; off < len(pcm); off += frameBytes {
				if err := stream.Send(wrapperspb.Bytes(pcm[off : off+frameBytes])); err != nil {
					errs[i] = err
					return
				}
			}
			if err := stream.CloseSend(); err != nil {
				errs[i] = err
				return
			}
			for {
				msg, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					return
				}
				if err != nil {
					errs[i] = err
					return
				}
				evt, err := ParseSpeechEvent(msg)
				if err != nil {
					errs[i] = err
					return
				}
				results[i] = append(results[i], evt)
			}
		}()
	}
	wg.Wait()

	for i := range streams {
		require.NoError(t, errs[i], "stream %d", i)
		if i%2 == 1 {
			assert.Empty(t, results[i], "stream %d", i)
			continue
		}
		assert.Equal(t, []EventType{EventSpeechStart, EventSpeechOngoing, EventSpeechEnd},
			eventTypes(results[i]), "stream %d", i)
	}
}

func TestDetectSpeech_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("vad", reg)
	client := startTestServer(t, stubConfig(), stubFactory, WithMetrics(collector))
	stream := openStream(t, client, StreamSettings{})

	sendPCM(t, stream, silence(engine.StubToggleInterval+1), frameBytes*8)
	_, err := recvAll(t, stream)
	require.NoError(t, err)

	expected := `
# HELP vad_speech_events_total Total number of speech events sent, by type
# TYPE vad_speech_events_total counter
vad_speech_events_total{type="SPEECH_END"} 1
vad_speech_events_total{type="SPEECH_ONGOING"} 1
vad_speech_events_total{type="SPEECH_START"} 1
# HELP vad_streams_total Total number of DetectSpeech streams by outcome
# TYPE vad_streams_total counter
vad_streams_total{outcome="ok"} 1
# HELP vad_frames_processed_total Total number of audio frames run through the engine
# TYPE vad_frames_processed_total counter
vad_frames_processed_total 51
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"vad_speech_events_total", "vad_streams_total", "vad_frames_processed_total"))
}

func TestSegmenter(t *testing.T) {
	var sg segmenter
	flags := []bool{false, true, true, false, false, true}
	want := []EventType{"", EventSpeechStart, EventSpeechOngoing, EventSpeechEnd, "", EventSpeechStart}
	for i, f := range flags {
		typ, ok := sg.process(engine.Result{Probability: 0.5, IsSpeech: f})
		assert.Equal(t, want[i] != "", ok, "frame %d", i)
		assert.Equal(t, want[i], typ, "frame %d", i)
	}
}

func TestSpeechEventProtoRoundTrip(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 16_000_000, time.UTC)
	in := SpeechEvent{
		Type:       EventSpeechStart,
		Confidence: 0.75,
		IsSpeech:   true,
		Frame:      42,
		Timestamp:  ts,
		SessionID:  "s",
		StreamID:   "x",
	}
	out, err := ParseSpeechEvent(in.Proto())
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = ParseSpeechEvent(nil)
	assert.Error(t, err)
}
