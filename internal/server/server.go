package server

import (
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/nupi-ai/plugin-vad-local-ten/internal/config"
	"github.com/nupi-ai/plugin-vad-local-ten/internal/engine"
	"github.com/nupi-ai/plugin-vad-local-ten/internal/framer"
	"github.com/nupi-ai/plugin-vad-local-ten/internal/metrics"
)

// MaxPCMChunkBytes limits the size of a single PCM chunk to prevent
// memory spikes from oversized messages. 1 MB is about 32 seconds at 16 kHz
// mono s16le. It is also enforced at transport level via MaxRecvMsgSize.
const MaxPCMChunkBytes = 1 << 20

const tracerName = "github.com/nupi-ai/plugin-vad-local-ten/internal/server"

// EngineFactory creates one engine per stream from the stream's config copy.
type EngineFactory func(cfg config.Config) (engine.Engine, error)

// Option configures a Server.
type Option func(*Server)

// WithMetrics records stream and frame metrics into c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = c
	}
}

// Server implements VoiceActivityDetectionServer.
// Each DetectSpeech stream gets its own engine instance and config copy,
// so concurrent streams are fully isolated.
type Server struct {
	cfg       config.Config
	log       *zap.Logger
	newEngine EngineFactory
	metrics   *metrics.Collector
	tracer    trace.Tracer
}

// New returns a new Server. The newEngine factory is called once per stream,
// on its first PCM chunk.
func New(cfg config.Config, logger *zap.Logger, newEngine EngineFactory, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:       cfg,
		log:       logger.With(zap.String("component", "server")),
		newEngine: newEngine,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewCollector("vad", prometheus.NewRegistry())
	}
	return s
}

// streamInfo is what the client declared in the request metadata.
type streamInfo struct {
	sessionID string
	streamID  string
	rawConfig string
}

// DetectSpeech implements the bidirectional streaming RPC. It receives PCM
// chunks, cuts them into engine frames and turns the engine's speech flag
// into START/ONGOING/END events.
func (s *Server) DetectSpeech(stream DetectSpeechServer) (err error) {
	info, err := parseStreamMetadata(stream.Context())
	if err != nil {
		return err
	}

	// Per-stream state: own config copy plus own engine instance.
	streamCfg := s.cfg
	opts, err := config.ApplyStreamConfig(info.rawConfig, &streamCfg)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "stream config: %v", err)
	}

	log := s.log.With(zap.String("session_id", info.sessionID), zap.String("stream_id", info.streamID))
	for _, w := range opts.Warnings {
		log.Warn(w)
	}
	_, span := s.tracer.Start(stream.Context(), "vad.DetectSpeech",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("vad.session_id", info.sessionID),
			attribute.String("vad.stream_id", info.streamID),
			attribute.Int("vad.frame_length", streamCfg.FrameLength),
		))

	s.metrics.StreamOpened()

	var (
		eng         engine.Engine
		fr          *framer.Framer
		sg          segmenter
		streamStart time.Time
		frameCount  int64
	)
	frameDuration := time.Duration(streamCfg.FrameLength) * time.Second / engine.SampleRate

	defer func() {
		if eng != nil {
			if cerr := eng.Close(); cerr != nil {
				log.Warn("engine close failed", zap.Error(cerr))
			}
		}
		s.metrics.StreamClosed(err)
		span.SetAttributes(attribute.Int64("vad.frames", frameCount))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, status.Convert(err).Message())
		}
		span.End()
		log.Info("stream closed", zap.Int64("frames", frameCount), zap.Error(err))
	}()

	send := func(typ EventType, r engine.Result, frame int64) error {
		// Timestamp is audio time, not wall-clock: the position of the frame
		// in the stream. Under backpressure it can lead delivery time.
		evt := SpeechEvent{
			Type:       typ,
			Confidence: r.Probability,
			IsSpeech:   r.IsSpeech,
			Frame:      frame,
			Timestamp:  streamStart.Add(time.Duration(frame) * frameDuration),
			SessionID:  info.sessionID,
			StreamID:   info.streamID,
		}
		if err := stream.Send(evt.Proto()); err != nil {
			return err
		}
		if typ != EventFrame {
			s.metrics.SpeechEvent(string(typ))
		}
		return nil
	}

	for {
		req, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Client closed the stream: flush any pending speech end.
				if sg.inSpeech {
					return send(EventSpeechEnd, engine.Result{Probability: sg.lastConfidence}, frameCount)
				}
				return nil
			}
			return err
		}

		// Skip empty chunks (keepalive messages).
		pcm := req.GetValue()
		if len(pcm) == 0 {
			continue
		}

		// Validate PCM before engine creation so that bad input never
		// allocates a model session.
		if len(pcm)%2 != 0 {
			return status.Errorf(codes.InvalidArgument,
				"PCM buffer has odd length %d (s16le requires 2 bytes per sample)", len(pcm))
		}
		if len(pcm) > MaxPCMChunkBytes {
			return status.Errorf(codes.InvalidArgument,
				"PCM chunk too large: %d bytes (max %d)", len(pcm), MaxPCMChunkBytes)
		}

		if eng == nil {
			e, err := s.newEngine(streamCfg)
			if err != nil {
				log.Error("engine creation failed", zap.Error(err))
				return status.Error(codes.Internal, "engine creation failed")
			}
			eng = e
			fr, err = framer.New(eng.FrameLength(), MaxPCMChunkBytes)
			if err != nil {
				return status.Errorf(codes.Internal, "framer: %v", err)
			}
			// Anchor the stream clock to the first PCM chunk.
			streamStart = time.Now()
			log.Info("stream opened",
				zap.Int("frame_length", streamCfg.FrameLength),
				zap.Float64("threshold", streamCfg.Threshold),
				zap.Int("hangover_frames", streamCfg.HangoverFrames),
			)
		}

		if err := fr.Write(pcm); err != nil {
			return status.Errorf(codes.InvalidArgument, "%v", err)
		}

		for frame, ok := fr.Next(); ok; frame, ok = fr.Next() {
			start := time.Now()
			res, err := eng.Process(frame)
			s.metrics.FrameProcessed(time.Since(start), err)
			if err != nil {
				log.Error("engine error", zap.Int64("frame", frameCount), zap.Error(err))
				return status.Error(codes.Internal, "audio processing failed")
			}

			if opts.EmitFrames {
				if err := send(EventFrame, res, frameCount); err != nil {
					return err
				}
			}
			if typ, ok := sg.process(res); ok {
				if err := send(typ, res, frameCount); err != nil {
					return err
				}
				if typ != EventSpeechOngoing {
					log.Debug("speech boundary", zap.String("type", string(typ)),
						zap.Int64("frame", frameCount), zap.Float64("confidence", res.Probability))
				}
			}
			frameCount++
		}
	}
}

// parseStreamMetadata reads the stream settings and rejects audio formats the
// engine cannot take. Absent format keys mean the default format.
func parseStreamMetadata(ctx context.Context) (streamInfo, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	first := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return v[0]
		}
		return ""
	}

	if enc := first(MDEncoding); enc != "" && enc != "pcm_s16le" {
		return streamInfo{}, status.Errorf(codes.InvalidArgument,
			"unsupported encoding %q, only pcm_s16le is supported", enc)
	}
	checks := []struct {
		key  string
		want int
		what string
	}{
		{MDSampleRate, engine.SampleRate, "sample_rate"},
		{MDChannels, 1, "channels"},
		{MDBitDepth, 16, "bit_depth"},
	}
	for _, c := range checks {
		raw := first(c.key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return streamInfo{}, status.Errorf(codes.InvalidArgument, "invalid %s %q", c.what, raw)
		}
		if v != c.want {
			return streamInfo{}, status.Errorf(codes.InvalidArgument,
				"unsupported %s %d, engine requires %d", c.what, v, c.want)
		}
	}

	info := streamInfo{
		sessionID: first(MDSessionID),
		streamID:  first(MDStreamID),
		rawConfig: first(MDConfig),
	}
	if info.streamID == "" {
		info.streamID = uuid.NewString()
	}
	return info, nil
}
