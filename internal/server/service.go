package server

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The service speaks protobuf well-known types only, so no generated code is
// needed: requests are BytesValue PCM chunks, responses are Struct events, and
// stream settings travel as request metadata.
const (
	ServiceName        = "vad.v1.VoiceActivityDetectionService"
	detectSpeechMethod = "/" + ServiceName + "/DetectSpeech"
)

// Metadata keys read at stream start.
const (
	MDSessionID  = "x-session-id"
	MDStreamID   = "x-stream-id"
	MDSampleRate = "x-audio-sample-rate"
	MDEncoding   = "x-audio-encoding"
	MDChannels   = "x-audio-channels"
	MDBitDepth   = "x-audio-bit-depth"
	MDConfig     = "x-vad-config"
)

// VoiceActivityDetectionServer is the server API for the VAD service.
type VoiceActivityDetectionServer interface {
	DetectSpeech(DetectSpeechServer) error
}

// DetectSpeechServer is the server side of a DetectSpeech stream.
type DetectSpeechServer interface {
	Send(*structpb.Struct) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ServerStream
}

type detectSpeechServer struct {
	grpc.ServerStream
}

func (x *detectSpeechServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func (x *detectSpeechServer) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func detectSpeechHandler(srv any, stream grpc.ServerStream) error {
	return srv.(VoiceActivityDetectionServer).DetectSpeech(&detectSpeechServer{stream})
}

// ServiceDesc describes the VAD service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VoiceActivityDetectionServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "DetectSpeech",
			Handler:       detectSpeechHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "vad/v1/vad.proto",
}

// Register registers srv with s.
func Register(s grpc.ServiceRegistrar, srv VoiceActivityDetectionServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// DetectSpeechClient is the client side of a DetectSpeech stream.
type DetectSpeechClient interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type detectSpeechClient struct {
	grpc.ClientStream
}

func (x *detectSpeechClient) Send(m *wrapperspb.BytesValue) error {
	return x.ClientStream.SendMsg(m)
}

func (x *detectSpeechClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Client calls the VAD service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a client using cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// DetectSpeech opens a bidirectional stream. Stream settings must already be
// attached to ctx, see StreamSettings.Outgoing.
func (c *Client) DetectSpeech(ctx context.Context, opts ...grpc.CallOption) (DetectSpeechClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], detectSpeechMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &detectSpeechClient{stream}, nil
}

// StreamSettings describe one stream from the client's point of view. Zero
// values are left out of the metadata.
type StreamSettings struct {
	SessionID  string
	StreamID   string
	SampleRate int
	Encoding   string
	Channels   int
	BitDepth   int
	// Config is a JSON or YAML document with per-stream engine overrides.
	Config string
}

// Outgoing attaches the settings to ctx as request metadata.
func (s StreamSettings) Outgoing(ctx context.Context) context.Context {
	var kv []string
	add := func(key, value string) {
		if value != "" {
			kv = append(kv, key, value)
		}
	}
	addInt := func(key string, value int) {
		if value != 0 {
			kv = append(kv, key, strconv.Itoa(value))
		}
	}
	add(MDSessionID, s.SessionID)
	add(MDStreamID, s.StreamID)
	addInt(MDSampleRate, s.SampleRate)
	add(MDEncoding, s.Encoding)
	addInt(MDChannels, s.Channels)
	addInt(MDBitDepth, s.BitDepth)
	add(MDConfig, s.Config)
	if len(kv) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}
