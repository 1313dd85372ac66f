// Package whip implements the WHIP/WHEP session lifecycle of spec
// 4.6: SDP offer/answer exchange, trickle ICE, codec negotiation
// against the endpoint's configured preferences and the graphics
// context's actual decode capability, a bounded jitter buffer, and
// per-track fan-out into the pipeline's decode worker chains (spec
// 4.2's construction contract applied to the ingest direction).
// Grounded on the teacher's pkg/bridge.Bridge (PeerConnection/
// transceiver/track setup, RTCP reader goroutines reacting to PLI/
// FIR) generalized from "one outbound bridge to Cloudflare" to
// "N inbound WHIP sessions feeding the queue", plus
// pkg/api/server.go's plain net/http mux + JSON-free body-as-SDP
// handler shape.
package whip

import (
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/interceptor/pkg/report"
	"github.com/pion/webrtc/v4"

	"github.com/smelter-run/smelter/internal/logging"
	"github.com/smelter-run/smelter/internal/pipelinectx"
	"github.com/smelter-run/smelter/internal/registry"
	"github.com/smelter-run/smelter/pkg/media"
)

// CodecPreference is the closed, ordered set of video decoder
// preferences spec 4.6 names. VulkanH264 and FfmpegH264 both
// negotiate the H264 RTP codec; they differ in which decoder
// implementation the core hands the resulting chunks to.
type CodecPreference int

const (
	PrefFfmpegH264 CodecPreference = iota
	PrefVulkanH264
	PrefFfmpegVP8
	PrefFfmpegVP9
	PrefAny
)

// DecoderKind names the concrete decoder implementation a negotiated
// codec should be handed to, distinguishing the two H264 backends
// spec 4.6 offers.
type DecoderKind int

const (
	DecoderFfmpegH264 DecoderKind = iota
	DecoderVulkanH264
	DecoderFfmpegVP8
	DecoderFfmpegVP9
)

func (k DecoderKind) videoCodec() media.VideoCodec {
	switch k {
	case DecoderFfmpegVP8:
		return media.VideoCodecVP8
	case DecoderFfmpegVP9:
		return media.VideoCodecVP9
	default:
		return media.VideoCodecH264
	}
}

func (k DecoderKind) mimeType() string {
	switch k {
	case DecoderFfmpegVP8:
		return webrtc.MimeTypeVP8
	case DecoderFfmpegVP9:
		return webrtc.MimeTypeVP9
	default:
		return webrtc.MimeTypeH264
	}
}

// ExpandPreferences filters prefs by what gpu can actually decode (a
// Vulkan preference without Vulkan video support is dropped, never
// promoted to an error — callers that only offered VulkanH264 get an
// empty list and must reject registration themselves, per spec 8
// scenario S6), expands Any into the full supported set, and
// de-duplicates, preferring Vulkan H264 over FFmpeg H264 when both
// would otherwise appear, per spec 4.6.
func ExpandPreferences(prefs []CodecPreference, gpu pipelinectx.GraphicsContext) []DecoderKind {
	vulkanOK := gpu != nil && gpu.SupportsVulkanVideoDecode()

	var expanded []CodecPreference
	for _, p := range prefs {
		if p == PrefAny {
			expanded = append(expanded, PrefVulkanH264, PrefFfmpegH264, PrefFfmpegVP8, PrefFfmpegVP9)
			continue
		}
		expanded = append(expanded, p)
	}

	seen := make(map[DecoderKind]bool)
	var out []DecoderKind
	for _, p := range expanded {
		var kind DecoderKind
		switch p {
		case PrefVulkanH264:
			if !vulkanOK {
				continue
			}
			kind = DecoderVulkanH264
		case PrefFfmpegH264:
			kind = DecoderFfmpegH264
		case PrefFfmpegVP8:
			kind = DecoderFfmpegVP8
		case PrefFfmpegVP9:
			kind = DecoderFfmpegVP9
		default:
			continue
		}
		if seen[kind] {
			continue
		}
		seen[kind] = true
		out = append(out, kind)
	}
	return out
}

// VideoDecoder is the typed video decoder abstraction the core
// consumes but never constructs (out of core scope per spec 1 — the
// real implementation wraps FFmpeg or Vulkan video decode).
type VideoDecoder interface {
	Decode(chunk media.EncodedChunk) ([]media.Frame, error)
}

// AudioDecoder is VideoDecoder's audio counterpart.
type AudioDecoder interface {
	Decode(chunk media.EncodedChunk) ([]media.InputAudioSamples, error)
}

// VideoDecoderFactory constructs a VideoDecoder for a negotiated
// DecoderKind. Returning an error here is the only init-time failure
// mode spec 4.2's construction contract exposes to the caller; once
// built, decode failures are non-fatal per chunk.
type VideoDecoderFactory func(DecoderKind) (VideoDecoder, error)

// AudioDecoderFactory constructs an AudioDecoder for a negotiated
// audio codec.
type AudioDecoderFactory func(media.AudioCodec) (AudioDecoder, error)

// Options configures a Server.
type Options struct {
	StunServers         []string
	JitterBuffer        JitterBufferOptions
	VideoDecoderFactory VideoDecoderFactory
	AudioDecoderFactory AudioDecoderFactory
}

// Server owns the set of registered WHIP/WHEP endpoints and the
// shared pion webrtc.API they negotiate against.
type Server struct {
	ctx      *pipelinectx.Context
	registry *registry.Registry
	logger   *logging.Logger
	opts     Options
	api      *webrtc.API

	mu            sync.Mutex
	endpoints     map[string]*Endpoint
	whepEndpoints map[string]*WhepEndpoint
}

// NewServer constructs a Server, building the shared webrtc.API with
// an explicit interceptor registry (NACK generator/responder, RTCP
// sender/receiver reports) — github.com/pion/interceptor is declared
// in the teacher's go.mod but never imported by its own code; this is
// its home.
func NewServer(ctx *pipelinectx.Context, reg *registry.Registry, opts Options) (*Server, error) {
	m := &webrtc.MediaEngine{}
	if err := registerCodecs(m); err != nil {
		return nil, fmt.Errorf("whip server: register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := registerInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("whip server: register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if len(opts.StunServers) > 0 {
		se.SetICEMulticastDNSMode(0)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(se),
	)

	return &Server{
		ctx:           ctx,
		registry:      reg,
		logger:        logging.Default().With("component", "whip"),
		opts:          opts,
		api:           api,
		endpoints:     make(map[string]*Endpoint),
		whepEndpoints: make(map[string]*WhepEndpoint),
	}, nil
}

func registerCodecs(m *webrtc.MediaEngine) error {
	videoCodecs := []webrtc.RTPCodecParameters{
		{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000, SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"}, PayloadType: 96},
		{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, PayloadType: 98},
		{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000}, PayloadType: 99},
	}
	for _, c := range videoCodecs {
		if err := m.RegisterCodec(c, webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}
	}
	audioCodecs := []webrtc.RTPCodecParameters{
		{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, PayloadType: 111},
	}
	for _, c := range audioCodecs {
		if err := m.RegisterCodec(c, webrtc.RTPCodecTypeAudio); err != nil {
			return err
		}
	}
	return nil
}

// registerInterceptors wires an explicit NACK generator/responder
// plus RTCP sender/receiver reports, rather than pulling in
// webrtc.RegisterDefaultInterceptors' full bundle, so the feedback
// path spec 4.6/4.7's keyframe-request handling relies on (PLI
// forwarded through RTCP) is exactly what's registered.
func registerInterceptors(m *webrtc.MediaEngine, i *interceptor.Registry) error {
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return fmt.Errorf("nack generator: %w", err)
	}
	i.Add(generator)

	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return fmt.Errorf("nack responder: %w", err)
	}
	i.Add(responder)

	m.RegisterFeedback(webrtc.RTCPFeedback{Type: "nack"}, webrtc.RTPCodecTypeVideo)
	m.RegisterFeedback(webrtc.RTCPFeedback{Type: "nack", Parameter: "pli"}, webrtc.RTPCodecTypeVideo)

	receiverReport, err := report.NewReceiverInterceptor()
	if err != nil {
		return fmt.Errorf("receiver report: %w", err)
	}
	i.Add(receiverReport)

	senderReport, err := report.NewSenderInterceptor()
	if err != nil {
		return fmt.Errorf("sender report: %w", err)
	}
	i.Add(senderReport)

	return nil
}

// RegisterEndpoint installs a WHIP ingest endpoint, per spec 6.1
// (endpoints are configured by the control surface, not discovered).
func (s *Server) RegisterEndpoint(endpointId, bearerToken string, videoPrefs []CodecPreference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[endpointId] = &Endpoint{
		id:          endpointId,
		bearerToken: bearerToken,
		videoPrefs:  videoPrefs,
	}
}

// UnregisterEndpoint removes an endpoint, closing any live session.
func (s *Server) UnregisterEndpoint(endpointId string) {
	s.mu.Lock()
	ep, ok := s.endpoints[endpointId]
	if ok {
		delete(s.endpoints, endpointId)
	}
	s.mu.Unlock()
	if ok {
		ep.closeSession(s)
	}
}

func (s *Server) endpoint(endpointId string) (*Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[endpointId]
	return ep, ok
}
