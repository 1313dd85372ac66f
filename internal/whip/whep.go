package whip

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/smelter-run/smelter/pkg/media"
)

// WhepEndpoint is one configured WHEP egress endpoint: spec 4.6's
// session lifecycle applied symmetrically to the output direction
// (SPEC_FULL.md §C — original_source/compositor_pipeline/src/pipeline/
// webrtc/whep_output confirms WHIP and WHEP share one session shape).
// Like WHIP's Endpoint, negotiation always has the client send the SDP
// offer and the server answer; only the server's transceiver direction
// (sendonly here, recvonly for WHIP) and the fact that many viewers may
// share one endpoint differ. Every connected viewer session gets its
// own TrackLocalStaticRTP, fed by VideoSink/AudioSink fanning the
// output's encoded RTP stream out to all of them.
type WhepEndpoint struct {
	id          string
	bearerToken string
	videoKind   media.MediaKind
	hasAudio    bool

	mu       sync.Mutex
	sessions map[string]*WhepSession
}

// WhepSession is one negotiated WHEP viewer connection.
type WhepSession struct {
	id         string
	endpoint   *WhepEndpoint
	pc         *webrtc.PeerConnection
	videoTrack *webrtc.TrackLocalStaticRTP
	audioTrack *webrtc.TrackLocalStaticRTP

	mu     sync.Mutex
	closed bool
}

// RegisterWhepEndpoint installs a WHEP egress endpoint, per spec 6.1's
// ProtocolOutputOptions.Whep. videoKind picks the RTP mime type
// offered on the video m-line; hasAudio controls whether a second,
// Opus, m-line is offered. The caller (whoever registers the output)
// wires VideoSink/AudioSink into output.VideoChainOptions.Sink /
// output.AudioChainOptions.Sink before calling registry.RegisterOutput,
// so the existing encode/payload chain (internal/output) feeds every
// connected viewer without that chain knowing WHEP exists.
func (s *Server) RegisterWhepEndpoint(endpointId, bearerToken string, videoKind media.MediaKind, hasAudio bool) *WhepEndpoint {
	ep := &WhepEndpoint{
		id:          endpointId,
		bearerToken: bearerToken,
		videoKind:   videoKind,
		hasAudio:    hasAudio,
		sessions:    make(map[string]*WhepSession),
	}
	s.mu.Lock()
	s.whepEndpoints[endpointId] = ep
	s.mu.Unlock()
	return ep
}

// UnregisterWhepEndpoint removes a WHEP endpoint, closing every live
// viewer session.
func (s *Server) UnregisterWhepEndpoint(endpointId string) {
	s.mu.Lock()
	ep, ok := s.whepEndpoints[endpointId]
	if ok {
		delete(s.whepEndpoints, endpointId)
	}
	s.mu.Unlock()
	if ok {
		ep.closeAll()
	}
}

func (s *Server) whepEndpoint(endpointId string) (*WhepEndpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.whepEndpoints[endpointId]
	return ep, ok
}

func (ep *WhepEndpoint) closeAll() {
	ep.mu.Lock()
	sessions := make([]*WhepSession, 0, len(ep.sessions))
	for _, sess := range ep.sessions {
		sessions = append(sessions, sess)
	}
	ep.sessions = make(map[string]*WhepSession)
	ep.mu.Unlock()
	for _, sess := range sessions {
		sess.close()
	}
}

func (sess *WhepSession) close() {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	sess.closed = true
	sess.mu.Unlock()

	sess.endpoint.mu.Lock()
	delete(sess.endpoint.sessions, sess.id)
	sess.endpoint.mu.Unlock()
	_ = sess.pc.Close()
}

// VideoSink returns the internal/output.PacketSink that fans this
// endpoint's video RTP out to every connected viewer.
func (ep *WhepEndpoint) VideoSink() *whepFanoutSink { return &whepFanoutSink{ep: ep, video: true} }

// AudioSink is VideoSink's audio counterpart.
func (ep *WhepEndpoint) AudioSink() *whepFanoutSink { return &whepFanoutSink{ep: ep, video: false} }

// whepFanoutSink implements internal/output's PacketSink by writing
// every packet onto each connected session's matching
// TrackLocalStaticRTP instead of a single socket — the WHEP analog of
// a multi-viewer wire adapter.
type whepFanoutSink struct {
	ep    *WhepEndpoint
	video bool
}

func (f *whepFanoutSink) WriteRTP(pkt *rtp.Packet) error {
	f.ep.mu.Lock()
	sessions := make([]*WhepSession, 0, len(f.ep.sessions))
	for _, sess := range f.ep.sessions {
		sessions = append(sessions, sess)
	}
	f.ep.mu.Unlock()

	for _, sess := range sessions {
		track := sess.videoTrack
		if !f.video {
			track = sess.audioTrack
		}
		if track == nil {
			continue
		}
		_ = track.WriteRTP(pkt)
	}
	return nil
}

// WriteRTCP is a no-op: a WHEP viewer's RTCP BYE-equivalent is its
// PeerConnection closing, not an RTP-level marker broadcast to a wire
// socket.
func (f *whepFanoutSink) WriteRTCP([]rtcp.Packet) error { return nil }

// handleWhepPost implements spec 4.6's session lifecycle for the
// egress direction, the same offer/answer/trickle shape as WHIP's
// handleWhipPost (session.go): the client always sends the SDP offer,
// the server always answers. Only the server's transceiver direction
// (sendonly, bound to this endpoint's per-viewer tracks) differs from
// WHIP's recvonly ingest.
func (s *Server) handleWhepPost(w http.ResponseWriter, r *http.Request) {
	endpointId := r.PathValue("endpoint_id")
	ep, ok := s.whepEndpoint(endpointId)
	if !ok {
		http.Error(w, "unknown endpoint", http.StatusNotFound)
		return
	}
	if !bearerOK(r, ep.bearerToken) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read offer: "+err.Error(), http.StatusBadRequest)
		return
	}

	pc, err := s.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers(s.opts.StunServers)})
	if err != nil {
		http.Error(w, "create peer connection: "+err.Error(), http.StatusInternalServerError)
		return
	}

	videoTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: videoMimeType(ep.videoKind.Video)},
		"video", endpointId)
	if err != nil {
		_ = pc.Close()
		http.Error(w, "create video track: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if _, err := pc.AddTrack(videoTrack); err != nil {
		_ = pc.Close()
		http.Error(w, "add video track: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var audioTrack *webrtc.TrackLocalStaticRTP
	if ep.hasAudio {
		audioTrack, err = webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", endpointId)
		if err != nil {
			_ = pc.Close()
			http.Error(w, "create audio track: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if _, err := pc.AddTrack(audioTrack); err != nil {
			_ = pc.Close()
			http.Error(w, "add audio track: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: string(body)}); err != nil {
		_ = pc.Close()
		http.Error(w, "set remote description: "+err.Error(), http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		http.Error(w, "create answer: "+err.Error(), http.StatusInternalServerError)
		return
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		http.Error(w, "set local description: "+err.Error(), http.StatusInternalServerError)
		return
	}
	select {
	case <-gatherComplete:
	case <-time.After(gatherTimeout):
		s.logger.Debug("whep ice gathering timed out, answering with candidates gathered so far")
	}

	sessionId := uuid.NewString()
	sess := &WhepSession{id: sessionId, endpoint: ep, pc: pc, videoTrack: videoTrack, audioTrack: audioTrack}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			sess.close()
		}
	})

	ep.mu.Lock()
	ep.sessions[sessionId] = sess
	ep.mu.Unlock()

	local := pc.LocalDescription()
	w.Header().Set("Content-Type", "application/sdp")
	w.Header().Set("Location", fmt.Sprintf("/whep/session/%s", sessionId))
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(local.SDP))
}

// handleWhepTrickle/handleWhepTerminate mirror session.go's WHIP
// counterparts against the WHEP session table.
func (s *Server) handleWhepTrickle(w http.ResponseWriter, r *http.Request) {
	sessionId := r.PathValue("session_id")
	sess, ok := s.findWhepSession(sessionId)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, "read trickle fragment: "+err.Error(), http.StatusBadRequest)
		return
	}
	candidates, err := parseTrickleICE(body)
	if err != nil {
		http.Error(w, "parse trickle fragment: "+err.Error(), http.StatusBadRequest)
		return
	}
	for _, c := range candidates {
		mid := c.mid
		if err := sess.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: c.candidate, SDPMid: &mid}); err != nil {
			s.logger.Warn("add trickled ice candidate failed", "session_id", sessionId, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWhepTerminate(w http.ResponseWriter, r *http.Request) {
	sessionId := r.PathValue("session_id")
	if sess, ok := s.findWhepSession(sessionId); ok {
		sess.close()
	}
	w.WriteHeader(http.StatusNoContent)
}

// videoMimeType maps a pipeline VideoCodec to the RTP mime type the
// WHEP track should advertise, the output-side counterpart of
// DecoderKind.mimeType above.
func videoMimeType(c media.VideoCodec) string {
	switch c {
	case media.VideoCodecVP8:
		return webrtc.MimeTypeVP8
	case media.VideoCodecVP9:
		return webrtc.MimeTypeVP9
	default:
		return webrtc.MimeTypeH264
	}
}

func (s *Server) findWhepSession(sessionId string) (*WhepSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ep := range s.whepEndpoints {
		ep.mu.Lock()
		sess, ok := ep.sessions[sessionId]
		ep.mu.Unlock()
		if ok {
			return sess, true
		}
	}
	return nil, false
}
