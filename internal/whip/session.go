package whip

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/smelter-run/smelter/internal/queue"
	"github.com/smelter-run/smelter/internal/registry"
	"github.com/smelter-run/smelter/pkg/event"
	"github.com/smelter-run/smelter/pkg/ids"
	"github.com/smelter-run/smelter/pkg/media"
)

const gatherTimeout = 1500 * time.Millisecond

// Endpoint is one configured WHIP ingest point: a bearer token and an
// ordered video codec preference list, per spec 4.6/6.1. At most one
// live Session is associated with it at a time.
type Endpoint struct {
	id          string
	bearerToken string
	videoPrefs  []CodecPreference

	mu      sync.Mutex
	session *Session
}

// Session is one negotiated WHIP connection.
type Session struct {
	id       string
	endpoint *Endpoint
	inputId  ids.InputId
	pc       *webrtc.PeerConnection

	mu     sync.Mutex
	closed bool
}

func (e *Endpoint) closeSession(s *Server) {
	e.mu.Lock()
	sess := e.session
	e.session = nil
	e.mu.Unlock()
	if sess != nil {
		sess.close(s)
	}
}

func (sess *Session) close(s *Server) {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	sess.closed = true
	sess.mu.Unlock()

	s.registry.UnregisterInput(sess.inputId)
	_ = sess.pc.Close()
}

// Handler returns the http.Handler serving WHIP/WHEP endpoints,
// following the teacher's pkg/api/server.go plain-mux style rather
// than pulling in a router dependency the pack never reaches for.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /whip/{endpoint_id}", s.handleWhipPost)
	mux.HandleFunc("PATCH /whip/session/{session_id}", s.handleTrickle)
	mux.HandleFunc("DELETE /whip/session/{session_id}", s.handleTerminate)
	mux.HandleFunc("POST /whep/{endpoint_id}", s.handleWhepPost)
	mux.HandleFunc("PATCH /whep/session/{session_id}", s.handleWhepTrickle)
	mux.HandleFunc("DELETE /whep/session/{session_id}", s.handleWhepTerminate)
	return mux
}

// handleWhipPost implements spec 4.6's five-step WHIP exchange: parse
// and authenticate, reject a second connection attempt on an endpoint
// that's already Connected (closing any half-open previous attempt in
// the background instead), negotiate codecs against the endpoint's
// preferences and the graphics context's actual capability, build the
// recvonly PeerConnection and answer, and register the resulting
// track chains as a pipeline input under a synthesized InputId before
// returning the Location header the client will PATCH/DELETE against.
func (s *Server) handleWhipPost(w http.ResponseWriter, r *http.Request) {
	endpointId := r.PathValue("endpoint_id")
	ep, ok := s.endpoint(endpointId)
	if !ok {
		http.Error(w, "unknown endpoint", http.StatusNotFound)
		return
	}

	if !bearerOK(r, ep.bearerToken) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ep.mu.Lock()
	if ep.session != nil {
		ep.session.mu.Lock()
		alreadyConnected := !ep.session.closed && ep.session.pc.ConnectionState() == webrtc.PeerConnectionStateConnected
		ep.session.mu.Unlock()
		if alreadyConnected {
			ep.mu.Unlock()
			http.Error(w, "endpoint already connected", http.StatusConflict)
			return
		}
		stale := ep.session
		ep.session = nil
		ep.mu.Unlock()
		go stale.close(s)
	} else {
		ep.mu.Unlock()
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read offer: "+err.Error(), http.StatusBadRequest)
		return
	}

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal(body); err != nil {
		http.Error(w, "parse offer sdp: "+err.Error(), http.StatusBadRequest)
		return
	}
	logger := s.logger.With("endpoint_id", endpointId)
	logger.Debug("whip offer", "media_descriptions", len(parsed.MediaDescriptions))

	decoderKinds := ExpandPreferences(ep.videoPrefs, s.ctx.Graphics)
	if len(ep.videoPrefs) > 0 && len(decoderKinds) == 0 {
		http.Error(w, "no negotiable video codec for this endpoint's capabilities", http.StatusUnprocessableEntity)
		return
	}

	pc, err := s.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers(s.opts.StunServers)})
	if err != nil {
		http.Error(w, "create peer connection: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		_ = pc.Close()
		http.Error(w, "add video transceiver: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		_ = pc.Close()
		http.Error(w, "add audio transceiver: "+err.Error(), http.StatusInternalServerError)
		return
	}

	sessionId := uuid.NewString()
	inputId := ids.InputId(fmt.Sprintf("whip:%s:%s", endpointId, sessionId))
	sess := &Session{id: sessionId, endpoint: ep, inputId: inputId, pc: pc}

	// The channels are created up front and registered with the queue
	// before any track has actually arrived: pion only fires OnTrack
	// once RTP starts flowing, which can be well after RegisterInput
	// must have already handed the queue somewhere to send frames.
	videoCh := make(chan event.PipelineEvent[media.Frame], trackChannelBuffer)
	audioCh := make(chan event.PipelineEvent[media.InputAudioSamples], trackChannelBuffer)

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		switch track.Kind() {
		case webrtc.RTPCodecTypeVideo:
			kind := decoderKindForMime(track.Codec().MimeType, decoderKinds)
			go s.runVideoTrack(track, kind, videoCh, logger)
		case webrtc.RTPCodecTypeAudio:
			go s.runAudioTrack(track, media.AudioCodecOpus, audioCh, logger)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("whip connection state", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			ep.closeSession(s)
		}
	})

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
		logger.Debug("ice gathering timed out, answering with candidates gathered so far")
	}

	if _, err := s.registry.RegisterInput(inputId, registry.RegisterInputOptions{
		Protocol:  registry.ProtocolWHIP,
		Receivers: queue.QueueDataReceiver{Frames: videoCh, Samples: audioCh},
	}); err != nil {
		_ = pc.Close()
		http.Error(w, "register input: "+err.Error(), http.StatusInternalServerError)
		return
	}

	ep.mu.Lock()
	ep.session = sess
	ep.mu.Unlock()

	local := pc.LocalDescription()
	w.Header().Set("Content-Type", "application/sdp")
	w.Header().Set("Location", fmt.Sprintf("/whip/session/%s", sessionId))
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(local.SDP))
}

func bearerOK(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	return strings.TrimPrefix(auth, prefix) == token
}

func iceServers(stun []string) []webrtc.ICEServer {
	if len(stun) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: stun}}
}

func decoderKindForMime(mime string, prefs []DecoderKind) DecoderKind {
	for _, k := range prefs {
		if strings.EqualFold(k.mimeType(), mime) {
			return k
		}
	}
	switch {
	case strings.EqualFold(mime, webrtc.MimeTypeVP8):
		return DecoderFfmpegVP8
	case strings.EqualFold(mime, webrtc.MimeTypeVP9):
		return DecoderFfmpegVP9
	default:
		return DecoderFfmpegH264
	}
}

// handleTrickle implements spec 4.6's trickle ICE PATCH: the body is
// an application/trickle-ice-sdpfrag with interleaved a=mid/a=candidate
// lines, per RFC 8840. Parsing is in trickle.go.
func (s *Server) handleTrickle(w http.ResponseWriter, r *http.Request) {
	sessionId := r.PathValue("session_id")
	sess, ok := s.findSession(sessionId)
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

// handleTerminate implements spec 4.6's DELETE /session/{id}: tearing
// down the session is best-effort and idempotent, matching
// UnregisterInput's own semantics.
func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	sessionId := r.PathValue("session_id")
	if sess, ok := s.findSession(sessionId); ok {
		sess.endpoint.closeSession(s)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) findSession(sessionId string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ep := range s.endpoints {
		ep.mu.Lock()
		sess := ep.session
		ep.mu.Unlock()
		if sess != nil && sess.id == sessionId {
			return sess, true
		}
	}
	return nil, false
}
