/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// VoiceSession is a peer-to-peer WebRTC voice call. The caller (IsSender)
// creates the offer; the callee answers. Outbound audio is held until
// AttachAudio reports that the platform granted the audio channel.
type VoiceSession struct {
	mu sync.RWMutex

	params    SessionParams
	transport SignalingTransport
	pc        *webrtc.PeerConnection

	localTrack    *webrtc.TrackLocalStaticRTP
	remoteTrack   *webrtc.TrackRemote
	muted         bool
	audioAttached bool
	started       bool
	ended         bool

	onRemoteTrack func(track *webrtc.TrackRemote)
	onEnded       func()

	stop chan struct{}
}

// NewVoiceSession creates a voice session for a call. The underlying
// PeerConnection is configured with Opus only; both ends are Harbor clients
// so there is nothing to negotiate down to.
func NewVoiceSession(params SessionParams, config *Config, transport SignalingTransport) (*VoiceSession, error) {
	if transport == nil {
		return nil, fmt.Errorf("nil signaling transport")
	}
	if config == nil {
		config = DefaultConfig()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register opus: %w", err)
	}

	// Default interceptors (RTCP reports, NACK, TWCC) are required when
	// using a custom MediaEngine, otherwise incoming SRTP is not processed
	// and OnTrack may not fire.
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: config.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		"harbor-voice",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	transceiver, err := pc.AddTransceiverFromTrack(track,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv},
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to add audio transceiver: %w", err)
	}

	// Read RTCP from the sender to keep the connection alive
	go func() {
		sender := transceiver.Sender()
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, rtcpErr := sender.Read(rtcpBuf); rtcpErr != nil {
				return
			}
		}
	}()

	s := &VoiceSession{
		params:     params,
		transport:  transport,
		pc:         pc,
		localTrack: track,
		stop:       make(chan struct{}),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		candidateJSON, _ := json.Marshal(c.ToJSON())
		if err := s.writeSignal(SignalingMessage{
			Type:      SignalCandidate,
			RoomID:    params.RoomID,
			Candidate: candidateJSON,
		}); err != nil {
			log.Printf("VoiceSession: failed to send ICE candidate: %v", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("VoiceSession: connection state %s (room=%s)", state.String(), params.RoomID)
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			s.teardown(false)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Printf("VoiceSession: remote track codec=%s ssrc=%d", track.Codec().MimeType, track.SSRC())
		s.mu.Lock()
		s.remoteTrack = track
		handler := s.onRemoteTrack
		s.mu.Unlock()
		if handler != nil {
			handler(track)
		}
	})

	return s, nil
}

// Start begins signaling. The caller side creates and sends the offer; the
// callee side waits for it. Returns once the signaling loop is running;
// connection establishment continues in the background.
func (s *VoiceSession) Start() error {
	s.mu.Lock()
	if s.started || s.ended {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.started = true
	isSender := s.params.IsSender
	s.mu.Unlock()

	go s.signalLoop()

	if isSender {
		if err := s.sendOffer(); err != nil {
			return err
		}
	}
	return nil
}

// SetMuted mutes or unmutes the local audio and tells the peer.
func (s *VoiceSession) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()

	if err := s.writeSignal(SignalingMessage{
		Type:   SignalMute,
		RoomID: s.params.RoomID,
		Muted:  muted,
	}); err != nil {
		log.Printf("VoiceSession: failed to send mute signal: %v", err)
	}
}

// IsMuted returns whether the local audio is muted.
func (s *VoiceSession) IsMuted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.muted
}

// AttachAudio binds the session to the platform-activated audio channel.
// Until this is called, outbound samples are dropped by CanTransmit.
func (s *VoiceSession) AttachAudio() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return fmt.Errorf("session ended")
	}
	s.audioAttached = true
	return nil
}

// CanTransmit reports whether the session should be fed microphone samples:
// audio attached and not muted.
func (s *VoiceSession) CanTransmit() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audioAttached && !s.muted && !s.ended
}

// End tears the session down and tells the peer. Safe to call more than once.
func (s *VoiceSession) End() error {
	return s.teardown(true)
}

// LocalTrack returns the outbound audio track the host feeds samples into.
func (s *VoiceSession) LocalTrack() *webrtc.TrackLocalStaticRTP {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localTrack
}

// RemoteTrack returns the inbound audio track, once negotiated.
func (s *VoiceSession) RemoteTrack() *webrtc.TrackRemote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remoteTrack
}

// OnRemoteTrack sets the callback for when the remote audio track arrives.
func (s *VoiceSession) OnRemoteTrack(handler func(track *webrtc.TrackRemote)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemoteTrack = handler
}

// OnEnded sets the callback invoked once when the session ends.
func (s *VoiceSession) OnEnded(handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = handler
}

func (s *VoiceSession) sendOffer() error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	<-gatherComplete

	localDesc := s.pc.LocalDescription()
	if localDesc == nil {
		return fmt.Errorf("local description is nil after gathering")
	}
	return s.writeSignal(SignalingMessage{
		Type:   SignalOffer,
		RoomID: s.params.RoomID,
		SDP:    localDesc.SDP,
	})
}

func (s *VoiceSession) signalLoop() {
	for {
		msgBytes, err := s.transport.ReadMessage()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
			}
			log.Printf("VoiceSession: signaling read ended: %v", err)
			s.teardown(false)
			return
		}

		var msg SignalingMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			log.Printf("VoiceSession: invalid signaling message: %v", err)
			continue
		}

		switch msg.Type {
		case SignalOffer:
			s.handleOffer(msg.SDP)
		case SignalAnswer:
			s.handleAnswer(msg.SDP)
		case SignalCandidate:
			var candidate webrtc.ICECandidateInit
			if err := json.Unmarshal(msg.Candidate, &candidate); err != nil {
				log.Printf("VoiceSession: invalid ICE candidate: %v", err)
				continue
			}
			if err := s.pc.AddICECandidate(candidate); err != nil {
				log.Printf("VoiceSession: add ICE candidate failed: %v", err)
			}
		case SignalBye:
			log.Printf("VoiceSession: peer hung up (room=%s)", s.params.RoomID)
			s.teardown(false)
			return
		}
	}
}

func (s *VoiceSession) handleOffer(sdp string) {
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		log.Printf("VoiceSession: set remote offer failed: %v", err)
		return
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		log.Printf("VoiceSession: create answer failed: %v", err)
		return
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		log.Printf("VoiceSession: set local answer failed: %v", err)
		return
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	<-gatherComplete

	localDesc := s.pc.LocalDescription()
	if localDesc == nil {
		log.Printf("VoiceSession: local description nil after gathering")
		return
	}
	if err := s.writeSignal(SignalingMessage{
		Type:   SignalAnswer,
		RoomID: s.params.RoomID,
		SDP:    localDesc.SDP,
	}); err != nil {
		log.Printf("VoiceSession: failed to send answer: %v", err)
	}
}

func (s *VoiceSession) handleAnswer(sdp string) {
	// Guard against duplicate answers; the realtime store may redeliver a
	// signal after a reconnect.
	if s.pc.SignalingState() == webrtc.SignalingStateStable {
		log.Printf("VoiceSession: ignoring duplicate SDP answer")
		return
	}
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		log.Printf("VoiceSession: set remote answer failed: %v", err)
	}
}

func (s *VoiceSession) writeSignal(msg SignalingMessage) error {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.transport.WriteMessage(msgBytes)
}

func (s *VoiceSession) teardown(sendBye bool) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	s.audioAttached = false
	onEnded := s.onEnded
	s.mu.Unlock()

	close(s.stop)

	if sendBye {
		if err := s.writeSignal(SignalingMessage{Type: SignalBye, RoomID: s.params.RoomID}); err != nil {
			log.Printf("VoiceSession: failed to send bye: %v", err)
		}
	}

	err := s.pc.Close()
	if onEnded != nil {
		onEnded()
	}
	if err != nil {
		return fmt.Errorf("failed to close peer connection: %w", err)
	}
	return nil
}
