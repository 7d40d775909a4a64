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
)

// WebEmbedSession is the video call session. Video media is negotiated and
// rendered entirely by the embedded web surface; this side only relays call
// control (join, leave, mute) so the rest of the stack can treat voice and
// video sessions uniformly.
type WebEmbedSession struct {
	mu sync.RWMutex

	params    SessionParams
	transport SignalingTransport

	muted         bool
	audioAttached bool
	started       bool
	ended         bool

	onPeerLeft func()
	onPeerMute func(muted bool)
	onEnded    func()

	stop chan struct{}
}

// NewWebEmbedSession creates a video session relay.
func NewWebEmbedSession(params SessionParams, transport SignalingTransport) (*WebEmbedSession, error) {
	if transport == nil {
		return nil, fmt.Errorf("nil signaling transport")
	}
	return &WebEmbedSession{
		params:    params,
		transport: transport,
		stop:      make(chan struct{}),
	}, nil
}

// Start announces the join and begins relaying peer control messages.
func (s *WebEmbedSession) Start() error {
	s.mu.Lock()
	if s.started || s.ended {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.writeSignal(SignalingMessage{Type: SignalJoin, RoomID: s.params.RoomID}); err != nil {
		return fmt.Errorf("announcing join: %w", err)
	}

	go s.controlLoop()
	return nil
}

// SetMuted tells the peer about a local mute change. The web surface applies
// the actual track change.
func (s *WebEmbedSession) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()

	if err := s.writeSignal(SignalingMessage{
		Type:   SignalMute,
		RoomID: s.params.RoomID,
		Muted:  muted,
	}); err != nil {
		log.Printf("WebEmbedSession: failed to send mute signal: %v", err)
	}
}

// AttachAudio marks the platform audio channel as granted. The web surface
// owns the actual audio path.
func (s *WebEmbedSession) AttachAudio() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return fmt.Errorf("session ended")
	}
	s.audioAttached = true
	return nil
}

// End announces the leave and stops the relay. Safe to call more than once.
func (s *WebEmbedSession) End() error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	onEnded := s.onEnded
	s.mu.Unlock()

	close(s.stop)
	if err := s.writeSignal(SignalingMessage{Type: SignalLeave, RoomID: s.params.RoomID}); err != nil {
		log.Printf("WebEmbedSession: failed to send leave: %v", err)
	}
	if onEnded != nil {
		onEnded()
	}
	return nil
}

// OnEnded sets the callback invoked once when the session ends locally.
func (s *WebEmbedSession) OnEnded(handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = handler
}

// OnPeerLeft sets the callback for the peer leaving the room.
func (s *WebEmbedSession) OnPeerLeft(handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPeerLeft = handler
}

// OnPeerMute sets the callback for peer mute changes.
func (s *WebEmbedSession) OnPeerMute(handler func(muted bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPeerMute = handler
}

func (s *WebEmbedSession) controlLoop() {
	for {
		msgBytes, err := s.transport.ReadMessage()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
			}
			log.Printf("WebEmbedSession: control read ended: %v", err)
			return
		}

		var msg SignalingMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			log.Printf("WebEmbedSession: invalid control message: %v", err)
			continue
		}

		switch msg.Type {
		case SignalLeave, SignalBye:
			s.mu.RLock()
			handler := s.onPeerLeft
			s.mu.RUnlock()
			if handler != nil {
				handler()
			}
			return
		case SignalMute:
			s.mu.RLock()
			handler := s.onPeerMute
			s.mu.RUnlock()
			if handler != nil {
				handler(msg.Muted)
			}
		}
	}
}

func (s *WebEmbedSession) writeSignal(msg SignalingMessage) error {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.transport.WriteMessage(msgBytes)
}
