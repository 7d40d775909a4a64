/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package media implements the live call sessions: a WebRTC voice session
// built on Pion, and a signaling-relay session for video calls whose media
// is rendered by an embedded web surface. Both satisfy the calling
// package's MediaSession contract.
package media

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// SignalingTransport is a transport-agnostic interface for exchanging
// signaling messages (SDP offers/answers, ICE candidates, call control)
// with the peer. Implement this over the realtime store, WebSocket, etc.
type SignalingTransport interface {
	// ReadMessage blocks until a signaling message arrives from the peer.
	// Returns the raw JSON bytes or an error (e.g. connection closed).
	ReadMessage() ([]byte, error)

	// WriteMessage sends a signaling message to the peer.
	WriteMessage(data []byte) error
}

// SignalingMessage is the JSON structure exchanged between sessions.
type SignalingMessage struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Muted     bool            `json:"muted,omitempty"`
}

// Signaling message types.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "ice-candidate"
	SignalJoin      = "join"
	SignalLeave     = "leave"
	SignalMute      = "mute"
	SignalBye       = "bye"
)

// SessionParams identifies the call a session belongs to.
type SessionParams struct {
	RoomID   string
	PeerID   string
	IsSender bool
}

// Config holds configuration for media sessions.
type Config struct {
	// ICEServers is the list of ICE servers (STUN/TURN) to use.
	ICEServers []webrtc.ICEServer
}

// DefaultConfig returns a Config with sensible defaults. STUN is required
// because both peers are typically behind NAT and need public srflx
// candidates to reach each other.
func DefaultConfig() *Config {
	return &Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}
