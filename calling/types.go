/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ---- Push Payload ----

// Wakeup push payload keys. The sender side has shipped two spellings for
// the caller name and the caller id over time, so both are accepted.
const (
	payloadKeyName         = "name"
	payloadKeyUserName     = "user_nameKey"
	payloadKeyPhoto        = "photo"
	payloadKeyRoomID       = "roomId"
	payloadKeyReceiverID   = "receiverId"
	payloadKeyPhone        = "phone"
	payloadKeyBody         = "bodyKey"
	payloadKeyCallerID     = "uid"
	payloadKeyCallerIDAlt  = "incoming"
	payloadKeySenderPhone  = "senderPhone"
)

// PushPayload is the parsed form of a wakeup push for an incoming call.
type PushPayload struct {
	RoomID        string
	CallerName    string
	CallerPhoto   string
	CallerID      string
	CallerPhone   string
	ReceiverID    string
	ReceiverPhone string
	BodyKey       string
	IsVideo       bool
}

// ParsePushPayload extracts call fields from a raw wakeup push dictionary.
// Values may arrive as strings or numbers depending on the sender, so
// everything is coerced to string. A payload without a roomId is not a call
// push and yields an error.
func ParsePushPayload(userInfo map[string]interface{}) (*PushPayload, error) {
	p := &PushPayload{
		RoomID:        stringField(userInfo, payloadKeyRoomID),
		CallerName:    stringField(userInfo, payloadKeyName, payloadKeyUserName),
		CallerPhoto:   stringField(userInfo, payloadKeyPhoto),
		CallerID:      stringField(userInfo, payloadKeyCallerID, payloadKeyCallerIDAlt),
		CallerPhone:   stringField(userInfo, payloadKeySenderPhone),
		ReceiverID:    stringField(userInfo, payloadKeyReceiverID),
		ReceiverPhone: stringField(userInfo, payloadKeyPhone),
		BodyKey:       stringField(userInfo, payloadKeyBody),
	}
	if p.RoomID == "" {
		return nil, fmt.Errorf("push payload has no %q field", payloadKeyRoomID)
	}
	p.IsVideo = strings.Contains(strings.ToLower(p.BodyKey), "video")
	return p, nil
}

// Kind returns the call kind the payload describes.
func (p *PushPayload) Kind() CallKind {
	if p.IsVideo {
		return CallKindVideo
	}
	return CallKindVoice
}

// DisplayName formats the caller line shown by the platform call UI.
func (p *PushPayload) DisplayName() string {
	kind := "Voice Call"
	if p.IsVideo {
		kind = "Video Call"
	}
	name := p.CallerName
	if name == "" {
		name = "Unknown"
	}
	return name + " • " + kind
}

func stringField(userInfo map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, ok := userInfo[key]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if s != "" {
				return s
			}
		case fmt.Stringer:
			return s.String()
		default:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

// ---- Session Payload ----

// SessionPayload carries the per-call fields handed to a media session or
// to a presentation layer that picks the call up later.
type SessionPayload struct {
	RoomID        string `json:"roomId"`
	PeerID        string `json:"peerId"`
	PeerName      string `json:"peerName,omitempty"`
	PeerPhoto     string `json:"peerPhoto,omitempty"`
	PeerPhone     string `json:"peerPhone,omitempty"`
	ReceiverID    string `json:"receiverId,omitempty"`
	ReceiverPhone string `json:"receiverPhone,omitempty"`
	IsSender      bool   `json:"isSender"`
	IsVideo       bool   `json:"isVideo"`
}

// Kind returns the call kind the payload describes.
func (p *SessionPayload) Kind() CallKind {
	if p.IsVideo {
		return CallKindVideo
	}
	return CallKindVoice
}

// ---- Call Record ----

// CallRecord is the bridge's bookkeeping entry for one reported call. The
// record map keyed by call UUID is the single source of truth for which
// calls the platform UI currently shows.
type CallRecord struct {
	UUID          uuid.UUID
	RoomID        string
	CallerID      string
	CallerPhone   string
	ReceiverID    string
	ReceiverPhone string
	CallerName    string
	CallerPhoto   string
	IsVideo       bool
	Outgoing      bool
	State         CallState
	ReportedAt    time.Time
}

// Kind returns the call kind of the record.
func (r *CallRecord) Kind() CallKind {
	if r.IsVideo {
		return CallKindVideo
	}
	return CallKindVoice
}

// ---- Pending Call Context ----

// contextRegistry tracks, per room, the context needed to post a missed-call
// notification if the caller cancels before the local user answers. Entries
// are cleared on answer, on decline, and after a cancel is handled.
type contextRegistry struct {
	mu       sync.Mutex
	contexts map[string]*SessionPayload
}

func newContextRegistry() *contextRegistry {
	return &contextRegistry{contexts: make(map[string]*SessionPayload)}
}

func (c *contextRegistry) set(roomID string, payload *SessionPayload) {
	if roomID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contexts[roomID] = payload
}

func (c *contextRegistry) take(roomID string) (*SessionPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.contexts[roomID]
	if ok {
		delete(c.contexts, roomID)
	}
	return p, ok
}

func (c *contextRegistry) clear(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.contexts, roomID)
}

// MissedCallNotificationID returns the stable notification identifier for a
// missed call in the given room. Re-posting with the same id replaces the
// previous notification instead of stacking duplicates.
func MissedCallNotificationID(roomID string) string {
	return "missed_call_" + roomID
}

// ---- Config ----

// Config holds configuration for the Calling client
type Config struct {
	// AudioBridgeWait bounds how long an audio activation that outran session
	// creation waits for the session before giving up on the retry.
	AudioBridgeWait time.Duration

	// VideoDismissDelay is how long the platform call UI stays up after a
	// video answer before the record is dismissed in favor of the app's own
	// video surface.
	VideoDismissDelay time.Duration

	// CompletionDeadline is the watchdog bound on the push system-completion
	// callback. If processing has not completed the callback by then, the
	// watchdog fires it so the process is not penalized.
	CompletionDeadline time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		AudioBridgeWait:    1500 * time.Millisecond,
		VideoDismissDelay:  time.Second,
		CompletionDeadline: 25 * time.Second,
	}
}
