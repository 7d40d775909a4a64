/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import "sync"

// ---- Call State & Event Enums ----

// CallState represents the state of a reported call in the state machine.
// Valid transitions: Reported -> Answered -> Ended, or Reported -> Declined.
// Terminal states remove the CallRecord from the bridge.
type CallState string

const (
	CallStateReported CallState = "reported"
	CallStateAnswered CallState = "answered"
	CallStateDeclined CallState = "declined"
	CallStateEnded    CallState = "ended"
)

// CallKind distinguishes voice from video calls.
type CallKind string

const (
	CallKindVoice CallKind = "voice"
	CallKindVideo CallKind = "video"
)

// EndReason is the reason given to the platform call provider when a call
// record is ended.
type EndReason string

const (
	EndReasonRemoteEnded       EndReason = "remote_ended"
	EndReasonAnsweredElsewhere EndReason = "answered_elsewhere"
	EndReasonDeclined          EndReason = "declined"
	EndReasonFailed            EndReason = "failed"
)

// DismissReason records why a call-UI record is about to be intentionally
// dismissed while its underlying call stays live. The platform fires a
// spurious audio deactivation for that dismissal; the deactivation handler
// consumes the reason exactly once and keeps the audio-ready flag set.
type DismissReason string

const (
	DismissNone         DismissReason = ""
	DismissVideoHandoff DismissReason = "video_handoff"
	DismissVoiceHandoff DismissReason = "voice_handoff"
)

// CallEventKey identifies the type of call event
type CallEventKey string

const (
	// CallEventAnswered fires after the platform answer action has been
	// fulfilled. Data is *AnswerEvent.
	CallEventAnswered CallEventKey = "answered"
	// CallEventDeclined fires when the user declines or ends a reported call
	// from the platform UI. Data is the roomId string.
	CallEventDeclined CallEventKey = "declined"
	// CallEventEnded is a broadcast fallback fired whenever a call record is
	// torn down. Data is the roomId string.
	CallEventEnded CallEventKey = "ended"
	// CallEventCancelled fires when the remote caller cancelled before the
	// local user answered. Data is the roomId string.
	CallEventCancelled CallEventKey = "cancelled"
	// CallEventAudioReady fires when the platform grants the audio channel.
	CallEventAudioReady CallEventKey = "audio_ready"
	// CallEventAudioDeactivated fires when the platform revokes the audio
	// channel outside of an intentional dismiss.
	CallEventAudioDeactivated CallEventKey = "audio_deactivated"
	// CallEventPendingCall fires when a handoff payload is stored for a
	// presentation layer that may not exist yet. Data is *SessionPayload.
	CallEventPendingCall CallEventKey = "pending_call"
)

// AnswerEvent is the data payload of CallEventAnswered.
type AnswerEvent struct {
	RoomID        string
	CallerID      string
	CallerPhone   string
	ReceiverID    string
	ReceiverPhone string
	CallerName    string
	CallerPhoto   string
	IsVideo       bool
}

// ---- Event Emitter ----

// EventHandler is a callback function for events
type EventHandler func(data interface{})

// EventEmitter provides a simple event pub/sub system. Multiple observers
// may subscribe to the same event without overwriting each other, so the
// push path, the background-tap path, and the foreground-tap path can all
// listen for answers concurrently.
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// NewEventEmitter creates a new EventEmitter
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[string][]EventHandler),
	}
}

// On registers an event handler for a specific event type
func (e *EventEmitter) On(event string, handler EventHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = append(e.handlers[event], handler)
}

// Off removes all handlers for a specific event type
func (e *EventEmitter) Off(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

// Emit fires an event, calling all registered handlers
func (e *EventEmitter) Emit(event string, data interface{}) {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers[event]))
	copy(handlers, e.handlers[event])
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(data)
	}
}
