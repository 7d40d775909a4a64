/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import "github.com/google/uuid"

// This file defines the platform collaborator contracts. Everything the
// bridge needs from the host OS (call UI, audio route, local notifications)
// arrives through these interfaces so the state machine can be constructed
// and tested without a device.

// CallUpdate describes a call to the platform call provider.
type CallUpdate struct {
	UUID        uuid.UUID
	Handle      string
	DisplayName string
	HasVideo    bool
}

// CallProvider is the platform call-management service: it owns the native
// incoming-call UI and the system's notion of which calls exist.
type CallProvider interface {
	// ReportNewIncomingCall asks the platform to present the native
	// incoming-call UI. A non-nil error means the platform refused the call
	// and no UI is showing.
	ReportNewIncomingCall(update CallUpdate) error

	// ReportOutgoingCall registers a locally started call with the platform.
	ReportOutgoingCall(update CallUpdate) error

	// ReportConnected tells the platform the outgoing call was answered by
	// the remote side.
	ReportConnected(callUUID uuid.UUID)

	// ReportMuted reflects a mute change made in the app back into the
	// platform call UI.
	ReportMuted(callUUID uuid.UUID, muted bool)

	// ReportCallEnded removes the call from the platform with a reason.
	ReportCallEnded(callUUID uuid.UUID, reason EndReason)
}

// ProviderAction is a platform call action (answer, end, mute) awaiting a
// verdict. Exactly one of Fulfill or Fail must be called, and for answers it
// must be Fulfill first, before any heavy work, so the platform starts its
// call timer and audio plumbing without waiting on the app.
type ProviderAction struct {
	Fulfill func()
	Fail    func()
}

// AudioSessionConfigurator prepares the platform audio route for a call.
type AudioSessionConfigurator interface {
	// ConfigureForVoice sets the play-and-record voice-chat configuration.
	// Called before reporting a voice call so the platform activates an
	// already-correct session; nothing may reconfigure it afterwards.
	ConfigureForVoice() error

	// ConfigureForWebEmbed sets the configuration used when media is
	// rendered by an embedded web view rather than the native engine.
	ConfigureForWebEmbed() error
}

// MediaSession is one live voice or video call in the media engine.
type MediaSession interface {
	// Start begins signaling and media flow. It returns once the session is
	// accepted for startup; connection establishment continues in the
	// background.
	Start() error

	// SetMuted mutes or unmutes the local audio track.
	SetMuted(muted bool)

	// AttachAudio binds the session to the platform-activated audio channel.
	// Valid only after the platform has granted audio.
	AttachAudio() error

	// End tears the session down. Safe to call more than once.
	End() error
}

// SessionFactory builds a media session for an incoming call payload.
type SessionFactory func(payload *SessionPayload) (MediaSession, error)

// Subscription is a live realtime-store subscription.
type Subscription interface {
	// Cancel stops delivery and releases the subscription. Idempotent.
	Cancel()
}

// RealtimeStore is the keyed realtime channel used for cancellation
// signaling between caller and callee.
type RealtimeStore interface {
	// Subscribe watches a path for child-added events; onChildAdded receives
	// the key of each new child, including children that already existed at
	// subscribe time.
	Subscribe(path string, onChildAdded func(key string)) (Subscription, error)

	// Delete removes a path and everything under it. Best effort.
	Delete(path string) error
}

// Notifier posts local notifications.
type Notifier interface {
	// Notify schedules a local notification, replacing any previous one with
	// the same id.
	Notify(id, title, body string) error
}

// ContactRecord is a cached counterpart from recent calls.
type ContactRecord struct {
	FriendID   string
	FullName   string
	Photo      string
	PushToken  string
	VoIPToken  string
	DeviceType string
	MobileNo   string
	IsVideo    bool
}

// ContactStore caches recent call counterparts and holds the per-kind call
// suppression preferences.
type ContactStore interface {
	// Lookup returns the cached contact for a counterpart id.
	Lookup(friendID string) (ContactRecord, bool)

	// LookupByPhoto returns a cached contact whose photo URL matches.
	// Photo URLs are not guaranteed unique, so this is a fallback heuristic
	// for pushes that omit the caller id.
	LookupByPhoto(photoURL string) (ContactRecord, bool)

	// SaveFromCall upserts a contact seen in a call, merging non-empty
	// fields over the existing entry.
	SaveFromCall(record ContactRecord) error

	// VoiceCallsEnabled reports the voice-call preference, default true.
	VoiceCallsEnabled() bool

	// VideoCallsEnabled reports the video-call preference, default true.
	VideoCallsEnabled() bool
}
