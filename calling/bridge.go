/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harborchat/voip-go-sdk/voipsdk"
)

// Bridge mediates between the platform call provider and the rest of the
// call state machine. It owns the CallRecord map, the audio-ready flag, and
// the pending-dismiss reason; every platform callback lands here first.
type Bridge struct {
	mu       sync.Mutex
	core     *voipsdk.Client
	config   *Config
	provider CallProvider
	registry *SessionRegistry
	audio    AudioSessionConfigurator
	emitter  *EventEmitter
	logger   voipsdk.Logger

	records        map[uuid.UUID]*CallRecord
	audioReady     bool
	pendingDismiss DismissReason
}

// NewBridge wires a Bridge to its collaborators. All parameters except core
// are required; config falls back to DefaultConfig.
func NewBridge(core *voipsdk.Client, provider CallProvider, registry *SessionRegistry, audio AudioSessionConfigurator, emitter *EventEmitter, config *Config) *Bridge {
	if config == nil {
		config = DefaultConfig()
	}
	logger := voipsdk.NewDefaultLogger()
	if core != nil {
		logger = core.GetLogger()
	}
	return &Bridge{
		core:     core,
		config:   config,
		provider: provider,
		registry: registry,
		audio:    audio,
		emitter:  emitter,
		logger:   logger,
		records:  make(map[uuid.UUID]*CallRecord),
	}
}

// Emitter returns the event emitter call events are published on.
func (b *Bridge) Emitter() *EventEmitter {
	return b.emitter
}

// ---- Reporting ----

// ReportIncomingCall presents the native incoming-call UI for a wakeup push.
// For voice calls the audio route is configured before reporting, so the
// platform activates an already-correct session and nothing needs to touch
// it afterwards. On provider failure the record is rolled back and the error
// returned, so callers can still complete the push.
func (b *Bridge) ReportIncomingCall(p *PushPayload) (uuid.UUID, error) {
	if p == nil || p.RoomID == "" {
		return uuid.Nil, fmt.Errorf("push payload missing room id")
	}

	if !p.IsVideo && b.audio != nil {
		if err := b.audio.ConfigureForVoice(); err != nil {
			b.logger.Printf("bridge: configuring voice audio: %v", err)
		}
	}

	callUUID := uuid.New()
	rec := &CallRecord{
		UUID:          callUUID,
		RoomID:        p.RoomID,
		CallerID:      p.CallerID,
		CallerPhone:   p.CallerPhone,
		ReceiverID:    p.ReceiverID,
		ReceiverPhone: p.ReceiverPhone,
		CallerName:    p.CallerName,
		CallerPhoto:   p.CallerPhoto,
		IsVideo:       p.IsVideo,
		State:         CallStateReported,
		ReportedAt:    time.Now(),
	}

	b.mu.Lock()
	b.records[callUUID] = rec
	b.mu.Unlock()

	err := b.provider.ReportNewIncomingCall(CallUpdate{
		UUID:        callUUID,
		Handle:      contactHandle(p.CallerPhone, p.CallerID),
		DisplayName: p.DisplayName(),
		HasVideo:    p.IsVideo,
	})
	if err != nil {
		b.mu.Lock()
		delete(b.records, callUUID)
		b.mu.Unlock()
		return uuid.Nil, fmt.Errorf("reporting incoming call: %w", err)
	}

	if p.CallerPhoto != "" {
		go b.prefetchPhoto(p.CallerPhoto)
	}
	return callUUID, nil
}

// StartOutgoingCall registers a locally started call with the platform so
// the system treats the app as in-call (routing, interruption priority).
func (b *Bridge) StartOutgoingCall(payload *SessionPayload) (uuid.UUID, error) {
	if payload == nil || payload.RoomID == "" {
		return uuid.Nil, fmt.Errorf("session payload missing room id")
	}
	if !payload.IsVideo && b.audio != nil {
		if err := b.audio.ConfigureForVoice(); err != nil {
			b.logger.Printf("bridge: configuring voice audio: %v", err)
		}
	}

	callUUID := uuid.New()
	rec := &CallRecord{
		UUID:        callUUID,
		RoomID:      payload.RoomID,
		CallerName:  payload.PeerName,
		CallerPhoto: payload.PeerPhoto,
		IsVideo:     payload.IsVideo,
		Outgoing:    true,
		State:       CallStateReported,
		ReportedAt:  time.Now(),
	}

	b.mu.Lock()
	b.records[callUUID] = rec
	b.mu.Unlock()

	err := b.provider.ReportOutgoingCall(CallUpdate{
		UUID:        callUUID,
		Handle:      contactHandle(payload.PeerPhone, payload.PeerID),
		DisplayName: payload.PeerName,
		HasVideo:    payload.IsVideo,
	})
	if err != nil {
		b.mu.Lock()
		delete(b.records, callUUID)
		b.mu.Unlock()
		return uuid.Nil, fmt.Errorf("reporting outgoing call: %w", err)
	}
	return callUUID, nil
}

// ReportConnected marks an outgoing call as answered by the remote side.
func (b *Bridge) ReportConnected(callUUID uuid.UUID) {
	b.mu.Lock()
	rec, ok := b.records[callUUID]
	if ok {
		rec.State = CallStateAnswered
	}
	b.mu.Unlock()
	if ok {
		b.provider.ReportConnected(callUUID)
	}
}

// ReportMuteState reflects an in-app mute toggle into the platform call UI.
func (b *Bridge) ReportMuteState(callUUID uuid.UUID, muted bool) {
	b.provider.ReportMuted(callUUID, muted)
}

// ---- Platform actions ----

// HandleAnswerAction processes an answer from the platform call UI. The
// action is fulfilled first, before any session work, so the platform starts
// its timer and audio plumbing immediately; the answered event that triggers
// session startup is dispatched after. Unknown UUIDs fail the action.
func (b *Bridge) HandleAnswerAction(callUUID uuid.UUID, action ProviderAction) {
	b.mu.Lock()
	rec, ok := b.records[callUUID]
	if !ok {
		b.mu.Unlock()
		b.logger.Printf("bridge: answer action for unknown call %s", callUUID)
		if action.Fail != nil {
			action.Fail()
		}
		return
	}
	rec.State = CallStateAnswered
	ev := &AnswerEvent{
		RoomID:        rec.RoomID,
		CallerID:      rec.CallerID,
		CallerPhone:   rec.CallerPhone,
		ReceiverID:    rec.ReceiverID,
		ReceiverPhone: rec.ReceiverPhone,
		CallerName:    rec.CallerName,
		CallerPhoto:   rec.CallerPhoto,
		IsVideo:       rec.IsVideo,
	}
	b.mu.Unlock()

	if action.Fulfill != nil {
		action.Fulfill()
	}

	b.emitter.Emit(string(CallEventAnswered), ev)

	if ev.IsVideo {
		// The native call UI stays up briefly so the answer feels acknowledged,
		// then the app's own video surface takes over.
		time.AfterFunc(b.config.VideoDismissDelay, func() {
			b.dismissForHandoff(callUUID, DismissVideoHandoff)
		})
	}
}

// HandleEndAction processes an end or decline from the platform call UI. A
// call ended before it was answered is a decline. Unknown UUIDs fail the
// action.
func (b *Bridge) HandleEndAction(callUUID uuid.UUID, action ProviderAction) {
	b.mu.Lock()
	rec, ok := b.records[callUUID]
	if !ok {
		b.mu.Unlock()
		if action.Fail != nil {
			action.Fail()
		}
		return
	}
	declined := rec.State == CallStateReported && !rec.Outgoing
	roomID := rec.RoomID
	delete(b.records, callUUID)
	remaining := len(b.records)
	b.mu.Unlock()

	if declined {
		b.emitter.Emit(string(CallEventDeclined), roomID)
	}
	b.registry.EndFromPlatform()
	b.emitter.Emit(string(CallEventEnded), roomID)

	if remaining == 0 {
		b.mu.Lock()
		b.audioReady = false
		b.mu.Unlock()
	}

	if action.Fulfill != nil {
		action.Fulfill()
	}
}

// HandleMuteAction processes a mute toggle from the platform call UI.
func (b *Bridge) HandleMuteAction(callUUID uuid.UUID, muted bool, action ProviderAction) {
	b.mu.Lock()
	_, ok := b.records[callUUID]
	b.mu.Unlock()
	if !ok {
		if action.Fail != nil {
			action.Fail()
		}
		return
	}
	b.registry.MuteFromPlatform(muted)
	if action.Fulfill != nil {
		action.Fulfill()
	}
}

// HandleProviderReset drops all bookkeeping after a platform provider reset.
func (b *Bridge) HandleProviderReset() {
	b.mu.Lock()
	b.records = make(map[uuid.UUID]*CallRecord)
	b.audioReady = false
	b.pendingDismiss = DismissNone
	b.mu.Unlock()
	b.registry.EndFromPlatform()
}

// ---- Audio activation ----

// HandleAudioActivated runs when the platform grants the audio channel. For
// voice calls the session was configured before reporting and must not be
// reconfigured here; for video the web-embed configuration is applied now.
// The activated channel is bridged to any live media session; if session
// creation is still in flight, a bounded wait retries the bridge once the
// session lands.
func (b *Bridge) HandleAudioActivated() {
	b.mu.Lock()
	b.audioReady = true
	hasVideo := false
	for _, rec := range b.records {
		if rec.IsVideo {
			hasVideo = true
		}
	}
	b.mu.Unlock()

	if hasVideo && b.audio != nil {
		if err := b.audio.ConfigureForWebEmbed(); err != nil {
			b.logger.Printf("bridge: configuring web-embed audio: %v", err)
		}
	}

	b.emitter.Emit(string(CallEventAudioReady), nil)

	if !b.registry.BridgeAudio() {
		go func() {
			if b.registry.WaitForSession(b.config.AudioBridgeWait) {
				b.registry.BridgeAudio()
			} else {
				b.logger.Printf("bridge: audio activated but no session arrived within %v", b.config.AudioBridgeWait)
			}
		}()
	}
}

// HandleAudioDeactivated runs when the platform revokes the audio channel.
// A deactivation caused by an intentional UI dismissal (video handoff, voice
// surface takeover) consumes the pending reason, keeps the audio-ready flag
// set, and immediately re-bridges the media audio. Any other deactivation
// clears the flag and notifies the media layer.
func (b *Bridge) HandleAudioDeactivated() {
	b.mu.Lock()
	if b.pendingDismiss != DismissNone {
		b.pendingDismiss = DismissNone
		b.mu.Unlock()
		b.registry.BridgeAudio()
		return
	}
	b.audioReady = false
	b.mu.Unlock()
	b.emitter.Emit(string(CallEventAudioDeactivated), nil)
}

// IsAudioReady reports whether the platform audio channel is granted. Media
// sessions hold actual audio transmission until this is true.
func (b *Bridge) IsAudioReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.audioReady
}

// ---- Dismissal & teardown ----

// DismissForVoiceSession removes the platform call UI because the app's own
// voice surface has taken over, while the call itself stays live. The
// deactivation the platform fires for this dismissal is absorbed by the
// pending reason.
func (b *Bridge) DismissForVoiceSession(callUUID uuid.UUID) {
	b.dismissForHandoff(callUUID, DismissVoiceHandoff)
}

func (b *Bridge) dismissForHandoff(callUUID uuid.UUID, reason DismissReason) {
	b.mu.Lock()
	_, ok := b.records[callUUID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.records, callUUID)
	b.pendingDismiss = reason
	b.mu.Unlock()

	b.provider.ReportCallEnded(callUUID, EndReasonAnsweredElsewhere)
}

// EndCall removes a call from the platform with the given reason and emits
// the ended broadcast. Used for remote cancellation and app-side hangup.
func (b *Bridge) EndCall(callUUID uuid.UUID, reason EndReason) {
	b.mu.Lock()
	rec, ok := b.records[callUUID]
	if !ok {
		b.mu.Unlock()
		return
	}
	roomID := rec.RoomID
	delete(b.records, callUUID)
	remaining := len(b.records)
	if remaining == 0 {
		b.audioReady = false
	}
	b.mu.Unlock()

	b.provider.ReportCallEnded(callUUID, reason)
	b.emitter.Emit(string(CallEventEnded), roomID)
}

// EndAllCalls removes every reported call. Used on logout and teardown.
func (b *Bridge) EndAllCalls(reason EndReason) {
	b.mu.Lock()
	uuids := make([]uuid.UUID, 0, len(b.records))
	for u := range b.records {
		uuids = append(uuids, u)
	}
	b.mu.Unlock()
	for _, u := range uuids {
		b.EndCall(u, reason)
	}
}

// contactHandle picks the value the platform call UI matches against the
// device address book: the peer's phone number, or their user id when the
// push carried no phone.
func contactHandle(phone, peerID string) string {
	if phone != "" {
		return phone
	}
	return peerID
}

// ---- Lookups ----

// UUIDForRoom returns the UUID of the reported call for a room, if any.
func (b *Bridge) UUIDForRoom(roomID string) (uuid.UUID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for u, rec := range b.records {
		if rec.RoomID == roomID {
			return u, true
		}
	}
	return uuid.Nil, false
}

// RecordFor returns a copy of the record for a call UUID.
func (b *Bridge) RecordFor(callUUID uuid.UUID) (CallRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[callUUID]
	if !ok {
		return CallRecord{}, false
	}
	return *rec, true
}

// ActiveCallCount returns the number of calls the platform currently shows.
func (b *Bridge) ActiveCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// prefetchPhoto warms the HTTP cache for the caller photo so the call UI
// can render it without a visible load. Best effort.
func (b *Bridge) prefetchPhoto(photoURL string) {
	if b.core == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, photoURL, nil)
	if err != nil {
		return
	}
	resp, err := b.core.GetHTTPClient().Do(req)
	if err != nil {
		b.logger.Printf("bridge: prefetching caller photo: %v", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
}
