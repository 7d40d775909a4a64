/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"fmt"
	"sync"
	"time"

	"github.com/harborchat/voip-go-sdk/voipsdk"
)

// PushIngress is the entry point for wakeup pushes. It parses the payload,
// applies the user's suppression preferences, resolves the caller identity,
// reports the call through the bridge, and arms the cancellation watcher.
//
// Platforms penalize processes that do not complete a wakeup push promptly,
// so the system completion callback is guarded: it fires exactly once, on
// every code path, with a watchdog as the last resort.
type PushIngress struct {
	core     *voipsdk.Client
	config   *Config
	bridge   *Bridge
	registry *SessionRegistry
	pending  *PendingCallStore
	watcher  *CancelWatcher
	contacts ContactStore
	contexts *contextRegistry
	emitter  *EventEmitter
	logger   voipsdk.Logger
}

// NewPushIngress wires the ingress and subscribes it to the bridge's answer
// and decline events. The subscriptions are made once here, not per push.
func NewPushIngress(core *voipsdk.Client, config *Config, bridge *Bridge, registry *SessionRegistry, pending *PendingCallStore, watcher *CancelWatcher, contacts ContactStore, contexts *contextRegistry, emitter *EventEmitter) *PushIngress {
	if config == nil {
		config = DefaultConfig()
	}
	logger := voipsdk.NewDefaultLogger()
	if core != nil {
		logger = core.GetLogger()
	}
	in := &PushIngress{
		core:     core,
		config:   config,
		bridge:   bridge,
		registry: registry,
		pending:  pending,
		watcher:  watcher,
		contacts: contacts,
		contexts: contexts,
		emitter:  emitter,
		logger:   logger,
	}

	emitter.On(string(CallEventAnswered), func(data interface{}) {
		if ev, ok := data.(*AnswerEvent); ok {
			in.handleAnswered(ev)
		}
	})
	emitter.On(string(CallEventDeclined), func(data interface{}) {
		if roomID, ok := data.(string); ok {
			in.handleDeclined(roomID)
		}
	})
	emitter.On(string(CallEventEnded), func(data interface{}) {
		if in.bridge.ActiveCallCount() == 0 && in.registry != nil {
			in.pending.ClearAll()
		}
	})

	return in
}

// HandleIncomingPush processes one wakeup push. completion is the system
// callback acknowledging the push; it is invoked exactly once regardless of
// outcome. The returned error describes why no call UI was shown, for
// logging by the caller; the push is still completed in that case.
func (in *PushIngress) HandleIncomingPush(userInfo map[string]interface{}, completion func()) error {
	done := newCompletionGuard(completion, in.config.CompletionDeadline, in.logger)

	payload, err := ParsePushPayload(userInfo)
	if err != nil {
		done.complete()
		return err
	}

	if suppressed, kind := in.suppressedByPreference(payload); suppressed {
		done.complete()
		return fmt.Errorf("%s calls disabled by user preference", kind)
	}

	in.resolveCallerIdentity(payload)
	in.enrichFromContacts(payload)
	in.cacheContact(payload)

	in.contexts.set(payload.RoomID, sessionPayloadFromPush(payload))

	// The watcher is armed before the call is reported so a cancel signal
	// can never land in the gap between the UI appearing and the subscribe.
	if err := in.watcher.Start(payload.RoomID, payload.Kind()); err != nil {
		in.logger.Printf("ingress: starting cancel watcher: %v", err)
	}

	if _, err := in.bridge.ReportIncomingCall(payload); err != nil {
		in.watcher.Stop()
		in.contexts.clear(payload.RoomID)
		done.complete()
		return err
	}

	done.complete()
	return nil
}

// suppressedByPreference checks the per-kind call toggles. Preferences are
// read here, at ingress time, and nowhere else; a mid-ring toggle change
// does not affect a call already reported.
func (in *PushIngress) suppressedByPreference(p *PushPayload) (bool, CallKind) {
	if in.contacts == nil {
		return false, p.Kind()
	}
	if p.IsVideo && !in.contacts.VideoCallsEnabled() {
		return true, CallKindVideo
	}
	if !p.IsVideo && !in.contacts.VoiceCallsEnabled() {
		return true, CallKindVoice
	}
	return false, p.Kind()
}

// resolveCallerIdentity fills in the caller id when the push omitted it or
// shipped an unusable value. Some sender builds put the receiver's own id in
// the caller field, so those are treated as missing too. The fallback chain
// is: cached contact matched by photo URL, then the receiver id as a last
// resort so downstream code always has a non-empty peer.
func (in *PushIngress) resolveCallerIdentity(p *PushPayload) {
	localID := ""
	if in.core != nil {
		localID = in.core.LocalUserID()
	}
	missing := p.CallerID == "" || p.CallerID == p.ReceiverID || (localID != "" && p.CallerID == localID)
	if !missing {
		return
	}
	if p.CallerPhoto != "" && in.contacts != nil {
		if rec, ok := in.contacts.LookupByPhoto(p.CallerPhoto); ok {
			p.CallerID = rec.FriendID
			if p.CallerPhone == "" {
				p.CallerPhone = rec.MobileNo
			}
			return
		}
	}
	p.CallerID = p.ReceiverID
}

// enrichFromContacts overlays the cached contact for the caller id onto the
// payload. Wakeup pushes are sometimes degraded to little more than the room
// id; the cache restores the name, photo and phone of a caller seen before,
// and a cached value wins over whatever the push carried.
func (in *PushIngress) enrichFromContacts(p *PushPayload) {
	if in.contacts == nil || p.CallerID == "" {
		return
	}
	rec, ok := in.contacts.Lookup(p.CallerID)
	if !ok {
		return
	}
	if rec.FullName != "" {
		p.CallerName = rec.FullName
	}
	if rec.Photo != "" {
		p.CallerPhoto = rec.Photo
	}
	if rec.MobileNo != "" {
		p.CallerPhone = rec.MobileNo
	}
}

// cacheContact upserts the caller into the recent-contacts store so later
// pushes with a degraded payload can resolve against it. Best effort.
func (in *PushIngress) cacheContact(p *PushPayload) {
	if in.contacts == nil || p.CallerID == "" {
		return
	}
	err := in.contacts.SaveFromCall(ContactRecord{
		FriendID: p.CallerID,
		FullName: p.CallerName,
		Photo:    p.CallerPhoto,
		MobileNo: p.CallerPhone,
		IsVideo:  p.IsVideo,
	})
	if err != nil {
		in.logger.Printf("ingress: caching caller contact: %v", err)
	}
}

// handleAnswered runs after the platform answer action was fulfilled. The
// watcher is flipped to answered before anything else so a cancel signal
// racing the answer cannot tear the call down, then the session is started
// and the payload parked for the presentation layer.
func (in *PushIngress) handleAnswered(ev *AnswerEvent) {
	in.watcher.MarkAnswered()
	in.contexts.clear(ev.RoomID)

	payload := &SessionPayload{
		RoomID:        ev.RoomID,
		PeerID:        ev.CallerID,
		PeerName:      ev.CallerName,
		PeerPhoto:     ev.CallerPhoto,
		PeerPhone:     ev.CallerPhone,
		ReceiverID:    ev.ReceiverID,
		ReceiverPhone: ev.ReceiverPhone,
		IsSender:      false,
		IsVideo:       ev.IsVideo,
	}
	in.pending.Set(payload)

	if err := in.registry.StartIncoming(payload); err != nil {
		in.logger.Printf("ingress: starting media session: %v", err)
	}
}

func (in *PushIngress) handleDeclined(roomID string) {
	in.watcher.Stop()
	in.contexts.clear(roomID)
}

func sessionPayloadFromPush(p *PushPayload) *SessionPayload {
	return &SessionPayload{
		RoomID:        p.RoomID,
		PeerID:        p.CallerID,
		PeerName:      p.CallerName,
		PeerPhoto:     p.CallerPhoto,
		PeerPhone:     p.CallerPhone,
		ReceiverID:    p.ReceiverID,
		ReceiverPhone: p.ReceiverPhone,
		IsSender:      false,
		IsVideo:       p.IsVideo,
	}
}

// ---- Completion guard ----

// completionGuard makes a system completion callback single-shot and backed
// by a watchdog timer.
type completionGuard struct {
	once  sync.Once
	timer *time.Timer
	fn    func()
}

func newCompletionGuard(fn func(), deadline time.Duration, logger voipsdk.Logger) *completionGuard {
	g := &completionGuard{fn: fn}
	if deadline > 0 {
		g.timer = time.AfterFunc(deadline, func() {
			g.once.Do(func() {
				logger.Printf("ingress: completion watchdog fired after %v", deadline)
				if g.fn != nil {
					g.fn()
				}
			})
		})
	}
	return g
}

func (g *completionGuard) complete() {
	g.once.Do(func() {
		if g.timer != nil {
			g.timer.Stop()
		}
		if g.fn != nil {
			g.fn()
		}
	})
}
