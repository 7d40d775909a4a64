/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"sync"

	"github.com/harborchat/voip-go-sdk/voipsdk"
)

// Realtime-store nodes the caller writes a child under to signal that it
// hung up before the callee answered. Keyed by the callee's user id.
const (
	cancelNodeVoice = "removeCallNotification"
	cancelNodeVideo = "removeVideoCallNotification"
)

// CancelWatcher listens on the realtime store for the caller cancelling an
// unanswered call. One watcher instance follows one ringing call at a time;
// a new Start replaces the previous subscription.
//
// The watcher stays subscribed after the local user answers. Signals that
// arrive late (the caller's cancel racing the answer) are ignored via the
// answered flag rather than by unsubscribing eagerly, which would drop
// cancels still in flight.
type CancelWatcher struct {
	mu       sync.Mutex
	store    RealtimeStore
	bridge   *Bridge
	notifier Notifier
	contexts *contextRegistry
	emitter  *EventEmitter
	logger   voipsdk.Logger

	localUserID string
	roomID      string
	answered    bool
	handled     bool
	sub         Subscription
}

// NewCancelWatcher wires a watcher to the realtime store and the bridge it
// should end calls through. notifier may be nil when missed-call
// notifications are not wanted.
func NewCancelWatcher(store RealtimeStore, bridge *Bridge, notifier Notifier, contexts *contextRegistry, emitter *EventEmitter, localUserID string, logger voipsdk.Logger) *CancelWatcher {
	if logger == nil {
		logger = voipsdk.NewDefaultLogger()
	}
	return &CancelWatcher{
		store:       store,
		bridge:      bridge,
		notifier:    notifier,
		contexts:    contexts,
		emitter:     emitter,
		localUserID: localUserID,
		logger:      logger,
	}
}

// Start begins watching for cancellation of the ringing call in roomID.
// Any previous watch is stopped and its state reset.
func (w *CancelWatcher) Start(roomID string, kind CallKind) error {
	w.Stop()

	node := cancelNodeVoice
	if kind == CallKindVideo {
		node = cancelNodeVideo
	}
	path := node + "/" + w.localUserID

	w.mu.Lock()
	w.roomID = roomID
	w.answered = false
	w.handled = false
	w.mu.Unlock()

	sub, err := w.store.Subscribe(path, func(key string) {
		w.handleSignal(path, key)
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	// Start may have been raced by Stop; drop the subscription if so.
	if w.roomID != roomID {
		w.mu.Unlock()
		sub.Cancel()
		return nil
	}
	w.sub = sub
	w.mu.Unlock()
	return nil
}

// MarkAnswered records that the local user answered. Cancel signals arriving
// after this are consumed without side effects.
func (w *CancelWatcher) MarkAnswered() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.answered = true
}

// Stop cancels the active subscription if any. Idempotent.
func (w *CancelWatcher) Stop() {
	w.mu.Lock()
	sub := w.sub
	w.sub = nil
	w.roomID = ""
	w.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

func (w *CancelWatcher) handleSignal(path, key string) {
	// Consume the signal child so it does not re-fire on the next subscribe.
	if err := w.store.Delete(path + "/" + key); err != nil {
		w.logger.Printf("watcher: deleting cancel signal: %v", err)
	}

	w.mu.Lock()
	if w.handled || w.answered {
		answered := w.answered
		w.mu.Unlock()
		if answered {
			w.Stop()
		}
		return
	}
	w.handled = true
	roomID := w.roomID
	w.mu.Unlock()

	if roomID == "" {
		return
	}

	if u, ok := w.bridge.UUIDForRoom(roomID); ok {
		w.bridge.EndCall(u, EndReasonRemoteEnded)
	}
	w.emitter.Emit(string(CallEventCancelled), roomID)
	w.notifyMissedCall(roomID)
	w.Stop()
}

// notifyMissedCall posts a missed-call notification using the pending call
// context registered at report time, then clears that context.
func (w *CancelWatcher) notifyMissedCall(roomID string) {
	if w.contexts == nil {
		return
	}
	payload, ok := w.contexts.take(roomID)
	if !ok || w.notifier == nil {
		return
	}
	// Title is the caller's name; the body is a fixed per-kind string.
	title := payload.PeerName
	if title == "" {
		title = "Unknown"
	}
	body := "Missed voice call"
	if payload.IsVideo {
		body = "Missed video call"
	}
	err := w.notifier.Notify(MissedCallNotificationID(roomID), title, body)
	if err != nil {
		w.logger.Printf("watcher: posting missed-call notification: %v", err)
	}
}
