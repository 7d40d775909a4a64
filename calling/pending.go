/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import "sync"

// PendingCallStore holds at most one answered-but-unclaimed call payload per
// kind. When a call is answered from the platform UI before the app's
// presentation layer exists (cold launch from a push), the payload parks
// here until the presentation layer comes up and consumes it.
type PendingCallStore struct {
	mu      sync.Mutex
	voice   *SessionPayload
	video   *SessionPayload
	emitter *EventEmitter
}

// NewPendingCallStore creates a PendingCallStore. The emitter, when non-nil,
// receives CallEventPendingCall on every Set so an already-running
// presentation layer can claim the payload immediately.
func NewPendingCallStore(emitter *EventEmitter) *PendingCallStore {
	return &PendingCallStore{emitter: emitter}
}

// Set parks a payload for its kind, replacing any previous one.
func (s *PendingCallStore) Set(payload *SessionPayload) {
	if payload == nil {
		return
	}
	s.mu.Lock()
	if payload.IsVideo {
		s.video = payload
	} else {
		s.voice = payload
	}
	s.mu.Unlock()

	if s.emitter != nil {
		s.emitter.Emit(string(CallEventPendingCall), payload)
	}
}

// Consume returns the parked payload for a kind and clears it. The second
// return is false when nothing was parked.
func (s *PendingCallStore) Consume(kind CallKind) (*SessionPayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p *SessionPayload
	if kind == CallKindVideo {
		p, s.video = s.video, nil
	} else {
		p, s.voice = s.voice, nil
	}
	return p, p != nil
}

// Peek returns the parked payload for a kind without clearing it.
func (s *PendingCallStore) Peek(kind CallKind) (*SessionPayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.voice
	if kind == CallKindVideo {
		p = s.video
	}
	return p, p != nil
}

// ClearAll drops both parked payloads. Called when every call ends.
func (s *PendingCallStore) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voice, s.video = nil, nil
}
