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

// SessionRegistry holds the live media sessions, at most one voice and one
// video. Platform call actions (mute, end) and audio activation are routed
// through the registry so the rest of the state machine never touches a
// session pointer directly.
type SessionRegistry struct {
	mu      sync.Mutex
	voice   MediaSession
	video   MediaSession
	factory SessionFactory
	waiters []chan struct{}
	logger  voipsdk.Logger
}

// NewSessionRegistry creates a registry that builds incoming sessions with
// the given factory.
func NewSessionRegistry(factory SessionFactory, logger voipsdk.Logger) *SessionRegistry {
	if logger == nil {
		logger = voipsdk.NewDefaultLogger()
	}
	return &SessionRegistry{
		factory: factory,
		logger:  logger,
	}
}

// StartIncoming creates and starts a media session for an answered incoming
// call. Duplicate starts for a kind that already has a live session are
// ignored, so the push path and a UI tap racing each other produce exactly
// one session. Registration is synchronous; the session's own connection
// establishment is not.
func (r *SessionRegistry) StartIncoming(payload *SessionPayload) error {
	if payload == nil || payload.RoomID == "" {
		return fmt.Errorf("session payload missing room id")
	}

	r.mu.Lock()
	if r.sessionFor(payload.Kind()) != nil {
		r.mu.Unlock()
		r.logger.Printf("registry: %s session already live, ignoring duplicate start for room %s", payload.Kind(), payload.RoomID)
		return nil
	}
	if r.factory == nil {
		r.mu.Unlock()
		return fmt.Errorf("no session factory configured")
	}

	incoming := *payload
	incoming.IsSender = false
	session, err := r.factory(&incoming)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("building %s session: %w", payload.Kind(), err)
	}
	r.assignLocked(payload.Kind(), session)
	r.mu.Unlock()

	if err := session.Start(); err != nil {
		r.Clear(payload.Kind())
		return fmt.Errorf("starting %s session: %w", payload.Kind(), err)
	}
	return nil
}

// SetOutgoing registers an externally constructed session for an outgoing
// call. Returns an error if a session of that kind is already live.
func (r *SessionRegistry) SetOutgoing(kind CallKind, session MediaSession) error {
	if session == nil {
		return fmt.Errorf("nil session")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionFor(kind) != nil {
		return fmt.Errorf("a %s session is already live", kind)
	}
	r.assignLocked(kind, session)
	return nil
}

// Has reports whether a session of the given kind is live.
func (r *SessionRegistry) Has(kind CallKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionFor(kind) != nil
}

// MuteFromPlatform applies a mute toggle from the platform call UI to every
// live session.
func (r *SessionRegistry) MuteFromPlatform(muted bool) {
	for _, s := range r.snapshot() {
		s.SetMuted(muted)
	}
}

// EndFromPlatform tears down every live session in response to a platform
// end action. Idempotent: already-cleared kinds are skipped.
func (r *SessionRegistry) EndFromPlatform() {
	r.mu.Lock()
	voice, video := r.voice, r.video
	r.voice, r.video = nil, nil
	r.mu.Unlock()

	for _, s := range []MediaSession{voice, video} {
		if s == nil {
			continue
		}
		if err := s.End(); err != nil {
			r.logger.Printf("registry: ending session: %v", err)
		}
	}
}

// BridgeAudio attaches every live session to the platform-activated audio
// channel. Returns false if no session was live to attach.
func (r *SessionRegistry) BridgeAudio() bool {
	sessions := r.snapshot()
	if len(sessions) == 0 {
		return false
	}
	for _, s := range sessions {
		if err := s.AttachAudio(); err != nil {
			r.logger.Printf("registry: attaching audio: %v", err)
		}
	}
	return true
}

// WaitForSession blocks until some session is live or the timeout elapses,
// reporting which. Used when an audio activation outruns session creation.
func (r *SessionRegistry) WaitForSession(timeout time.Duration) bool {
	r.mu.Lock()
	if r.voice != nil || r.video != nil {
		r.mu.Unlock()
		return true
	}
	waiter := make(chan struct{})
	r.waiters = append(r.waiters, waiter)
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-waiter:
		return true
	case <-timer.C:
		return false
	}
}

// Clear drops the session of the given kind without ending it. Used after a
// session has ended itself.
func (r *SessionRegistry) Clear(kind CallKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch kind {
	case CallKindVideo:
		r.video = nil
	default:
		r.voice = nil
	}
}

func (r *SessionRegistry) sessionFor(kind CallKind) MediaSession {
	if kind == CallKindVideo {
		return r.video
	}
	return r.voice
}

func (r *SessionRegistry) assignLocked(kind CallKind, session MediaSession) {
	if kind == CallKindVideo {
		r.video = session
	} else {
		r.voice = session
	}
	for _, w := range r.waiters {
		close(w)
	}
	r.waiters = nil
}

func (r *SessionRegistry) snapshot() []MediaSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sessions []MediaSession
	if r.voice != nil {
		sessions = append(sessions, r.voice)
	}
	if r.video != nil {
		sessions = append(sessions, r.video)
	}
	return sessions
}
