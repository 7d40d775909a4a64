/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package calling implements the call-session orchestration state machine
// for Harbor's peer-to-peer voice and video calls: wakeup-push ingress, the
// bridge to the platform call UI, audio activation coordination, the live
// session registry, caller-side cancellation, and the pending handoff store.
package calling

import (
	"github.com/harborchat/voip-go-sdk/voipsdk"
)

// Dependencies are the platform collaborators a Client needs. Provider and
// Realtime are required; the rest may be nil, disabling the corresponding
// behavior (no audio configuration, no missed-call notifications, no
// contact cache, no media sessions).
type Dependencies struct {
	Provider CallProvider
	Audio    AudioSessionConfigurator
	Realtime RealtimeStore
	Notifier Notifier
	Contacts ContactStore
	Sessions SessionFactory
}

// Client is the top-level Calling client. It wires the bridge, registry,
// watcher, pending store, and push ingress together and is the only
// constructor the host app needs.
type Client struct {
	core     *voipsdk.Client
	config   *Config
	emitter  *EventEmitter
	bridge   *Bridge
	registry *SessionRegistry
	pending  *PendingCallStore
	watcher  *CancelWatcher
	ingress  *PushIngress
	contexts *contextRegistry
}

// New creates a new Calling client.
func New(core *voipsdk.Client, config *Config, deps Dependencies) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	logger := voipsdk.NewDefaultLogger()
	localUserID := ""
	if core != nil {
		logger = core.GetLogger()
		localUserID = core.LocalUserID()
	}

	emitter := NewEventEmitter()
	contexts := newContextRegistry()
	registry := NewSessionRegistry(deps.Sessions, logger)
	pending := NewPendingCallStore(emitter)
	bridge := NewBridge(core, deps.Provider, registry, deps.Audio, emitter, config)
	watcher := NewCancelWatcher(deps.Realtime, bridge, deps.Notifier, contexts, emitter, localUserID, logger)
	ingress := NewPushIngress(core, config, bridge, registry, pending, watcher, deps.Contacts, contexts, emitter)

	return &Client{
		core:     core,
		config:   config,
		emitter:  emitter,
		bridge:   bridge,
		registry: registry,
		pending:  pending,
		watcher:  watcher,
		ingress:  ingress,
		contexts: contexts,
	}
}

// Ingress returns the wakeup-push entry point.
func (c *Client) Ingress() *PushIngress {
	return c.ingress
}

// Bridge returns the platform call-UI bridge.
func (c *Client) Bridge() *Bridge {
	return c.bridge
}

// Registry returns the live media-session registry.
func (c *Client) Registry() *SessionRegistry {
	return c.registry
}

// PendingCalls returns the answered-but-unclaimed payload store.
func (c *Client) PendingCalls() *PendingCallStore {
	return c.pending
}

// Watcher returns the caller-cancellation watcher.
func (c *Client) Watcher() *CancelWatcher {
	return c.watcher
}

// On subscribes a handler to a call event.
func (c *Client) On(event CallEventKey, handler EventHandler) {
	c.emitter.On(string(event), handler)
}
