/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package voip is the top-level entry point for Harbor's VoIP SDK. It
// aggregates the calling state machine, the realtime store client, the
// recent-contacts cache, and the push plumbing behind one client.
package voip

import (
	"fmt"
	"sync"

	"github.com/harborchat/voip-go-sdk/apns"
	"github.com/harborchat/voip-go-sdk/calling"
	"github.com/harborchat/voip-go-sdk/contacts"
	"github.com/harborchat/voip-go-sdk/media"
	"github.com/harborchat/voip-go-sdk/realtime"
	"github.com/harborchat/voip-go-sdk/voipsdk"
)

// VoipClient is the top-level client for the Harbor VoIP SDK.
type VoipClient struct {
	// Core client for the Harbor backend
	core *voipsdk.Client

	// Plugins
	callingClient  *calling.Client
	realtimeClient *realtime.Client
	contactsStore  *contacts.Store
	apnsClient     *apns.Client

	// Mutex for thread-safe lazy initialization of the calling client
	callMu sync.Mutex
}

// NewClient creates a new VoIP client with the given access token and
// optional configuration.
func NewClient(accessToken string, config *voipsdk.Config) (*VoipClient, error) {
	core, err := voipsdk.NewClient(accessToken, config)
	if err != nil {
		return nil, err
	}
	return &VoipClient{core: core}, nil
}

// Realtime returns the realtime store client.
func (c *VoipClient) Realtime() *realtime.Client {
	if c.realtimeClient == nil {
		c.realtimeClient = realtime.New(c.core, nil)
	}
	return c.realtimeClient
}

// Contacts returns the recent-contacts store, opening it on first use.
func (c *VoipClient) Contacts() (*contacts.Store, error) {
	if c.contactsStore == nil {
		store, err := contacts.Open(nil, c.core.GetLogger())
		if err != nil {
			return nil, fmt.Errorf("opening contact store: %w", err)
		}
		c.contactsStore = store
	}
	return c.contactsStore, nil
}

// APNS returns the push plugin. Config is applied on first use.
func (c *VoipClient) APNS(config *apns.Config) *apns.Client {
	if c.apnsClient == nil {
		c.apnsClient = apns.New(c.core, config)
	}
	return c.apnsClient
}

// Calling returns a fully-wired Calling client for the call-session state
// machine.
//
// This is a convenience method that abstracts away the manual wiring of the
// realtime store, the contact cache, and the media session factory: any of
// those left nil in deps is filled in with the SDK's implementation. The
// platform call provider must be supplied by the host; there is no default
// for it. The client is lazily initialized on first call and cached.
//
// Simple usage:
//
//	call, err := client.Calling(calling.Dependencies{Provider: myProvider}, nil)
//	call.Ingress().HandleIncomingPush(payload, completion)
//
// For advanced control, wire the lower-level APIs directly (calling.New,
// realtime.New, media.NewVoiceSession).
func (c *VoipClient) Calling(deps calling.Dependencies, config *calling.Config) (*calling.Client, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if c.callingClient != nil {
		return c.callingClient, nil
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("calling requires a platform call provider")
	}

	if deps.Realtime == nil {
		deps.Realtime = &realtimeStore{client: c.Realtime()}
	}
	if deps.Contacts == nil {
		store, err := c.Contacts()
		if err != nil {
			return nil, err
		}
		deps.Contacts = &contactStoreAdapter{store: store}
	}
	if deps.Sessions == nil {
		deps.Sessions = c.sessionFactory()
	}

	c.callingClient = calling.New(c.core, config, deps)
	return c.callingClient, nil
}

// Core returns the core client.
func (c *VoipClient) Core() *voipsdk.Client {
	return c.core
}

// ---- Default wiring adapters ----

// realtimeStore adapts the realtime client to the calling package's store
// contract.
type realtimeStore struct {
	client *realtime.Client
}

func (s *realtimeStore) Subscribe(path string, onChildAdded func(key string)) (calling.Subscription, error) {
	sub, err := s.client.Subscribe(path, onChildAdded)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *realtimeStore) Delete(path string) error {
	return s.client.Delete(path)
}

// contactStoreAdapter adapts the SQLite contact store to the calling
// package's cache contract.
type contactStoreAdapter struct {
	store *contacts.Store
}

func (a *contactStoreAdapter) Lookup(friendID string) (calling.ContactRecord, bool) {
	c, ok := a.store.Lookup(friendID)
	return toContactRecord(c), ok
}

func (a *contactStoreAdapter) LookupByPhoto(photoURL string) (calling.ContactRecord, bool) {
	c, ok := a.store.LookupByPhoto(photoURL)
	return toContactRecord(c), ok
}

func (a *contactStoreAdapter) SaveFromCall(record calling.ContactRecord) error {
	return a.store.SaveFromCall(contacts.Contact{
		FriendID:   record.FriendID,
		FullName:   record.FullName,
		Photo:      record.Photo,
		PushToken:  record.PushToken,
		VoIPToken:  record.VoIPToken,
		DeviceType: record.DeviceType,
		MobileNo:   record.MobileNo,
		IsVideo:    record.IsVideo,
	})
}

func (a *contactStoreAdapter) VoiceCallsEnabled() bool {
	return a.store.VoiceCallsEnabled()
}

func (a *contactStoreAdapter) VideoCallsEnabled() bool {
	return a.store.VideoCallsEnabled()
}

func toContactRecord(c contacts.Contact) calling.ContactRecord {
	return calling.ContactRecord{
		FriendID:   c.FriendID,
		FullName:   c.FullName,
		Photo:      c.Photo,
		PushToken:  c.PushToken,
		VoIPToken:  c.VoIPToken,
		DeviceType: c.DeviceType,
		MobileNo:   c.MobileNo,
		IsVideo:    c.IsVideo,
	}
}

// sessionFactory builds media sessions signaled over the realtime store.
// Each side reads its own role path and writes the peer's.
func (c *VoipClient) sessionFactory() calling.SessionFactory {
	return func(p *calling.SessionPayload) (calling.MediaSession, error) {
		rt := c.Realtime()

		localRole, remoteRole := "callee", "caller"
		if p.IsSender {
			localRole, remoteRole = "caller", "callee"
		}
		readPath := "signal/" + p.RoomID + "/" + localRole
		writePath := "signal/" + p.RoomID + "/" + remoteRole

		transport, err := rt.NewTransport(readPath, writePath)
		if err != nil {
			return nil, fmt.Errorf("creating signaling transport: %w", err)
		}

		params := media.SessionParams{
			RoomID:   p.RoomID,
			PeerID:   p.PeerID,
			IsSender: p.IsSender,
		}

		if p.IsVideo {
			session, err := media.NewWebEmbedSession(params, transport)
			if err != nil {
				transport.Close()
				return nil, err
			}
			session.OnEnded(func() { transport.Close() })
			return session, nil
		}

		session, err := media.NewVoiceSession(params, nil, transport)
		if err != nil {
			transport.Close()
			return nil, err
		}
		session.OnEnded(func() { transport.Close() })
		return session, nil
	}
}
