/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import "testing"

func TestParsePushPayload(t *testing.T) {
	t.Run("full payload", func(t *testing.T) {
		p, err := ParsePushPayload(map[string]interface{}{
			"roomId":      "room-1",
			"name":        "Alice",
			"photo":       "https://cdn.example.com/alice.jpg",
			"uid":         "friend-1",
			"senderPhone": "+15550100",
			"receiverId":  "user-1",
			"phone":       "+15550200",
			"bodyKey":     "Incoming voice call",
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if p.RoomID != "room-1" {
			t.Errorf("Expected roomId 'room-1', got %q", p.RoomID)
		}
		if p.CallerID != "friend-1" {
			t.Errorf("Expected caller id 'friend-1', got %q", p.CallerID)
		}
		if p.CallerPhone != "+15550100" {
			t.Errorf("Expected caller phone from senderPhone, got %q", p.CallerPhone)
		}
		if p.ReceiverPhone != "+15550200" {
			t.Errorf("Expected receiver phone from phone, got %q", p.ReceiverPhone)
		}
		if p.IsVideo {
			t.Error("Expected voice call")
		}
		if p.Kind() != CallKindVoice {
			t.Errorf("Expected kind voice, got %q", p.Kind())
		}
	})

	t.Run("missing roomId is an error", func(t *testing.T) {
		if _, err := ParsePushPayload(map[string]interface{}{"name": "Alice"}); err == nil {
			t.Error("Expected error for payload without roomId")
		}
	})

	t.Run("video detected from bodyKey", func(t *testing.T) {
		for _, body := range []string{"Incoming Video call", "incoming video call", "VIDEO"} {
			p, err := ParsePushPayload(map[string]interface{}{"roomId": "r", "bodyKey": body})
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !p.IsVideo {
				t.Errorf("Expected bodyKey %q to mark a video call", body)
			}
		}
	})

	t.Run("alternate caller name key", func(t *testing.T) {
		p, err := ParsePushPayload(map[string]interface{}{
			"roomId":       "r",
			"user_nameKey": "Bob",
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if p.CallerName != "Bob" {
			t.Errorf("Expected name from user_nameKey, got %q", p.CallerName)
		}
	})

	t.Run("alternate caller id key", func(t *testing.T) {
		p, err := ParsePushPayload(map[string]interface{}{
			"roomId":   "r",
			"incoming": "friend-2",
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if p.CallerID != "friend-2" {
			t.Errorf("Expected caller id from incoming key, got %q", p.CallerID)
		}
	})

	t.Run("non-string values coerced", func(t *testing.T) {
		p, err := ParsePushPayload(map[string]interface{}{
			"roomId": 12345,
			"uid":    67.0,
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if p.RoomID != "12345" {
			t.Errorf("Expected coerced roomId '12345', got %q", p.RoomID)
		}
		if p.CallerID != "67" {
			t.Errorf("Expected coerced caller id '67', got %q", p.CallerID)
		}
	})
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name     string
		payload  PushPayload
		expected string
	}{
		{"voice with name", PushPayload{CallerName: "Alice"}, "Alice • Voice Call"},
		{"video with name", PushPayload{CallerName: "Alice", IsVideo: true}, "Alice • Video Call"},
		{"missing name", PushPayload{}, "Unknown • Voice Call"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.payload.DisplayName(); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestMissedCallNotificationID(t *testing.T) {
	if got := MissedCallNotificationID("room-7"); got != "missed_call_room-7" {
		t.Errorf("Expected 'missed_call_room-7', got %q", got)
	}
}

func TestEventEmitter(t *testing.T) {
	t.Run("multiple observers all fire", func(t *testing.T) {
		e := NewEventEmitter()
		first, second := 0, 0
		e.On("answered", func(data interface{}) { first++ })
		e.On("answered", func(data interface{}) { second++ })
		e.Emit("answered", nil)
		if first != 1 || second != 1 {
			t.Errorf("Expected both observers fired once, got %d and %d", first, second)
		}
	})

	t.Run("data passed through", func(t *testing.T) {
		e := NewEventEmitter()
		var got interface{}
		e.On("ev", func(data interface{}) { got = data })
		e.Emit("ev", "payload")
		if got != "payload" {
			t.Errorf("Expected 'payload', got %v", got)
		}
	})

	t.Run("off removes handlers", func(t *testing.T) {
		e := NewEventEmitter()
		calls := 0
		e.On("ev", func(data interface{}) { calls++ })
		e.Off("ev")
		e.Emit("ev", nil)
		if calls != 0 {
			t.Errorf("Expected no callbacks after Off, got %d", calls)
		}
	})

	t.Run("nil handler ignored", func(t *testing.T) {
		e := NewEventEmitter()
		e.On("ev", nil)
		e.Emit("ev", nil) // must not panic
	})

	t.Run("emit with no handlers is a no-op", func(t *testing.T) {
		e := NewEventEmitter()
		e.Emit("nobody-listens", nil)
	})
}

func TestPendingCallStore(t *testing.T) {
	t.Run("set and consume per kind", func(t *testing.T) {
		s := NewPendingCallStore(nil)
		s.Set(&SessionPayload{RoomID: "rv", IsVideo: false})
		s.Set(&SessionPayload{RoomID: "rx", IsVideo: true})

		p, ok := s.Consume(CallKindVoice)
		if !ok || p.RoomID != "rv" {
			t.Errorf("Expected voice payload 'rv', got %+v (%v)", p, ok)
		}
		p, ok = s.Consume(CallKindVideo)
		if !ok || p.RoomID != "rx" {
			t.Errorf("Expected video payload 'rx', got %+v (%v)", p, ok)
		}
		if _, ok := s.Consume(CallKindVoice); ok {
			t.Error("Expected voice slot empty after consume")
		}
	})

	t.Run("peek does not clear", func(t *testing.T) {
		s := NewPendingCallStore(nil)
		s.Set(&SessionPayload{RoomID: "r1"})
		if _, ok := s.Peek(CallKindVoice); !ok {
			t.Fatal("Expected peek to find payload")
		}
		if _, ok := s.Consume(CallKindVoice); !ok {
			t.Error("Expected payload still present after peek")
		}
	})

	t.Run("set emits pending event", func(t *testing.T) {
		e := NewEventEmitter()
		s := NewPendingCallStore(e)
		var got *SessionPayload
		e.On(string(CallEventPendingCall), func(data interface{}) {
			got, _ = data.(*SessionPayload)
		})
		s.Set(&SessionPayload{RoomID: "r2"})
		if got == nil || got.RoomID != "r2" {
			t.Errorf("Expected pending event with payload, got %+v", got)
		}
	})

	t.Run("clear all", func(t *testing.T) {
		s := NewPendingCallStore(nil)
		s.Set(&SessionPayload{RoomID: "r3"})
		s.Set(&SessionPayload{RoomID: "r4", IsVideo: true})
		s.ClearAll()
		if _, ok := s.Peek(CallKindVoice); ok {
			t.Error("Expected voice slot cleared")
		}
		if _, ok := s.Peek(CallKindVideo); ok {
			t.Error("Expected video slot cleared")
		}
	})
}
