/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package contacts

import (
	"fmt"
	"testing"
)

func openTestStore(t *testing.T, maxEntries int) *Store {
	t.Helper()
	s, err := Open(&Config{Path: ":memory:", MaxEntries: maxEntries}, nil)
	if err != nil {
		t.Fatalf("Unexpected error opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLookup(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		s := openTestStore(t, 50)
		err := s.SaveFromCall(Contact{
			FriendID:   "friend-1",
			FullName:   "Alice",
			Photo:      "https://cdn.example.com/alice.jpg",
			PushToken:  "push-1",
			VoIPToken:  "voip-1",
			DeviceType: "ios",
			MobileNo:   "+15550100",
			IsVideo:    true,
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		c, ok := s.Lookup("friend-1")
		if !ok {
			t.Fatal("Expected contact found")
		}
		if c.FullName != "Alice" || c.MobileNo != "+15550100" || !c.IsVideo {
			t.Errorf("Unexpected contact: %+v", c)
		}
		if c.UpdatedAt.IsZero() {
			t.Error("Expected UpdatedAt populated")
		}
	})

	t.Run("missing contact", func(t *testing.T) {
		s := openTestStore(t, 50)
		if _, ok := s.Lookup("nobody"); ok {
			t.Error("Expected no contact")
		}
	})

	t.Run("missing friend id rejected", func(t *testing.T) {
		s := openTestStore(t, 50)
		if err := s.SaveFromCall(Contact{FullName: "No ID"}); err == nil {
			t.Error("Expected error for contact without friend id")
		}
	})
}

func TestMergeKeepsNonEmptyFields(t *testing.T) {
	s := openTestStore(t, 50)

	if err := s.SaveFromCall(Contact{
		FriendID: "friend-1",
		FullName: "Alice",
		Photo:    "https://cdn.example.com/alice.jpg",
		MobileNo: "+15550100",
	}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// A degraded push has the id but nothing else.
	if err := s.SaveFromCall(Contact{FriendID: "friend-1"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	c, ok := s.Lookup("friend-1")
	if !ok {
		t.Fatal("Expected contact found")
	}
	if c.FullName != "Alice" {
		t.Errorf("Expected name preserved through degraded save, got %q", c.FullName)
	}
	if c.Photo != "https://cdn.example.com/alice.jpg" {
		t.Errorf("Expected photo preserved, got %q", c.Photo)
	}
	if c.MobileNo != "+15550100" {
		t.Errorf("Expected phone preserved, got %q", c.MobileNo)
	}

	// A richer push overwrites.
	if err := s.SaveFromCall(Contact{FriendID: "friend-1", FullName: "Alice Smith"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	c, _ = s.Lookup("friend-1")
	if c.FullName != "Alice Smith" {
		t.Errorf("Expected name updated, got %q", c.FullName)
	}
}

func TestTrim(t *testing.T) {
	s := openTestStore(t, 3)
	for i := 0; i < 5; i++ {
		err := s.SaveFromCall(Contact{FriendID: fmt.Sprintf("friend-%d", i)})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	recent, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(recent) != 3 {
		t.Errorf("Expected cache trimmed to 3 entries, got %d", len(recent))
	}
}

func TestLookupByPhoto(t *testing.T) {
	t.Run("match", func(t *testing.T) {
		s := openTestStore(t, 50)
		s.SaveFromCall(Contact{FriendID: "friend-1", Photo: "https://cdn.example.com/a.jpg"})
		s.SaveFromCall(Contact{FriendID: "friend-2", Photo: "https://cdn.example.com/b.jpg"})

		c, ok := s.LookupByPhoto("https://cdn.example.com/b.jpg")
		if !ok {
			t.Fatal("Expected a match")
		}
		if c.FriendID != "friend-2" {
			t.Errorf("Expected 'friend-2', got %q", c.FriendID)
		}
	})

	t.Run("empty photo never matches", func(t *testing.T) {
		s := openTestStore(t, 50)
		s.SaveFromCall(Contact{FriendID: "friend-1"})
		if _, ok := s.LookupByPhoto(""); ok {
			t.Error("Expected empty photo URL to match nothing")
		}
	})
}

func TestDelete(t *testing.T) {
	s := openTestStore(t, 50)
	s.SaveFromCall(Contact{FriendID: "friend-1"})
	if err := s.Delete("friend-1"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, ok := s.Lookup("friend-1"); ok {
		t.Error("Expected contact removed")
	}
}

func TestCallPreferences(t *testing.T) {
	t.Run("default to enabled", func(t *testing.T) {
		s := openTestStore(t, 50)
		if !s.VoiceCallsEnabled() {
			t.Error("Expected voice calls enabled by default")
		}
		if !s.VideoCallsEnabled() {
			t.Error("Expected video calls enabled by default")
		}
	})

	t.Run("disable and re-enable", func(t *testing.T) {
		s := openTestStore(t, 50)
		if err := s.SetVoiceCallsEnabled(false); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if s.VoiceCallsEnabled() {
			t.Error("Expected voice calls disabled")
		}
		if !s.VideoCallsEnabled() {
			t.Error("Voice toggle must not affect video")
		}

		if err := s.SetVoiceCallsEnabled(true); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !s.VoiceCallsEnabled() {
			t.Error("Expected voice calls re-enabled")
		}
	})
}
