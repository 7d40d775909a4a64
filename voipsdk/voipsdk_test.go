/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package voipsdk

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	t.Run("empty token rejected", func(t *testing.T) {
		if _, err := NewClient("", nil); err == nil {
			t.Error("Expected error for empty access token")
		}
	})

	t.Run("defaults applied", func(t *testing.T) {
		c, err := NewClient("token", nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if c.Config.MaxRetries != 3 {
			t.Errorf("Expected MaxRetries 3, got %d", c.Config.MaxRetries)
		}
		if c.Config.Timeout != 30*time.Second {
			t.Errorf("Expected Timeout 30s, got %v", c.Config.Timeout)
		}
		if c.GetAccessToken() != "token" {
			t.Errorf("Unexpected access token %q", c.GetAccessToken())
		}
		if c.GetLogger() == nil {
			t.Error("Expected a default logger")
		}
	})

	t.Run("local user id carried", func(t *testing.T) {
		c, err := NewClient("token", &Config{BaseURL: "https://api.example.com", LocalUserID: "user-1"})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if c.LocalUserID() != "user-1" {
			t.Errorf("Expected local user id 'user-1', got %q", c.LocalUserID())
		}
	})
}

func TestRequest(t *testing.T) {
	t.Run("headers and path", func(t *testing.T) {
		var gotAuth, gotContentType, gotCustom, gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotContentType = r.Header.Get("Content-Type")
			gotCustom = r.Header.Get("X-Harbor-Client")
			gotPath = r.URL.Path
			w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		c, err := NewClient("secret-token", &Config{
			BaseURL:        srv.URL,
			DefaultHeaders: map[string]string{"X-Harbor-Client": "go-sdk"},
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		resp, err := c.Request(http.MethodGet, "calls/recent", nil, nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		resp.Body.Close()

		if gotAuth != "Bearer secret-token" {
			t.Errorf("Expected bearer auth, got %q", gotAuth)
		}
		if gotContentType != "application/json" {
			t.Errorf("Expected JSON content type, got %q", gotContentType)
		}
		if gotCustom != "go-sdk" {
			t.Errorf("Expected default header propagated, got %q", gotCustom)
		}
		if gotPath != "/calls/recent" {
			t.Errorf("Unexpected path %q", gotPath)
		}
	})

	t.Run("retries transient errors", func(t *testing.T) {
		var attempts int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		c, _ := NewClient("token", &Config{
			BaseURL:        srv.URL,
			MaxRetries:     3,
			RetryBaseDelay: time.Millisecond,
		})
		resp, err := c.Request(http.MethodGet, "ping", nil, nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected 200 after retries, got %d", resp.StatusCode)
		}
		if got := atomic.LoadInt32(&attempts); got != 3 {
			t.Errorf("Expected 3 attempts, got %d", got)
		}
	})

	t.Run("respects Retry-After on 429", func(t *testing.T) {
		var attempts int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		c, _ := NewClient("token", &Config{
			BaseURL:        srv.URL,
			MaxRetries:     1,
			RetryBaseDelay: time.Millisecond,
		})

		start := time.Now()
		resp, err := c.Request(http.MethodGet, "ping", nil, nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		resp.Body.Close()

		if elapsed := time.Since(start); elapsed < time.Second {
			t.Errorf("Expected at least 1s wait from Retry-After, got %v", elapsed)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected 200 after retry, got %d", resp.StatusCode)
		}
	})

	t.Run("returns final response when retries exhausted", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c, _ := NewClient("token", &Config{
			BaseURL:        srv.URL,
			MaxRetries:     1,
			RetryBaseDelay: time.Millisecond,
		})
		resp, err := c.Request(http.MethodGet, "ping", nil, nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadGateway {
			t.Errorf("Expected final 502, got %d", resp.StatusCode)
		}
	})

	t.Run("non-retryable status passes through", func(t *testing.T) {
		var attempts int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		c, _ := NewClient("token", &Config{BaseURL: srv.URL, MaxRetries: 3, RetryBaseDelay: time.Millisecond})
		resp, err := c.Request(http.MethodGet, "ping", nil, nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		resp.Body.Close()
		if got := atomic.LoadInt32(&attempts); got != 1 {
			t.Errorf("Expected a single attempt for 400, got %d", got)
		}
	})
}

func TestParseResponse(t *testing.T) {
	t.Run("success body decoded", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"name":"Alice"}`))
		}))
		defer srv.Close()

		c, _ := NewClient("token", &Config{BaseURL: srv.URL})
		resp, err := c.Request(http.MethodGet, "me", nil, nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		var out struct {
			Name string `json:"name"`
		}
		if err := ParseResponse(resp, &out); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if out.Name != "Alice" {
			t.Errorf("Expected 'Alice', got %q", out.Name)
		}
	})

	t.Run("error status returns APIError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"no such room","trackingId":"trk-1"}`))
		}))
		defer srv.Close()

		c, _ := NewClient("token", &Config{BaseURL: srv.URL})
		resp, err := c.Request(http.MethodGet, "rooms/x", nil, nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		var out map[string]interface{}
		parseErr := ParseResponse(resp, &out)
		if parseErr == nil {
			t.Fatal("Expected error for 404")
		}
		if !IsNotFound(parseErr) {
			t.Errorf("Expected NotFoundError, got %T", parseErr)
		}
	})
}

func TestCheckResponse(t *testing.T) {
	t.Run("success is nil", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		c, _ := NewClient("token", &Config{BaseURL: srv.URL})
		resp, err := c.Request(http.MethodDelete, "devices/voip-token", nil, nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		defer resp.Body.Close()
		if err := CheckResponse(resp); err != nil {
			t.Errorf("Expected nil for 204, got %v", err)
		}
	})

	t.Run("failure is an APIError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"expired token"}`))
		}))
		defer srv.Close()

		c, _ := NewClient("token", &Config{BaseURL: srv.URL})
		resp, err := c.Request(http.MethodPut, "devices/voip-token", nil, nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		defer resp.Body.Close()

		checkErr := CheckResponse(resp)
		if checkErr == nil {
			t.Fatal("Expected error for 401")
		}
		if !IsAuthError(checkErr) {
			t.Errorf("Expected AuthError, got %T", checkErr)
		}
	})
}
