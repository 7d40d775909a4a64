/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package voipsdk

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func responseWithStatus(statusCode int, headers map[string]string) *http.Response {
	resp := &http.Response{
		StatusCode: statusCode,
		Status:     http.StatusText(statusCode),
		Header:     http.Header{},
	}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return resp
}

func TestNewAPIError(t *testing.T) {
	t.Run("status taxonomy", func(t *testing.T) {
		tests := []struct {
			statusCode int
			check      func(error) bool
			name       string
		}{
			{http.StatusUnauthorized, IsAuthError, "auth"},
			{http.StatusForbidden, IsForbidden, "forbidden"},
			{http.StatusNotFound, IsNotFound, "not found"},
			{http.StatusConflict, IsConflict, "conflict"},
			{http.StatusTooManyRequests, IsRateLimited, "rate limited"},
			{http.StatusInternalServerError, IsServerError, "server 500"},
			{http.StatusBadGateway, IsServerError, "server 502"},
			{http.StatusServiceUnavailable, IsServerError, "server 503"},
			{http.StatusGatewayTimeout, IsServerError, "server 504"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := NewAPIError(responseWithStatus(tt.statusCode, nil), nil)
				if !tt.check(err) {
					t.Errorf("Expected status %d to map to %s error, got %T", tt.statusCode, tt.name, err)
				}
			})
		}
	})

	t.Run("unmapped status is a plain APIError", func(t *testing.T) {
		err := NewAPIError(responseWithStatus(http.StatusTeapot, nil), nil)
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("Expected *APIError, got %T", err)
		}
		if IsServerError(err) || IsNotFound(err) {
			t.Error("Expected no sub-type match for 418")
		}
	})

	t.Run("body fields parsed", func(t *testing.T) {
		body := []byte(`{"message":"room not found","trackingId":"trk-42"}`)
		err := NewAPIError(responseWithStatus(http.StatusNotFound, nil), body)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("Expected *APIError, got %T", err)
		}
		if apiErr.Message != "room not found" {
			t.Errorf("Expected parsed message, got %q", apiErr.Message)
		}
		if apiErr.TrackingID != "trk-42" {
			t.Errorf("Expected parsed tracking id, got %q", apiErr.TrackingID)
		}
		if string(apiErr.RawBody) != string(body) {
			t.Error("Expected raw body preserved")
		}
	})

	t.Run("non-JSON body preserved raw", func(t *testing.T) {
		err := NewAPIError(responseWithStatus(http.StatusInternalServerError, nil), []byte("<html>boom</html>"))
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("Expected *APIError, got %T", err)
		}
		if apiErr.Message != "" {
			t.Errorf("Expected empty message for non-JSON body, got %q", apiErr.Message)
		}
		if string(apiErr.RawBody) != "<html>boom</html>" {
			t.Error("Expected raw body preserved")
		}
	})

	t.Run("retry-after parsed on 429", func(t *testing.T) {
		err := NewAPIError(responseWithStatus(http.StatusTooManyRequests, map[string]string{"Retry-After": "30"}), nil)
		var rateErr *RateLimitError
		if !errors.As(err, &rateErr) {
			t.Fatalf("Expected *RateLimitError, got %T", err)
		}
		if rateErr.RetryAfter != 30*time.Second {
			t.Errorf("Expected RetryAfter 30s, got %v", rateErr.RetryAfter)
		}
	})

	t.Run("error string", func(t *testing.T) {
		err := NewAPIError(responseWithStatus(http.StatusNotFound, nil), []byte(`{"message":"gone","trackingId":"trk-9"}`))
		msg := err.Error()
		if !strings.Contains(msg, "404") || !strings.Contains(msg, "gone") || !strings.Contains(msg, "trk-9") {
			t.Errorf("Unexpected error string %q", msg)
		}
	})

	t.Run("errors.As reaches base type from sub-type", func(t *testing.T) {
		err := NewAPIError(responseWithStatus(http.StatusUnauthorized, nil), nil)
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatal("Expected errors.As to unwrap to *APIError")
		}
		if apiErr.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", apiErr.StatusCode)
		}
	})
}
