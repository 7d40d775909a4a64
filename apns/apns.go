/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package apns handles the VoIP push plumbing: ES256 provider tokens for
// the Apple push gateway, delivery of wakeup pushes to a callee's device,
// and the local device's push-token lifecycle against the Harbor backend.
package apns

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/harborchat/voip-go-sdk/voipsdk"
)

// Config holds configuration for the APNs client.
type Config struct {
	// KeyID is the 10-character Apple key id (JWT "kid" header).
	KeyID string

	// TeamID is the Apple developer team id (JWT "iss" claim).
	TeamID string

	// PrivateKeyPEM is the ES256 signing key in PKCS#8 PEM form.
	PrivateKeyPEM []byte

	// BundleID is the app bundle id; the VoIP topic is BundleID + ".voip".
	BundleID string

	// GatewayURL is the push gateway. Defaults to production.
	GatewayURL string

	// TokenTTL is how long a provider token is reused before re-signing.
	// Apple requires tokens between 20 and 60 minutes old.
	TokenTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		GatewayURL: "https://api.push.apple.com",
		TokenTTL:   50 * time.Minute,
	}
}

// Client signs provider tokens and talks to the push gateway and the Harbor
// backend.
type Client struct {
	core   *voipsdk.Client
	config *Config
	logger voipsdk.Logger

	mu          sync.Mutex
	signingKey  *ecdsa.PrivateKey
	cachedToken string
	tokenIssued time.Time
}

// New creates a new APNs client.
func New(core *voipsdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.GatewayURL == "" {
		config.GatewayURL = DefaultConfig().GatewayURL
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultConfig().TokenTTL
	}
	logger := voipsdk.NewDefaultLogger()
	if core != nil {
		logger = core.GetLogger()
	}
	return &Client{
		core:   core,
		config: config,
		logger: logger,
	}
}

// ProviderToken returns a signed ES256 provider token, reusing the cached
// one until TokenTTL elapses.
func (c *Client) ProviderToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cachedToken != "" && time.Since(c.tokenIssued) < c.config.TokenTTL {
		return c.cachedToken, nil
	}

	if c.signingKey == nil {
		key, err := parseES256Key(c.config.PrivateKeyPEM)
		if err != nil {
			return "", err
		}
		c.signingKey = key
	}

	now := time.Now()
	token, err := signProviderToken(c.signingKey, c.config.KeyID, c.config.TeamID, now)
	if err != nil {
		return "", err
	}
	c.cachedToken = token
	c.tokenIssued = now
	return token, nil
}

// signProviderToken builds the compact JWT Apple expects: ES256 with the
// key id in the header, and team id plus issued-at in the claims.
func signProviderToken(key *ecdsa.PrivateKey, keyID, teamID string, issuedAt time.Time) (string, error) {
	opts := (&jose.SignerOptions{}).WithHeader(jose.HeaderKey("kid"), keyID)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: key}, opts)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	claims, err := json.Marshal(map[string]interface{}{
		"iss": teamID,
		"iat": issuedAt.Unix(),
	})
	if err != nil {
		return "", err
	}

	obj, err := signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("signing provider token: %w", err)
	}
	return obj.CompactSerialize()
}

func parseES256Key(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in signing key")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing signing key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is not an ECDSA key")
	}
	return key, nil
}

// VoIPPush is the payload delivered to the callee's device to wake it for
// an incoming call.
type VoIPPush struct {
	RoomID        string `json:"roomId"`
	CallerID      string `json:"uid"`
	CallerName    string `json:"name"`
	CallerPhoto   string `json:"photo,omitempty"`
	CallerPhone   string `json:"senderPhone,omitempty"`
	ReceiverID    string `json:"receiverId"`
	ReceiverPhone string `json:"phone,omitempty"`
	BodyKey       string `json:"bodyKey"`
}

// SendVoIPPush delivers a wakeup push to a device token through the push
// gateway.
func (c *Client) SendVoIPPush(deviceToken string, push *VoIPPush) error {
	if deviceToken == "" {
		return fmt.Errorf("empty device token")
	}
	token, err := c.ProviderToken()
	if err != nil {
		return err
	}

	body, err := json.Marshal(push)
	if err != nil {
		return err
	}

	url := c.config.GatewayURL + "/3/device/" + deviceToken
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apns-topic", c.config.BundleID+".voip")
	req.Header.Set("apns-push-type", "voip")
	req.Header.Set("apns-priority", "10")

	httpClient := http.DefaultClient
	if c.core != nil {
		httpClient = c.core.GetHTTPClient()
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push gateway returned %s", resp.Status)
	}
	return nil
}

// ---- Device token lifecycle ----

// tokenUpload is the backend registration body for the local device.
type tokenUpload struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
	VoIP     bool   `json:"voip"`
}

// UpdateDeviceToken registers the local device's VoIP push token with the
// Harbor backend so peers can ring this device.
func (c *Client) UpdateDeviceToken(token string) error {
	if c.core == nil {
		return fmt.Errorf("no core client configured")
	}
	if token == "" {
		return fmt.Errorf("empty device token")
	}
	resp, err := c.core.Request(http.MethodPut, "devices/voip-token", nil, &tokenUpload{
		Token:    token,
		Platform: "ios",
		VoIP:     true,
	})
	if err != nil {
		return fmt.Errorf("uploading device token: %w", err)
	}
	defer resp.Body.Close()
	return voipsdk.CheckResponse(resp)
}

// InvalidateDeviceToken removes the local device's VoIP push token from the
// backend. Called when the platform invalidates the token or on logout.
func (c *Client) InvalidateDeviceToken() error {
	if c.core == nil {
		return fmt.Errorf("no core client configured")
	}
	resp, err := c.core.Request(http.MethodDelete, "devices/voip-token", nil, nil)
	if err != nil {
		return fmt.Errorf("invalidating device token: %w", err)
	}
	defer resp.Body.Close()
	return voipsdk.CheckResponse(resp)
}
