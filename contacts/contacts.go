/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package contacts persists the recent-call contact cache and the per-kind
// call suppression preferences in a local SQLite database. The cache exists
// so wakeup pushes with degraded payloads (missing caller id) can be
// resolved against counterparts seen in earlier calls.
package contacts

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/harborchat/voip-go-sdk/voipsdk"
	_ "modernc.org/sqlite"
)

// Contact is a cached counterpart from a recent call.
type Contact struct {
	FriendID   string
	FullName   string
	Photo      string
	PushToken  string
	VoIPToken  string
	DeviceType string
	MobileNo   string
	IsVideo    bool
	UpdatedAt  time.Time
}

// Preference keys in the settings table.
const (
	settingVoiceCalls = "voice_calls_enabled"
	settingVideoCalls = "video_calls_enabled"
)

// Config holds configuration for the contact store.
type Config struct {
	// Path is the SQLite database file. ":memory:" keeps the store in
	// memory, which is what tests use.
	Path string

	// MaxEntries caps the cache; the oldest entries beyond it are trimmed
	// after every save.
	MaxEntries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Path:       "harbor-contacts.db",
		MaxEntries: 50,
	}
}

// Store is the SQLite-backed contact cache.
type Store struct {
	db     *sql.DB
	config *Config
	logger voipsdk.Logger
}

// Open opens (creating if needed) the contact database.
func Open(config *Config, logger voipsdk.Logger) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultConfig().MaxEntries
	}
	if logger == nil {
		logger = voipsdk.NewDefaultLogger()
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// One connection: serializes writers and keeps ":memory:" databases from
	// splitting across pooled connections.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, config: config, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS recent_contacts (
		friend_id   TEXT PRIMARY KEY,
		full_name   TEXT NOT NULL DEFAULT '',
		photo       TEXT NOT NULL DEFAULT '',
		push_token  TEXT NOT NULL DEFAULT '',
		voip_token  TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL DEFAULT '',
		mobile_no   TEXT NOT NULL DEFAULT '',
		is_video    INTEGER NOT NULL DEFAULT 0,
		updated_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recent_contacts_photo ON recent_contacts(photo);

	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveFromCall upserts a contact seen in a call. Non-empty incoming fields
// win; empty ones keep whatever was stored before, so a degraded push does
// not erase data a richer push provided earlier. The cache is trimmed to
// MaxEntries afterwards.
func (s *Store) SaveFromCall(c Contact) error {
	if c.FriendID == "" {
		return fmt.Errorf("contact missing friend id")
	}
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO recent_contacts
			(friend_id, full_name, photo, push_token, voip_token, device_type, mobile_no, is_video, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(friend_id) DO UPDATE SET
			full_name   = CASE WHEN excluded.full_name   != '' THEN excluded.full_name   ELSE full_name   END,
			photo       = CASE WHEN excluded.photo       != '' THEN excluded.photo       ELSE photo       END,
			push_token  = CASE WHEN excluded.push_token  != '' THEN excluded.push_token  ELSE push_token  END,
			voip_token  = CASE WHEN excluded.voip_token  != '' THEN excluded.voip_token  ELSE voip_token  END,
			device_type = CASE WHEN excluded.device_type != '' THEN excluded.device_type ELSE device_type END,
			mobile_no   = CASE WHEN excluded.mobile_no   != '' THEN excluded.mobile_no   ELSE mobile_no   END,
			is_video    = excluded.is_video,
			updated_at  = excluded.updated_at`,
		c.FriendID, c.FullName, c.Photo, c.PushToken, c.VoIPToken, c.DeviceType, c.MobileNo, boolToInt(c.IsVideo), now)
	if err != nil {
		return fmt.Errorf("saving contact: %w", err)
	}
	return s.trim()
}

func (s *Store) trim() error {
	_, err := s.db.Exec(`
		DELETE FROM recent_contacts WHERE friend_id NOT IN (
			SELECT friend_id FROM recent_contacts
			ORDER BY updated_at DESC, friend_id
			LIMIT ?
		)`, s.config.MaxEntries)
	if err != nil {
		return fmt.Errorf("trimming contacts: %w", err)
	}
	return nil
}

// Lookup returns the cached contact for a counterpart id.
func (s *Store) Lookup(friendID string) (Contact, bool) {
	return s.queryOne(`SELECT friend_id, full_name, photo, push_token, voip_token, device_type, mobile_no, is_video, updated_at
		FROM recent_contacts WHERE friend_id = ?`, friendID)
}

// LookupByPhoto returns the most recently updated contact whose photo URL
// matches. Photo URLs are not guaranteed unique across contacts; this is a
// fallback heuristic for pushes that omit the caller id.
func (s *Store) LookupByPhoto(photoURL string) (Contact, bool) {
	if photoURL == "" {
		return Contact{}, false
	}
	return s.queryOne(`SELECT friend_id, full_name, photo, push_token, voip_token, device_type, mobile_no, is_video, updated_at
		FROM recent_contacts WHERE photo = ?
		ORDER BY updated_at DESC LIMIT 1`, photoURL)
}

// Recent returns up to limit contacts, most recently seen first.
func (s *Store) Recent(limit int) ([]Contact, error) {
	if limit <= 0 {
		limit = s.config.MaxEntries
	}
	rows, err := s.db.Query(`SELECT friend_id, full_name, photo, push_token, voip_token, device_type, mobile_no, is_video, updated_at
		FROM recent_contacts ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes a contact from the cache.
func (s *Store) Delete(friendID string) error {
	_, err := s.db.Exec(`DELETE FROM recent_contacts WHERE friend_id = ?`, friendID)
	return err
}

// VoiceCallsEnabled reports the voice-call preference. Defaults to true
// when never set.
func (s *Store) VoiceCallsEnabled() bool {
	return s.boolSetting(settingVoiceCalls)
}

// VideoCallsEnabled reports the video-call preference. Defaults to true
// when never set.
func (s *Store) VideoCallsEnabled() bool {
	return s.boolSetting(settingVideoCalls)
}

// SetVoiceCallsEnabled stores the voice-call preference.
func (s *Store) SetVoiceCallsEnabled(enabled bool) error {
	return s.setBoolSetting(settingVoiceCalls, enabled)
}

// SetVideoCallsEnabled stores the video-call preference.
func (s *Store) SetVideoCallsEnabled(enabled bool) error {
	return s.setBoolSetting(settingVideoCalls, enabled)
}

func (s *Store) boolSetting(key string) bool {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return true
	}
	if err != nil {
		s.logger.Printf("contacts: reading setting %s: %v", key, err)
		return true
	}
	return value != "false"
}

func (s *Store) setBoolSetting(key string, enabled bool) error {
	value := "true"
	if !enabled {
		value = "false"
	}
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) queryOne(query string, args ...any) (Contact, bool) {
	row := s.db.QueryRow(query, args...)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return Contact{}, false
	}
	if err != nil {
		s.logger.Printf("contacts: lookup: %v", err)
		return Contact{}, false
	}
	return c, true
}

func scanContact(r rowScanner) (Contact, error) {
	var c Contact
	var isVideo int
	var updatedAt int64
	err := r.Scan(&c.FriendID, &c.FullName, &c.Photo, &c.PushToken, &c.VoIPToken, &c.DeviceType, &c.MobileNo, &isVideo, &updatedAt)
	if err != nil {
		return Contact{}, err
	}
	c.IsVideo = isVideo != 0
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
