package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
)

// Settings is the bridge-facing state kept in the JSONC settings file.
// The file is written by operators and by the id-updater CLI, so it may
// carry comments; those survive saves because writes go through
// SaveSettingsValue rather than a re-marshal.
type Settings struct {
	Version string `json:"version"`

	// Global session pair used when a model has no endpoint map entry.
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`

	// Last choices made in the id-updater, reused as its defaults.
	IDUpdaterLastMode     string `json:"id_updater_last_mode"`
	IDUpdaterBattleTarget string `json:"id_updater_battle_target"`

	UseDefaultIDsIfMappingNotFound bool `json:"use_default_ids_if_mapping_not_found"`

	TavernModeEnabled bool   `json:"tavern_mode_enabled"`
	BypassEnabled     bool   `json:"bypass_enabled"`
	APIKey            string `json:"api_key"`

	// Max seconds between upstream chunks before a stream is abandoned.
	StreamResponseTimeoutSeconds int `json:"stream_response_timeout_seconds"`

	// Trailing space-only user message injected after the last user
	// message for chat-modality payloads.
	InjectTrailingUserSpace bool `json:"inject_trailing_user_space"`

	// Idle restart: when enabled and no API traffic arrives for the
	// timeout, the bridge tells the peer to reconnect and exits so the
	// supervisor can restart it. Timeout <= 0 disables.
	EnableIdleRestart         bool `json:"enable_idle_restart"`
	IdleRestartTimeoutSeconds int  `json:"idle_restart_timeout_seconds"`
}

// DefaultSettings returns the settings used when keys are absent from the file.
func DefaultSettings() Settings {
	return Settings{
		IDUpdaterLastMode:              "direct_chat",
		IDUpdaterBattleTarget:          "A",
		UseDefaultIDsIfMappingNotFound: true,
		StreamResponseTimeoutSeconds:   360,
		InjectTrailingUserSpace:        true,
		IdleRestartTimeoutSeconds:      -1,
	}
}

// LoadSettings reads and parses the JSONC settings file.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings file: %w", err)
	}
	return ParseSettings(data)
}

// ParseSettings parses JSONC settings bytes over the defaults.
func ParseSettings(data []byte) (Settings, error) {
	settings := DefaultSettings()
	if err := json.Unmarshal(jsonc.ToJSON(data), &settings); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	return settings, nil
}

// StreamTimeoutSeconds returns the stream idle timeout, falling back to the
// default when unset.
func (s Settings) StreamTimeoutSeconds() int {
	if s.StreamResponseTimeoutSeconds <= 0 {
		return 360
	}
	return s.StreamResponseTimeoutSeconds
}

// HasPlaceholderIDs reports whether the global session pair still carries
// the unconfigured placeholder values.
func (s Settings) HasPlaceholderIDs() bool {
	return IsPlaceholderID(s.SessionID) || IsPlaceholderID(s.MessageID)
}

// IsPlaceholderID reports whether an id is empty or an unconfigured
// "YOUR_..." placeholder.
func IsPlaceholderID(id string) bool {
	return id == "" || strings.Contains(id, "YOUR_")
}

// writableSettingsKeys are the only keys SaveSettingsValue may touch.
// The value writer edits raw file text, so it is restricted to plain
// string fields.
var writableSettingsKeys = map[string]bool{
	"session_id":               true,
	"message_id":               true,
	"id_updater_last_mode":     true,
	"id_updater_battle_target": true,
}

// SaveSettingsValue rewrites one string value in the settings file in place,
// preserving comments and formatting. Only whitelisted keys are writable.
func SaveSettingsValue(path, key, value string) error {
	if !writableSettingsKeys[key] {
		return fmt.Errorf("settings key %q is not writable", key)
	}
	if strings.ContainsAny(value, "\"\\") {
		return fmt.Errorf("settings value for %q contains unsupported characters", key)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read settings file: %w", err)
	}

	pattern := regexp.MustCompile(`("` + regexp.QuoteMeta(key) + `"\s*:\s*")[^"]*(")`)
	loc := pattern.FindSubmatchIndex(data)
	if loc == nil {
		return fmt.Errorf("settings key %q not found in %s", key, path)
	}

	// Splice the new value between the captured quote groups.
	var out []byte
	out = append(out, data[:loc[3]]...)
	out = append(out, []byte(value)...)
	out = append(out, data[loc[4]:]...)

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}
