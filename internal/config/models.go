package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ModelEntry is one known model: its upstream id and output type.
type ModelEntry struct {
	ID   string
	Type string
}

// LoadModelMap reads the model map file ("name": "id" or "name": "id:type").
// A missing type defaults to "text"; an id of "null" means the model is known
// by name but has no usable upstream id yet.
func LoadModelMap(path string) (map[string]ModelEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ModelEntry{}, nil
		}
		return nil, fmt.Errorf("read model map: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse model map: %w", err)
	}

	models := make(map[string]ModelEntry, len(raw))
	for name, full := range raw {
		entry := ModelEntry{ID: full, Type: "text"}
		if id, typ, ok := strings.Cut(full, ":"); ok {
			entry.ID, entry.Type = id, typ
		}
		if entry.ID == "null" {
			entry.ID = ""
		}
		models[name] = entry
	}
	return models, nil
}

// EndpointEntry is a captured session pair for one model, optionally pinned
// to an operating mode.
type EndpointEntry struct {
	SessionID    string `json:"session_id"`
	MessageID    string `json:"message_id"`
	Mode         string `json:"mode,omitempty"`
	BattleTarget string `json:"battle_target,omitempty"`
}

// LoadEndpointMap reads the per-model endpoint map. Values may be a single
// entry or a list of entries; single entries are normalized to one-element
// lists so callers can always pick randomly.
func LoadEndpointMap(path string) (map[string][]EndpointEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]EndpointEntry{}, nil
		}
		return nil, fmt.Errorf("read endpoint map: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse endpoint map: %w", err)
	}

	endpoints := make(map[string][]EndpointEntry, len(raw))
	for name, value := range raw {
		var list []EndpointEntry
		if err := json.Unmarshal(value, &list); err == nil {
			endpoints[name] = list
			continue
		}
		var single EndpointEntry
		if err := json.Unmarshal(value, &single); err != nil {
			return nil, fmt.Errorf("parse endpoint map entry for %q: %w", name, err)
		}
		endpoints[name] = []EndpointEntry{single}
	}
	return endpoints, nil
}

// WarmupPlan describes the sessions to open after the peer connects.
type WarmupPlan struct {
	Models             []WarmupModel `json:"models"`
	SessionsPerModel   int           `json:"sessions_per_model"`
	InitialPrompt      string        `json:"initial_prompt"`
	WarmupDelaySeconds int           `json:"warmup_delay_seconds"`
}

// WarmupModel names one model to warm, with its upstream id.
type WarmupModel struct {
	PublicName string `json:"publicName"`
	ID         string `json:"id"`
}

// LoadWarmupPlan reads the warmup plan file. A missing file disables warmup.
func LoadWarmupPlan(path string) (WarmupPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return WarmupPlan{}, nil
		}
		return WarmupPlan{}, fmt.Errorf("read warmup plan: %w", err)
	}

	plan := WarmupPlan{
		SessionsPerModel:   1,
		InitialPrompt:      "hello",
		WarmupDelaySeconds: 2,
	}
	if err := json.Unmarshal(data, &plan); err != nil {
		return WarmupPlan{}, fmt.Errorf("parse warmup plan: %w", err)
	}
	return plan, nil
}

// SaveAvailableModels writes the raw model objects extracted from the peer's
// page source. Kept verbatim so operators can copy ids into the model map.
func SaveAvailableModels(path string, models []map[string]interface{}) error {
	data, err := json.MarshalIndent(models, "", "  ")
	if err != nil {
		return fmt.Errorf("encode available models: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write available models: %w", err)
	}
	return nil
}
