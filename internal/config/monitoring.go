package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// MonitoringConfig tunes the alerting thresholds and the health score.
// Loaded from monitoring.yaml when present; all values have defaults.
type MonitoringConfig struct {
	Alerts AlertThresholds   `yaml:"alerts"`
	Health HealthScoreLimits `yaml:"health"`
}

// DefaultMonitoringConfig returns the built-in thresholds.
func DefaultMonitoringConfig() MonitoringConfig {
	return MonitoringConfig{
		Alerts: AlertThresholds{
			ErrorRate:        0.1,
			P95ResponseTime:  30 * time.Second,
			ActiveRequests:   50,
			PeerDisconnected: 5 * time.Minute,
			Cooldown:         5 * time.Minute,
			HistoryLimit:     100,
		},
		Health: HealthScoreLimits{
			HealthyThreshold:  70,
			DegradedThreshold: 40,
		},
	}
}

// LoadMonitoringConfig reads monitoring.yaml. A missing file yields the
// defaults.
func LoadMonitoringConfig(path string) (MonitoringConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultMonitoringConfig(), nil
		}
		return MonitoringConfig{}, fmt.Errorf("read monitoring config: %w", err)
	}

	cfg := DefaultMonitoringConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return MonitoringConfig{}, fmt.Errorf("parse monitoring config: %w", err)
	}
	return cfg, nil
}

// AlertThresholds define when the alert sweep raises an alert.
type AlertThresholds struct {
	// ErrorRate is the failed-request fraction above which an alert fires.
	ErrorRate float64 `yaml:"error_rate"`

	// P95ResponseTime is the p95 latency above which an alert fires.
	P95ResponseTime time.Duration `yaml:"p95_response_time"`

	// ActiveRequests is the in-flight request count above which an alert fires.
	ActiveRequests int `yaml:"active_requests"`

	// PeerDisconnected is how long the peer may stay away before an alert fires.
	PeerDisconnected time.Duration `yaml:"peer_disconnected"`

	// Cooldown suppresses repeats of the same alert type.
	Cooldown time.Duration `yaml:"cooldown"`

	// HistoryLimit caps the retained alert history.
	HistoryLimit int `yaml:"history_limit"`
}

// Validate performs validation of an AlertThresholds value:
// - Checks that rates and counts are in range
// - Fills zero values with the defaults
func (t *AlertThresholds) Validate() error {
	def := DefaultMonitoringConfig().Alerts

	if t.ErrorRate < 0 || t.ErrorRate > 1 {
		return fmt.Errorf("alert error_rate must be within [0, 1], got %v", t.ErrorRate)
	}
	if t.ErrorRate == 0 {
		t.ErrorRate = def.ErrorRate
	}

	if t.P95ResponseTime < 0 {
		return errors.New("alert p95_response_time must not be negative")
	}
	if t.P95ResponseTime == 0 {
		t.P95ResponseTime = def.P95ResponseTime
	}

	if t.ActiveRequests < 0 {
		return errors.New("alert active_requests must not be negative")
	}
	if t.ActiveRequests == 0 {
		t.ActiveRequests = def.ActiveRequests
	}

	if t.PeerDisconnected == 0 {
		t.PeerDisconnected = def.PeerDisconnected
	}
	if t.Cooldown == 0 {
		t.Cooldown = def.Cooldown
	}
	if t.HistoryLimit <= 0 {
		t.HistoryLimit = def.HistoryLimit
	}

	return nil
}

// unmarshalAlertThresholds implements a custom YAML unmarshaler for
// AlertThresholds. Validates the value after unmarshaling.
func unmarshalAlertThresholds(value *AlertThresholds, data []byte) error {
	type Aux AlertThresholds
	var aux Aux

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}

	*value = AlertThresholds(aux)

	if err := value.Validate(); err != nil {
		return err
	}

	return nil
}

// HealthScoreLimits map the computed health score to a status word.
type HealthScoreLimits struct {
	// HealthyThreshold is the minimum score reported as "healthy".
	HealthyThreshold int `yaml:"healthy_threshold"`

	// DegradedThreshold is the minimum score reported as "degraded";
	// anything below is "unhealthy".
	DegradedThreshold int `yaml:"degraded_threshold"`
}

// Validate performs validation of a HealthScoreLimits value:
// - Checks that thresholds are ordered and within [0, 100]
// - Fills zero values with the defaults
func (l *HealthScoreLimits) Validate() error {
	def := DefaultMonitoringConfig().Health

	if l.HealthyThreshold == 0 {
		l.HealthyThreshold = def.HealthyThreshold
	}
	if l.DegradedThreshold == 0 {
		l.DegradedThreshold = def.DegradedThreshold
	}

	if l.HealthyThreshold < 0 || l.HealthyThreshold > 100 {
		return fmt.Errorf("health healthy_threshold must be within [0, 100], got %d", l.HealthyThreshold)
	}
	if l.DegradedThreshold < 0 || l.DegradedThreshold > l.HealthyThreshold {
		return fmt.Errorf("health degraded_threshold must be within [0, %d], got %d", l.HealthyThreshold, l.DegradedThreshold)
	}

	return nil
}

// unmarshalHealthScoreLimits implements a custom YAML unmarshaler for
// HealthScoreLimits. Validates the value after unmarshaling.
func unmarshalHealthScoreLimits(value *HealthScoreLimits, data []byte) error {
	type Aux HealthScoreLimits
	var aux Aux

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}

	*value = HealthScoreLimits(aux)

	if err := value.Validate(); err != nil {
		return err
	}

	return nil
}

func init() {
	// Register unmarshalers of custom types with the YAML library
	yaml.RegisterCustomUnmarshaler[AlertThresholds](unmarshalAlertThresholds)
	yaml.RegisterCustomUnmarshaler[HealthScoreLimits](unmarshalHealthScoreLimits)
}
