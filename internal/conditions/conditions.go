package conditions

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Snapshot is one reading of the observatory safety flag.
type Snapshot struct {
	Safe       bool      `json:"safe"`
	Reason     string    `json:"reason,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// Evaluate decides whether the snapshot permits observing at the given
// time. Stale or missing readings are unsafe.
func (s Snapshot) Evaluate(now time.Time, maxAge time.Duration) (bool, string) {
	if s.ObservedAt.IsZero() {
		return false, "no conditions reading available"
	}
	if age := now.Sub(s.ObservedAt); age > maxAge {
		return false, fmt.Sprintf("conditions reading stale by %s", age.Round(time.Second))
	}
	if !s.Safe {
		reason := s.Reason
		if reason == "" {
			reason = "conditions flagged unsafe"
		}
		return false, reason
	}
	return true, ""
}

// ReadFile loads a snapshot from the conditions flag file.
func ReadFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read conditions file: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("parse conditions file: %w", err)
	}
	return snapshot, nil
}

// WriteFile publishes a snapshot, used by tests and the simulated monitor.
func WriteFile(path string, snapshot Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write conditions file: %w", err)
	}
	return nil
}
