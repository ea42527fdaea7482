package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// Preferences are the display settings the user toggles at runtime. Unset
// fields leave the environment value alone.
type Preferences struct {
	ShowAllCounts  *bool `json:"show_all_counts,omitempty"`
	Debug          *bool `json:"debug,omitempty"`
	DropBesideFeed *bool `json:"drop_beside_feed,omitempty"`
}

// LoadPreferences reads the preference file. A missing file is not an error.
// Comments and trailing commas are allowed.
func LoadPreferences(path string) (Preferences, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Preferences{}, nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("read preferences %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Preferences{}, nil
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Preferences{}, fmt.Errorf("preferences %s: invalid JSONC: %w", path, err)
	}
	var p Preferences
	if err := json.Unmarshal(standardized, &p); err != nil {
		return Preferences{}, fmt.Errorf("preferences %s: %w", path, err)
	}
	return p, nil
}

// SavePreferences replaces the preference file atomically.
func SavePreferences(path string, p Preferences) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write preferences %s: %w", path, err)
	}
	return nil
}

// Apply overlays the set preference fields on c.
func (c Config) Apply(p Preferences) Config {
	if p.ShowAllCounts != nil {
		c.ShowAllCounts = *p.ShowAllCounts
	}
	if p.Debug != nil {
		c.Debug = *p.Debug
	}
	if p.DropBesideFeed != nil {
		c.DropBesideFeed = *p.DropBesideFeed
	}
	return c
}

// Merge returns p with the set fields of other layered on top.
func (p Preferences) Merge(other Preferences) Preferences {
	if other.ShowAllCounts != nil {
		p.ShowAllCounts = other.ShowAllCounts
	}
	if other.Debug != nil {
		p.Debug = other.Debug
	}
	if other.DropBesideFeed != nil {
		p.DropBesideFeed = other.DropBesideFeed
	}
	return p
}
