package main

import (
	"encoding/json"
	"os"

	"github.com/armhub-dev/armhub/pkg/soarm"
)

const defaultConfigFile = "armhub.json"

// fileConfig is everything armhub persists between runs.
type fileConfig struct {
	Leader   armEntry   `json:"leader"`
	Follower armEntry   `json:"follower"`
	Relay    relayEntry `json:"relay,omitempty"`
}

// armEntry holds one arm's port and saved calibration.
type armEntry struct {
	Port        string       `json:"port"`
	Calibration soarm.Preset `json:"calibration,omitempty"`
}

func (a *armEntry) isCalibrated() bool {
	for _, cal := range a.Calibration {
		if cal.Calibrated {
			return true
		}
	}
	return false
}

type relayEntry struct {
	URL         string `json:"url,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`
}

// arm returns the entry for a role, "leader" or "follower".
func (c *fileConfig) arm(role string) *armEntry {
	if role == "follower" {
		return &c.Follower
	}
	return &c.Leader
}

func loadConfig() (*fileConfig, error) {
	data, err := os.ReadFile(defaultConfigFile)
	if err != nil {
		return nil, err
	}
	var cfg fileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadOrNewConfig returns the saved configuration, or an empty one when
// none exists yet.
func loadOrNewConfig() *fileConfig {
	cfg, err := loadConfig()
	if err != nil {
		return &fileConfig{}
	}
	return cfg
}

func (c *fileConfig) save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(defaultConfigFile, data, 0644)
}
