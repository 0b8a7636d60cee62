package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// OperatingMode selects whether the multi-slice radio backend and
// supervisor are active at all (spec.md §6).
type OperatingMode string

const (
	ModeFlex     OperatingMode = "flex"
	ModeStandard OperatingMode = "standard"
)

// Config is the single JSON document read at startup. Unknown top-level or
// nested fields are tolerated silently by encoding/json's default decode
// behavior, matching spec.md §9's "treat unknown fields as ignorable"
// guidance for the configuration file's organic evolution.
type Config struct {
	Mode    OperatingMode  `json:"mode"`
	Station StationConfig  `json:"station"`
	Flex    FlexConfig     `json:"flex"`
	WSJTX   WSJTXConfig    `json:"wsjtx"`
	Logbook LogbookConfig  `json:"logbook"`
	Dashboard DashboardConfig `json:"dashboard"`
	Telemetry MQTTConfig `json:"telemetry"`
	Metrics MetricsConfig `json:"metrics"`
}

type StationConfig struct {
	Callsign  string   `json:"callsign"`
	Grid      string   `json:"grid"`
	Continent string   `json:"continent"`
	DXCC      string   `json:"dxcc"`
	Prefixes  []string `json:"prefixes"`
}

type FlexConfig struct {
	Host         string   `json:"host"`
	CATBasePort  int      `json:"cat-base-port"`
	DefaultBands []uint64 `json:"default-bands"`
}

type WSJTXConfig struct {
	Path string `json:"path"`
}

type LogbookConfig struct {
	Path            string `json:"path"`
	EnableHRDServer bool   `json:"enable-hrd-server"`
	HRDPort         int    `json:"hrd-port"`
}

// DashboardConfig fields are consumed by the optional observer surface this
// hub exposes alongside the AI tool layer; the core only reads these two.
type DashboardConfig struct {
	StationLifetimeSeconds int            `json:"station-lifetime-seconds"`
	SNRThresholds          map[string]int `json:"snr-thresholds"`
}

// LoadConfig reads and parses the JSON configuration document at path,
// applying the defaults spec.md §6 implies when optional sections are
// absent.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Mode == "" {
		cfg.Mode = ModeStandard
	}
	if cfg.Flex.CATBasePort == 0 {
		cfg.Flex.CATBasePort = flexDefaultPort
	}
	if cfg.Logbook.Path == "" {
		cfg.Logbook.Path = defaultLogbookPath()
	}
	if cfg.Logbook.HRDPort == 0 {
		cfg.Logbook.HRDPort = hrdAggregatePort
	}

	return &cfg, nil
}

// defaultLogbookPath mirrors spec.md §6's "default path under the user's
// per-app data directory".
func defaultLogbookPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return dir + "/wsjtx-hub/log.adi"
}

// StationProfileFrom projects the station section of a config into the
// StationProfile the enrichment and QSO machinery consume.
func StationProfileFrom(s StationConfig) StationProfile {
	return StationProfile{
		Callsign:      s.Callsign,
		Continent:     s.Continent,
		DXCCPrefix:    s.DXCC,
		KnownPrefixes: s.Prefixes,
		Grid:          s.Grid,
	}
}
