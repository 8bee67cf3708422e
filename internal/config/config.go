// Package config loads server configuration from an optional YAML file with
// environment overrides (HARMONY_* variables, .env supported via godotenv).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Locks     LocksConfig     `yaml:"locks" json:"locks"`
	Tasks     TasksConfig     `yaml:"tasks" json:"tasks"`
	Edits     EditsConfig     `yaml:"edits" json:"edits"`
	Diversity DiversityConfig `yaml:"diversity" json:"diversity"`
	Snapshot  SnapshotConfig  `yaml:"snapshot" json:"snapshot"`
}

type ServerConfig struct {
	Addr         string `yaml:"addr" json:"addr"`                     // listen address, e.g. ":8787"
	ProjectDir   string `yaml:"project_dir" json:"project_dir"`       // directory holding .harmonycode/
	QueueSize    int    `yaml:"queue_size" json:"queue_size"`         // per-session outbound queue
	FrameRate    int    `yaml:"frame_rate" json:"frame_rate"`         // inbound frames/second per session
	FrameBurst   int    `yaml:"frame_burst" json:"frame_burst"`       // inbound burst allowance
	StatsPeriodS int    `yaml:"stats_period_s" json:"stats_period_s"` // stats broadcast period
	LogLevel     string `yaml:"log_level" json:"log_level"`
}

type LocksConfig struct {
	TTLMs         int `yaml:"ttl_ms" json:"ttl_ms"`                   // lock expiry
	SweepPeriodMs int `yaml:"sweep_period_ms" json:"sweep_period_ms"` // sweeper tick
}

type TasksConfig struct {
	TimeoutS  int    `yaml:"timeout_s" json:"timeout_s"` // in-progress task timeout, seconds
	SwarmMode string `yaml:"swarm_mode" json:"swarm_mode"`
}

type EditsConfig struct {
	ConflictWindowMs int `yaml:"conflict_window_ms" json:"conflict_window_ms"`
}

type DiversityConfig struct {
	Enabled            bool    `yaml:"enabled" json:"enabled"`
	StrictMode         bool    `yaml:"strict_mode" json:"strict_mode"`
	MinimumAgents      int     `yaml:"minimum_agents" json:"minimum_agents"`
	MinimumDiversity   float64 `yaml:"minimum_diversity" json:"minimum_diversity"`
	DisagreementQuota  float64 `yaml:"disagreement_quota" json:"disagreement_quota"`
	EvidenceThreshold  float64 `yaml:"evidence_threshold" json:"evidence_threshold"`
	AutoRotate         bool    `yaml:"auto_rotate" json:"auto_rotate"`
	RotationIntervalS  int     `yaml:"rotation_interval_s" json:"rotation_interval_s"`
	AgreementRateLimit float64 `yaml:"agreement_rate_limit" json:"agreement_rate_limit"`
}

type SnapshotConfig struct {
	PeriodS int `yaml:"period_s" json:"period_s"`
}

// Default returns the built-in configuration. The timing constants mirror
// the protocol defaults external front-ends assume.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8787",
			ProjectDir:   ".",
			QueueSize:    256,
			FrameRate:    20,
			FrameBurst:   40,
			StatsPeriodS: 30,
			LogLevel:     "info",
		},
		Locks: LocksConfig{
			TTLMs:         5000,
			SweepPeriodMs: 1000,
		},
		Tasks: TasksConfig{
			TimeoutS:  300,
			SwarmMode: "distributed",
		},
		Edits: EditsConfig{
			ConflictWindowMs: 5000,
		},
		Diversity: DiversityConfig{
			Enabled:            true,
			StrictMode:         false,
			MinimumAgents:      2,
			MinimumDiversity:   0.3,
			DisagreementQuota:  0.2,
			EvidenceThreshold:  0.3,
			AutoRotate:         true,
			RotationIntervalS:  1800,
			AgreementRateLimit: 0.8,
		},
		Snapshot: SnapshotConfig{
			PeriodS: 60,
		},
	}
}

// Load reads the config file at path (JSON for .json, YAML otherwise) on
// top of the defaults, then applies environment overrides. A missing file
// is not an error; a missing .env is ignored too.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env overrides
		case err != nil:
			return nil, fmt.Errorf("open config: %w", err)
		case filepath.Ext(path) == ".json":
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	_ = godotenv.Load()
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the runtime cannot operate with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.QueueSize <= 0 {
		return fmt.Errorf("server.queue_size must be positive")
	}
	if c.Locks.TTLMs <= 0 || c.Locks.SweepPeriodMs <= 0 {
		return fmt.Errorf("lock ttl and sweep period must be positive")
	}
	if c.Tasks.TimeoutS <= 0 {
		return fmt.Errorf("tasks.timeout_s must be positive")
	}
	return nil
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Locks.TTLMs) * time.Millisecond
}

func (c *Config) SweepPeriod() time.Duration {
	return time.Duration(c.Locks.SweepPeriodMs) * time.Millisecond
}

func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Tasks.TimeoutS) * time.Second
}

func (c *Config) ConflictWindow() time.Duration {
	return time.Duration(c.Edits.ConflictWindowMs) * time.Millisecond
}

func (c *Config) SnapshotPeriod() time.Duration {
	return time.Duration(c.Snapshot.PeriodS) * time.Second
}

func (c *Config) StatsPeriod() time.Duration {
	return time.Duration(c.Server.StatsPeriodS) * time.Second
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HARMONY_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("HARMONY_PROJECT_DIR"); v != "" {
		cfg.Server.ProjectDir = v
	}
	if v := os.Getenv("HARMONY_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("HARMONY_LOCK_TTL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Locks.TTLMs = n
		}
	}
	if v := os.Getenv("HARMONY_TASK_TIMEOUT_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tasks.TimeoutS = n
		}
	}
	if v := os.Getenv("HARMONY_STRICT_DIVERSITY"); v != "" {
		cfg.Diversity.StrictMode = v == "1" || v == "true"
	}
}
