package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the seqtune configuration file
// (~/.config/seqtune/config.yaml). Numeric fields are pointers so "not set"
// is distinguishable from zero.
type Config struct {
	// Training defaults
	Epochs     *int64   `yaml:"epochs"`
	BatchSize  *int64   `yaml:"batch_size"`
	SeqLen     *int64   `yaml:"seq_len"`
	Hidden     *int64   `yaml:"hidden"`
	LR         *float64 `yaml:"lr"`
	Seed       *int64   `yaml:"seed"`
	Accumulate *int64   `yaml:"accumulate"`
	Patience   *int64   `yaml:"patience"`

	// Paths
	CheckpointsDir string `yaml:"checkpoints_dir"`

	// Monitor
	MonitorAddress string `yaml:"monitor_address"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "seqtune", "config.yaml")
}

// applyTrainConfig applies config file defaults to train command variables
// when the corresponding CLI flag was not explicitly set.
func applyTrainConfig(c *cli.Command, cfg Config,
	epochs, batchSize, seqLen, hidden *int64, lr *float64,
	seed, accumulate, patience *int64, checkpoints, monitorAddr *string,
) {
	if cfg.Epochs != nil && !c.IsSet("epochs") {
		*epochs = *cfg.Epochs
	}
	if cfg.BatchSize != nil && !c.IsSet("batch-size") {
		*batchSize = *cfg.BatchSize
	}
	if cfg.SeqLen != nil && !c.IsSet("seq-len") {
		*seqLen = *cfg.SeqLen
	}
	if cfg.Hidden != nil && !c.IsSet("hidden") {
		*hidden = *cfg.Hidden
	}
	if cfg.LR != nil && !c.IsSet("lr") {
		*lr = *cfg.LR
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		*seed = *cfg.Seed
	}
	if cfg.Accumulate != nil && !c.IsSet("accumulate") {
		*accumulate = *cfg.Accumulate
	}
	if cfg.Patience != nil && !c.IsSet("patience") {
		*patience = *cfg.Patience
	}
	if cfg.CheckpointsDir != "" && !c.IsSet("checkpoints") {
		*checkpoints = cfg.CheckpointsDir
	}
	if cfg.MonitorAddress != "" && !c.IsSet("monitor-addr") {
		*monitorAddr = cfg.MonitorAddress
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or cannot be parsed.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
