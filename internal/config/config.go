// Package config provides configuration loading for remedyd.
package config

import (
	"fmt"
	"time"
)

// Config holds all remedyd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	KnowledgeBank KnowledgeBankConfig `koanf:"knowledgebank"`
	Tickets       TicketsConfig       `koanf:"tickets"`
	DataStore     DataStoreConfig     `koanf:"datastore"`
	Lifecycle     LifecycleConfig     `koanf:"lifecycle"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// KnowledgeBankConfig holds knowledge-bank store settings.
type KnowledgeBankConfig struct {
	Path                 string  `koanf:"path"`
	AutoApproveThreshold float64 `koanf:"auto_approve_threshold"`
	MinApprovalsForAuto  int     `koanf:"min_approvals_for_auto"`
	MatchThreshold       float64 `koanf:"match_threshold"`
}

// TicketsConfig holds escalation ticket log settings.
type TicketsConfig struct {
	Path     string `koanf:"path"`
	IDPrefix string `koanf:"id_prefix"`
}

// DataStoreConfig holds target data store settings.
type DataStoreConfig struct {
	Path         string        `koanf:"path"`
	QueryTimeout time.Duration `koanf:"query_timeout"`
}

// LifecycleConfig holds fix lifecycle settings.
type LifecycleConfig struct {
	PreviewSampleLimit int `koanf:"preview_sample_limit"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8710
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	// Knowledge bank defaults
	if cfg.KnowledgeBank.Path == "" {
		cfg.KnowledgeBank.Path = "knowledge_bank.json"
	}
	if cfg.KnowledgeBank.AutoApproveThreshold == 0 {
		cfg.KnowledgeBank.AutoApproveThreshold = 0.85
	}
	if cfg.KnowledgeBank.MinApprovalsForAuto == 0 {
		cfg.KnowledgeBank.MinApprovalsForAuto = 3
	}
	if cfg.KnowledgeBank.MatchThreshold == 0 {
		cfg.KnowledgeBank.MatchThreshold = 0.3
	}

	// Ticket log defaults
	if cfg.Tickets.Path == "" {
		cfg.Tickets.Path = "tickets.json"
	}
	if cfg.Tickets.IDPrefix == "" {
		cfg.Tickets.IDPrefix = "DQ"
	}

	// Data store defaults
	if cfg.DataStore.Path == "" {
		cfg.DataStore.Path = "remedyd.db"
	}
	if cfg.DataStore.QueryTimeout == 0 {
		cfg.DataStore.QueryTimeout = 30 * time.Second
	}

	// Lifecycle defaults
	if cfg.Lifecycle.PreviewSampleLimit == 0 {
		cfg.Lifecycle.PreviewSampleLimit = 100
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown timeout must not be negative: %v", c.Server.ShutdownTimeout)
	}

	if c.KnowledgeBank.AutoApproveThreshold < 0 || c.KnowledgeBank.AutoApproveThreshold > 1 {
		return fmt.Errorf("auto-approve threshold must be in [0, 1]: %v", c.KnowledgeBank.AutoApproveThreshold)
	}
	if c.KnowledgeBank.MatchThreshold < 0 || c.KnowledgeBank.MatchThreshold > 1 {
		return fmt.Errorf("match threshold must be in [0, 1]: %v", c.KnowledgeBank.MatchThreshold)
	}
	if c.KnowledgeBank.MinApprovalsForAuto < 1 {
		return fmt.Errorf("min approvals for auto-approve must be at least 1: %d", c.KnowledgeBank.MinApprovalsForAuto)
	}

	if c.DataStore.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive: %v", c.DataStore.QueryTimeout)
	}

	if c.Lifecycle.PreviewSampleLimit < 1 {
		return fmt.Errorf("preview sample limit must be at least 1: %d", c.Lifecycle.PreviewSampleLimit)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	return nil
}
