// Package config loads and validates the engine configuration from YAML
// with environment expansion. Secrets stay in the environment; the YAML
// references them as ${VAR} placeholders.
package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	LLM      LLMConfig      `yaml:"llm" mapstructure:"llm"`
	Triggers TriggersConfig `yaml:"triggers" mapstructure:"triggers"`
	Agent    AgentConfig    `yaml:"agent" mapstructure:"agent"`
	Dispatch DispatchConfig `yaml:"dispatch" mapstructure:"dispatch"`
}

type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`

	// PublicBaseURL is the externally reachable base used when arming
	// webhooks and push channels.
	PublicBaseURL string `yaml:"public_base_url" mapstructure:"public_base_url"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Output string `yaml:"output" mapstructure:"output"`
}

type DatabaseConfig struct {
	// Driver is one of sqlite, postgres, mysql.
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
	TTL int    `yaml:"ttl_seconds" mapstructure:"ttl_seconds"`
}

type LLMConfig struct {
	DefaultModel string  `yaml:"default_model" mapstructure:"default_model"`
	Temperature  float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens    int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	CacheTTL     int     `yaml:"cache_ttl_seconds" mapstructure:"cache_ttl_seconds"`
}

type TriggersConfig struct {
	// SigningSecret verifies inbound webhook signatures.
	SigningSecret string `yaml:"signing_secret" mapstructure:"signing_secret"`

	// MinPollInterval floors the polling trigger interval, in seconds.
	MinPollInterval int `yaml:"min_poll_interval_seconds" mapstructure:"min_poll_interval_seconds"`
}

type AgentConfig struct {
	MaxIterations int `yaml:"max_iterations" mapstructure:"max_iterations"`
	MemoryWindow  int `yaml:"memory_window" mapstructure:"memory_window"`

	// LoopDeadline bounds a whole agent run, in seconds.
	LoopDeadline int `yaml:"loop_deadline_seconds" mapstructure:"loop_deadline_seconds"`
}

type DispatchConfig struct {
	DefaultDeadline int `yaml:"default_deadline_seconds" mapstructure:"default_deadline_seconds"`
}

func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.PublicBaseURL == "" {
		c.Server.PublicBaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "kyra.db"
	}
	if c.LLM.DefaultModel == "" {
		c.LLM.DefaultModel = "gpt-4o"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.Triggers.MinPollInterval == 0 {
		c.Triggers.MinPollInterval = 60
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.MemoryWindow == 0 {
		c.Agent.MemoryWindow = 20
	}
	if c.Agent.LoopDeadline == 0 {
		c.Agent.LoopDeadline = 300
	}
	if c.Dispatch.DefaultDeadline == 0 {
		c.Dispatch.DefaultDeadline = 60
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver %q unsupported (sqlite, postgres, mysql)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	if c.Dispatch.DefaultDeadline < 1 || c.Dispatch.DefaultDeadline > 300 {
		return fmt.Errorf("dispatch.default_deadline_seconds must be within 1..300")
	}
	return nil
}

// RedisTTL returns the configured buffer TTL as a duration.
func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTL) * time.Second
}
