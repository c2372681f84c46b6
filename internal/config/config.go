// Package config provides YAML-based configuration loading for Backlogsmith.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Backlogsmith configuration, loaded from
// backlogsmith.yaml.
type Config struct {
	Project    ProjectConfig    `yaml:"project"`
	Database   DatabaseConfig   `yaml:"database"`
	Azure      AzureConfig      `yaml:"azure"`
	LLM        LLMConfig        `yaml:"llm"`
	Upload     UploadConfig     `yaml:"upload"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Notify     NotifyConfig     `yaml:"notify"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
}

// ProjectConfig identifies the product being planned.
type ProjectConfig struct {
	Name     string `yaml:"name"`
	AreaPath string `yaml:"area_path"`
}

// DatabaseConfig selects the staging database: a local SQLite file by
// default, or a shared MySQL server.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "mysql"
	Path   string `yaml:"path"`   // sqlite file path
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	User   string `yaml:"user"`
	Name   string `yaml:"name"`
}

// AzureConfig holds connection settings for the Azure DevOps organization.
// The PAT (or OAuth client secret) is read from the environment, never from
// the config file.
type AzureConfig struct {
	OrgURL          string `yaml:"org_url"` // e.g. https://dev.azure.com/myorg
	Project         string `yaml:"project"`
	PATEnv          string `yaml:"pat_env"`
	ClientID        string `yaml:"client_id"` // optional OAuth2 client credentials
	ClientSecretEnv string `yaml:"client_secret_env"`
	TokenURL        string `yaml:"token_url"`
}

// LLMConfig configures the content-generation agents.
type LLMConfig struct {
	Model       string `yaml:"model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	MaxEpics    int    `yaml:"max_epics"`
	MaxFeatures int    `yaml:"max_features"` // per epic
	MaxStories  int    `yaml:"max_stories"`  // per feature
	MaxTasks    int    `yaml:"max_tasks"`    // per story
	MaxTests    int    `yaml:"max_tests"`    // per story
}

// UploadConfig tunes the outbox uploader.
type UploadConfig struct {
	BatchSize    int `yaml:"batch_size"`
	ItemDelayMS  int `yaml:"item_delay_ms"`
	BatchDelayMS int `yaml:"batch_delay_ms"`
	MaxRetries   int `yaml:"max_retries"`
	BaseDelayMS  int `yaml:"base_delay_ms"`
}

// SupervisorConfig tunes the stage-execution loop.
type SupervisorConfig struct {
	MaxItemRetries  int `yaml:"max_item_retries"`
	MaxStagePasses  int `yaml:"max_stage_passes"`
	Parallelism     int `yaml:"parallelism"`
	StageTimeoutSec int `yaml:"stage_timeout_sec"`
}

// NotifyConfig configures run-completion notifications.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig configures the Slack notifier.
type SlackConfig struct {
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`
}

// DiscordConfig configures the Discord notifier.
type DiscordConfig struct {
	TokenEnv  string `yaml:"token_env"`
	ChannelID string `yaml:"channel_id"`
}

// DashboardConfig configures the read-only status server.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Project.AreaPath == "" && c.Project.Name != "" {
		c.Project.AreaPath = c.Project.Name
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "backlogsmith.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Name == "" {
		c.Database.Name = "backlogsmith"
	}
	if c.Azure.PATEnv == "" {
		c.Azure.PATEnv = "AZURE_DEVOPS_PAT"
	}
	if c.Azure.ClientSecretEnv == "" {
		c.Azure.ClientSecretEnv = "AZURE_CLIENT_SECRET"
	}
	if c.Azure.Project == "" {
		c.Azure.Project = c.Project.Name
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "claude-haiku-4-5"
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if c.LLM.MaxEpics == 0 {
		c.LLM.MaxEpics = 5
	}
	if c.LLM.MaxFeatures == 0 {
		c.LLM.MaxFeatures = 5
	}
	if c.LLM.MaxStories == 0 {
		c.LLM.MaxStories = 5
	}
	if c.LLM.MaxTasks == 0 {
		c.LLM.MaxTasks = 6
	}
	if c.LLM.MaxTests == 0 {
		c.LLM.MaxTests = 4
	}
	if c.Upload.BatchSize == 0 {
		c.Upload.BatchSize = 10
	}
	if c.Upload.ItemDelayMS == 0 {
		c.Upload.ItemDelayMS = 250
	}
	if c.Upload.BatchDelayMS == 0 {
		c.Upload.BatchDelayMS = 2000
	}
	if c.Upload.MaxRetries == 0 {
		c.Upload.MaxRetries = 3
	}
	if c.Upload.BaseDelayMS == 0 {
		c.Upload.BaseDelayMS = 1000
	}
	if c.Supervisor.MaxItemRetries == 0 {
		c.Supervisor.MaxItemRetries = 5
	}
	if c.Supervisor.MaxStagePasses == 0 {
		c.Supervisor.MaxStagePasses = 10
	}
	if c.Supervisor.Parallelism == 0 {
		c.Supervisor.Parallelism = 4
	}
	if c.Supervisor.StageTimeoutSec == 0 {
		c.Supervisor.StageTimeoutSec = 300
	}
	if c.Notify.Slack.TokenEnv == "" {
		c.Notify.Slack.TokenEnv = "SLACK_BOT_TOKEN"
	}
	if c.Notify.Discord.TokenEnv == "" {
		c.Notify.Discord.TokenEnv = "DISCORD_BOT_TOKEN"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Project.Name == "" {
		errs = append(errs, "project.name is required")
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "mysql" {
		errs = append(errs, fmt.Sprintf("database.driver %q is invalid (must be sqlite or mysql)", c.Database.Driver))
	}
	if c.Azure.OrgURL != "" && !strings.HasPrefix(c.Azure.OrgURL, "http") {
		errs = append(errs, "azure.org_url must be an http(s) URL")
	}
	if c.Azure.ClientID != "" && c.Azure.TokenURL == "" {
		errs = append(errs, "azure.token_url is required when azure.client_id is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
