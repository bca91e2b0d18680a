package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DBConfig covers db.connection_url / db.connection_pool_size.
type DBConfig struct {
	ConnectionURL     string `yaml:"connection_url"`
	ConnectionPoolSize int   `yaml:"connection_pool_size"`
}

// AgentConfig covers universal_agent.* keys.
type AgentConfig struct {
	NodeID           string                        `yaml:"node_id"`
	ProjectID        string                        `yaml:"project_id"`
	AuthEndpoint     string                        `yaml:"auth_endpoint"`
	OrchEndpoint     string                        `yaml:"orch_endpoint"`
	StatusEndpoint   string                        `yaml:"status_endpoint"`
	CapsDrivers      []string                      `yaml:"caps_drivers"`
	StaticCredential string                        `yaml:"static_credential"`
	PollInterval     time.Duration                 `yaml:"poll_interval"`
	DriverConfig     map[string]map[string]string `yaml:"driver_config"`
}

// SchedulerConfig covers universal_agent_scheduler.*.
type SchedulerConfig struct {
	Capabilities     []string      `yaml:"capabilities"`
	StalenessBound   time.Duration `yaml:"staleness_bound"`
}

// LogConfig controls pkg/log.Init.
type LogConfig struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"json_output"`
}

// HTTPConfig covers http_api.*, the listen address for the orchestrator's
// agent-facing endpoints (pkg/transport/httpapi).
type HTTPConfig struct {
	ListenAddr        string `yaml:"listen_addr"`
	MetricsListenAddr string `yaml:"metrics_listen_addr"`
}

// OrchestratorConfig covers orchestrator.*: the reconciliation tuning
// knobs pkg/orchestrator.Config otherwise defaults on its own.
type OrchestratorConfig struct {
	ProjectID      string        `yaml:"project_id"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ClaimBatchSize int           `yaml:"claim_batch_size"`
	LeaseWindow    time.Duration `yaml:"lease_window"`
	StuckAfter     time.Duration `yaml:"stuck_after"`
	MaxAttempts    int           `yaml:"max_attempts"`
}

// Config is the single explicit value every constructor in Genesis Core
// takes instead of reading ambient globals, per spec.md §9.
type Config struct {
	DB           DBConfig           `yaml:"db"`
	Agent        AgentConfig        `yaml:"universal_agent"`
	Scheduler    SchedulerConfig    `yaml:"universal_agent_scheduler"`
	Log          LogConfig          `yaml:"log"`
	HTTP         HTTPConfig         `yaml:"http_api"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

func defaults() Config {
	return Config{
		DB: DBConfig{ConnectionPoolSize: 10},
		Agent: AgentConfig{
			PollInterval: 5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			StalenessBound: 30 * time.Second,
		},
		Log:  LogConfig{Level: "info"},
		HTTP: HTTPConfig{ListenAddr: ":8443", MetricsListenAddr: ":9090"},
	}
}

// Load reads a single YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDir reads every *.yaml/*.yml file in dir, in lexical order, layering
// each on top of the last so later files override earlier ones. This
// mirrors --config-dir support in the teacher's CLI conventions.
func LoadDir(dir string) (*Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read config dir %s: %w", dir, err)
	}
	cfg := defaults()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", entry.Name(), err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", entry.Name(), err)
		}
	}
	return &cfg, nil
}
