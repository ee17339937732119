package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Proxmox       ProxmoxConfig       `koanf:"proxmox"`
	Poll          PollConfig          `koanf:"poll"`
	Actions       ActionsConfig       `koanf:"actions"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Baseline      BaselineConfig      `koanf:"baseline"`
	LogLevel      string              `koanf:"log_level"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Addr         string        `koanf:"addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// ProxmoxConfig represents the connection to the Proxmox VE API
type ProxmoxConfig struct {
	Address        string        `koanf:"address"`  // e.g. https://pve1.example.com:8006
	TokenID        string        `koanf:"token_id"` // user@realm!tokenname
	TokenSecret    string        `koanf:"token_secret"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	TLS            *TLSConfig    `koanf:"tls"`
	InsecureTLS    bool          `koanf:"insecure_tls"` // skip certificate verification (self-signed clusters)
}

// TLSConfig represents client TLS material for the Proxmox API
type TLSConfig struct {
	CA   string `koanf:"ca"`
	Cert string `koanf:"cert"`
	Key  string `koanf:"key"`
}

// PollConfig represents polling cadence configuration
type PollConfig struct {
	ClusterInterval time.Duration `koanf:"cluster_interval"` // cluster-wide listing
	GuestInterval   time.Duration `koanf:"guest_interval"`   // per-guest current status
	DetailEvery     int           `koanf:"detail_every"`     // full detail refetch every Nth guest tick
	ChartWindow     time.Duration `koanf:"chart_window"`     // trailing sample retention for charts
	DashboardWindow time.Duration `koanf:"dashboard_window"` // trailing sample retention for the dashboard
	NodeConcurrency int           `koanf:"node_concurrency"` // parallel node status fetches per cluster tick
}

// ActionsConfig represents power action orchestration configuration
type ActionsConfig struct {
	JobPollInterval time.Duration `koanf:"job_poll_interval"`
	JobPollDeadline time.Duration `koanf:"job_poll_deadline"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"` // guest shutdown grace passed to the cluster
}

// NotificationsConfig represents state-change alerting configuration
type NotificationsConfig struct {
	Enabled        bool   `koanf:"enabled"`
	AlertOnChanges bool   `koanf:"alert_on_status_changes"`
	NATSAddr       string `koanf:"nats_addr"`
	NATSSubject    string `koanf:"nats_subject"`
}

// BaselineConfig represents the durable state baseline store
type BaselineConfig struct {
	Backend       string        `koanf:"backend"` // badger | etcd
	Path          string        `koanf:"path"`    // badger data directory
	EtcdEndpoints []string      `koanf:"etcd_endpoints"`
	EtcdUsername  string        `koanf:"etcd_username"`
	EtcdPassword  string        `koanf:"etcd_password"`
	RecordTTL     time.Duration `koanf:"record_ttl"` // drop records unobserved for this long
}

// Load loads configuration from the specified file
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Load YAML config
	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration populated with the defaults that hold
// unless the config file overrides them
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Proxmox: ProxmoxConfig{
			RequestTimeout: 30 * time.Second,
		},
		Poll: PollConfig{
			ClusterInterval: 3 * time.Second,
			GuestInterval:   time.Second,
			DetailEvery:     3,
			ChartWindow:     2 * time.Minute,
			DashboardWindow: 15 * time.Minute,
			NodeConcurrency: 4,
		},
		Actions: ActionsConfig{
			JobPollInterval: time.Second,
			JobPollDeadline: 120 * time.Second,
			ShutdownTimeout: 60 * time.Second,
		},
		Notifications: NotificationsConfig{
			NATSSubject: "pvewatch.alerts",
		},
		Baseline: BaselineConfig{
			Backend:   "badger",
			Path:      "data/baseline",
			RecordTTL: 24 * time.Hour,
		},
		LogLevel: "info",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if c.Proxmox.Address == "" {
		return fmt.Errorf("proxmox.address is required")
	}
	if c.Proxmox.TokenID == "" || c.Proxmox.TokenSecret == "" {
		return fmt.Errorf("proxmox.token_id and proxmox.token_secret are required")
	}
	if c.Proxmox.RequestTimeout <= 0 {
		return fmt.Errorf("proxmox.request_timeout must be positive")
	}

	if c.Poll.ClusterInterval <= 0 || c.Poll.GuestInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Poll.DetailEvery <= 0 {
		return fmt.Errorf("poll.detail_every must be positive")
	}

	if c.Actions.JobPollInterval <= 0 || c.Actions.JobPollDeadline <= 0 {
		return fmt.Errorf("action job poll interval and deadline must be positive")
	}

	switch c.Baseline.Backend {
	case "badger":
		if c.Baseline.Path == "" {
			return fmt.Errorf("baseline.path is required for the badger backend")
		}
	case "etcd":
		if len(c.Baseline.EtcdEndpoints) == 0 {
			return fmt.Errorf("baseline.etcd_endpoints is required for the etcd backend")
		}
	default:
		return fmt.Errorf("baseline.backend must be \"badger\" or \"etcd\", got %q", c.Baseline.Backend)
	}

	return nil
}
