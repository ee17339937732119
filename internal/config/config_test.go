package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
proxmox:
  address: https://pve.example:8006
  token_id: monitor@pve!watch
  token_secret: 12345678-abcd-ef00-1234-567890abcdef
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Poll.ClusterInterval)
	assert.Equal(t, time.Second, cfg.Poll.GuestInterval)
	assert.Equal(t, 3, cfg.Poll.DetailEvery)
	assert.Equal(t, 120*time.Second, cfg.Actions.JobPollDeadline)
	assert.Equal(t, "badger", cfg.Baseline.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Baseline.RecordTTL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Notifications.Enabled)
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  addr: ":9090"
proxmox:
  address: https://pve.example:8006
  token_id: monitor@pve!watch
  token_secret: secret
  insecure_tls: true
poll:
  cluster_interval: 10s
  detail_every: 5
notifications:
  enabled: true
  alert_on_status_changes: true
  nats_addr: nats://localhost:4222
baseline:
  backend: etcd
  etcd_endpoints:
    - localhost:2379
log_level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.True(t, cfg.Proxmox.InsecureTLS)
	assert.Equal(t, 10*time.Second, cfg.Poll.ClusterInterval)
	assert.Equal(t, 5, cfg.Poll.DetailEvery)
	assert.Equal(t, time.Second, cfg.Poll.GuestInterval, "untouched keys keep their defaults")
	assert.True(t, cfg.Notifications.Enabled)
	assert.True(t, cfg.Notifications.AlertOnChanges)
	assert.Equal(t, "etcd", cfg.Baseline.Backend)
	assert.Equal(t, []string{"localhost:2379"}, cfg.Baseline.EtcdEndpoints)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing address",
			mutate:  func(c *Config) { c.Proxmox.Address = "" },
			wantErr: "proxmox.address",
		},
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Proxmox.TokenSecret = "" },
			wantErr: "token_id and proxmox.token_secret",
		},
		{
			name:    "zero cluster interval",
			mutate:  func(c *Config) { c.Poll.ClusterInterval = 0 },
			wantErr: "poll intervals",
		},
		{
			name:    "zero detail cadence",
			mutate:  func(c *Config) { c.Poll.DetailEvery = 0 },
			wantErr: "detail_every",
		},
		{
			name:    "zero job deadline",
			mutate:  func(c *Config) { c.Actions.JobPollDeadline = 0 },
			wantErr: "deadline must be positive",
		},
		{
			name:    "unknown baseline backend",
			mutate:  func(c *Config) { c.Baseline.Backend = "redis" },
			wantErr: "baseline.backend",
		},
		{
			name: "etcd backend without endpoints",
			mutate: func(c *Config) {
				c.Baseline.Backend = "etcd"
				c.Baseline.EtcdEndpoints = nil
			},
			wantErr: "etcd_endpoints",
		},
		{
			name:    "badger backend without path",
			mutate:  func(c *Config) { c.Baseline.Path = "" },
			wantErr: "baseline.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Proxmox.Address = "https://pve.example:8006"
			cfg.Proxmox.TokenID = "monitor@pve!watch"
			cfg.Proxmox.TokenSecret = "secret"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
