package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "edcb", cfg.Backend.Type)
	assert.Equal(t, 15*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "ffmpeg", cfg.Encoder.Type)
	assert.Equal(t, "1080p", cfg.Encoder.DefaultQuality)
	assert.True(t, cfg.Recorded.Watch)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 7010
backend:
  type: edcb
  pipe_path: /var/run/edcb/ctrlcmd
encoder:
  type: qsvencc
  max_alive_time: 30s
recorded:
  roots:
    - /mnt/rec1
    - /mnt/rec2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7010, cfg.Server.Port)
	assert.Equal(t, "/var/run/edcb/ctrlcmd", cfg.Backend.PipePath)
	assert.Equal(t, "qsvencc", cfg.Encoder.Type)
	assert.Equal(t, 30*time.Second, cfg.Encoder.MaxAliveTime)
	assert.Equal(t, []string{"/mnt/rec1", "/mnt/rec2"}, cfg.Recorded.Roots)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "invalid driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "database.driver",
		},
		{
			name:    "invalid encoder",
			mutate:  func(c *Config) { c.Encoder.Type = "x264" },
			wantErr: "encoder.type",
		},
		{
			name: "edcb backend needs an endpoint",
			mutate: func(c *Config) {
				c.Backend.TCPAddress = ""
				c.Backend.PipePath = ""
			},
			wantErr: "backend.tcp_address",
		},
		{
			name:    "unknown backend type",
			mutate:  func(c *Config) { c.Backend.Type = "mirakurun" },
			wantErr: "backend.type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
