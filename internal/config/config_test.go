package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:             8001,
		PopulationSize:   50,
		EliteSize:        5,
		GenerationBudget: 100,
		EvalWorkers:      4,
		EvalTimeoutSecs:  30,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Port = 0 }, true},
		{"population too small", func(c *Config) { c.PopulationSize = 3 }, true},
		{"elite not below population", func(c *Config) { c.EliteSize = 50 }, true},
		{"zero elite", func(c *Config) { c.EliteSize = 0 }, true},
		{"no generations", func(c *Config) { c.GenerationBudget = 0 }, true},
		{"no workers", func(c *Config) { c.EvalWorkers = 0 }, true},
		{"no timeout", func(c *Config) { c.EvalTimeoutSecs = 0 }, true},
		{"immigrant fraction above one", func(c *Config) { c.ImmigrantFraction = 1.5 }, true},
		{"backup bucket without schedule", func(c *Config) {
			c.Backup = &BackupConfig{Bucket: "darwin-backups"}
		}, true},
		{"backup fully configured", func(c *Config) {
			c.Backup = &BackupConfig{Bucket: "darwin-backups", Schedule: "0 3 * * *"}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DARWIN_DATA_DIR", t.TempDir())
	t.Setenv("DARWIN_POPULATION_SIZE", "20")
	t.Setenv("DARWIN_SEED", "99")
	t.Setenv("DARWIN_IMMIGRANT_FRACTION", "0.2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.PopulationSize)
	assert.Equal(t, int64(99), cfg.Seed)
	assert.Equal(t, 0.2, cfg.ImmigrantFraction)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, filepath.Join(cfg.DataDir, "dataset.csv"), cfg.DatasetPath)
}

func TestBackupConfig_Enabled(t *testing.T) {
	var nilCfg *BackupConfig
	assert.False(t, nilCfg.Enabled())
	assert.False(t, (&BackupConfig{}).Enabled())
	assert.True(t, (&BackupConfig{Bucket: "b"}).Enabled())
}
