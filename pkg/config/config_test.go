package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader(WithConfigPaths("nonexistent.yaml")).Load()
	require.NoError(t, err)

	assert.Equal(t, "traffic-svc", cfg.App.Name)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, 60, cfg.Simulation.DurationMinutes)
	assert.Equal(t, 3, cfg.Simulation.RadiusKm)
	assert.Equal(t, 500, cfg.Simulation.MaxVehicles)
	assert.Equal(t, 50, cfg.Simulation.LiveSampleSize)
	assert.Equal(t, int64(0), cfg.Simulation.Seed)
	assert.Equal(t, 10*time.Minute, cfg.Providers.RoadCacheTTL)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.True(t, cfg.HTTP.CORS.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("URBANSIM_HTTP_PORT", "9999")
	t.Setenv("URBANSIM_LOG_LEVEL", "debug")
	t.Setenv("URBANSIM_SIMULATION_MAX_VEHICLES", "250")
	t.Setenv("URBANSIM_DATABASE_DRIVER", "postgres")
	t.Setenv("URBANSIM_HTTP_CORS_ALLOWED_ORIGINS", "http://a.example, http://b.example")

	cfg, err := NewLoader(WithConfigPaths("nonexistent.yaml")).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.HTTP.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 250, cfg.Simulation.MaxVehicles)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.HTTP.CORS.AllowedOrigins)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.App.Name = "traffic-svc"
		cfg.HTTP.Port = 8080
		cfg.Log.Level = "info"
		cfg.Simulation.MaxVehicles = 500
		cfg.Simulation.LiveTickSeconds = 10
		cfg.Simulation.RadiusKm = 3
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing app name", func(c *Config) { c.App.Name = "" }, "app.name"},
		{"port out of range", func(c *Config) { c.HTTP.Port = 70000 }, "http.port"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"zero max vehicles", func(c *Config) { c.Simulation.MaxVehicles = 0 }, "max_vehicles"},
		{"radius too large", func(c *Config) { c.Simulation.RadiusKm = 9 }, "radius_km"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
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

func TestValidate_DefaultsEmptyLogLevel(t *testing.T) {
	cfg := &Config{}
	cfg.App.Name = "traffic-svc"
	cfg.HTTP.Port = 8080
	cfg.Simulation.MaxVehicles = 1
	cfg.Simulation.LiveTickSeconds = 1
	cfg.Simulation.RadiusKm = 1

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: 5432, Database: "urbansim",
		Username: "postgres", Password: "secret", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=db port=5432 user=postgres password=secret dbname=urbansim sslmode=disable",
		d.DSN())
}
