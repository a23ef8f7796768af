package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default node env is production",
			check:  func(c *Config) bool { return c.NodeEnv == "production" },
			expect: "production",
		},
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 3000",
			check:  func(c *Config) bool { return c.Port == 3000 },
			expect: "3000",
		},
		{
			name:   "default log level is info",
			check:  func(c *Config) bool { return c.LogLevel == "info" },
			expect: "info",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default metrics path",
			check:  func(c *Config) bool { return c.MetricsPath == "/metrics" },
			expect: "/metrics",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:3000" },
			expect: "0.0.0.0:3000",
		},
		{
			name:   "default renew before days",
			check:  func(c *Config) bool { return c.RenewBeforeDays == 30 },
			expect: "30",
		},
		{
			name:   "default alert threshold days",
			check:  func(c *Config) bool { return c.AlertThresholdDays == 14 },
			expect: "14",
		},
		{
			name:   "default self signed days",
			check:  func(c *Config) bool { return c.SelfSignedDays == 365 },
			expect: "365",
		},
		{
			name:   "default heartbeat interval",
			check:  func(c *Config) bool { return c.HeartbeatInterval == 30*time.Second },
			expect: "30s",
		},
		{
			name:   "default stale-after",
			check:  func(c *Config) bool { return c.StaleAfter == 120*time.Second },
			expect: "120s",
		},
		{
			name:   "default renew interval",
			check:  func(c *Config) bool { return c.RenewInterval == 12*time.Hour },
			expect: "12h",
		},
		{
			name:   "development mode off by default",
			check:  func(c *Config) bool { return !c.Development() },
			expect: "false",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}

func TestDevelopmentModeFromNodeEnv(t *testing.T) {
	cfg := &Config{NodeEnv: "development"}
	if !cfg.Development() {
		t.Error("expected Development() true when NODE_ENV=development")
	}
}
