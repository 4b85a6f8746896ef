// Package config loads the service configuration snapshot: server and store
// settings plus the approval-policy and tolerance tables consumed by the
// resolver and validator. Policies are part of this versioned snapshot so an
// in-flight request never changes meaning when configuration is edited.
package config

import (
	"os"
	"time"

	"github.com/gotify/configor"

	"github.com/procurio/be-po-approvals/internal/apperrors"
	"github.com/procurio/be-po-approvals/internal/policy"
	"github.com/procurio/be-po-approvals/internal/tolerance"
)

// Config is the full service configuration.
type Config struct {
	Service struct {
		Name        string `yaml:"name" default:"be-po-approvals"`
		Version     string `yaml:"version" default:"dev"`
		Environment string `yaml:"environment" default:"development" env:"ENVIRONMENT"`
	} `yaml:"service"`

	Server struct {
		Port            int           `yaml:"port" default:"8086" env:"SERVER_PORT"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Database struct {
		Host        string        `yaml:"host" default:"localhost" env:"DB_HOST"`
		Port        int           `yaml:"port" default:"5432" env:"DB_PORT"`
		User        string        `yaml:"user" default:"postgres" env:"DB_USER"`
		Password    string        `yaml:"password" env:"DB_PASSWORD"`
		Database    string        `yaml:"database" default:"po_approvals" env:"DB_NAME"`
		SSLMode     string        `yaml:"ssl_mode" default:"disable" env:"DB_SSLMODE"`
		MaxConns    int32         `yaml:"max_conns" default:"10"`
		MinConns    int32         `yaml:"min_conns" default:"2"`
		MaxConnTime time.Duration `yaml:"max_conn_time"`
		MaxIdleTime time.Duration `yaml:"max_idle_time"`
		HealthCheck time.Duration `yaml:"health_check"`
	} `yaml:"database"`

	NATS struct {
		URL     string `yaml:"url" default:"nats://localhost:4222" env:"NATS_URL"`
		Enabled bool   `yaml:"enabled" default:"true" env:"NATS_ENABLED"`
	} `yaml:"nats"`

	Identity struct {
		BaseURL string        `yaml:"base_url" default:"http://localhost:9081" env:"IDENTITY_URL"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"identity"`

	Engine struct {
		SnapshotVersion    string        `yaml:"snapshot_version" default:"v1"`
		EventPollInterval  time.Duration `yaml:"event_poll_interval"`
		DebounceWindow     time.Duration `yaml:"debounce_window"`
		ReconcileInterval  time.Duration `yaml:"reconcile_interval"`
		EscalationInterval time.Duration `yaml:"escalation_interval"`
		MaxEscalations     int           `yaml:"max_escalations" default:"2"`
		BulkParallelism    int           `yaml:"bulk_parallelism" default:"4"`
		Holidays           []string      `yaml:"holidays"` // YYYY-MM-DD
	} `yaml:"engine"`

	Tolerance tolerance.Config `yaml:"tolerance"`

	ApprovalPolicies []policy.ApprovalPolicy `yaml:"approval_policies"`
}

// Load reads config.yml (path overridable via CONFIG_PATH) with env overrides
// and fills defaults configor cannot express.
func Load() (*Config, error) {
	cfg := &Config{}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yml"
	}
	var files []string
	if _, err := os.Stat(path); err == nil {
		files = append(files, path)
	}

	if err := configor.New(&configor.Config{}).Load(cfg, files...); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load configuration")
	}

	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills duration fields configor's string defaults cannot carry.
func applyDefaults(cfg *Config) {
	setDur := func(d *time.Duration, def time.Duration) {
		if *d == 0 {
			*d = def
		}
	}
	setDur(&cfg.Server.ReadTimeout, 15*time.Second)
	setDur(&cfg.Server.WriteTimeout, 15*time.Second)
	setDur(&cfg.Server.IdleTimeout, 60*time.Second)
	setDur(&cfg.Server.ShutdownTimeout, 10*time.Second)
	setDur(&cfg.Database.MaxConnTime, time.Hour)
	setDur(&cfg.Database.MaxIdleTime, 30*time.Minute)
	setDur(&cfg.Database.HealthCheck, time.Minute)
	setDur(&cfg.Identity.Timeout, 5*time.Second)
	setDur(&cfg.Engine.EventPollInterval, time.Second)
	setDur(&cfg.Engine.DebounceWindow, 500*time.Millisecond)
	setDur(&cfg.Engine.ReconcileInterval, 5*time.Minute)
	setDur(&cfg.Engine.EscalationInterval, time.Minute)

	if cfg.Tolerance.Mode == "" {
		cfg.Tolerance = tolerance.DefaultConfig()
	}
}

// Holidays parses the configured holiday dates, skipping malformed entries.
func (c *Config) HolidayDates() []time.Time {
	var out []time.Time
	for _, s := range c.Engine.Holidays {
		if t, err := time.Parse("2006-01-02", s); err == nil {
			out = append(out, t)
		}
	}
	return out
}
