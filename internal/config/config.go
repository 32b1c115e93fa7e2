package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gel2mdt-server/internal/domain"
	"github.com/spf13/viper"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	return NewManagerFromFile("")
}

// NewManagerFromFile loads configuration from an explicit file when path is not empty
func NewManagerFromFile(path string) (*Manager, error) {
	m := &Manager{v: viper.New()}
	if err := m.loadConfig(path); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig(path string) error {
	v := m.v
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/gel2mdt/")
	}

	v.SetEnvPrefix("GEL2MDT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; defaults and environment variables still apply
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "60s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "gel2mdt")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle", "30m")
	v.SetDefault("database.connect_attempts", 5)
	v.SetDefault("database.connect_backoff", "2s")

	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("cache.token_ttl", "50m")
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.local_size", 512)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("poll.use_active_directory", false)
	v.SetDefault("poll.transport_retries", 20)
	v.SetDefault("poll.decode_retries", 20)
	v.SetDefault("poll.decode_backoff", "2s")
	v.SetDefault("poll.timeout", "60s")
	v.SetDefault("poll.rate_limit", 10)
	v.SetDefault("poll.interactive", false)
	v.SetDefault("poll.env_file", ".env")

	v.SetDefault("ingest.sample_types", []string{"raredisease", "cancer"})
	v.SetDefault("ingest.pull_t3", false)
	v.SetDefault("ingest.bins", 200)
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.skip_demographics", true)
	v.SetDefault("ingest.annotate", true)

	v.SetDefault("schedule.update_cases", "0 0 * * 1-5")
	v.SetDefault("schedule.listupdate_email", "0 7 * * *")
	v.SetDefault("schedule.case_alert_email", "0 7 * * *")
	v.SetDefault("schedule.update_report_email", "0 12 * * 0")
	v.SetDefault("schedule.cases_not_completed_email", "0 12 1 * *")
	v.SetDefault("schedule.lock_ttl", "2h")

	v.SetDefault("email.from_address", "gel2mdt@localhost")
	v.SetDefault("email.from_name", "GeL2MDT")

	v.SetDefault("events.topic", "gel2mdt.case-events")

	v.SetDefault("archive.prefix", "exports")

	v.SetDefault("alerts.backend", "sqlite")
	v.SetDefault("alerts.sqlite_path", "gel2mdt-alerts.db")

	v.SetDefault("mcp.server_name", "gel2mdt")
	v.SetDefault("mcp.server_version", "1.0.0")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if config.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	for _, st := range config.Ingest.SampleTypes {
		if _, err := domain.ParseSampleType(st); err != nil {
			return fmt.Errorf("invalid ingest sample type %q", st)
		}
	}
	if config.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest workers must be positive")
	}

	if config.Poll.TransportRetries <= 0 {
		return fmt.Errorf("poll transport_retries must be positive")
	}
	if config.Poll.DecodeRetries <= 0 {
		return fmt.Errorf("poll decode_retries must be positive")
	}

	switch config.Alerts.Backend {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid alerts backend: %s", config.Alerts.Backend)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the database as a postgres:// URL, the form golang-migrate expects
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Database
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(db.Username, db.Password),
		Host:     fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:     "/" + db.Database,
		RawQuery: "sslmode=" + db.SSLMode,
	}
	return u.String()
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}
