// Package config holds the typed configuration of the importer CLI.
//
// Values come from an optional config file, IMPORTER_* environment variables
// and command-line flags, merged by viper. Every section validates itself.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"

	"crm-import-service/internal/crmclient"
	"crm-import-service/internal/lock"
	"crm-import-service/internal/reporter"
	"crm-import-service/internal/store"
	"crm-import-service/pkg/errors"
	"crm-import-service/pkg/logger"
)

// EnvPrefix is the prefix of environment overrides, e.g. IMPORTER_DATABASE_DSN.
const EnvPrefix = "IMPORTER"

// Config is the full importer configuration.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Amounts     AmountsConfig     `mapstructure:"amounts"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	CRM         CRMConfig         `mapstructure:"crm"`
	Lock        LockConfig        `mapstructure:"lock"`
	Log         LogConfig         `mapstructure:"log"`
	Output      OutputConfig      `mapstructure:"output"`
}

// DatabaseConfig describes the CRM database. DSN wins over the discrete
// host/port/user/password/name settings.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

// AmountsConfig selects how non-numeric amount text is treated.
type AmountsConfig struct {
	Strict bool `mapstructure:"strict"`
}

// DiagnosticsConfig caps the warnings kept per run.
type DiagnosticsConfig struct {
	Limit int `mapstructure:"limit"`
}

// CRMConfig points at the CRM HTTP import API.
type CRMConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LockConfig enables the Redis run lock when RedisAddr is set.
type LockConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// OutputConfig selects the summary format.
type OutputConfig struct {
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", store.DriverMySQL)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.slow_threshold", 500*time.Millisecond)

	v.SetDefault("amounts.strict", false)
	v.SetDefault("diagnostics.limit", reporter.DefaultDiagnosticLimit)

	v.SetDefault("crm.base_url", "")
	v.SetDefault("crm.token", "")
	v.SetDefault("crm.timeout", 5*time.Minute)

	v.SetDefault("lock.redis_addr", "")
	v.SetDefault("lock.redis_password", "")
	v.SetDefault("lock.redis_db", 0)
	v.SetDefault("lock.ttl", lock.DefaultTTL)

	v.SetDefault("log.level", string(logger.InfoLevel))
	v.SetDefault("log.format", string(logger.TextFormat))
	v.SetDefault("log.file", "")

	v.SetDefault("output.format", string(reporter.FormatConsole))
}

// BindEnv makes IMPORTER_SECTION_KEY override section.key.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes the configuration held by v. It does not validate.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", v.ConfigFileUsed(), err)
	}
	return &cfg, nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	if c.Diagnostics.Limit < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "diagnostics.limit", c.Diagnostics.Limit,
			fmt.Errorf("must be zero (unlimited) or positive"))
	}
	if err := c.Lock.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return c.Output.Validate()
}

// Validate checks that a database can be reached with these settings.
func (d DatabaseConfig) Validate() error {
	switch strings.ToLower(d.Driver) {
	case store.DriverMySQL, store.DriverPostgres:
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "database.driver", d.Driver,
			fmt.Errorf("supported drivers are %s and %s", store.DriverMySQL, store.DriverPostgres))
	}
	if d.DSN == "" && d.Name == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "database.dsn", "", nil)
	}
	if d.Port < 0 || d.Port > 65535 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "database.port", d.Port, nil)
	}
	if d.MaxOpenConns < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "database.max_open_conns", d.MaxOpenConns, nil)
	}
	return nil
}

// DataSourceName returns DSN or builds one for the configured driver.
func (d DatabaseConfig) DataSourceName() string {
	if d.DSN != "" {
		return d.DSN
	}

	port := d.Port
	switch strings.ToLower(d.Driver) {
	case store.DriverPostgres:
		if port == 0 {
			port = 5432
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, port, d.User, d.Password, d.Name, d.SSLMode)
	default:
		if port == 0 {
			port = 3306
		}
		dsn := mysql.NewConfig()
		dsn.User = d.User
		dsn.Passwd = d.Password
		dsn.Net = "tcp"
		dsn.Addr = net.JoinHostPort(d.Host, strconv.Itoa(port))
		dsn.DBName = d.Name
		dsn.ParseTime = true
		dsn.Params = map[string]string{"charset": "utf8mb4"}
		return dsn.FormatDSN()
	}
}

// StoreConfig converts to the store package's settings.
func (d DatabaseConfig) StoreConfig() store.Config {
	return store.Config{
		Driver:          strings.ToLower(d.Driver),
		DSN:             d.DataSourceName(),
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		SlowThreshold:   d.SlowThreshold,
	}
}

// Validate checks the settings of the vendor transactions delegate.
func (c CRMConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "crm.base_url", "", nil)
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "crm.base_url", c.BaseURL,
			fmt.Errorf("must start with http:// or https://"))
	}
	if c.Timeout < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "crm.timeout", c.Timeout, nil)
	}
	return nil
}

// ClientConfig converts to the crmclient settings.
func (c CRMConfig) ClientConfig() crmclient.Config {
	return crmclient.Config{BaseURL: c.BaseURL, Token: c.Token, Timeout: c.Timeout}
}

// Enabled reports whether a Redis lock is configured.
func (l LockConfig) Enabled() bool {
	return strings.TrimSpace(l.RedisAddr) != ""
}

func (l LockConfig) Validate() error {
	if l.TTL < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "lock.ttl", l.TTL, nil)
	}
	if l.RedisDB < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "lock.redis_db", l.RedisDB, nil)
	}
	return nil
}

// RedisConfig converts to the lock package's settings.
func (l LockConfig) RedisConfig() lock.RedisConfig {
	return lock.RedisConfig{Addr: l.RedisAddr, Password: l.RedisPassword, DB: l.RedisDB, TTL: l.TTL}
}

func (l LogConfig) Validate() error {
	if err := l.LoggerConfig(false).Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", l.Level+"/"+l.Format, err)
	}
	return nil
}

// LoggerConfig converts to the logger settings. verbose forces debug level.
func (l LogConfig) LoggerConfig(verbose bool) *logger.Config {
	cfg := logger.DefaultConfig()
	if l.Level != "" {
		cfg.Level = logger.Level(strings.ToLower(l.Level))
	}
	if l.Format != "" {
		cfg.Format = logger.Format(strings.ToLower(l.Format))
	}
	if l.File != "" {
		cfg.Output = logger.FileOutput
		cfg.File = l.File
	}
	if verbose {
		cfg.Level = logger.DebugLevel
	}
	return cfg
}

func (o OutputConfig) Validate() error {
	if !reporter.OutputFormat(o.Format).IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output.format", o.Format,
			fmt.Errorf("valid formats: console, json, csv"))
	}
	return nil
}

// ReportConfig returns the reporter settings for the configured format.
func (o OutputConfig) ReportConfig() *reporter.ReportConfig {
	cfg := reporter.DefaultReportConfig()
	cfg.Format = reporter.OutputFormat(o.Format)
	return cfg
}
