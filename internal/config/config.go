package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

const (
	ProviderFilesystem = "filesystem"
	ProviderPostgres   = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Log       LogConfig       `mapstructure:"log"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Templates TemplateConfig  `mapstructure:"templates"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Env             string        `mapstructure:"env"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

func (c ServerConfig) IsProduction() bool {
	return c.Env == "production"
}

type AuthConfig struct {
	APIToken string `mapstructure:"api_token"`
}

// StorageConfig selects the backend for both stores.
type StorageConfig struct {
	Provider     string `mapstructure:"provider"`
	LogDir       string `mapstructure:"log_dir"`
	LogFileName  string `mapstructure:"log_file_name"`
	TemplatesDir string `mapstructure:"templates_dir"`
}

type DatabaseConfig struct {
	ConnectionString string        `mapstructure:"connection_string"`
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	Name             string        `mapstructure:"name"`
	SSL              bool          `mapstructure:"ssl"`
	MaxConnections   int           `mapstructure:"max_connections"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
}

// DSN returns the PostgreSQL connection string. An explicit connection
// string wins over the individual fields.
func (c DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}

	q := url.Values{}
	if c.SSL {
		q.Set("sslmode", "require")
	} else {
		q.Set("sslmode", "disable")
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

type SMTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Secure forces implicit TLS. Unset means "port is 465".
	Secure                *bool         `mapstructure:"secure"`
	User                  string        `mapstructure:"user"`
	Pass                  string        `mapstructure:"pass"`
	FromDefault           string        `mapstructure:"from_default"`
	TLSRejectUnauthorized bool          `mapstructure:"tls_reject_unauthorized"`
	Timeout               time.Duration `mapstructure:"timeout"`
	BreakerMaxFailures    int           `mapstructure:"breaker_max_failures"`
	BreakerTimeout        time.Duration `mapstructure:"breaker_timeout"`
}

func (c SMTPConfig) UseSSL() bool {
	if c.Secure != nil {
		return *c.Secure
	}
	return c.Port == 465
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Max     int           `mapstructure:"max"`
	Window  time.Duration `mapstructure:"window"`
}

type TemplateConfig struct {
	// CacheTTL of zero disables the read-through cache.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// legacyEnv holds the flat variable names the service has always read.
// They override file and MSSMTP_* values when set.
type legacyEnv struct {
	Port                *int           `envconfig:"PORT"`
	NodeEnv             *string        `envconfig:"NODE_ENV"`
	APIToken            *string        `envconfig:"API_TOKEN"`
	DBProvider          *string        `envconfig:"DB_PROVIDER"`
	PGConnectionString  *string        `envconfig:"PG_CONNECTION_STRING"`
	PGHost              *string        `envconfig:"PG_HOST"`
	PGPort              *int           `envconfig:"PG_PORT"`
	PGUser              *string        `envconfig:"PG_USER"`
	PGPassword          *string        `envconfig:"PG_PASSWORD"`
	PGDatabase          *string        `envconfig:"PG_DATABASE"`
	PGSSL               *bool          `envconfig:"PG_SSL"`
	LogDir              *string        `envconfig:"LOG_DIR"`
	LogFileName         *string        `envconfig:"LOG_FILE_NAME"`
	TemplatesDir        *string        `envconfig:"TEMPLATES_DIR"`
	SMTPHost            *string        `envconfig:"SMTP_HOST"`
	SMTPPort            *int           `envconfig:"SMTP_PORT"`
	SMTPSecure          *bool          `envconfig:"SMTP_SECURE"`
	SMTPUser            *string        `envconfig:"SMTP_USER"`
	SMTPPass            *string        `envconfig:"SMTP_PASS"`
	SMTPFromDefault     *string        `envconfig:"SMTP_FROM_DEFAULT"`
	SMTPTLSRejectUnauth *bool          `envconfig:"SMTP_TLS_REJECT_UNAUTH"`
	LogLevel            *string        `envconfig:"LOG_LEVEL"`
	LogFormat           *string        `envconfig:"LOG_FORMAT"`
	RateLimitMax        *int           `envconfig:"RATE_LIMIT_MAX"`
	RateLimitWindow     *time.Duration `envconfig:"RATE_LIMIT_WINDOW"`
	TemplateCacheTTL    *time.Duration `envconfig:"TEMPLATE_CACHE_TTL"`
}

// Load reads configuration from an optional YAML file, MSSMTP_* variables
// and the legacy flat variables, in increasing precedence. configFile may
// be empty to search ./config.yaml and ./config/config.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("MSSMTP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("smtp.secure")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var env legacyEnv
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	env.apply(&cfg)

	cfg.normalize()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 45*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("auth.api_token", "")

	v.SetDefault("storage.provider", ProviderFilesystem)
	v.SetDefault("storage.log_dir", "data/logs")
	v.SetDefault("storage.log_file_name", "email.log")
	v.SetDefault("storage.templates_dir", "data/templates")

	v.SetDefault("database.connection_string", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "ms_smtp")
	v.SetDefault("database.ssl", false)
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.connect_timeout", 5*time.Second)

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.user", "")
	v.SetDefault("smtp.pass", "")
	v.SetDefault("smtp.from_default", "")
	v.SetDefault("smtp.tls_reject_unauthorized", true)
	v.SetDefault("smtp.timeout", 30*time.Second)
	v.SetDefault("smtp.breaker_max_failures", 5)
	v.SetDefault("smtp.breaker_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.max", 100)
	v.SetDefault("rate_limit.window", 15*time.Minute)

	v.SetDefault("templates.cache_ttl", time.Minute)
}

func (e legacyEnv) apply(cfg *Config) {
	setInt(&cfg.Server.Port, e.Port)
	setString(&cfg.Server.Env, e.NodeEnv)
	setString(&cfg.Auth.APIToken, e.APIToken)

	setString(&cfg.Storage.Provider, e.DBProvider)
	setString(&cfg.Storage.LogDir, e.LogDir)
	setString(&cfg.Storage.LogFileName, e.LogFileName)
	setString(&cfg.Storage.TemplatesDir, e.TemplatesDir)

	setString(&cfg.Database.ConnectionString, e.PGConnectionString)
	setString(&cfg.Database.Host, e.PGHost)
	setInt(&cfg.Database.Port, e.PGPort)
	setString(&cfg.Database.User, e.PGUser)
	setString(&cfg.Database.Password, e.PGPassword)
	setString(&cfg.Database.Name, e.PGDatabase)
	setBool(&cfg.Database.SSL, e.PGSSL)

	setString(&cfg.SMTP.Host, e.SMTPHost)
	setInt(&cfg.SMTP.Port, e.SMTPPort)
	if e.SMTPSecure != nil {
		secure := *e.SMTPSecure
		cfg.SMTP.Secure = &secure
	}
	setString(&cfg.SMTP.User, e.SMTPUser)
	setString(&cfg.SMTP.Pass, e.SMTPPass)
	setString(&cfg.SMTP.FromDefault, e.SMTPFromDefault)
	setBool(&cfg.SMTP.TLSRejectUnauthorized, e.SMTPTLSRejectUnauth)

	setString(&cfg.Log.Level, e.LogLevel)
	setString(&cfg.Log.Format, e.LogFormat)

	setInt(&cfg.RateLimit.Max, e.RateLimitMax)
	setDuration(&cfg.RateLimit.Window, e.RateLimitWindow)
	setDuration(&cfg.Templates.CacheTTL, e.TemplateCacheTTL)
}

func (c *Config) normalize() {
	c.Storage.Provider = strings.ToLower(strings.TrimSpace(c.Storage.Provider))
	if c.Storage.Provider != ProviderPostgres {
		c.Storage.Provider = ProviderFilesystem
	}
	if c.RateLimit.Max <= 0 {
		c.RateLimit.Enabled = false
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *time.Duration) {
	if src != nil {
		*dst = *src
	}
}
