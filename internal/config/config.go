package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                     = "FOLIO"
	defaultHTTPAddress            = "0.0.0.0:8080"
	defaultPublicBaseURL          = "http://localhost:8080"
	defaultDatabaseDriver         = DriverSQLite
	defaultDatabaseDSN            = "folio.db"
	defaultSettingsPath           = "folio-settings.db"
	defaultLogLevel               = "info"
	defaultLogFormat              = "json"
	defaultTokenTTLMinutes        = 720
	defaultTokenIssuer            = "folio-admin"
	defaultAdminUsername          = "admin"
	defaultAdminPassword          = "admin"
	defaultTOTPIssuer             = "Folio"
	defaultLoginFlowTTLSeconds    = 300
	defaultLoginAttemptsPerMinute = 10
	defaultLoginBurst             = 5
	defaultMongoDatabase          = "folio"
	defaultMongoTimeoutSeconds    = 10
	defaultBlobAPIURL             = "https://blob.vercel-storage.com"
	defaultEphemeralMaxBytes      = 64 << 20
)

const (
	// DriverSQLite selects the embedded glebarez sqlite driver.
	DriverSQLite = "sqlite"
	// DriverPostgres selects the gorm postgres driver.
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	PublicBaseURL  string
	AllowedOrigins []string
	LogLevel       string
	LogFormat      string

	DatabaseDriver string
	DatabaseDSN    string
	SettingsPath   string

	SigningSecret string
	TokenIssuer   string
	TokenTTL      time.Duration

	AdminDefaultUsername string
	AdminDefaultPassword string
	TOTPIssuer           string

	LoginFlowTTL           time.Duration
	LoginAttemptsPerMinute int
	LoginBurst             int

	RedisURL string

	MongoURI      string
	MongoDatabase string
	MongoTimeout  time.Duration

	AssetsAccessToken       string
	AssetsBlobAPIURL        string
	AssetsEphemeralMaxBytes int64
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.public_base_url", defaultPublicBaseURL)
	configViper.SetDefault("http.allowed_origins", []string{"*"})
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("settings.path", defaultSettingsPath)
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("admin.default_username", defaultAdminUsername)
	configViper.SetDefault("admin.default_password", defaultAdminPassword)
	configViper.SetDefault("totp.issuer", defaultTOTPIssuer)
	configViper.SetDefault("login.flow_ttl_seconds", defaultLoginFlowTTLSeconds)
	configViper.SetDefault("login.attempts_per_minute", defaultLoginAttemptsPerMinute)
	configViper.SetDefault("login.burst", defaultLoginBurst)
	configViper.SetDefault("mongo.database", defaultMongoDatabase)
	configViper.SetDefault("mongo.timeout_seconds", defaultMongoTimeoutSeconds)
	configViper.SetDefault("assets.blob_api_url", defaultBlobAPIURL)
	configViper.SetDefault("assets.ephemeral_max_bytes", defaultEphemeralMaxBytes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:             configViper.GetString("http.address"),
		PublicBaseURL:           strings.TrimRight(configViper.GetString("http.public_base_url"), "/"),
		AllowedOrigins:          splitOrigins(configViper.GetStringSlice("http.allowed_origins")),
		LogLevel:                configViper.GetString("log.level"),
		LogFormat:               configViper.GetString("log.format"),
		DatabaseDriver:          strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:             configViper.GetString("database.dsn"),
		SettingsPath:            configViper.GetString("settings.path"),
		SigningSecret:           configViper.GetString("auth.signing_secret"),
		TokenIssuer:             configViper.GetString("auth.issuer"),
		TokenTTL:                time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		AdminDefaultUsername:    configViper.GetString("admin.default_username"),
		AdminDefaultPassword:    configViper.GetString("admin.default_password"),
		TOTPIssuer:              configViper.GetString("totp.issuer"),
		LoginFlowTTL:            time.Duration(configViper.GetInt("login.flow_ttl_seconds")) * time.Second,
		LoginAttemptsPerMinute:  configViper.GetInt("login.attempts_per_minute"),
		LoginBurst:              configViper.GetInt("login.burst"),
		RedisURL:                strings.TrimSpace(configViper.GetString("redis.url")),
		MongoURI:                strings.TrimSpace(configViper.GetString("mongo.uri")),
		MongoDatabase:           configViper.GetString("mongo.database"),
		MongoTimeout:            time.Duration(configViper.GetInt("mongo.timeout_seconds")) * time.Second,
		AssetsAccessToken:       strings.TrimSpace(configViper.GetString("assets.access_token")),
		AssetsBlobAPIURL:        strings.TrimRight(configViper.GetString("assets.blob_api_url"), "/"),
		AssetsEphemeralMaxBytes: configViper.GetInt64("assets.ephemeral_max_bytes"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// RemoteContentEnabled reports whether a remote document store is configured.
func (c AppConfig) RemoteContentEnabled() bool {
	return c.MongoURI != ""
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.DatabaseDriver != DriverSQLite && c.DatabaseDriver != DriverPostgres {
		return fmt.Errorf("database.driver must be %q or %q", DriverSQLite, DriverPostgres)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if strings.TrimSpace(c.SettingsPath) == "" {
		return fmt.Errorf("settings.path is required")
	}
	if strings.TrimSpace(c.PublicBaseURL) == "" {
		return fmt.Errorf("http.public_base_url is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.LoginFlowTTL <= 0 {
		return fmt.Errorf("login.flow_ttl_seconds must be positive")
	}
	if strings.TrimSpace(c.AdminDefaultUsername) == "" || c.AdminDefaultPassword == "" {
		return fmt.Errorf("admin.default_username and admin.default_password are required")
	}
	if c.RemoteContentEnabled() && strings.TrimSpace(c.MongoDatabase) == "" {
		return fmt.Errorf("mongo.database is required when mongo.uri is set")
	}
	return nil
}

func splitOrigins(values []string) []string {
	var origins []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				origins = append(origins, part)
			}
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
