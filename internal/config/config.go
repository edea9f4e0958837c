package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "MERKATO"

	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "merkato.db"
	defaultLogLevel          = "info"
	defaultRetentionCap      = 50
	defaultReconnectInterval = 5000
	defaultFetchMaxRetries   = 3
	defaultAuthTimeout       = 60000
	defaultSessionStorage    = ".wa-session"
	defaultFeedChannel       = "orders"
)

// ProviderCredentials carries the credential sets for the outbound
// delivery providers. A provider with empty credentials is not configured.
type ProviderCredentials struct {
	MetaAccessToken   string
	MetaPhoneNumberID string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	SessionProviderEnabled bool
}

// AppConfig captures runtime configuration for the notification service.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	AllowDevToken bool

	AdminPhone   string
	RetentionCap int
	SoundEnabled bool

	FeedURL           string
	FeedChannel       string
	ReconnectInterval time.Duration
	FetchMaxRetries   int

	SessionStoragePath   string
	SessionBridgeCommand []string
	AuthTimeout          time.Duration
	RestartOnAuthFail    bool

	Providers ProviderCredentials
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.allow_dev_tokens", false)
	configViper.SetDefault("notify.retention_cap", defaultRetentionCap)
	configViper.SetDefault("notify.sound_enabled", true)
	configViper.SetDefault("feed.channel", defaultFeedChannel)
	configViper.SetDefault("feed.reconnect_interval_ms", defaultReconnectInterval)
	configViper.SetDefault("feed.fetch_max_retries", defaultFetchMaxRetries)
	configViper.SetDefault("session.storage_path", defaultSessionStorage)
	configViper.SetDefault("session.auth_timeout_ms", defaultAuthTimeout)
	configViper.SetDefault("session.restart_on_auth_fail", false)
	configViper.SetDefault("providers.wasession.enabled", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		AllowDevToken: configViper.GetBool("auth.allow_dev_tokens"),

		AdminPhone:   configViper.GetString("notify.admin_phone"),
		RetentionCap: configViper.GetInt("notify.retention_cap"),
		SoundEnabled: configViper.GetBool("notify.sound_enabled"),

		FeedURL:           configViper.GetString("feed.url"),
		FeedChannel:       configViper.GetString("feed.channel"),
		ReconnectInterval: time.Duration(configViper.GetInt("feed.reconnect_interval_ms")) * time.Millisecond,
		FetchMaxRetries:   configViper.GetInt("feed.fetch_max_retries"),

		SessionStoragePath:   configViper.GetString("session.storage_path"),
		SessionBridgeCommand: configViper.GetStringSlice("session.bridge_command"),
		AuthTimeout:          time.Duration(configViper.GetInt("session.auth_timeout_ms")) * time.Millisecond,
		RestartOnAuthFail:    configViper.GetBool("session.restart_on_auth_fail"),

		Providers: ProviderCredentials{
			MetaAccessToken:        configViper.GetString("providers.meta.access_token"),
			MetaPhoneNumberID:      configViper.GetString("providers.meta.phone_number_id"),
			TwilioAccountSID:       configViper.GetString("providers.twilio.account_sid"),
			TwilioAuthToken:        configViper.GetString("providers.twilio.auth_token"),
			TwilioFromNumber:       configViper.GetString("providers.twilio.from_number"),
			SessionProviderEnabled: configViper.GetBool("providers.wasession.enabled"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.RetentionCap <= 0 {
		return fmt.Errorf("notify.retention_cap must be positive")
	}
	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("feed.reconnect_interval_ms must be positive")
	}
	if c.AuthTimeout <= 0 {
		return fmt.Errorf("session.auth_timeout_ms must be positive")
	}
	return nil
}

// MetaConfigured reports whether the Meta cloud API provider has credentials.
func (p ProviderCredentials) MetaConfigured() bool {
	return strings.TrimSpace(p.MetaAccessToken) != "" && strings.TrimSpace(p.MetaPhoneNumberID) != ""
}

// TwilioConfigured reports whether the Twilio provider has credentials.
func (p ProviderCredentials) TwilioConfigured() bool {
	return strings.TrimSpace(p.TwilioAccountSID) != "" &&
		strings.TrimSpace(p.TwilioAuthToken) != "" &&
		strings.TrimSpace(p.TwilioFromNumber) != ""
}
