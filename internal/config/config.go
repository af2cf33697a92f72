/**
 * @description
 * This package handles the configuration management for the payment-service.
 * It uses the Viper library to read configuration from environment variables
 * (plus an optional .env file), providing a centralized way to manage
 * application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payment-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	NotifyExchange       string `mapstructure:"NOTIFY_EXCHANGE"`
	PanelAPIBaseURL      string `mapstructure:"PANEL_API_BASE_URL"`
	PanelAPIKey          string `mapstructure:"PANEL_API_KEY"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`

	PaymentWindowMinutes int    `mapstructure:"PAYMENT_WINDOW_MINUTES"`
	ExpiryScanSchedule   string `mapstructure:"EXPIRY_SCAN_SCHEDULE"`
	ExpiryScanBatch      int    `mapstructure:"EXPIRY_SCAN_BATCH"`

	AssignWeightOpen            float64 `mapstructure:"ASSIGN_WEIGHT_OPEN"`
	AssignWeightResponse        float64 `mapstructure:"ASSIGN_WEIGHT_RESPONSE"`
	AssignWeightRecency         float64 `mapstructure:"ASSIGN_WEIGHT_RECENCY"`
	AssignResponseRefSeconds    float64 `mapstructure:"ASSIGN_RESPONSE_REF_SECONDS"`
	AssignRecencyCooldownSecs   float64 `mapstructure:"ASSIGN_RECENCY_COOLDOWN_SECONDS"`
	ProvisionMaxAttempts        int     `mapstructure:"PROVISION_MAX_ATTEMPTS"`
	ProvisionRetryBackoffMillis int     `mapstructure:"PROVISION_RETRY_BACKOFF_MS"`
	SubmitRateLimitPerMinute    int     `mapstructure:"SUBMIT_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("NOTIFY_EXCHANGE", "vpnmarket.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "vpnmarket:rate_limit")
	viper.SetDefault("PAYMENT_WINDOW_MINUTES", 30)
	viper.SetDefault("EXPIRY_SCAN_SCHEDULE", "@every 45s")
	viper.SetDefault("EXPIRY_SCAN_BATCH", 200)
	viper.SetDefault("ASSIGN_WEIGHT_OPEN", 1.0)
	viper.SetDefault("ASSIGN_WEIGHT_RESPONSE", 0.5)
	viper.SetDefault("ASSIGN_WEIGHT_RECENCY", 0.25)
	viper.SetDefault("ASSIGN_RESPONSE_REF_SECONDS", 300.0)
	viper.SetDefault("ASSIGN_RECENCY_COOLDOWN_SECONDS", 600.0)
	viper.SetDefault("PROVISION_MAX_ATTEMPTS", 3)
	viper.SetDefault("PROVISION_RETRY_BACKOFF_MS", 500)
	viper.SetDefault("SUBMIT_RATE_LIMIT_PER_MINUTE", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("NOTIFY_EXCHANGE")
	_ = viper.BindEnv("PANEL_API_BASE_URL")
	_ = viper.BindEnv("PANEL_API_KEY")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("PAYMENT_WINDOW_MINUTES")
	_ = viper.BindEnv("EXPIRY_SCAN_SCHEDULE")
	_ = viper.BindEnv("EXPIRY_SCAN_BATCH")
	_ = viper.BindEnv("ASSIGN_WEIGHT_OPEN")
	_ = viper.BindEnv("ASSIGN_WEIGHT_RESPONSE")
	_ = viper.BindEnv("ASSIGN_WEIGHT_RECENCY")
	_ = viper.BindEnv("ASSIGN_RESPONSE_REF_SECONDS")
	_ = viper.BindEnv("ASSIGN_RECENCY_COOLDOWN_SECONDS")
	_ = viper.BindEnv("PROVISION_MAX_ATTEMPTS")
	_ = viper.BindEnv("PROVISION_RETRY_BACKOFF_MS")
	_ = viper.BindEnv("SUBMIT_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	// Unmarshal the configuration into the Config struct.
	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "vpnmarket:rate_limit"
	}

	if config.PaymentWindowMinutes <= 0 {
		log.Printf("level=warn component=config msg=\"invalid payment window; using default\" minutes=%d", config.PaymentWindowMinutes)
		config.PaymentWindowMinutes = 30
	}
	if strings.TrimSpace(config.ExpiryScanSchedule) == "" {
		config.ExpiryScanSchedule = "@every 45s"
	}
	if config.ExpiryScanBatch <= 0 {
		config.ExpiryScanBatch = 200
	}

	if config.AssignWeightOpen < 0 {
		log.Printf("level=warn component=config msg=\"negative open-assignment weight; coercing to zero\" weight=%f", config.AssignWeightOpen)
		config.AssignWeightOpen = 0
	}
	if config.AssignWeightResponse < 0 {
		config.AssignWeightResponse = 0
	}
	if config.AssignWeightRecency < 0 {
		config.AssignWeightRecency = 0
	}
	if config.AssignResponseRefSeconds <= 0 {
		config.AssignResponseRefSeconds = 300
	}
	if config.AssignRecencyCooldownSecs <= 0 {
		config.AssignRecencyCooldownSecs = 600
	}

	if config.ProvisionMaxAttempts <= 0 {
		config.ProvisionMaxAttempts = 3
	}
	if config.ProvisionRetryBackoffMillis <= 0 {
		config.ProvisionRetryBackoffMillis = 500
	}
	if config.SubmitRateLimitPerMinute < 0 {
		config.SubmitRateLimitPerMinute = 0
	}

	return
}
