package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the realtime service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                int
	PortScanRange          int
	FrontendOrigin         string
	DevMode                bool
	DatabaseURL            string
	RedisURL               string
	NATSURL                string
	RealtimeChannel        string
	PingInterval           time.Duration
	PingTimeout            time.Duration
	PollTimeout            time.Duration
	JWTSecret              string
	MessageEncryptionKey   string
	AttachmentDir          string
	AttachmentMaxMB        int
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
}

// CloudinaryEnabled reports whether attachments should be pushed to Cloudinary.
func (c Config) CloudinaryEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Names used by the existing deployment scripts.
	aliases := map[string]string{
		"app.env":                 "NODE_ENV",
		"app.port":                "PORT",
		"frontend.origin":         "FRONTEND_ORIGIN",
		"auth.dev_mode":           "AUTH_DEV_MODE",
		"database.url":            "DATABASE_URL",
		"jwt.secret":              "JWT_SECRET",
		"messages.encryption_key": "MSG_ENCRYPTION_KEY",
	}
	for key, legacy := range aliases {
		prefixed := "GEMA_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	v.SetDefault("app.name", "GEMA Realtime")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 5001)
	v.SetDefault("app.port_scan_range", 50)
	v.SetDefault("frontend.origin", "http://localhost:5173")
	v.SetDefault("auth.dev_mode", false)
	v.SetDefault("realtime.channel", "gema:realtime")
	v.SetDefault("realtime.ping_interval", "25s")
	v.SetDefault("realtime.ping_timeout", "60s")
	v.SetDefault("realtime.poll_timeout", "25s")
	v.SetDefault("attachments.dir", "uploads/messages")
	v.SetDefault("attachments.max_mb", 10)
	v.SetDefault("cloudinary.folder", "gema/messages")

	durations := make(map[string]time.Duration, 3)
	for _, key := range []string{"realtime.ping_interval", "realtime.ping_timeout", "realtime.poll_timeout"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", key)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetInt("app.port"),
		PortScanRange:          v.GetInt("app.port_scan_range"),
		FrontendOrigin:         strings.TrimRight(v.GetString("frontend.origin"), "/"),
		DevMode:                v.GetBool("auth.dev_mode"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		RealtimeChannel:        v.GetString("realtime.channel"),
		PingInterval:           durations["realtime.ping_interval"],
		PingTimeout:            durations["realtime.ping_timeout"],
		PollTimeout:            durations["realtime.poll_timeout"],
		JWTSecret:              v.GetString("jwt.secret"),
		MessageEncryptionKey:   v.GetString("messages.encryption_key"),
		AttachmentDir:          v.GetString("attachments.dir"),
		AttachmentMaxMB:        v.GetInt("attachments.max_mb"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
	}

	if cfg.AppPort <= 0 || cfg.AppPort > 65535 {
		return Config{}, fmt.Errorf("invalid port %d", cfg.AppPort)
	}
	if cfg.PortScanRange <= 0 {
		cfg.PortScanRange = 50
	}
	if cfg.AttachmentMaxMB <= 0 {
		cfg.AttachmentMaxMB = 10
	}

	if !cfg.DevMode {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("database url must be provided unless dev mode is enabled")
		}
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("jwt secret must be provided unless dev mode is enabled")
		}
	}

	return cfg, nil
}
