package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	DatabasePath    string        `mapstructure:"database_path" yaml:"database_path"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	RecorderWorkers int `mapstructure:"recorder_workers" yaml:"recorder_workers"`
	RecorderQueue   int `mapstructure:"recorder_queue" yaml:"recorder_queue"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:            ":12345",
		DatabasePath:    "data/talkline.db",
		LogLevel:        "info",
		ShutdownTimeout: 5 * time.Second,
		IdleTimeout:     5 * time.Minute,
		JWTSecret:       "dev-secret-change-me",
		JWTIssuer:       "talkline",
		JWTAudience:     "talkline-clients",
		JWTTTL:          24 * time.Hour,
		RecorderWorkers: 2,
		RecorderQueue:   256,
	}
}
