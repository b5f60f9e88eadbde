package config

const (
	DefaultWSBase  = "wss://hakushicyatto-backend.doliy4784.workers.dev"
	DefaultAPIBase = "https://hakushicyatto-backend.doliy4784.workers.dev"
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			WSBase:             DefaultWSBase,
			APIBase:            DefaultAPIBase,
			Transport:          "gorilla",
			DialTimeoutSeconds: 15,
		},
		Upload: UploadConfig{
			MaxAttempts:           4,
			InitialDelayMs:        400,
			RequestTimeoutSeconds: 30,
		},
		Settings: SettingsConfig{
			DBPath: "~/.hakushi/settings.db",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Addr:     "127.0.0.1:9464",
			Endpoint: "/metrics",
		},
	}
}
