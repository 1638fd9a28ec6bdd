package config

import "brightchat/internal/forwarder"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Webhook: WebhookConfig{
			URL:            forwarder.DefaultWebhookURL,
			TimeoutSeconds: int(forwarder.DefaultTimeout.Seconds()),
		},
		Client: ClientConfig{
			BaseURL:      "http://localhost:5000",
			Storage:      "sqlite",
			StoragePath:  "~/.brightchat/session.db",
			MissingReply: "fallback",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
