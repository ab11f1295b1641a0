package config

import "time"

func Defaults() *Config {
	return &Config{
		Max: MaxConfig{
			WorkDir: "~/.maxrelay/cache",
			URL:     "wss://ws-api.oneme.ru/websocket",
		},
		Telegram: TelegramConfig{
			SendsPerMinute: 60,
			SendBurst:      20,
		},
		Relay: RelayConfig{
			Workers:            4,
			QueueSize:          100,
			FetchTimeout:       60 * time.Second,
			MaxAttachmentBytes: 50 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
	}
}

// Template is the commented starter file written by `config init`.
const Template = `# maxrelay configuration. Environment variables override every value here.
max:
  phone: ""        # or MAX_PHONE_NUMBER
  workDir: ~/.maxrelay/cache
telegram:
  token: ""        # or TG_BOT_TOKEN; ${VAR} references are expanded
  targetUserId: 0  # or TG_TARGET_USER_ID
  sendsPerMinute: 60
  sendBurst: 20
relay:
  workers: 4
  queueSize: 100
  fetchTimeout: 60s
  maxAttachmentBytes: 52428800
log:
  level: info
  format: text
metrics:
  enabled: false
  listen: 127.0.0.1:9464
`
