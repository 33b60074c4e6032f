package config

type Config struct {
	Server   ServerConfig
	Relay    RelayConfig
	Dialogue DialogueConfig
	Storage  StorageConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

// RelayConfig carries protocol tunables. Intervals and the reopen window are
// duration strings ("2s", "15m") parsed at the point of use.
type RelayConfig struct {
	// ReopenWindow bounds how long a closed request stays revivable by the
	// session-continuity recovery flow.
	ReopenWindow string
	// MessagePollInterval is the cadence of the per-thread message poll.
	MessagePollInterval string
	// QueuePollInterval is the cadence of the operator queue poll.
	QueuePollInterval string
}

type DialogueConfig struct {
	// BaseURL is the dialogue engine's REST webhook endpoint.
	BaseURL string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Relay: RelayConfig{
			ReopenWindow:        "15m",
			MessagePollInterval: "2s",
			QueuePollInterval:   "5s",
		},
		Dialogue: DialogueConfig{
			BaseURL: "http://localhost:5005/webhooks/rest/webhook",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/relayd/config.json, then applies RELAYD_* environment
// overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}
