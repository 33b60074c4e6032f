package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "RELAYD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "relay.reopen_window", typ: kString, env: "RELAYD_RELAY_REOPEN_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Relay.ReopenWindow = v.(string) },
		extract: func(cfg Config) any { return cfg.Relay.ReopenWindow },
	},
	{
		key: "relay.message_poll_interval", typ: kString, env: "RELAYD_RELAY_MESSAGE_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Relay.MessagePollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Relay.MessagePollInterval },
	},
	{
		key: "relay.queue_poll_interval", typ: kString, env: "RELAYD_RELAY_QUEUE_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Relay.QueuePollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Relay.QueuePollInterval },
	},
	{
		key: "dialogue.base_url", typ: kString, env: "RELAYD_DIALOGUE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Dialogue.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Dialogue.BaseURL },
	},
	{
		key: "storage.data_dir", typ: kString, env: "RELAYD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "RELAYD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
