package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            string `yaml:"port"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Redis struct {
		Addr          string `yaml:"addr"`
		Password      string `yaml:"password"`
		DB            int    `yaml:"db"`
		ChannelPrefix string `yaml:"channel_prefix"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Push struct {
		Enabled          bool   `yaml:"enabled"`
		StreamLifetime   string `yaml:"stream_lifetime"`
		BroadcastTimeout string `yaml:"broadcast_timeout"`
	} `yaml:"push"`
	Sync struct {
		PollInterval      string `yaml:"poll_interval"`
		ReconnectInterval string `yaml:"reconnect_interval"`
		HeartbeatInterval string `yaml:"heartbeat_interval"`
	} `yaml:"sync"`
	Admin struct {
		Token string `yaml:"token"`
	} `yaml:"admin"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads YAML config from path. A missing file yields the zero config so
// the service can run in memory with defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

func (c Config) StreamLifetime() time.Duration {
	return TTLDuration(c.Push.StreamLifetime, 5*time.Minute)
}

func (c Config) BroadcastTimeout() time.Duration {
	return TTLDuration(c.Push.BroadcastTimeout, 3*time.Second)
}

func (c Config) QuizTTL() time.Duration {
	return TTLDuration(c.Quiz.TTL, 10*time.Minute)
}

func (c Config) ShutdownTimeout() time.Duration {
	return TTLDuration(c.Server.ShutdownTimeout, 5*time.Second)
}
