package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Auth         AuthConfig         `yaml:"auth"`
	AI           AIConfig           `yaml:"ai"`
	Realtime     RealtimeConfig     `yaml:"realtime"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	ServiceURL string `yaml:"service_url"`
	SecretKey  string `yaml:"secret_key"`
}

type AIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// RealtimeConfig bounds the websocket layer and the connection manager.
type RealtimeConfig struct {
	AuthTimeout        time.Duration `yaml:"auth_timeout"`
	DrainTimeout       time.Duration `yaml:"drain_timeout"`
	HeartbeatThreshold time.Duration `yaml:"heartbeat_threshold"`
	MaxMessageSize     int64         `yaml:"max_message_size"`
}

type HousekeepingConfig struct {
	SweepSchedule string        `yaml:"sweep_schedule"`
	RoomMaxIdle   time.Duration `yaml:"room_max_idle"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     8004,
			BasePath: "/api/realtime",
			Env:      "dev",
			LogLevel: "debug",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
			DB:   0,
		},
		AI: AIConfig{
			Model: "gpt-4o-mini",
		},
		Realtime: RealtimeConfig{
			AuthTimeout:        5 * time.Second,
			DrainTimeout:       10 * time.Second,
			HeartbeatThreshold: 90 * time.Second,
			MaxMessageSize:     64 * 1024,
		},
		Housekeeping: HousekeepingConfig{
			SweepSchedule: "@every 1m",
			RoomMaxIdle:   30 * time.Minute,
		},
	}

	// Load from yaml file if exists
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override with environment variables
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if basePath := os.Getenv("SERVER_BASE_PATH"); basePath != "" {
		cfg.Server.BasePath = basePath
	}
	if env := os.Getenv("ENV"); env != "" {
		cfg.Server.Env = env
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		cfg.Redis.Host = redisHost
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		if p, err := strconv.Atoi(redisPort); err == nil {
			cfg.Redis.Port = p
		}
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}
	if redisDB := os.Getenv("REDIS_DB"); redisDB != "" {
		if d, err := strconv.Atoi(redisDB); err == nil {
			cfg.Redis.DB = d
		}
	}
	if authURL := os.Getenv("AUTH_SERVICE_URL"); authURL != "" {
		cfg.Auth.ServiceURL = authURL
	}
	if secretKey := os.Getenv("SECRET_KEY"); secretKey != "" {
		cfg.Auth.SecretKey = secretKey
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.AI.APIKey = apiKey
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		cfg.AI.Model = model
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.AI.BaseURL = baseURL
	}
	if threshold := os.Getenv("HEARTBEAT_THRESHOLD"); threshold != "" {
		if d, err := time.ParseDuration(threshold); err == nil {
			cfg.Realtime.HeartbeatThreshold = d
		}
	}
	if schedule := os.Getenv("SWEEP_SCHEDULE"); schedule != "" {
		cfg.Housekeeping.SweepSchedule = schedule
	}

	return cfg, nil
}
