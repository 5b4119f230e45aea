package config

import (
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Engine   EngineConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EngineConfig points at the audio engine sidecar hosting the analysis,
// separation, melody, synthesis, refinement and mix services.
type EngineConfig struct {
	ServiceURL string
	Timeout    int // seconds
}

type StorageConfig struct {
	Path string
}

type PipelineConfig struct {
	Concurrency        int
	TaskTimeoutMinutes int
	RelayBackoffSecs   int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("engine.service_url", "http://localhost:8100")
	viper.SetDefault("engine.timeout", 1800)
	viper.SetDefault("storage.path", "./storage")
	viper.SetDefault("pipeline.concurrency", 2)
	viper.SetDefault("pipeline.task_timeout_minutes", 60)
	viper.SetDefault("pipeline.relay_backoff_secs", 5)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Engine: EngineConfig{
			ServiceURL: viper.GetString("engine.service_url"),
			Timeout:    viper.GetInt("engine.timeout"),
		},
		Storage: StorageConfig{
			Path: viper.GetString("storage.path"),
		},
		Pipeline: PipelineConfig{
			Concurrency:        viper.GetInt("pipeline.concurrency"),
			TaskTimeoutMinutes: viper.GetInt("pipeline.task_timeout_minutes"),
			RelayBackoffSecs:   viper.GetInt("pipeline.relay_backoff_secs"),
		},
	}

	return cfg, nil
}
