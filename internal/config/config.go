package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`
	LogLevel   string `mapstructure:"log_level"`

	// StoreDriver selects the room directory backend: "memory" or "mongo".
	StoreDriver   string `mapstructure:"store_driver"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`

	STUNURLs          []string `mapstructure:"stun_urls"`
	CandidatePoolSize int      `mapstructure:"candidate_pool_size"`

	// Capture floor: the minimum quality asked of the local camera.
	VideoWidth  int     `mapstructure:"video_width"`
	VideoHeight int     `mapstructure:"video_height"`
	FrameRate   float64 `mapstructure:"frame_rate"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "")
	v.SetDefault("secret", "holostream-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("store_driver", "memory")
	v.SetDefault("mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("mongo_database", "holostream")
	v.SetDefault("stun_urls", []string{
		"stun:stun1.l.google.com:19302",
		"stun:stun2.l.google.com:19302",
	})
	v.SetDefault("candidate_pool_size", 10)
	v.SetDefault("video_width", 640)
	v.SetDefault("video_height", 480)
	v.SetDefault("frame_rate", 30)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Store: %s\n", cfg.Mode, cfg.Port, cfg.StoreDriver)
	return &cfg, nil
}
