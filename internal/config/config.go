package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	I2C      I2CConfig      `mapstructure:"i2c"`
	Feeder   FeederConfig   `mapstructure:"feeder"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Profiles ProfilesConfig `mapstructure:"profiles"`
}

type ServerConfig struct {
	GCodePort       int           `mapstructure:"gcode_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type I2CConfig struct {
	Bus                  string        `mapstructure:"bus"`
	PCA9685BaseAddress   uint8         `mapstructure:"pca9685_base_address"`
	PCA9685Count         int           `mapstructure:"pca9685_count"`
	PCA9685Frequency     uint32        `mapstructure:"pca9685_frequency"`
	MCP23017BaseAddress  uint8         `mapstructure:"mcp23017_base_address"`
	MCP23017Count        int           `mapstructure:"mcp23017_count"`
	FeedbackPollInterval time.Duration `mapstructure:"feedback_poll_interval"`
}

type FeederConfig struct {
	MaxCount       int    `mapstructure:"max_count"`
	AutoEnable     bool   `mapstructure:"auto_enable"`
	DefaultProfile string `mapstructure:"default_profile"`

	// Startkalibrierung für Feeder ohne persistierte Konfiguration
	FullAngle    uint8         `mapstructure:"full_angle"`
	HalfAngle    uint8         `mapstructure:"half_angle"`
	RetractAngle uint8         `mapstructure:"retract_angle"`
	SettleTime   time.Duration `mapstructure:"settle_time"`
	MinPulse     uint16        `mapstructure:"min_pulse"`
	MaxPulse     uint16        `mapstructure:"max_pulse"`
	FeedLength   uint8         `mapstructure:"feed_length"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type ProfilesConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// Defaults setzen
	viper.SetDefault("server.gcode_port", 8989)
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.shutdown_timeout", "30s")

	// I2C Defaults, Adressen entsprechen den Chip-Werksadressen
	viper.SetDefault("i2c.bus", "1")
	viper.SetDefault("i2c.pca9685_base_address", 0x40)
	viper.SetDefault("i2c.pca9685_count", 10)
	viper.SetDefault("i2c.pca9685_frequency", 50)
	viper.SetDefault("i2c.mcp23017_base_address", 0x20)
	viper.SetDefault("i2c.mcp23017_count", 10)
	viper.SetDefault("i2c.feedback_poll_interval", "50ms")

	// Feeder Defaults
	viper.SetDefault("feeder.max_count", 48)
	viper.SetDefault("feeder.auto_enable", false)
	viper.SetDefault("feeder.default_profile", "")
	viper.SetDefault("feeder.full_angle", 90)
	viper.SetDefault("feeder.half_angle", 45)
	viper.SetDefault("feeder.retract_angle", 15)
	viper.SetDefault("feeder.settle_time", "240ms")
	viper.SetDefault("feeder.min_pulse", 150)
	viper.SetDefault("feeder.max_pulse", 600)
	viper.SetDefault("feeder.feed_length", 4)

	viper.SetDefault("storage.path", "feeders.db")
	viper.SetDefault("profiles.search_paths", []string{"./profiles"})

	// Environment Variables automatisch binden (Viper Feature)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("OFC") // Environment Variables mit Prefix OFC_

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
