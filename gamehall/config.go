package gamehall

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/stellarfest/gamehall/gamehall/database"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log     LogConfig         `toml:"log"`
	Server  ServerConfig      `toml:"server"`
	DB      database.DBConfig `toml:"db"`
	Economy EconomyConfig     `toml:"economy"`
}

type LogConfig struct {
	Level slog.Level `toml:"level"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type EconomyConfig struct {
	GachaCost     int64  `toml:"gacha_cost"`
	GachaCurrency string `toml:"gacha_currency"`
}
