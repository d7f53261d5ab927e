package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr string `yaml:"addr"`
	MOTD string `yaml:"motd"`

	DatabasePath string `yaml:"database_path"`
	DataDir      string `yaml:"data_dir"`

	DefaultMap       int64   `yaml:"default_map"`
	AlwaysLoadedMaps []int64 `yaml:"always_loaded_maps"`
	MaxMaps          int64   `yaml:"max_maps"`

	ImageURLWhitelist []string `yaml:"image_url_whitelist"`

	Admins []string `yaml:"admins"`
}

func Defaults() Config {
	return Config{
		Addr:             ":8080",
		DatabasePath:     "./data/town.db",
		DataDir:          "./data",
		DefaultMap:       0,
		AlwaysLoadedMaps: []int64{0},
		MaxMaps:          0, // unlimited
	}
}

func Load(path string) (Config, error) {
	c := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("server config: %w", err)
	}
	return c, nil
}
