package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pixil98/go-errors"
	"gopkg.in/yaml.v3"
)

// Storage backends accepted in storage.type
const (
	StorageMemory   = "memory"
	StorageJSON     = "json"
	StorageSQLite   = "sqlite"
	StorageLevelDB  = "leveldb"
	StoragePostgres = "postgres"
)

type Config struct {
	World   WorldConfig   `yaml:"world"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

type WorldConfig struct {
	ID               string        `yaml:"id"`
	Seed             int64         `yaml:"seed"`
	ChunkSize        int           `yaml:"chunk_size"`
	GridWidth        int           `yaml:"grid_width"`
	GridHeight       int           `yaml:"grid_height"`
	ViewRadius       int           `yaml:"view_radius"`
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
	SpawnX           int           `yaml:"spawn_x"`
	SpawnY           int           `yaml:"spawn_y"`
}

type StorageConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
	DSN  string `yaml:"dsn"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML file at path over the defaults, applies env overrides,
// then normalizes and validates. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.applyEnv(os.Getenv)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		World: WorldConfig{
			ID:               "overworld",
			Seed:             42,
			ChunkSize:        16,
			GridWidth:        128,
			GridHeight:       128,
			ViewRadius:       2,
			AutosaveInterval: 30 * time.Second,
			SpawnX:           25,
			SpawnY:           25,
		},
		Storage: StorageConfig{
			Type: StorageJSON,
			Path: "db.json",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyEnv honours the environment variables the server has always read.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("DB_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Storage.DSN = v
	}
	if v := getenv("DB_FILE"); v != "" {
		c.Storage.Path = v
	}
	if v := getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
}

func (c *Config) Normalize() {
	c.World.ID = strings.TrimSpace(c.World.ID)
	c.Storage.Type = strings.ToLower(strings.TrimSpace(c.Storage.Type))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Storage.Type == StoragePostgres && c.Storage.DSN == "" {
		c.Storage.DSN = "host=localhost user=isocity password=isocity dbname=isocity sslmode=disable"
	}
}

func (c *Config) Validate() error {
	el := errors.NewErrorList()
	el.Add(c.World.Validate())
	el.Add(c.Storage.Validate())
	el.Add(c.Log.Validate())
	if c.Server.Addr == "" {
		el.Add(fmt.Errorf("server.addr is required"))
	}
	return el.Err()
}

func (c *WorldConfig) Validate() error {
	el := errors.NewErrorList()

	if c.ID == "" {
		el.Add(fmt.Errorf("world.id is required"))
	}
	if c.ChunkSize <= 0 {
		el.Add(fmt.Errorf("world.chunk_size must be positive, got %d", c.ChunkSize))
	}
	if c.GridWidth < 0 || c.GridHeight < 0 {
		el.Add(fmt.Errorf("world grid dimensions must not be negative, got %dx%d", c.GridWidth, c.GridHeight))
	}
	if c.ViewRadius < 0 {
		el.Add(fmt.Errorf("world.view_radius must not be negative, got %d", c.ViewRadius))
	}
	if c.AutosaveInterval < 0 {
		el.Add(fmt.Errorf("world.autosave_interval must not be negative"))
	}

	return el.Err()
}

func (c *StorageConfig) Validate() error {
	switch c.Type {
	case StorageMemory:
		return nil
	case StorageJSON, StorageSQLite, StorageLevelDB:
		if c.Path == "" {
			return fmt.Errorf("storage.path is required for %s storage", c.Type)
		}
		return nil
	case StoragePostgres:
		if c.DSN == "" {
			return fmt.Errorf("storage.dsn is required for postgres storage")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage.type %q", c.Type)
	}
}

func (c *LogConfig) Validate() error {
	el := errors.NewErrorList()
	if _, err := c.SlogLevel(); err != nil {
		el.Add(err)
	}
	if c.Format != "text" && c.Format != "json" {
		el.Add(fmt.Errorf("log.format must be text or json, got %q", c.Format))
	}
	return el.Err()
}

// SlogLevel maps log.level onto a slog level
func (c *LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}
