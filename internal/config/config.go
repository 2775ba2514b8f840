package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Watch struct {
	Path      string `yaml:"path"`
	Recursive bool   `yaml:"recursive"`
}

type Config struct {
	LogLevel    string        `yaml:"log_level" env:"TREEWATCH_LOG_LEVEL" env-default:"info"`
	Watches     []Watch       `yaml:"watches"`
	QueueSize   int           `yaml:"queue_size" env:"TREEWATCH_QUEUE_SIZE" env-default:"1024"`
	Dispatchers int           `yaml:"dispatchers" env:"TREEWATCH_DISPATCHERS" env-default:"1"`
	ReadTimeout time.Duration `yaml:"read_timeout" env:"TREEWATCH_READ_TIMEOUT" env-default:"1s"`
	BufferSize  int           `yaml:"buffer_size" env:"TREEWATCH_BUFFER_SIZE" env-default:"32768"`
	AllEvents   bool          `yaml:"all_events" env:"TREEWATCH_ALL_EVENTS"`

	Journal struct {
		Path string `yaml:"path" env:"TREEWATCH_JOURNAL"`
	} `yaml:"journal"`

	Inspect bool `yaml:"inspect" env:"TREEWATCH_INSPECT"`

	Removable struct {
		Enabled bool `yaml:"enabled" env:"TREEWATCH_REMOVABLE"`
		// Flat watches only the top directory of each mount; mounts are
		// watched recursively by default.
		Flat bool `yaml:"flat" env:"TREEWATCH_REMOVABLE_FLAT"`
	} `yaml:"removable"`
}

// Load reads the YAML file at path, then applies environment overrides.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Watches) == 0 && !c.Removable.Enabled {
		return errors.New("config: nothing to watch")
	}
	for i, w := range c.Watches {
		if w.Path == "" {
			return fmt.Errorf("config: watches[%d] has no path", i)
		}
	}
	if c.Dispatchers < 1 {
		return fmt.Errorf("config: dispatchers must be positive, got %d", c.Dispatchers)
	}
	return nil
}

// MustLoad loads the file named by -config or CONFIG_PATH and panics on
// failure.
func MustLoad() *Config {
	path := fetchConfigPath()
	if path == "" {
		panic("config path is empty")
	}
	cfg, err := Load(path)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// Priority: flag > env.
func fetchConfigPath() string {
	var res string
	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}
	return res
}
