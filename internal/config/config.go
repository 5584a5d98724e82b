package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"docfish/internal/domain"
)

const (
	OrderSequential = "sequential"
	OrderShuffled   = "shuffled"
)

// Config models docfish.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Selector Selector `yaml:"selector"`
	Tasks    map[string]TaskDefaults `yaml:"tasks"`
	Logging  struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Selector controls the order in which uncovered targets are handed out.
type Selector struct {
	Order string `yaml:"order"`
	Seed  string `yaml:"seed"`
}

type TaskDefaults struct {
	Title       string `yaml:"title"`
	Instruction string `yaml:"instruction"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "config %s not found; write one with docfish config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the workspace config, or Default when no file exists.
func LoadOrDefault(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default(), nil
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return errors.New("config.server.base_path must start with /")
	}
	switch c.Selector.Order {
	case OrderSequential, OrderShuffled:
	default:
		return errors.Newf("config.selector.order must be %q or %q", OrderSequential, OrderShuffled)
	}
	if c.Selector.Order == OrderShuffled && c.Selector.Seed == "" {
		return errors.New("config.selector.seed is required for shuffled order")
	}
	for name, t := range c.Tasks {
		if _, err := domain.ParseTaskType(name); err != nil {
			return errors.Wrap(err, "config.tasks")
		}
		if strings.TrimSpace(t.Title) == "" {
			return errors.Newf("config.tasks.%s.title is required", name)
		}
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return errors.New("config.logging.format must be text or json")
	}
	return nil
}

// LogLevel parses logging.level, defaulting to info.
func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if c.Logging.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return lvl, errors.Wrap(err, "config.logging.level")
	}
	return lvl, nil
}

// TaskDefaults returns title and instruction seeded into new collections.
func (c *Config) TaskDefaults(t domain.TaskType) TaskDefaults {
	if d, ok := c.Tasks[string(t)]; ok {
		return d
	}
	return TaskDefaults{Title: defaultTitle(t)}
}

func defaultTitle(t domain.TaskType) string {
	target := string(t.Target())
	task := string(t.Task())
	if t.Task() == domain.TaskDescribe {
		task = "description"
	}
	return strings.ToUpper(target[:1]) + target[1:] + " " + strings.ToUpper(task[:1]) + task[1:]
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "docfish.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config yaml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

auth:
  jwt_secret: ""

selector:
  # sequential hands out targets in the order they were added;
  # shuffled gives every scope its own seeded permutation.
  order: sequential
  seed: docfish

tasks:
  text_annotation:
    title: Text Annotation
  text_describe:
    title: Text Description
  text_markup:
    title: Text Markup
  image_annotation:
    title: Image Annotation
  image_describe:
    title: Image Description
  image_markup:
    title: Image Markup

logging:
  level: info
  format: text
`
