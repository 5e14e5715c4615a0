package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models agentfloor.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Limits struct {
		AgentsPerCompany int `yaml:"agents_per_company"`
	} `yaml:"limits"`
	Roles struct {
		Catalog map[string]RoleStyle `yaml:"catalog"`
		Palette []PaletteEntry       `yaml:"palette"`
	} `yaml:"roles"`
}

// RoleStyle is the cosmetic styling for a known role.
type RoleStyle struct {
	DisplayName string `yaml:"display_name"`
	Color       string `yaml:"color"`
	ZoneColor   string `yaml:"zone_color"`
}

// PaletteEntry is one color pair handed to unseen roles in first-seen order.
type PaletteEntry struct {
	Color     string `yaml:"color"`
	ZoneColor string `yaml:"zone_color"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Limits.AgentsPerCompany <= 0 {
		return fmt.Errorf("config.limits.agents_per_company must be positive")
	}
	for roleID, style := range c.Roles.Catalog {
		if roleID == "" {
			return fmt.Errorf("config.roles.catalog contains empty role id")
		}
		if style.DisplayName == "" {
			return fmt.Errorf("role %s has empty display_name", roleID)
		}
		if !strings.HasPrefix(style.Color, "#") {
			return fmt.Errorf("role %s color must be a hex value", roleID)
		}
		if style.ZoneColor == "" {
			return fmt.Errorf("role %s has empty zone_color", roleID)
		}
	}
	if len(c.Roles.Palette) == 0 {
		return fmt.Errorf("config.roles.palette is required")
	}
	for i, entry := range c.Roles.Palette {
		if !strings.HasPrefix(entry.Color, "#") {
			return fmt.Errorf("palette entry %d color must be a hex value", i)
		}
		if entry.ZoneColor == "" {
			return fmt.Errorf("palette entry %d has empty zone_color", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "agentfloor.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
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
  base_path: /v0

limits:
  agents_per_company: 50

roles:
  catalog:
    customer:
      display_name: Customer
      color: "#9CA3AF"
      zone_color: "rgba(156, 163, 175, 0.3)"
    ba:
      display_name: Business Analyst
      color: "#3B82F6"
      zone_color: "rgba(59, 130, 246, 0.3)"
    pm:
      display_name: Project Manager
      color: "#8B5CF6"
      zone_color: "rgba(139, 92, 246, 0.3)"
    architect:
      display_name: Architect
      color: "#F97316"
      zone_color: "rgba(249, 115, 22, 0.3)"
    developer:
      display_name: Developer
      color: "#22C55E"
      zone_color: "rgba(34, 197, 94, 0.3)"
    qa:
      display_name: QA Engineer
      color: "#EF4444"
      zone_color: "rgba(239, 68, 68, 0.3)"

  palette:
    - color: "#EC4899"
      zone_color: "rgba(236, 72, 153, 0.3)"
    - color: "#06B6D4"
      zone_color: "rgba(6, 182, 212, 0.3)"
    - color: "#84CC16"
      zone_color: "rgba(132, 204, 22, 0.3)"
    - color: "#F59E0B"
      zone_color: "rgba(245, 158, 11, 0.3)"
    - color: "#6366F1"
      zone_color: "rgba(99, 102, 241, 0.3)"
    - color: "#14B8A6"
      zone_color: "rgba(20, 184, 166, 0.3)"
    - color: "#F43F5E"
      zone_color: "rgba(244, 63, 94, 0.3)"
    - color: "#0EA5E9"
      zone_color: "rgba(14, 165, 233, 0.3)"
`
