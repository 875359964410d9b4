package config

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/ianrichard/agentservice/errors"
	"gopkg.in/yaml.v3"
)

// DirName is the per-user and per-project configuration directory.
const DirName = ".agentservice"

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

// MCPServer describes a tool server launched as a subprocess speaking MCP over stdio.
type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

type Config struct {
	SystemPrompt         string           `yaml:"system_prompt"`
	LogLevel             string           `yaml:"log_level"`
	MaxRequests          int              `yaml:"max_requests"`
	WebSocketAddr        string           `yaml:"ws_addr"`
	Toolsets             []Toolset        `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer      `yaml:"additional_mcp_servers"`
	AllowedCommands      []string         `yaml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess `yaml:"filesystem_access"`
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		LogLevel:      "info",
		WebSocketAddr: ":8080",
	}

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, DirName, "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, DirName, "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	// Added after the files are decoded, since a hidden list in either file
	// replaces the slice.
	cfg.FilesystemAccess.Hidden = appendMissing(cfg.FilesystemAccess.Hidden, builtinHidden...)
	return cfg, nil
}

// builtinHidden are never exposed to tools: the config directory and the
// .env file holding API keys.
var builtinHidden = []string{DirName, DirName + "/**", ".env", "**/.env"}

func appendMissing(list []string, items ...string) []string {
	for _, item := range items {
		if !slices.Contains(list, item) {
			list = append(list, item)
		}
	}
	return list
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites only the fields present in the file, so a project
	// file replaces individual user-level settings.
	return yaml.Unmarshal(data, cfg)
}

// GetToolset finds a toolset by name, falling back to "default". A nil toolset
// with a nil error means no toolsets are configured and every built-in tool
// is enabled.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if len(c.Toolsets) == 0 {
		return nil, nil
	}
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		return nil, errors.New("mandatory 'default' toolset not found in configuration")
	}
	return c.GetToolset("default")
}
