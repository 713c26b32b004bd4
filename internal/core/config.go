package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

const (
	BaseDirName    = ".config/steward"
	ConfigFileName = "steward.hcl"
	PidFileName    = "daemon.pid"
	SocketName     = "daemon.sock"
	StateFileName  = "process_state.json"
	TokenHashName  = "api_token.hash"
	DatabaseName   = "steward.db"
	LogDirName     = "logs"
)

// Config is the global configuration instance
var Config *Configuration

// ServerConfig describes one managed server process.
// Immutable after registration; re-registering an id replaces it.
type ServerConfig struct {
	ID      string // Unique key, the HCL block label
	Name    string // Display name, defaults to ID
	Command string // Launch command, run via the shell
	Workdir string // Working directory, ~ expanded
	Ports   []int  // Declared TCP listen ports (may be empty)
	Color   string // Display color for the dashboard, ignored by logic
}

// HTTPConfig represents the HTTP/websocket control surface settings
type HTTPConfig struct {
	Listen string // Listen address, empty disables the HTTP server
}

// Configuration represents the complete steward configuration
type Configuration struct {
	ConfigPath   string          // Directory containing config and state files
	Verbose      int             // Verbosity level
	PollInterval time.Duration   // Reconciliation poll interval
	GracePeriod  time.Duration   // Graceful kill wait before SIGKILL
	HistorySize  int             // Log broadcaster history size
	HTTP         HTTPConfig      // HTTP control surface
	Servers      []*ServerConfig // Registration order matters for attribution ties
}

// HCL parsing structs

type hclConfig struct {
	Verbose      int         `hcl:"verbose,optional"`
	PollInterval string      `hcl:"poll_interval,optional"`
	GracePeriod  string      `hcl:"grace_period,optional"`
	HistorySize  int         `hcl:"history_size,optional"`
	HTTP         *hclHTTP    `hcl:"http,block"`
	Servers      []hclServer `hcl:"server,block"`
}

type hclHTTP struct {
	Listen string `hcl:"listen,optional"`
}

type hclServer struct {
	ID      string `hcl:"id,label"`
	Name    string `hcl:"name,optional"`
	Command string `hcl:"command"`
	Workdir string `hcl:"workdir,optional"`
	Ports   []int  `hcl:"ports,optional"`
	Color   string `hcl:"color,optional"`
}

// LoadConfig loads the HCL configuration file and returns a Configuration struct
func LoadConfig(filename string) (*Configuration, error) {
	var hclCfg hclConfig

	err := hclsimple.DecodeFile(filename, nil, &hclCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HCL config: %w", err)
	}

	cfg := GetDefaultConfig()
	cfg.ConfigPath = filepath.Dir(filename)
	cfg.Verbose = hclCfg.Verbose

	if hclCfg.PollInterval != "" {
		d, err := time.ParseDuration(hclCfg.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid poll_interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if hclCfg.GracePeriod != "" {
		d, err := time.ParseDuration(hclCfg.GracePeriod)
		if err != nil {
			return nil, fmt.Errorf("invalid grace_period: %w", err)
		}
		cfg.GracePeriod = d
	}
	if hclCfg.HistorySize > 0 {
		cfg.HistorySize = hclCfg.HistorySize
	}
	if hclCfg.HTTP != nil {
		cfg.HTTP.Listen = hclCfg.HTTP.Listen
	}

	// Convert server blocks, preserving file order
	for _, hclSrv := range hclCfg.Servers {
		srv := &ServerConfig{
			ID:      hclSrv.ID,
			Name:    hclSrv.Name,
			Command: hclSrv.Command,
			Workdir: hclSrv.Workdir,
			Ports:   hclSrv.Ports,
			Color:   hclSrv.Color,
		}
		if srv.Name == "" {
			srv.Name = srv.ID
		}
		cfg.Servers = append(cfg.Servers, srv)
	}

	return cfg, nil
}

// GetDefaultConfig returns a Configuration with default values
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Verbose:      0,
		PollInterval: 3 * time.Second,
		GracePeriod:  5 * time.Second,
		HistorySize:  1000,
		Servers:      make([]*ServerConfig, 0),
	}
}

// Initialize loads the config file under configPath into the global Config.
// A missing config file is not an error - steward can run with an empty
// registry and have servers registered over the control surface.
func Initialize(configPath string) error {
	filename := filepath.Join(configPath, ConfigFileName)
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		Config = GetDefaultConfig()
		Config.ConfigPath = configPath
		return nil
	}

	cfg, err := LoadConfig(filename)
	if err != nil {
		return err
	}
	Config = cfg
	return nil
}

func GetConfigFilePath() string {
	return filepath.Join(Config.ConfigPath, ConfigFileName)
}

func GetSocketPath() string {
	return filepath.Join(Config.ConfigPath, SocketName)
}

func GetPIDFilePath() string {
	return filepath.Join(Config.ConfigPath, PidFileName)
}

func GetStateFilePath() string {
	return filepath.Join(Config.ConfigPath, StateFileName)
}

func GetTokenHashPath() string {
	return filepath.Join(Config.ConfigPath, TokenHashName)
}

func GetDatabasePath() string {
	return filepath.Join(Config.ConfigPath, DatabaseName)
}

func GetLogDir() string {
	return filepath.Join(Config.ConfigPath, LogDirName)
}

// ExpandPath expands ~ to the home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home + path[1:]
	}
	return path
}

// ConfigExists checks if a config file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return err == nil
}
