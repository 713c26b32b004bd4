package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ConfigFileName)

	hclConfig := `# Test configuration
verbose = 1
poll_interval = "2s"
grace_period  = "10s"
history_size  = 500

http {
  listen = "127.0.0.1:8484"
}

server "webfront" {
  name    = "Web Frontend"
  command = "npm run dev"
  workdir = "~/src/webfront"
  ports   = [3000, 3001]
  color   = "cyan"
}

server "backend" {
  command = "go run ./cmd/api"
  ports   = [9000]
}
`

	if err := os.WriteFile(configPath, []byte(hclConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load HCL config: %v", err)
	}

	if config.Verbose != 1 {
		t.Errorf("Expected verbose=1, got %v", config.Verbose)
	}
	if config.PollInterval != 2*time.Second {
		t.Errorf("Expected poll_interval=2s, got %v", config.PollInterval)
	}
	if config.GracePeriod != 10*time.Second {
		t.Errorf("Expected grace_period=10s, got %v", config.GracePeriod)
	}
	if config.HistorySize != 500 {
		t.Errorf("Expected history_size=500, got %v", config.HistorySize)
	}
	if config.HTTP.Listen != "127.0.0.1:8484" {
		t.Errorf("Expected http listen=127.0.0.1:8484, got %q", config.HTTP.Listen)
	}

	if len(config.Servers) != 2 {
		t.Fatalf("Expected 2 servers, got %d", len(config.Servers))
	}

	// File order must be preserved
	web := config.Servers[0]
	if web.ID != "webfront" {
		t.Errorf("Expected first server webfront, got %q", web.ID)
	}
	if web.Name != "Web Frontend" {
		t.Errorf("Expected display name 'Web Frontend', got %q", web.Name)
	}
	if web.Command != "npm run dev" {
		t.Errorf("Expected command 'npm run dev', got %q", web.Command)
	}
	if len(web.Ports) != 2 || web.Ports[0] != 3000 || web.Ports[1] != 3001 {
		t.Errorf("Expected ports [3000 3001], got %v", web.Ports)
	}

	backend := config.Servers[1]
	if backend.ID != "backend" {
		t.Errorf("Expected second server backend, got %q", backend.ID)
	}
	// Name defaults to the id
	if backend.Name != "backend" {
		t.Errorf("Expected name to default to id, got %q", backend.Name)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ConfigFileName)

	if err := os.WriteFile(configPath, []byte("verbose = 0\n"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load HCL config: %v", err)
	}

	if config.PollInterval != 3*time.Second {
		t.Errorf("Expected default poll_interval=3s, got %v", config.PollInterval)
	}
	if config.GracePeriod != 5*time.Second {
		t.Errorf("Expected default grace_period=5s, got %v", config.GracePeriod)
	}
	if config.HistorySize != 1000 {
		t.Errorf("Expected default history_size=1000, got %v", config.HistorySize)
	}
	if config.HTTP.Listen != "" {
		t.Errorf("Expected HTTP disabled by default, got %q", config.HTTP.Listen)
	}
}

func TestLoadConfigInvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ConfigFileName)

	if err := os.WriteFile(configPath, []byte(`poll_interval = "not-a-duration"`+"\n"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	if _, err := LoadConfig(configPath); err == nil {
		t.Fatal("Expected error for invalid poll_interval")
	}
}

func TestInitializeMissingFile(t *testing.T) {
	tmpDir := t.TempDir()

	if err := Initialize(tmpDir); err != nil {
		t.Fatalf("Initialize with missing config file should not error: %v", err)
	}
	if Config == nil {
		t.Fatal("Expected default config to be set")
	}
	if Config.ConfigPath != tmpDir {
		t.Errorf("Expected config path %q, got %q", tmpDir, Config.ConfigPath)
	}
	if len(Config.Servers) != 0 {
		t.Errorf("Expected empty server registry, got %d", len(Config.Servers))
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	if got := ExpandPath("~/src/app"); got != filepath.Join(home, "src/app") {
		t.Errorf("Expected home expansion, got %q", got)
	}
	if got := ExpandPath("/absolute/path"); got != "/absolute/path" {
		t.Errorf("Expected absolute path unchanged, got %q", got)
	}
}
