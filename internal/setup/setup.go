// Package setup registers the gel2mdt MCP tools with desktop MCP clients.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// EntryName is the key gel2mdt is registered under in the client config
const EntryName = "gel2mdt"

// ClientConfig is the subset of an MCP client config file we manage. Other
// top-level keys are preserved on save.
type ClientConfig struct {
	MCPServers map[string]ServerEntry `json:"mcpServers"`
	extra      map[string]json.RawMessage
}

// ServerEntry launches one MCP server
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options controls what Register writes
type Options struct {
	ClientConfigPath string
	BinaryPath       string
	ConfigFile       string
	Env              map[string]string
}

// Status describes the current registration
type Status struct {
	ClientConfigPath string
	Registered       bool
	Entry            ServerEntry
	Issues           []string
}

// DefaultClientConfigPath returns the Claude Desktop config location for this OS
func DefaultClientConfigPath() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", "Claude", "claude_desktop_config.json"), nil
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "Claude", "claude_desktop_config.json"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, ".config", "Claude", "claude_desktop_config.json"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "Claude", "claude_desktop_config.json"), nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// LoadClientConfig reads a client config. A missing file is an empty config.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{MCPServers: map[string]ServerEntry{}, extra: map[string]json.RawMessage{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read client config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg.extra); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if raw, ok := cfg.extra["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &cfg.MCPServers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
		delete(cfg.extra, "mcpServers")
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = map[string]ServerEntry{}
	}
	return cfg, nil
}

// SaveClientConfig writes the config back, keeping keys it does not manage
func SaveClientConfig(path string, cfg *ClientConfig) error {
	out := make(map[string]interface{}, len(cfg.extra)+1)
	for k, v := range cfg.extra {
		out[k] = v
	}
	out["mcpServers"] = cfg.MCPServers

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal client config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write client config: %w", err)
	}
	return nil
}

// Register adds or replaces the gel2mdt entry so the client launches
// "<binary> mcp [--config file]"
func Register(opts Options) (*ServerEntry, error) {
	path, err := clientPath(opts.ClientConfigPath)
	if err != nil {
		return nil, err
	}

	binary := opts.BinaryPath
	if binary == "" {
		binary, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("could not determine gel2mdt binary: %w", err)
		}
	}
	if abs, err := filepath.Abs(binary); err == nil {
		binary = abs
	}

	entry := ServerEntry{Command: binary, Args: []string{"mcp"}}
	if opts.ConfigFile != "" {
		configFile, err := filepath.Abs(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("resolving config file: %w", err)
		}
		entry.Args = append(entry.Args, "--config", configFile)
	}
	if len(opts.Env) > 0 {
		entry.Env = opts.Env
	}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.MCPServers[EntryName] = entry
	if err := SaveClientConfig(path, cfg); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Unregister removes the gel2mdt entry. The bool reports whether one existed.
func Unregister(clientConfigPath string) (bool, error) {
	path, err := clientPath(clientConfigPath)
	if err != nil {
		return false, err
	}
	cfg, err := LoadClientConfig(path)
	if err != nil {
		return false, err
	}
	if _, ok := cfg.MCPServers[EntryName]; !ok {
		return false, nil
	}
	delete(cfg.MCPServers, EntryName)
	return true, SaveClientConfig(path, cfg)
}

// GetStatus reports whether gel2mdt is registered and whether the entry still works
func GetStatus(clientConfigPath string) (*Status, error) {
	path, err := clientPath(clientConfigPath)
	if err != nil {
		return nil, err
	}
	status := &Status{ClientConfigPath: path, Issues: []string{}}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		return nil, err
	}
	entry, ok := cfg.MCPServers[EntryName]
	if !ok {
		status.Issues = append(status.Issues, "gel2mdt is not registered with the MCP client")
		return status, nil
	}
	status.Registered = true
	status.Entry = entry

	info, err := os.Stat(entry.Command)
	switch {
	case os.IsNotExist(err):
		status.Issues = append(status.Issues, fmt.Sprintf("binary not found: %s", entry.Command))
	case err != nil:
		status.Issues = append(status.Issues, fmt.Sprintf("cannot stat binary: %v", err))
	case runtime.GOOS != "windows" && info.Mode()&0111 == 0:
		status.Issues = append(status.Issues, fmt.Sprintf("binary is not executable: %s", entry.Command))
	}

	for i, arg := range entry.Args {
		if arg == "--config" && i+1 < len(entry.Args) {
			if _, err := os.Stat(entry.Args[i+1]); err != nil {
				status.Issues = append(status.Issues, fmt.Sprintf("config file not found: %s", entry.Args[i+1]))
			}
		}
	}
	return status, nil
}

func clientPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return DefaultClientConfigPath()
}
