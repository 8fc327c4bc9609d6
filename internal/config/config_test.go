package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaultsAndEnvFallbacks(t *testing.T) {
	t.Setenv("KLING_API_KEY", "kling-from-env")
	t.Setenv("VIDEO_DB_API_KEY", "media-from-env")

	path := writeConfig(t, `
model:
  provider: openai
media:
  base_url: https://media.example
  api_key: ""
engines:
  kling:
    api_key: from-file
mcp:
  enabled: true
  servers:
    - name: fs
      transport: stdio
      command: npx
      args: ["-y", "server"]
`)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Server.Port != 8080 || c.Agent.MaxSteps != 10 || c.Agent.StageTimeout != 5*time.Minute {
		t.Fatalf("defaults not applied: %+v %+v", c.Server, c.Agent)
	}
	if c.Engines.Kling.APIKey != "from-file" {
		t.Fatalf("file value overridden: %q", c.Engines.Kling.APIKey)
	}
	if c.Media.APIKey != "media-from-env" {
		t.Fatalf("env fallback missing: %q", c.Media.APIKey)
	}
	if len(c.MCP.Servers) != 1 || c.MCP.Servers[0].Args[1] != "server" {
		t.Fatalf("mcp = %+v", c.MCP)
	}
	if Get() != c {
		t.Fatal("Get does not return the loaded config")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Model:   ModelConfig{Provider: "doubao"},
			Storage: StorageConfig{Type: "sqlite"},
			Agent:   AgentConfig{MaxSteps: 3},
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatal(err)
	}

	cases := map[string]func(c *Config){
		"provider":  func(c *Config) { c.Model.Provider = "gpt-2" },
		"storage":   func(c *Config) { c.Storage.Type = "redis" },
		"max steps": func(c *Config) { c.Agent.MaxSteps = 0 },
		"mcp name":  func(c *Config) { c.MCP.Servers = []MCPServerConfig{{Transport: "sse"}} },
		"transport": func(c *Config) { c.MCP.Servers = []MCPServerConfig{{Name: "x", Transport: "grpc"}} },
	}
	for name, mutate := range cases {
		c := base()
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
