package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	for _, name := range RequiredOperations {
		if _, err := cfg.GetOperation(name); err != nil {
			t.Errorf("default config missing operation %s: %v", name, err)
		}
	}
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing database path", func(c *Config) { c.DatabasePath = "" }, "database_path"},
		{"missing operation", func(c *Config) { delete(c.Operations, "StoryGeneration") }, "StoryGeneration"},
		{"unknown provider", func(c *Config) {
			op := c.Operations["CodeGeneration"]
			op.Provider = "skynet"
			c.Operations["CodeGeneration"] = op
		}, "unknown provider"},
		{"zero token budget", func(c *Config) {
			op := c.Operations["ProjectPlanning"]
			op.MaxTokens = 0
			c.Operations["ProjectPlanning"] = op
		}, "max_tokens"},
		{"hot temperature", func(c *Config) {
			op := c.Operations["RequirementsAnalysis"]
			op.Temperature = 3.0
			c.Operations["RequirementsAnalysis"] = op
		}, "temperature"},
		{"bogus fallback provider", func(c *Config) { c.FallbackOrder = []string{"anthropic", "hal9000"} }, "fallback_order"},
		{"zero review timeout", func(c *Config) { c.Review.ReviewTimeoutHours = 0 }, "review_timeout_hours"},
		{"no pipeline stages", func(c *Config) { c.Review.ValidPipelineStages = nil }, "valid_pipeline_stages"},
		{"no prompt budget", func(c *Config) { c.Assembler.MaxPromptTokens = 0 }, "max_prompt_tokens"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.DatabasePath = "custom.db"
	op := cfg.Operations["StoryGeneration"]
	op.Provider = ProviderOpenAI
	op.Model = "gpt-5-mini"
	cfg.Operations["StoryGeneration"] = op

	if err := Save(cfg, dir); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(filepath.Join(dir, ProjectDir, ConfigFilename))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.DatabasePath != "custom.db" {
		t.Errorf("database path not preserved: %q", loaded.DatabasePath)
	}
	if got := loaded.Operations["StoryGeneration"]; got.Provider != ProviderOpenAI || got.Model != "gpt-5-mini" {
		t.Errorf("operation override not preserved: %+v", got)
	}
}

func TestLoadOrDefaultWithoutFile(t *testing.T) {
	cfg, err := LoadOrDefault(t.TempDir())
	if err != nil {
		t.Fatalf("expected defaults when no file exists: %v", err)
	}
	if cfg.DatabasePath == "" {
		t.Error("defaults should carry a database path")
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	dir := t.TempDir()
	confDir := filepath.Join(dir, ProjectDir)
	if err := os.MkdirAll(confDir, 0755); err != nil {
		t.Fatal(err)
	}
	partial := "database_path: partial.db\n"
	if err := os.WriteFile(filepath.Join(confDir, ConfigFilename), []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(filepath.Join(confDir, ConfigFilename))
	if err != nil {
		t.Fatalf("partial file should load on top of defaults: %v", err)
	}
	if cfg.DatabasePath != "partial.db" {
		t.Errorf("override lost: %q", cfg.DatabasePath)
	}
	if len(cfg.FallbackOrder) == 0 {
		t.Error("fallback order should come from defaults")
	}
	if _, err := cfg.GetOperation("CodeGeneration"); err != nil {
		t.Errorf("operations should come from defaults: %v", err)
	}
}

func TestSaveRefusesInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DatabasePath = ""
	if err := Save(cfg, t.TempDir()); err == nil {
		t.Fatal("expected save to reject an invalid config")
	}
}

func TestGetAPIKeyPrecedence(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })

	SetDecryptedSecrets(nil)
	t.Setenv(EnvAnthropicAPIKey, "env-key")
	key, err := GetAPIKey(ProviderAnthropic)
	if err != nil {
		t.Fatalf("env lookup failed: %v", err)
	}
	if key != "env-key" {
		t.Errorf("got %q, want env-key", key)
	}

	// Secrets file entries win over the environment.
	SetSecret(EnvAnthropicAPIKey, "secret-key")
	key, err = GetAPIKey(ProviderAnthropic)
	if err != nil {
		t.Fatalf("secret lookup failed: %v", err)
	}
	if key != "secret-key" {
		t.Errorf("got %q, want secret-key", key)
	}

	if _, err := GetAPIKey("morse-telegraph"); err == nil {
		t.Error("unknown provider should error")
	}
}

func TestGetAPIKeyOllamaReturnsHost(t *testing.T) {
	t.Setenv(EnvOllamaHost, "")
	host, err := GetAPIKey(ProviderOllama)
	if err != nil {
		t.Fatalf("ollama lookup failed: %v", err)
	}
	if host != "http://localhost:11434" {
		t.Errorf("got %q, want default localhost host", host)
	}

	t.Setenv(EnvOllamaHost, "http://gpu-box:11434")
	host, _ = GetAPIKey(ProviderOllama)
	if host != "http://gpu-box:11434" {
		t.Errorf("got %q, want configured host", host)
	}
}

func TestSecretsFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secrets := map[string]string{
		EnvAnthropicAPIKey: "sk-ant-test",
		EnvOpenAIAPIKey:    "sk-oai-test",
	}

	if SecretsFileExists(dir) {
		t.Fatal("no secrets file expected yet")
	}
	if err := EncryptSecretsFile(dir, "hunter2", secrets); err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if !SecretsFileExists(dir) {
		t.Fatal("secrets file should exist after encryption")
	}

	got, err := DecryptSecretsFile(dir, "hunter2")
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if got[EnvAnthropicAPIKey] != "sk-ant-test" || got[EnvOpenAIAPIKey] != "sk-oai-test" {
		t.Errorf("round trip lost data: %v", got)
	}

	if _, err := DecryptSecretsFile(dir, "wrong-password"); err == nil {
		t.Fatal("wrong password must fail decryption")
	}
}
