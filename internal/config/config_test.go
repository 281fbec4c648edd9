package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points every config lookup at an empty temp home.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("WSAGENT_HOME", home)
	t.Setenv("WSAGENT_CONFIG", "")
	t.Setenv("WSAGENT_ENV_FILE", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	return home
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Model.MaxIterations != 10 {
		t.Errorf("expected maxIterations 10, got %d", cfg.Model.MaxIterations)
	}
	if cfg.Provider.MaxRetries != 3 {
		t.Errorf("expected maxRetries 3, got %d", cfg.Provider.MaxRetries)
	}
	if cfg.Provider.InitialBackoff() != 500*time.Millisecond {
		t.Errorf("expected initial backoff 500ms, got %v", cfg.Provider.InitialBackoff())
	}
	if cfg.Provider.MaxBackoff() != 8*time.Second {
		t.Errorf("expected max backoff 8s, got %v", cfg.Provider.MaxBackoff())
	}
	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("expected gateway host 127.0.0.1, got %s", cfg.Gateway.Host)
	}
	if cfg.Processor.MaxQueueDepth != 64 || cfg.Processor.MaxConcurrent != 8 {
		t.Errorf("unexpected processor defaults: %+v", cfg.Processor)
	}
	if cfg.Alerts.Enabled() {
		t.Error("expected alerts disabled by default")
	}
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Model.MaxTokens != 8192 {
		t.Errorf("expected maxTokens 8192, got %d", cfg.Model.MaxTokens)
	}
	want := filepath.Join(home, ".wsagent", "ledger.db")
	if cfg.Ledger.Path != want {
		t.Errorf("expected ledger path %q, got %q", want, cfg.Ledger.Path)
	}
}

func TestLoadFromJSONFile(t *testing.T) {
	home := isolate(t)
	configDir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	configJSON := `{
		"model": { "name": "openai/gpt-4", "maxIterations": 4 },
		"store": { "backend": "memory" },
		"gateway": { "port": 9999 },
		"workers": [{ "id": "planner", "name": "Planner", "systemPrompt": "Plan." }]
	}`
	if err := os.WriteFile(filepath.Join(configDir, ConfigFile), []byte(configJSON), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Model.Name != "openai/gpt-4" {
		t.Errorf("expected model openai/gpt-4, got %s", cfg.Model.Name)
	}
	if cfg.Model.MaxIterations != 4 {
		t.Errorf("expected maxIterations 4, got %d", cfg.Model.MaxIterations)
	}
	if cfg.Store.Backend != StoreBackendMemory {
		t.Errorf("expected memory backend, got %s", cfg.Store.Backend)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Gateway.Port)
	}
	if len(cfg.Workers) != 1 || cfg.Workers[0].ID != "planner" || cfg.Workers[0].SystemPrompt != "Plan." {
		t.Errorf("unexpected workers %+v", cfg.Workers)
	}
	// Untouched keys keep their defaults.
	if cfg.Model.MaxTokens != 8192 {
		t.Errorf("expected default maxTokens, got %d", cfg.Model.MaxTokens)
	}
}

func TestLoadFromYAMLWithIncludeAndEnvSubstitution(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	base := "store:\n  brokers:\n    - broker-a:9092\n    - broker-b:9092\n  topicPrefix: base.\n"
	main := "$include: base.yaml\nstore:\n  topicPrefix: ${TEST_TOPIC_PREFIX}\norchestrator:\n  workspaces: [ws-1, ws-2]\n"
	if err := os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(base), 0o600); err != nil {
		t.Fatalf("write base: %v", err)
	}
	mainPath := filepath.Join(dir, "wsagent.yaml")
	if err := os.WriteFile(mainPath, []byte(main), 0o600); err != nil {
		t.Fatalf("write main: %v", err)
	}
	t.Setenv("TEST_TOPIC_PREFIX", "prod.ws.")

	cfg, err := LoadFrom(mainPath)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.Store.TopicPrefix != "prod.ws." {
		t.Errorf("expected substituted topic prefix, got %q", cfg.Store.TopicPrefix)
	}
	if len(cfg.Store.Brokers) != 2 || cfg.Store.Brokers[1] != "broker-b:9092" {
		t.Errorf("expected brokers from include, got %v", cfg.Store.Brokers)
	}
	if len(cfg.Orchestrator.Workspaces) != 2 {
		t.Errorf("expected two workspaces, got %v", cfg.Orchestrator.Workspaces)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	_ = os.WriteFile(a, []byte(`{"$include": "b.json"}`), 0o600)
	_ = os.WriteFile(b, []byte(`{"$include": "a.json"}`), 0o600)

	if _, err := LoadFrom(a); err == nil {
		t.Fatal("expected include cycle error")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("WSAGENT_MODEL_MAX_ITERATIONS", "3")
	t.Setenv("WSAGENT_PROVIDER_MAX_RETRIES", "1")
	t.Setenv("WSAGENT_STORE_BROKERS", "k1:9092,k2:9092")
	t.Setenv("WSAGENT_TOOLS_DISABLED", "update_task")
	t.Setenv("WSAGENT_ALERTS_SLACK_TOKEN", "xoxb-test")
	t.Setenv("WSAGENT_ALERTS_SLACK_CHANNEL", "#ops")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Model.MaxIterations != 3 {
		t.Errorf("expected maxIterations 3, got %d", cfg.Model.MaxIterations)
	}
	if cfg.Provider.MaxRetries != 1 {
		t.Errorf("expected maxRetries 1, got %d", cfg.Provider.MaxRetries)
	}
	if len(cfg.Store.Brokers) != 2 || cfg.Store.Brokers[0] != "k1:9092" {
		t.Errorf("unexpected brokers %v", cfg.Store.Brokers)
	}
	if len(cfg.Tools.Disabled) != 1 || cfg.Tools.Disabled[0] != "update_task" {
		t.Errorf("unexpected disabled tools %v", cfg.Tools.Disabled)
	}
	if !cfg.Alerts.Enabled() {
		t.Error("expected alerts enabled from env")
	}
}

func TestLoadAPIKeyFallback(t *testing.T) {
	isolate(t)
	t.Setenv("OPENROUTER_API_KEY", "or-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Provider.APIKey != "or-key" {
		t.Errorf("expected fallback api key, got %q", cfg.Provider.APIKey)
	}
}

func TestLoadNormalizesInvalidValues(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"model":{"maxIterations":0},"provider":{"maxRetries":-2},"store":{"backend":"bogus"}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.Model.MaxIterations != 10 {
		t.Errorf("expected maxIterations reset to 10, got %d", cfg.Model.MaxIterations)
	}
	if cfg.Provider.MaxRetries != 0 {
		t.Errorf("expected negative retries clamped to 0, got %d", cfg.Provider.MaxRetries)
	}
	if cfg.Store.Backend != StoreBackendKafka {
		t.Errorf("expected unknown backend to fall back to kafka, got %s", cfg.Store.Backend)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	for _, name := range []string{"out.json", "out.yaml"} {
		path := filepath.Join(dir, name)
		cfg := DefaultConfig()
		cfg.Model.Name = "round/trip"
		cfg.Orchestrator.Workspaces = []string{"ws-a"}
		if err := Save(cfg, path); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
		loaded, err := LoadFrom(path)
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		if loaded.Model.Name != "round/trip" {
			t.Errorf("%s: expected model round/trip, got %s", name, loaded.Model.Name)
		}
		if len(loaded.Orchestrator.Workspaces) != 1 {
			t.Errorf("%s: expected workspaces preserved, got %v", name, loaded.Orchestrator.Workspaces)
		}
	}
}

func TestConfigPathRespectsEnv(t *testing.T) {
	isolate(t)
	t.Setenv("WSAGENT_HOME", "/srv/wshome")
	t.Setenv("WSAGENT_CONFIG", "~/custom.json")

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if path != filepath.Join("/srv/wshome", "custom.json") {
		t.Fatalf("unexpected config path: %q", path)
	}
}
