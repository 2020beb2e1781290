package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigWithInfo_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("BOMFLOW_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, info, err := LoadConfigWithInfo(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if info.PortSpecified {
		t.Fatalf("port should not be marked as specified")
	}
	if cfg.Classifier.MaxAttempts != 3 {
		t.Fatalf("max attempts=%d, want 3", cfg.Classifier.MaxAttempts)
	}
	if cfg.Excel.DataStartRow != 5 {
		t.Fatalf("data start row=%d, want 5", cfg.Excel.DataStartRow)
	}
	if len(cfg.Rules.TestPointPrefixes) != 1 || cfg.Rules.TestPointPrefixes[0] != "TP" {
		t.Fatalf("unexpected test point prefixes: %v", cfg.Rules.TestPointPrefixes)
	}
}

func TestLoadConfigWithInfo_ParsesTomlAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[server]
port = 9000

[classifier]
provider = "gemini"
workers = 2
call_timeout = "5s"
initial_backoff = "250ms"

[rules]
test_point_prefixes = ["TP", "TEST"]
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BOMFLOW_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "gem-key")
	t.Setenv("BOMFLOW_TEMPLATE_PATH", "/tmp/template.xlsx")

	cfg, info, err := LoadConfigWithInfo(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !info.PortSpecified || cfg.Server.Port != 9000 {
		t.Fatalf("port=%d specified=%v", cfg.Server.Port, info.PortSpecified)
	}
	if cfg.Classifier.Provider != "gemini" || cfg.Classifier.Workers != 2 {
		t.Fatalf("unexpected classifier config: %+v", cfg.Classifier)
	}
	if cfg.Classifier.CallTimeout.Std() != 5*time.Second {
		t.Fatalf("call timeout=%v", cfg.Classifier.CallTimeout.Std())
	}
	if cfg.Classifier.InitialBackoff.Std() != 250*time.Millisecond {
		t.Fatalf("initial backoff=%v", cfg.Classifier.InitialBackoff.Std())
	}
	// 未覆盖的字段保留默认值
	if cfg.Classifier.MaxAttempts != 3 {
		t.Fatalf("max attempts=%d, want default 3", cfg.Classifier.MaxAttempts)
	}
	if cfg.Classifier.APIKey != "gem-key" {
		t.Fatalf("api key=%q, want provider env fallback", cfg.Classifier.APIKey)
	}
	if cfg.Excel.TemplatePath != "/tmp/template.xlsx" {
		t.Fatalf("template path=%q", cfg.Excel.TemplatePath)
	}
	if got := cfg.Rules.TestPointPrefixes; len(got) != 2 || got[1] != "TEST" {
		t.Fatalf("test point prefixes=%v", got)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	t.Setenv("BOMFLOW_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := DefaultConfig()
	cfg.Server.Port = 1234
	cfg.Classifier.MaxBackoff = Duration(3 * time.Second)

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Server.Port != 1234 {
		t.Fatalf("port=%d", loaded.Server.Port)
	}
	if loaded.Classifier.MaxBackoff.Std() != 3*time.Second {
		t.Fatalf("max backoff=%v", loaded.Classifier.MaxBackoff.Std())
	}
}
