package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/monoco.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "monoco.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monoco.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "monoco.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "monoco.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monoco.yaml")
	os.WriteFile(path, []byte("forge:\n  token: ${MONOCO_TEST_TOKEN}\n  owner: acme\n  repo: widgets\n"), 0600)
	os.Setenv("MONOCO_TEST_TOKEN", "secret123")
	defer os.Unsetenv("MONOCO_TEST_TOKEN")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Forge.Token != "secret123" {
		t.Errorf("token = %q, want %q", cfg.Forge.Token, "secret123")
	}
}

func TestApplyDefaults_Scheduler(t *testing.T) {
	cfg := Default()
	if cfg.Scheduler.GlobalConcurrency != 4 {
		t.Errorf("expected default global_concurrency 4, got %d", cfg.Scheduler.GlobalConcurrency)
	}
	if cfg.Scheduler.SubagentDepthDefault != 3 || cfg.Scheduler.SubagentDepthMax != 3 {
		t.Errorf("expected default subagent depth 3/3, got %d/%d", cfg.Scheduler.SubagentDepthDefault, cfg.Scheduler.SubagentDepthMax)
	}
}

func TestApplyDefaults_SeedsFallbackRoutingRule(t *testing.T) {
	cfg := Default()
	found := false
	for _, r := range cfg.Routing.Rules {
		if r.Kind == "fallback" && r.Role == "architect" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a seeded fallback rule targeting architect")
	}
}

func TestValidate_SubagentDepthMaxCeiling(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.SubagentDepthMax = 6
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for subagent_depth_max above 5")
	}
}

func TestValidate_SubagentDepthDefaultExceedsMax(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.SubagentDepthMax = 3
	cfg.Scheduler.SubagentDepthDefault = 4
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when subagent_depth_default exceeds subagent_depth_max")
	}
}

func TestValidate_RoutingRuleUnknownKind(t *testing.T) {
	cfg := Default()
	cfg.Routing.Rules = []RuleConfig{{Kind: "bogus", Pattern: "x", Role: "engineer"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown rule kind")
	}
}

func TestValidate_RoutingRuleMissingPattern(t *testing.T) {
	cfg := Default()
	cfg.Routing.Rules = []RuleConfig{{Kind: "keyword", Role: "engineer"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for keyword rule with no pattern")
	}
}

func TestValidate_RoleConcurrencyMustBePositive(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.RoleConcurrency = map[string]int{"engineer": 0}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive role concurrency")
	}
}

func TestEmailProviderConfig_Configured(t *testing.T) {
	tests := []struct {
		name string
		cfg  EmailProviderConfig
		want bool
	}{
		{"all set", EmailProviderConfig{IMAPHost: "imap.example.com", Username: "u", Password: "p"}, true},
		{"no host", EmailProviderConfig{Username: "u", Password: "p"}, false},
		{"no password", EmailProviderConfig{IMAPHost: "imap.example.com", Username: "u"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Configured(); got != tt.want {
				t.Errorf("Configured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestForgeConfig_Configured(t *testing.T) {
	cfg := ForgeConfig{Token: "t", Owner: "acme", Repo: "widgets"}
	if !cfg.Configured() {
		t.Fatal("expected forge config with token/owner/repo to be configured")
	}
	if (ForgeConfig{}).Configured() {
		t.Fatal("expected empty forge config to be unconfigured")
	}
}
