package engine

import (
	"testing"

	"github.com/indenscale/monoco/internal/config"
)

func TestNewRegistry_SeedsBuiltins(t *testing.T) {
	cfg := config.Default()
	r, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	if _, ok := r.Get("local"); !ok {
		t.Fatal("expected local adapter to be registered by default")
	}
}

func TestNewRegistry_DisabledEngineOmitted(t *testing.T) {
	cfg := config.Default()
	cfg.Engines.Available = append(cfg.Engines.Available, config.EngineConfig{
		Name:    "gemini",
		Enabled: false,
	})
	r, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	if _, ok := r.Get("gemini"); ok {
		t.Fatal("expected disabled engine to be absent from registry")
	}
}

func TestGenericAdapter_BuildCommand(t *testing.T) {
	a := &genericAdapter{
		name:               "claude",
		command:            "claude",
		unattendedFlag:     "--dangerously-skip-permissions",
		supportsUnattended: true,
	}
	argv, err := a.BuildCommand("do the thing", map[string]string{"working_dir": "/tmp/work"})
	if err != nil {
		t.Fatalf("BuildCommand error: %v", err)
	}
	want := []string{"claude", "--dangerously-skip-permissions", "--cwd", "/tmp/work", "--prompt", "do the thing"}
	if len(argv) != len(want) {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Errorf("argv[%d] = %q, want %q", i, argv[i], want[i])
		}
	}
}

func TestGenericAdapter_RefusesUnattendedUnsupported(t *testing.T) {
	a := &genericAdapter{name: "human-in-loop", command: "x", supportsUnattended: false}
	if _, err := a.BuildCommand("p", nil); err == nil {
		t.Fatal("expected error building command for an engine without unattended support")
	}
}
