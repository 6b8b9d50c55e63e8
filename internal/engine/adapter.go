// Package engine defines the EngineAdapter registry: the set of
// external CLI agent backends the scheduler can spawn sessions
// against. An adapter knows only how to turn a prompt into an argv —
// it never runs the process itself; that is the scheduler's job.
package engine

import (
	"fmt"

	"github.com/indenscale/monoco/internal/config"
)

// Adapter turns a prompt into an invocation for one external agent CLI.
type Adapter interface {
	// Name is the registry key (gemini, claude, kimi, qwen, local, ...).
	Name() string
	// BuildCommand returns the argv (command plus arguments) the
	// scheduler should exec for the given prompt. env carries
	// task-scoped values (working directory, issue id, role) an
	// adapter may fold into arguments.
	BuildCommand(prompt string, env map[string]string) ([]string, error)
	// SupportsUnattended reports whether this adapter can run without
	// a human confirming each step. The scheduler refuses to schedule
	// against an adapter that returns false here.
	SupportsUnattended() bool
}

// genericAdapter implements Adapter entirely from configuration: every
// built-in (gemini, claude, kimi, qwen, local) is one of these with
// different defaults, since they all share the same "CLI binary plus
// flags" invocation shape.
type genericAdapter struct {
	name               string
	command            string
	baseArgs           []string
	unattendedFlag     string
	supportsUnattended bool
}

func (a *genericAdapter) Name() string { return a.name }

func (a *genericAdapter) SupportsUnattended() bool { return a.supportsUnattended }

func (a *genericAdapter) BuildCommand(prompt string, env map[string]string) ([]string, error) {
	if a.command == "" {
		return nil, fmt.Errorf("engine %q has no command configured", a.name)
	}
	if !a.supportsUnattended {
		return nil, fmt.Errorf("engine %q does not support unattended mode", a.name)
	}

	argv := make([]string, 0, len(a.baseArgs)+3)
	argv = append(argv, a.command)
	argv = append(argv, a.baseArgs...)
	if a.unattendedFlag != "" {
		argv = append(argv, a.unattendedFlag)
	}
	if dir := env["working_dir"]; dir != "" {
		argv = append(argv, "--cwd", dir)
	}
	argv = append(argv, "--prompt", prompt)
	return argv, nil
}

// builtinDefaults seeds the registry with the adapters named in
// spec.md §4.2 before configuration overrides are layered on.
func builtinDefaults() map[string]*genericAdapter {
	return map[string]*genericAdapter{
		"gemini": {name: "gemini", command: "gemini", baseArgs: []string{"chat"}, unattendedFlag: "--yolo", supportsUnattended: true},
		"claude": {name: "claude", command: "claude", baseArgs: []string{}, unattendedFlag: "--dangerously-skip-permissions", supportsUnattended: true},
		"kimi":   {name: "kimi", command: "kimi", baseArgs: []string{}, unattendedFlag: "--auto-approve", supportsUnattended: true},
		"qwen":   {name: "qwen", command: "qwen", baseArgs: []string{}, unattendedFlag: "--yes", supportsUnattended: true},
		"local":  {name: "local", command: "monoco-agent", baseArgs: []string{}, unattendedFlag: "--unattended", supportsUnattended: true},
	}
}

// Registry is the name → Adapter mapping the scheduler consults. It is
// built once at startup from built-ins overlaid with configuration and
// is immutable thereafter: there is no exported mutation method, only
// Get and Names.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

// NewRegistry seeds a Registry from built-in adapters, overridden by
// any engines named in cfg.Engines.Available. An engine entry with
// Enabled=false is omitted from the registry entirely (schedule will
// report it unrecognized, not merely unattended-incapable).
func NewRegistry(cfg *config.Config) (*Registry, error) {
	defaults := builtinDefaults()

	for _, ec := range cfg.Engines.Available {
		if ec.Name == "" {
			return nil, fmt.Errorf("engines.available entry has no name")
		}
		a, ok := defaults[ec.Name]
		if !ok {
			a = &genericAdapter{name: ec.Name}
			defaults[ec.Name] = a
		}
		if ec.Command != "" {
			a.command = ec.Command
		}
		if len(ec.BaseArgs) > 0 {
			a.baseArgs = ec.BaseArgs
		}
		if ec.UnattendedFlag != "" {
			a.unattendedFlag = ec.UnattendedFlag
		}
		a.supportsUnattended = ec.SupportsUnattended
		if !ec.Enabled {
			delete(defaults, ec.Name)
		}
	}

	r := &Registry{adapters: make(map[string]Adapter, len(defaults))}
	for name, a := range defaults {
		r.adapters[name] = a
		r.order = append(r.order, name)
	}
	return r, nil
}

// Get looks up an adapter by name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered adapter names.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
