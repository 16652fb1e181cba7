// Package globalscript implements spec.md §4.8's global-script registry:
// load/reload/retire of long-lived top-level scripts, differentiating
// config-declared scripts (retired when a reload no longer declares them)
// from dynamically loaded ones (kept across a reload regardless of use).
package globalscript

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sync"

	"github.com/nullteam/softpbx/internal/script"
)

// Script is one long-lived top-level script (spec.md §3 "Global
// script"): name, file path, parser state, its own context, and the
// in-use/config-declared flags the registry's reload cycle consults.
type Script struct {
	Name       string
	Path       string
	Relative   bool
	FromConfig bool
	Digest     [32]byte
	Runner     *script.Runner
	inUse      bool
	OnLoad     func(*script.Runner)
	OnUnload   func(*script.Runner)
}

// Registry owns the name → Script map and the reload cycle.
type Registry struct {
	mu sync.Mutex

	scripts map[string]*Script

	// KeepOldOnFail mirrors spec.md §4.8's buildNewScript behavior:
	// when true (the default), a script that fails to parse leaves the
	// previously-loaded Script object untouched.
	KeepOldOnFail bool

	// NewContext builds a fresh runner for a freshly (re)built script.
	NewContext func(name string) *script.Runner

	// MaxSourceBytes is passed through to script.Parse.
	MaxSourceBytes int
	BasePath       string
	LibsPath       string
}

// NewRegistry returns an empty Registry with keep-old-on-fail enabled.
func NewRegistry(newContext func(name string) *script.Runner) *Registry {
	return &Registry{
		scripts:       make(map[string]*Script),
		KeepOldOnFail: true,
		NewContext:    newContext,
	}
}

func digestFile(path string) ([32]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// InitScript implements spec.md §4.8's initScript: if name is present
// with a different file digest, rebuild; else mark in-use.
func (r *Registry) InitScript(name, path string, relative, fromConfig bool) (*Script, error) {
	r.mu.Lock()
	existing, ok := r.scripts[name]
	r.mu.Unlock()

	digest, err := digestFile(path)
	if err != nil {
		return nil, fmt.Errorf("globalscript: digest %s: %w", path, err)
	}

	if ok && existing.Digest == digest {
		r.mu.Lock()
		existing.inUse = true
		if fromConfig {
			existing.FromConfig = true
		}
		r.mu.Unlock()
		return existing, nil
	}

	return r.buildNewScript(name, path, relative, fromConfig, digest)
}

// ReloadScript implements spec.md §4.8's reloadScript: force rebuild
// from the known path regardless of digest.
func (r *Registry) ReloadScript(name string) (*Script, error) {
	r.mu.Lock()
	existing, ok := r.scripts[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("globalscript: %s not registered", name)
	}

	digest, err := digestFile(existing.Path)
	if err != nil {
		return nil, fmt.Errorf("globalscript: digest %s: %w", existing.Path, err)
	}
	return r.buildNewScript(name, existing.Path, existing.Relative, existing.FromConfig, digest)
}

// buildNewScript implements spec.md §4.8's buildNewScript: constructs
// the new script, parses it, and only on parse success replaces the
// old one (unless KeepOldOnFail is disabled); runs the new script's
// top-level then returns.
func (r *Registry) buildNewScript(name, path string, relative, fromConfig bool, digest [32]byte) (*Script, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("globalscript: read %s: %w", path, err)
	}

	parsed, err := script.Parse(source, path, r.MaxSourceBytes, r.BasePath, r.LibsPath)
	if err != nil {
		r.mu.Lock()
		old, hadOld := r.scripts[name]
		if hadOld && !r.KeepOldOnFail {
			delete(r.scripts, name)
		}
		r.mu.Unlock()
		if hadOld && r.KeepOldOnFail {
			return old, fmt.Errorf("globalscript: parse %s failed, kept previous build: %w", path, err)
		}
		if hadOld && old.OnUnload != nil {
			old.OnUnload(old.Runner)
		}
		return nil, fmt.Errorf("globalscript: parse %s: %w", path, err)
	}

	var runner *script.Runner
	if r.NewContext != nil {
		runner = r.NewContext(name)
	} else {
		runner = script.NewRunner(script.NewContext(name), name)
	}
	runner.Load(parsed)

	sc := &Script{
		Name:       name,
		Path:       path,
		Relative:   relative,
		FromConfig: fromConfig,
		Digest:     digest,
		Runner:     runner,
		inUse:      true,
	}

	r.mu.Lock()
	old, hadOld := r.scripts[name]
	r.scripts[name] = sc
	r.mu.Unlock()

	if hadOld && old.OnUnload != nil {
		old.OnUnload(old.Runner)
	}
	if sc.OnLoad != nil {
		sc.OnLoad(sc.Runner)
	}

	runner.Execute()
	return sc, nil
}

// MarkUnused implements spec.md §4.8's markUnused: called at the start
// of a config reload cycle — every script's in-use flag is cleared so
// the reload's InitScript calls can re-mark what's still declared.
// Dynamically loaded scripts are exempt (spec.md: "dynamically loaded
// ones are kept regardless").
func (r *Registry) MarkUnused() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sc := range r.scripts {
		if sc.FromConfig {
			sc.inUse = false
		}
	}
}

// FreeUnused implements spec.md §4.8's freeUnused: removes and unloads
// every config-declared script whose in-use flag is still clear after
// a reload cycle's InitScript calls have run.
func (r *Registry) FreeUnused() []string {
	r.mu.Lock()
	var freed []string
	var toUnload []*Script
	for name, sc := range r.scripts {
		if sc.FromConfig && !sc.inUse {
			freed = append(freed, name)
			toUnload = append(toUnload, sc)
			delete(r.scripts, name)
		}
	}
	r.mu.Unlock()

	for _, sc := range toUnload {
		if sc.OnUnload != nil {
			sc.OnUnload(sc.Runner)
		}
	}
	return freed
}

// ReloadDynamic implements spec.md §4.8's reloadDynamic: rebuild every
// non-config-declared script from its original file.
func (r *Registry) ReloadDynamic() []error {
	r.mu.Lock()
	names := make([]string, 0, len(r.scripts))
	for name, sc := range r.scripts {
		if !sc.FromConfig {
			names = append(names, name)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, name := range names {
		if _, err := r.ReloadScript(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Get returns the registered script named name, if any.
func (r *Registry) Get(name string) (*Script, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.scripts[name]
	return sc, ok
}

// Names returns every registered script name.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.scripts))
	for name := range r.scripts {
		names = append(names, name)
	}
	return names
}
