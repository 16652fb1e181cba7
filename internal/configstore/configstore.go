// Package configstore implements the config-store external collaborator
// named (but left out of scope) by spec.md §1/§6: load()/save()/
// getValue/setValue over an INI-like format with $include/$require
// includes and conditional $enabled blocks. The script runtime's
// ConfigFile binding (internal/binding/engine) is a thin pass-through to
// this store. No third-party INI library in the example corpus
// implements this dialect's $include/$require/$enabled directive set,
// so Load/Save stay standard-library only — see DESIGN.md. DumpYAML is
// a diagnostics export using the pack's own YAML dependency, not a
// parser for this dialect.
package configstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxIncludeDepth is spec.md §6's include-nesting ceiling.
const MaxIncludeDepth = 3

// Store is an in-memory configuration file: ordered sections, each an
// ordered key/value map.
type Store struct {
	path     string
	order    []string
	sections map[string]*Section

	// Predicate resolves $enabled conditions against host runtime
	// parameters ($loaded/$unloaded plugin checks and textual predicates).
	Predicate func(condition string) bool
}

// Section is one ordered key/value block.
type Section struct {
	order  []string
	values map[string]string
}

func newSection() *Section {
	return &Section{values: make(map[string]string)}
}

// New creates an empty Store bound to path (used by Save).
func New(path string) *Store {
	return &Store{path: path, sections: make(map[string]*Section)}
}

// GetValue returns section/key, or def if either is absent (spec.md §1
// "getValue(section,key,default)").
func (s *Store) GetValue(section, key, def string) string {
	sec, ok := s.sections[section]
	if !ok {
		return def
	}
	v, ok := sec.values[key]
	if !ok {
		return def
	}
	return v
}

// SetValue installs key=value in section, creating the section if
// needed and preserving insertion order.
func (s *Store) SetValue(section, key, value string) {
	sec, ok := s.sections[section]
	if !ok {
		sec = newSection()
		s.sections[section] = sec
		s.order = append(s.order, section)
	}
	if _, exists := sec.values[key]; !exists {
		sec.order = append(sec.order, key)
	}
	sec.values[key] = value
}

// Sections returns section names in insertion order.
func (s *Store) Sections() []string {
	return append([]string(nil), s.order...)
}

// Keys returns key names within section in insertion order.
func (s *Store) Keys(section string) []string {
	sec, ok := s.sections[section]
	if !ok {
		return nil
	}
	return append([]string(nil), sec.order...)
}

// Load parses s.path, following $include (best-effort) and $require
// (fatal on failure) directives up to MaxIncludeDepth, and evaluating
// $enabled conditional headers against s.Predicate.
func (s *Store) Load() error {
	return s.loadFile(s.path, 0)
}

func (s *Store) loadFile(path string, depth int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.parse(bufio.NewScanner(f), filepath.Dir(path), depth)
}

func (s *Store) parse(scanner *bufio.Scanner, baseDir string, depth int) error {
	var current string
	skipping := false
	anyBranchTaken := false

	for scanner.Scan() {
		line := scanner.Text()
		for strings.HasSuffix(line, "\\") && scanner.Scan() {
			line = strings.TrimSuffix(line, "\\") + scanner.Text()
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, ";") {
			continue
		}

		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			header := strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]")
			if err := s.handleHeader(header, baseDir, depth, &current, &skipping, &anyBranchTaken); err != nil {
				return err
			}
			continue
		}

		if skipping {
			continue
		}

		eq := strings.IndexByte(trimmed, '=')
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(trimmed[:eq])
		value := strings.TrimSpace(trimmed[eq+1:])
		if current != "" {
			s.SetValue(current, key, value)
		}
	}
	return scanner.Err()
}

func (s *Store) handleHeader(header, baseDir string, depth int, current *string, skipping, anyBranchTaken *bool) error {
	switch {
	case strings.HasPrefix(header, "$require "):
		path := resolvePath(baseDir, strings.TrimSpace(strings.TrimPrefix(header, "$require ")))
		if depth+1 > MaxIncludeDepth {
			return fmt.Errorf("configstore: max include depth exceeded at %s", path)
		}
		if err := s.loadFile(path, depth+1); err != nil {
			return fmt.Errorf("configstore: required include failed: %w", err)
		}
	case strings.HasPrefix(header, "$include "):
		path := resolvePath(baseDir, strings.TrimSpace(strings.TrimPrefix(header, "$include ")))
		if depth+1 <= MaxIncludeDepth {
			_ = s.includeDirOrFile(path, depth+1)
		}
	case strings.HasPrefix(header, "$enabled "):
		cond := strings.TrimSpace(strings.TrimPrefix(header, "$enabled "))
		*skipping, *anyBranchTaken = s.evalEnabled(cond, *anyBranchTaken)
	default:
		*current = header
		*skipping = false
		*anyBranchTaken = false
	}
	return nil
}

func (s *Store) evalEnabled(cond string, anyBranchTaken bool) (skipping bool, taken bool) {
	switch {
	case cond == "else":
		return anyBranchTaken, anyBranchTaken
	case strings.HasPrefix(cond, "elseif "):
		if anyBranchTaken {
			return true, true
		}
		ok := s.resolveCondition(strings.TrimPrefix(cond, "elseif "))
		return !ok, ok
	case cond == "toggle":
		return false, true
	default:
		ok := s.resolveCondition(cond)
		return !ok, ok
	}
}

func (s *Store) resolveCondition(cond string) bool {
	cond = strings.TrimSpace(cond)
	switch cond {
	case "true", "yes", "1":
		return true
	case "false", "no", "0":
		return false
	}
	if s.Predicate != nil {
		return s.Predicate(cond)
	}
	return false
}

// includeDirOrFile includes either a single file or, for a directory,
// every entry sorted lexicographically, skipping backups and dotfiles
// (spec.md §6).
func (s *Store) includeDirOrFile(path string, depth int) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return s.loadFile(path, depth)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		if skippableEntry(name) {
			continue
		}
		_ = s.loadFile(filepath.Join(path, name), depth)
	}
	return nil
}

func skippableEntry(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, suffix := range []string{"~", ".bak", ".tmp"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func resolvePath(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Save writes the store back to its path in section/key=value form.
func (s *Store) Save() error {
	f, err := os.Create(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, name := range s.order {
		fmt.Fprintf(w, "[%s]\n", name)
		sec := s.sections[name]
		for _, key := range sec.order {
			fmt.Fprintf(w, "%s=%s\n", key, sec.values[key])
		}
	}
	return w.Flush()
}

// DumpYAML renders the store as a section-keyed YAML document, for
// `-dump-config`-style diagnostics rather than as a loadable format.
func (s *Store) DumpYAML() ([]byte, error) {
	out := make(map[string]map[string]string, len(s.order))
	for _, name := range s.order {
		sec := s.sections[name]
		values := make(map[string]string, len(sec.order))
		for _, key := range sec.order {
			values[key] = sec.values[key]
		}
		out[name] = values
	}
	return yaml.Marshal(out)
}
