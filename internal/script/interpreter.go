package script

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"

	"github.com/nullteam/softpbx/internal/scripterr"
)

// DefaultMaxSourceBytes is spec.md §6's default script-length ceiling.
const DefaultMaxSourceBytes = 500000

// MinMaxSourceBytes and MaxMaxSourceBytes bound the configurable limit.
const (
	MinMaxSourceBytes = 32768
	MaxMaxSourceBytes = 2097152
)

// utf8BOM is the byte-order mark spec.md §6 says must be stripped.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Source is a parsed, ready-to-run script: compiled program plus the
// resolved path metadata needed for #include-style resolution.
type Source struct {
	Path    string
	Program *goja.Program
}

// Parse tokenizes and compiles source, rejecting files beyond maxLength.
// path is used only for error messages and #include-path resolution
// against basePath/libsPath (spec.md §4.3 "parse(source, path,
// max-length)").
func Parse(source []byte, path string, maxLength int, basePath, libsPath string) (*Source, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxSourceBytes
	}
	if maxLength < MinMaxSourceBytes {
		maxLength = MinMaxSourceBytes
	}
	if maxLength > MaxMaxSourceBytes {
		maxLength = MaxMaxSourceBytes
	}
	if len(source) > maxLength {
		return nil, scripterr.Parse(path, 0, fmt.Errorf("source exceeds max length %d bytes", maxLength))
	}

	source = bytes.TrimPrefix(source, utf8BOM)
	source = resolveIncludes(source, path, basePath, libsPath)

	prog, err := goja.Compile(path, string(source), false)
	if err != nil {
		line := 0
		if ex, ok := err.(*goja.Exception); ok {
			_ = ex
		}
		return nil, scripterr.Parse(path, line, err)
	}
	return &Source{Path: path, Program: prog}, nil
}

// resolveIncludes replaces `#include "relative/path"` lines (a
// convention carried over from the Yate routing scripts this spec was
// distilled from) with the literal contents of the named file, resolved
// first against basePath and, failing that, against libsPath. goja has
// no native preprocessor and "#include" is not a JS token, so this
// textual substitution must happen before compilation, not just a path
// rewrite left for the compiler to interpret.
func resolveIncludes(source []byte, path, basePath, libsPath string) []byte {
	lines := strings.Split(string(source), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#include") {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "#include"))
		rest = strings.Trim(rest, `"`)
		if rest == "" {
			lines[i] = ""
			continue
		}

		candidate := rest
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(basePath, rest)
			if _, err := os.Stat(candidate); err != nil && libsPath != "" {
				candidate = filepath.Join(libsPath, rest)
			}
		}

		data, err := os.ReadFile(candidate)
		if err != nil {
			lines[i] = fmt.Sprintf("// #include %q not found", candidate)
			continue
		}
		lines[i] = string(data)
	}
	return []byte(strings.Join(lines, "\n"))
}
