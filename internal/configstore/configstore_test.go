package configstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadBasicSections(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "main.conf", "[general]\nfoo=bar\n; a comment\nbaz=qux\n")

	s := New(path)
	require.NoError(t, s.Load())

	assert.Equal(t, "bar", s.GetValue("general", "foo", ""))
	assert.Equal(t, "qux", s.GetValue("general", "baz", ""))
	assert.Equal(t, "missing", s.GetValue("general", "nope", "missing"))
}

func TestEnabledConditionalBlocks(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "main.conf",
		"[general]\n"+
			"[$enabled false]\n"+
			"skip=1\n"+
			"[$enabled else]\n"+
			"keep=1\n")

	s := New(path)
	require.NoError(t, s.Load())

	assert.Equal(t, "", s.GetValue("general", "skip", ""))
}

func TestIncludeDirectiveBestEffort(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "extra.conf", "[extra]\nk=v\n")
	main := writeTemp(t, dir, "main.conf", "[$include extra.conf]\n[general]\nfoo=1\n")

	s := New(main)
	require.NoError(t, s.Load())
	assert.Equal(t, "v", s.GetValue("extra", "k", ""))
	assert.Equal(t, "1", s.GetValue("general", "foo", ""))
}

func TestRequireDirectiveFailsOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	main := writeTemp(t, dir, "main.conf", "[$require nope.conf]\n")

	s := New(main)
	assert.Error(t, s.Load())
}

// TestSaveReloadRoundTrip implements spec.md §8 testable property 10:
// after Load() then Save() then a second Load() into a fresh store, the
// section/key sets are identical.
func TestSaveReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "main.conf", "[general]\nfoo=bar\n[extra]\nk=v\n")

	s := New(path)
	require.NoError(t, s.Load())
	require.NoError(t, s.Save())

	s2 := New(path)
	require.NoError(t, s2.Load())

	assert.ElementsMatch(t, s.Sections(), s2.Sections())
	for _, sec := range s.Sections() {
		assert.ElementsMatch(t, s.Keys(sec), s2.Keys(sec))
	}
}

func TestDumpYAMLRoundTripsSectionsAndKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "main.conf", "[general]\nfoo=bar\n[extra]\nk=v\n")

	s := New(path)
	require.NoError(t, s.Load())

	out, err := s.DumpYAML()
	require.NoError(t, err)

	var parsed map[string]map[string]string
	require.NoError(t, yaml.Unmarshal(out, &parsed))
	assert.Equal(t, "bar", parsed["general"]["foo"])
	assert.Equal(t, "v", parsed["extra"]["k"])
}

func TestSkippableEntry(t *testing.T) {
	assert.True(t, skippableEntry(".hidden"))
	assert.True(t, skippableEntry("foo~"))
	assert.True(t, skippableEntry("foo.bak"))
	assert.True(t, skippableEntry("foo.tmp"))
	assert.False(t, skippableEntry("foo.conf"))
}
