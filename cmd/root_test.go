// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCommand()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
}

func TestVersionFlag(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, Version+"\n", out.String())
}

func TestLoadTestCaseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "case.json")
	payload := `{
		"id": "tc-login",
		"name": "login flow",
		"steps": [
			{"command": "navigate", "parameters": {"url": "https://x.test/login"}},
			{"command": "click", "target": {"selector": "#submit"}}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	tc, err := loadTestCaseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "tc-login", tc.ID)
	require.Len(t, tc.Steps, 2)
	assert.Equal(t, "#submit", tc.Steps[1].Target.Selector)
}

func TestLoadTestCaseFileRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := loadTestCaseFile(filepath.Join(dir, "nope.json"))
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(dir, "broken.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
		_, err := loadTestCaseFile(path)
		assert.Error(t, err)
	})

	t.Run("fails validation", func(t *testing.T) {
		path := filepath.Join(dir, "empty.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"id":"x","name":"y"}`), 0o600))
		_, err := loadTestCaseFile(path)
		assert.Error(t, err)
	})
}
