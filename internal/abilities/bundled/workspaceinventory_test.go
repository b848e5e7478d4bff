package bundled

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riyogarta/synebot/internal/abilities"
)

func TestWorkspaceInventoryListsFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.txt"), []byte("hi"), 0o644))

	w := NewWorkspaceInventory(t.TempDir())
	res, err := w.Execute(context.Background(), map[string]interface{}{"dir": "outputs"}, abilities.Context{OutputDir: dir})
	require.NoError(t, err)
	require.True(t, res.Success, "expected success, got error %q", res.Error)
	assert.NotEmpty(t, res.Result)
}

func TestWorkspaceInventoryMissingDirIsNotAnError(t *testing.T) {
	w := NewWorkspaceInventory(t.TempDir())
	res, err := w.Execute(context.Background(), map[string]interface{}{"dir": "temp"}, abilities.Context{TempDir: filepath.Join(t.TempDir(), "does-not-exist")})
	require.NoError(t, err)
	assert.True(t, res.Success, "expected a graceful empty result, got error %q", res.Error)
}

func TestWorkspaceInventoryRejectsUnknownDir(t *testing.T) {
	w := NewWorkspaceInventory(t.TempDir())
	res, _ := w.Execute(context.Background(), map[string]interface{}{"dir": "bogus"}, abilities.Context{})
	assert.False(t, res.Success, "expected failure for an unrecognized dir")
}

func TestWorkspaceInventorySchemaIsValid(t *testing.T) {
	w := NewWorkspaceInventory(t.TempDir())
	assert.True(t, w.GetSchema().Valid())
}
