package bundled

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/riyogarta/synebot/internal/abilities"
	"github.com/riyogarta/synebot/internal/tools"
)

// workspaceInventory lists files under the workspace tree
// ("outputs/[session_<id>/]", "uploads/", "temp/") — grounded on the
// Python original's Ability.get_output_dir/get_uploads_dir/get_temp_dir
// helpers in syne/abilities/base.py, which every other bundled ability
// there calls to know where to write; this one reads that same layout
// back for the owner.
type workspaceInventory struct {
	baseDir string
}

// NewWorkspaceInventory builds the bundled workspace-inventory ability,
// rooted at baseDir (the same workspace root file_read/file_write use).
func NewWorkspaceInventory(baseDir string) abilities.Ability {
	return &workspaceInventory{baseDir: baseDir}
}

func (w *workspaceInventory) Name() string        { return "workspace_inventory" }
func (w *workspaceInventory) Description() string { return "Lists files previously produced under the workspace's output, upload, or temp directories" }
func (w *workspaceInventory) Version() string     { return "1.0" }
func (w *workspaceInventory) Priority() bool { return false }

func (w *workspaceInventory) HandlesInputType(kind abilities.InputKind) bool { return false }

func (w *workspaceInventory) PreProcess(ctx context.Context, kind abilities.InputKind, data, prompt string, config map[string]interface{}) (string, error) {
	return "", nil
}

func (w *workspaceInventory) Execute(ctx context.Context, params map[string]interface{}, abilityCtx abilities.Context) (abilities.Result, error) {
	dir, _ := params["dir"].(string)
	if dir == "" {
		dir = "outputs"
	}

	var target string
	switch dir {
	case "outputs":
		target = abilityCtx.OutputDir
	case "uploads":
		target = abilityCtx.UploadsDir
	case "temp":
		target = abilityCtx.TempDir
	default:
		return abilities.Result{Error: fmt.Sprintf("unknown dir %q, use outputs, uploads, or temp", dir)}, nil
	}
	if target == "" {
		target = filepath.Join(w.baseDir, dir)
	}

	entries, err := os.ReadDir(target)
	if os.IsNotExist(err) {
		return abilities.Result{Success: true, Result: fmt.Sprintf("%s is empty (directory does not exist yet)", dir)}, nil
	}
	if err != nil {
		return abilities.Result{Error: fmt.Sprintf("read %s: %v", dir, err)}, nil
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if len(names) == 0 {
		return abilities.Result{Success: true, Result: fmt.Sprintf("%s is empty", dir)}, nil
	}
	return abilities.Result{Success: true, Result: fmt.Sprintf("%s (%d files):\n%s", dir, len(names), strings.Join(names, "\n"))}, nil
}

func (w *workspaceInventory) GetSchema() tools.FunctionSchema {
	return tools.FunctionSchema{
		Type: "function",
		Function: tools.FunctionSpec{
			Name:        w.Name(),
			Description: w.Description(),
			Parameters: tools.NormalizeSchema(&tools.JSONSchema{
				Type: "object",
				Properties: map[string]*tools.JSONSchema{
					"dir": {Type: "string", Description: "Which tree to list", Enum: []interface{}{"outputs", "uploads", "temp"}, Default: "outputs"},
				},
			}),
		},
	}
}

func (w *workspaceInventory) GetGuide(enabled bool, config map[string]interface{}) string {
	if !enabled {
		return "- workspace_inventory: disabled"
	}
	return "- workspace_inventory: **ready** — lists files under outputs/, uploads/, or temp/"
}

func (w *workspaceInventory) GetRequiredConfig() []string { return nil }

func (w *workspaceInventory) ValidateConfig(config map[string]interface{}) (bool, string) {
	return true, ""
}

func (w *workspaceInventory) EnsureDependencies(ctx context.Context) (bool, string) {
	return true, ""
}
