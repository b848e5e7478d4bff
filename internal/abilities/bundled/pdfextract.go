package bundled

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/riyogarta/synebot/internal/abilities"
	"github.com/riyogarta/synebot/internal/tools"
)

// maxPdfTextBytes caps how much extracted text a single call returns,
// matching internal/tools/builtin's file_read size discipline.
const maxPdfTextBytes = 512 * 1024

// pdfExtract is the Go analogue of the Python original's pdf ability's
// read_from_url action, narrowed to local files already inside the
// workspace (uploads/outputs/temp) rather than an arbitrary URL fetch —
// a caller that needs a remote PDF first saves it with http_fetch or a
// Telegram document upload, then reads it back with this ability.
type pdfExtract struct {
	baseDir string
}

// NewPdfExtract builds the bundled PDF-text-extraction ability, rooted
// at baseDir (the same workspace root file_read/file_write use).
func NewPdfExtract(baseDir string) abilities.Ability {
	return &pdfExtract{baseDir: baseDir}
}

func (p *pdfExtract) Name() string        { return "pdf_extract_text" }
func (p *pdfExtract) Description() string { return "Extracts plain text from a PDF file under the workspace tree" }
func (p *pdfExtract) Version() string     { return "1.0" }
func (p *pdfExtract) Priority() bool      { return false }

func (p *pdfExtract) HandlesInputType(kind abilities.InputKind) bool { return false }

func (p *pdfExtract) PreProcess(ctx context.Context, kind abilities.InputKind, data, prompt string, config map[string]interface{}) (string, error) {
	return "", nil
}

func (p *pdfExtract) Execute(ctx context.Context, params map[string]interface{}, abilityCtx abilities.Context) (abilities.Result, error) {
	path, _ := params["path"].(string)
	if path == "" {
		return abilities.Result{Error: "path is required"}, nil
	}
	full, err := resolveUnderWorkspace(p.baseDir, path)
	if err != nil {
		return abilities.Result{Error: err.Error()}, nil
	}

	f, r, err := pdf.Open(full)
	if err != nil {
		return abilities.Result{Error: fmt.Sprintf("open pdf: %v", err)}, nil
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return abilities.Result{Error: fmt.Sprintf("extract text: %v", err)}, nil
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return abilities.Result{Error: fmt.Sprintf("read extracted text: %v", err)}, nil
	}

	content := strings.TrimSpace(buf.String())
	truncated := false
	if len(content) > maxPdfTextBytes {
		content = content[:maxPdfTextBytes]
		truncated = true
	}

	pages := r.NumPage()
	if content == "" {
		return abilities.Result{Success: true, Result: fmt.Sprintf("%s (%d pages): no extractable text found", filepath.Base(full), pages)}, nil
	}
	summary := fmt.Sprintf("%s (%d pages):\n%s", filepath.Base(full), pages, content)
	if truncated {
		summary += "\n... (truncated)"
	}
	return abilities.Result{Success: true, Result: summary}, nil
}

func (p *pdfExtract) GetSchema() tools.FunctionSchema {
	return tools.FunctionSchema{
		Type: "function",
		Function: tools.FunctionSpec{
			Name:        p.Name(),
			Description: p.Description(),
			Parameters: tools.NormalizeSchema(&tools.JSONSchema{
				Type: "object",
				Properties: map[string]*tools.JSONSchema{
					"path": {Type: "string", Description: "Path to a PDF file, relative to the workspace root (e.g. uploads/report.pdf)"},
				},
				Required: []string{"path"},
			}),
		},
	}
}

func (p *pdfExtract) GetGuide(enabled bool, config map[string]interface{}) string {
	if !enabled {
		return "- pdf_extract_text: disabled"
	}
	return "- pdf_extract_text: **ready** — extracts text from a PDF already in the workspace tree (e.g. an uploaded document)"
}

func (p *pdfExtract) GetRequiredConfig() []string { return nil }

func (p *pdfExtract) ValidateConfig(config map[string]interface{}) (bool, string) {
	return true, ""
}

func (p *pdfExtract) EnsureDependencies(ctx context.Context) (bool, string) {
	return true, ""
}
