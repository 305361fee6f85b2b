package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/ariacorp/ariarun/internal/aerrors"
)

// writeCodeArgs is the typed shape of write_code's argument map, decoded
// with mapstructure instead of hand-rolled type assertions per field.
type writeCodeArgs struct {
	Path    string `mapstructure:"path"`
	Content string `mapstructure:"content"`
	Backup  bool   `mapstructure:"backup"`
}

// WriteCodeConfig bounds what WriteCodeTool will touch, grounded on the
// teacher's config.FileWriterConfig.
type WriteCodeConfig struct {
	WorkingDirectory  string
	MaxFileSize       int
	AllowedExtensions []string
	BackupOnOverwrite bool
}

// SetDefaults fills in the teacher's file-writer defaults.
func (c *WriteCodeConfig) SetDefaults() {
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 1 << 20
	}
}

// WriteCodeTool creates or overwrites a file under a working directory,
// with an optional .bak backup on overwrite — generalized from the
// teacher's pkg/tools/file_writer.go to the execution engine's write_code
// step output.
type WriteCodeTool struct {
	cfg WriteCodeConfig
}

// NewWriteCodeTool builds a tool bounded by cfg.
func NewWriteCodeTool(cfg WriteCodeConfig) *WriteCodeTool {
	cfg.SetDefaults()
	return &WriteCodeTool{cfg: cfg}
}

func (t *WriteCodeTool) Info() Info {
	return Info{
		Name:        "write_code",
		Description: "Create a new file or overwrite an existing file with source code",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "file path relative to the working directory", Required: true},
			{Name: "content", Type: "string", Description: "content to write", Required: true},
			{Name: "backup", Type: "boolean", Description: "back up an existing file before overwrite", Required: false, Default: true},
		},
	}
}

func (t *WriteCodeTool) allowedExtension(path string) bool {
	if len(t.cfg.AllowedExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range t.cfg.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

func (t *WriteCodeTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	parsed := writeCodeArgs{Backup: true}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{WeaklyTypedInput: true, Result: &parsed})
	if err != nil {
		return Result{Success: false, Error: err.Error()}, aerrors.Wrap(
			aerrors.CodeValidationFailed, aerrors.CategoryTool, aerrors.SeverityMedium, "decode write_code args", err)
	}
	if err := decoder.Decode(args); err != nil {
		return Result{Success: false, Error: err.Error()}, aerrors.Wrap(
			aerrors.CodeValidationFailed, aerrors.CategoryTool, aerrors.SeverityMedium, "decode write_code args", err)
	}
	relPath, content := parsed.Path, parsed.Content

	if relPath == "" {
		return Result{Success: false, Error: "path is required"}, aerrors.New(
			aerrors.CodeValidationFailed, aerrors.CategoryTool, aerrors.SeverityMedium, "path is required")
	}
	if len(content) > t.cfg.MaxFileSize {
		return Result{Success: false, Error: "content exceeds max file size"}, aerrors.New(
			aerrors.CodeValidationFailed, aerrors.CategoryTool, aerrors.SeverityMedium, "content exceeds max file size")
	}
	if !t.allowedExtension(relPath) {
		return Result{Success: false, Error: "extension not allowed"}, aerrors.New(
			aerrors.CodePermissionDenied, aerrors.CategoryTool, aerrors.SeverityMedium, "extension not allowed")
	}

	fullPath := filepath.Join(t.cfg.WorkingDirectory, relPath)
	if !strings.HasPrefix(filepath.Clean(fullPath), filepath.Clean(t.cfg.WorkingDirectory)) {
		return Result{Success: false, Error: "path escapes working directory"}, aerrors.New(
			aerrors.CodePermissionDenied, aerrors.CategoryTool, aerrors.SeverityHigh, "path escapes working directory")
	}

	if parsed.Backup {
		if _, err := os.Stat(fullPath); err == nil {
			if err := os.WriteFile(fullPath+".bak", mustRead(fullPath), 0o644); err != nil {
				return Result{Success: false, Error: err.Error()}, aerrors.Wrap(
					aerrors.CodeToolExecutionFailed, aerrors.CategoryTool, aerrors.SeverityMedium, "backup existing file", err)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return Result{Success: false, Error: err.Error()}, aerrors.Wrap(
			aerrors.CodeToolExecutionFailed, aerrors.CategoryTool, aerrors.SeverityMedium, "create parent directory", err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		return Result{Success: false, Error: err.Error()}, aerrors.Wrap(
			aerrors.CodeToolExecutionFailed, aerrors.CategoryTool, aerrors.SeverityMedium, "write file", err)
	}

	return Result{
		Success: true, Content: fmt.Sprintf("wrote %d bytes to %s", len(content), relPath),
		Output: map[string]any{"path": relPath, "bytes": len(content)},
	}, nil
}

func mustRead(path string) []byte {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return b
}
