package tools

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/ariacorp/ariarun/internal/aerrors"
)

// ParseDocumentTool extracts plain text from pdf/docx/xlsx files, grounded
// on the teacher's local-file-tool conventions (pkg/tools/read_file.go) but
// generalized across document formats via the pack's document libraries.
// It is registered as an ordinary safe builtin, so it is listed and
// invocable like any other registered tool.
type ParseDocumentTool struct{}

func (t *ParseDocumentTool) Info() Info {
	return Info{
		Name:        "parse_document",
		Description: "Extract plain text content from a pdf, docx, or xlsx file",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "path to the document", Required: true},
		},
	}
}

func (t *ParseDocumentTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return Result{Success: false, Error: "path is required"}, aerrors.New(
			aerrors.CodeValidationFailed, aerrors.CategoryTool, aerrors.SeverityMedium, "path is required")
	}

	var text string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err = parsePDF(path)
	case ".docx":
		text, err = parseDOCX(path)
	case ".xlsx":
		text, err = parseXLSX(path)
	default:
		return Result{Success: false, Error: "unsupported document extension"}, aerrors.New(
			aerrors.CodeValidationFailed, aerrors.CategoryTool, aerrors.SeverityMedium,
			fmt.Sprintf("unsupported document extension %q", filepath.Ext(path)))
	}
	if err != nil {
		return Result{Success: false, Error: err.Error()}, aerrors.Wrap(
			aerrors.CodeToolExecutionFailed, aerrors.CategoryTool, aerrors.SeverityMedium, "parse_document failed", err)
	}

	return Result{Success: true, Content: text, Output: map[string]any{"length": len(text)}}, nil
}

func parsePDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

var docxTagPattern = regexp.MustCompile(`<[^>]+>`)

func parseDOCX(path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	return strings.TrimSpace(docxTagPattern.ReplaceAllString(content, " ")), nil
}

func parseXLSX(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		fmt.Fprintf(&buf, "# %s\n", sheet)
		for _, row := range rows {
			buf.WriteString(strings.Join(row, "\t"))
			buf.WriteString("\n")
		}
	}
	return buf.String(), nil
}
