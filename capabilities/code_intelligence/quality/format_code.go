package quality

import (
	"bytes"
	"fmt"
	"go/format"
	"os"

	"mender/pipeline"
)

// CheckFormat reports a fixable issue when src is not gofmt-formatted.
// It returns nil when the file is already formatted.
func CheckFormat(filePath string, src []byte) (*pipeline.Issue, error) {
	formatted, err := format.Source(src)
	if err != nil {
		return nil, fmt.Errorf("failed to format %s: %w", filePath, err)
	}
	if bytes.Equal(src, formatted) {
		return nil, nil
	}

	return &pipeline.Issue{
		File:     filePath,
		Line:     firstDifference(src, formatted),
		Column:   1,
		Severity: pipeline.SeverityInfo,
		Type:     "gofmt",
		Message:  "File is not gofmt-ed",
		Tool:     ToolFormat,
		Fixable:  true,
	}, nil
}

// FormatResult describes one formatting run
type FormatResult struct {
	Source  string `json:"source"`
	Output  string `json:"output"`
	Changed bool   `json:"changed"`
}

// FormatFile writes the gofmt-ed form of src to dest. dest may equal src
// for an in-place rewrite.
func FormatFile(src, dest string) (*FormatResult, error) {
	original, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	formatted, err := format.Source(original)
	if err != nil {
		return nil, fmt.Errorf("failed to format file %s: %w", src, err)
	}

	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if err := os.WriteFile(dest, formatted, info.Mode().Perm()); err != nil {
		return nil, fmt.Errorf("failed to write formatted file: %w", err)
	}

	return &FormatResult{
		Source:  src,
		Output:  dest,
		Changed: !bytes.Equal(original, formatted),
	}, nil
}

// FixedPath returns the sibling artifact path for a repaired file:
// dir/name.go becomes dir/name.go<suffix>. The artifact must not end in
// .go, or the go tool would compile it alongside the original.
func FixedPath(filePath, suffix string) string {
	return filePath + suffix
}

func firstDifference(a, b []byte) int {
	line := 1
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return line
		}
		if a[i] == '\n' {
			line++
		}
	}
	return line
}
