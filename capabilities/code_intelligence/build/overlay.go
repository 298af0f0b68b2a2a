package build

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Overlay maps absolute source paths to replacement files for go -overlay.
// An empty replacement hides the source from the build.
type Overlay struct {
	Replace map[string]string `json:"Replace"`
}

// SubstituteOverlay builds an overlay that compiles replacement in place of
// original. A replacement that is itself a .go file is hidden at its own path.
func SubstituteOverlay(original, replacement string) (*Overlay, error) {
	orig, err := filepath.Abs(original)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	repl, err := filepath.Abs(replacement)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	if orig == repl {
		return &Overlay{Replace: map[string]string{}}, nil
	}
	o := &Overlay{Replace: map[string]string{orig: repl}}
	if filepath.Ext(repl) == ".go" {
		o.Replace[repl] = ""
	}
	return o, nil
}

// Write stores the overlay as JSON in dir and returns the file path
func (o *Overlay) Write(dir string) (string, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("failed to marshal overlay: %w", err)
	}
	path := filepath.Join(dir, "overlay.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write overlay: %w", err)
	}
	return path, nil
}
