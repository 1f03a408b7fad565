package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
)

// resolveIn joins a relative path onto the checkout directory.
func resolveIn(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// verifyAdapter checks that fine-tuning left an adapter behind.
func verifyAdapter(dir, adapterPath string) error {
	p := resolveIn(dir, adapterPath)
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("adapter %s not produced: %w", p, err)
	}
	if info.IsDir() {
		entries, err := os.ReadDir(p)
		if err != nil {
			return fmt.Errorf("read adapter %s: %w", p, err)
		}
		if len(entries) == 0 {
			return fmt.Errorf("adapter directory %s is empty", p)
		}
	}
	return nil
}

// outputContains reports whether expected appears in output under Unicode case folding.
func outputContains(output, expected string) bool {
	fold := cases.Fold()
	return strings.Contains(fold.String(output), fold.String(expected))
}
