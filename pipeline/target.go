package pipeline

import "path/filepath"

// ResolveTarget picks the file to remediate. A relative requested path is
// resolved against root; an empty or non-existent request falls back to
// fallback. exists is the only environment access, so callers decide how
// the filesystem is consulted.
func ResolveTarget(requested, root, fallback string, exists func(path string) bool) string {
	if requested == "" {
		return fallback
	}

	target := requested
	if !filepath.IsAbs(target) && root != "" {
		target = filepath.Join(root, target)
	}

	if exists != nil && !exists(target) {
		return fallback
	}
	return target
}

// RepairedFile returns the first repaired artifact in a fix report, or
// original when the report has none.
func RepairedFile(fix *FixReport, original string) string {
	if fix == nil {
		return original
	}
	for _, item := range fix.FixResults {
		if item.After != "" {
			return item.After
		}
	}
	return original
}

// hasRepair reports whether any fix item names a repaired artifact. An
// in-place fix names the original file itself.
func hasRepair(fix *FixReport) bool {
	if fix == nil {
		return false
	}
	for _, item := range fix.FixResults {
		if item.After != "" {
			return true
		}
	}
	return false
}
