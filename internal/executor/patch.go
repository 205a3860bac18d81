package executor

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"strings"
	"time"

	"github.com/healdb/heal/internal/model"
)

// patchBackupSep joins the original path and its backup path in the persisted
// PatchBackups entries, so a rollback can restore without guessing.
const patchBackupSep = "::"

// applyPatches edits source files one patch at a time: backup, replace,
// syntax-validate. A validation or match failure restores every file touched
// so far and returns the error; partial patch sets are never left behind.
func (e *Executor) applyPatches(patches []model.SourcePatch) ([]string, error) {
	var backups []string
	for _, patch := range patches {
		backup, err := e.applyPatch(patch)
		if backup != "" {
			backups = append(backups, patch.File+patchBackupSep+backup)
		}
		if err != nil {
			if rerr := restorePatchBackups(backups); rerr != nil {
				e.logger.Error("patch restore failed", "error", rerr)
			}
			return backups, err
		}
	}
	return backups, nil
}

func (e *Executor) applyPatch(patch model.SourcePatch) (string, error) {
	original, err := os.ReadFile(patch.File)
	if err != nil {
		return "", fmt.Errorf("read source file: %w", err)
	}

	patched, err := replaceAtLine(string(original), patch.Line, patch.Old, patch.New)
	if err != nil {
		return "", err
	}

	backup := fmt.Sprintf("%s.healbak.%d", patch.File, time.Now().UTC().UnixNano())
	if err := os.WriteFile(backup, original, 0644); err != nil {
		return "", fmt.Errorf("write patch backup: %w", err)
	}
	if err := os.WriteFile(patch.File, []byte(patched), 0644); err != nil {
		return backup, fmt.Errorf("write patched file: %w", err)
	}

	// Syntax-only validation; a file that no longer parses is restored.
	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, patch.File, nil, 0); err != nil {
		return backup, fmt.Errorf("patched file fails syntax check: %w", err)
	}

	e.logger.Info("source patch applied", "file", patch.File, "line", patch.Line)
	return backup, nil
}

// replaceAtLine replaces the first occurrence of old at or after the anchor
// line. Anchoring keeps the edit local to the call site that produced the
// issue instead of the first textual match in the file.
func replaceAtLine(content string, line int, old, repl string) (string, error) {
	lines := strings.Split(content, "\n")
	start := line - 1
	if start < 0 {
		start = 0
	}
	if start >= len(lines) {
		return "", fmt.Errorf("anchor line %d beyond end of file", line)
	}

	for i := start; i < len(lines); i++ {
		if idx := strings.Index(lines[i], old); idx >= 0 {
			lines[i] = lines[i][:idx] + repl + lines[i][idx+len(old):]
			return strings.Join(lines, "\n"), nil
		}
	}
	return "", fmt.Errorf("pattern %q not found at or after line %d", old, line)
}

// restorePatchBackups copies each backup back over its original file.
func restorePatchBackups(entries []string) error {
	for _, entry := range entries {
		parts := strings.SplitN(entry, patchBackupSep, 2)
		if len(parts) != 2 {
			return fmt.Errorf("malformed patch backup entry %q", entry)
		}
		data, err := os.ReadFile(parts[1])
		if err != nil {
			return fmt.Errorf("read patch backup: %w", err)
		}
		if err := os.WriteFile(parts[0], data, 0644); err != nil {
			return fmt.Errorf("restore patched file: %w", err)
		}
	}
	return nil
}
