// Package scanner walks application source trees and extracts database
// call sites: which query each call runs, which table and columns it touches,
// and which type-coercion helpers wrap its arguments. Parsing is fail-soft; a
// file that does not parse is reported, not fatal.
package scanner

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/ast/inspector"

	"github.com/healdb/heal/internal/model"
)

// Scanner extracts database call sites from Go source trees.
type Scanner struct {
	logger *slog.Logger
}

// New creates a Scanner.
func New(logger *slog.Logger) *Scanner {
	return &Scanner{logger: logger}
}

// Scan parses every non-test Go file under the given roots and returns the
// database call sites found, plus one failure record per unparseable file.
func (s *Scanner) Scan(ctx context.Context, roots []string) ([]model.CallSite, []model.ScanFailure, error) {
	fset := token.NewFileSet()
	var files []*ast.File
	var failures []model.ScanFailure

	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				if skipDir(d.Name(), path, root) {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				return nil
			}

			f, perr := parser.ParseFile(fset, path, nil, parser.ParseComments)
			if perr != nil {
				s.logger.Warn("source file failed to parse", "file", path, "error", perr)
				failures = append(failures, model.ScanFailure{File: path, Error: perr.Error()})
				return nil
			}
			files = append(files, f)
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("walk source root %s: %w", root, err)
		}
	}

	sites := s.extract(fset, files)
	s.logger.Debug("source scan complete",
		"files", len(files),
		"call_sites", len(sites),
		"parse_failures", len(failures))
	return sites, failures, nil
}

// skipDir filters directories that never hold first-party application code.
func skipDir(name, path, root string) bool {
	if path == root {
		return false
	}
	if name == "vendor" || name == "testdata" || name == "node_modules" {
		return true
	}
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

// extract runs the call-site analysis over all parsed files.
func (s *Scanner) extract(fset *token.FileSet, files []*ast.File) []model.CallSite {
	if len(files) == 0 {
		return nil
	}

	insp := inspector.New(files)
	nodeFilter := []ast.Node{(*ast.CallExpr)(nil)}

	var sites []model.CallSite
	insp.Preorder(nodeFilter, func(n ast.Node) {
		call := n.(*ast.CallExpr)
		site, ok := s.analyzeCall(fset, call)
		if ok {
			sites = append(sites, site)
		}
	})
	return sites
}
