package scanner

import (
	"bytes"
	"go/ast"
	"go/printer"
	"go/token"
	"strconv"
	"strings"

	"github.com/healdb/heal/internal/model"
)

// execMethods are the database/sql and sqlx methods whose first string
// argument is a SQL query.
var execMethods = map[string]bool{
	"Query": true, "QueryContext": true,
	"QueryRow": true, "QueryRowContext": true,
	"Exec": true, "ExecContext": true,
	"Get": true, "GetContext": true,
	"Select": true, "SelectContext": true,
	"NamedExec": true, "NamedExecContext": true,
	"NamedQuery": true, "NamedQueryContext": true,
}

// analyzeCall inspects one call expression and, when it is a database exec
// call with a literal query, returns the call site with its bindings.
func (s *Scanner) analyzeCall(fset *token.FileSet, call *ast.CallExpr) (model.CallSite, bool) {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || !execMethods[sel.Sel.Name] {
		return model.CallSite{}, false
	}

	queryIdx, query, ok := findQueryArg(call.Args)
	if !ok {
		return model.CallSite{}, false
	}

	table := extractTable(query)
	if table == "" {
		return model.CallSite{}, false
	}

	pos := fset.Position(call.Pos())
	site := model.CallSite{
		File:   pos.Filename,
		Line:   pos.Line,
		Column: pos.Column,
		Table:  table,
		Query:  query,
	}

	// Positional placeholders pair with parameter columns in order; each
	// binding expression after the query argument fills the next slot.
	columns := placeholderColumns(query)
	args := call.Args[queryIdx+1:]
	for i, arg := range args {
		binding := model.ParamBinding{Expr: exprText(fset, arg)}
		if i < len(columns) {
			binding.ColumnName = columns[i]
		}
		if coercion, inner, coerced, found := detectCoercion(fset, arg); found {
			binding.Coercion = coercion
			binding.Inner = inner
			binding.CoercedType = coerced
		}
		site.Bindings = append(site.Bindings, binding)
	}

	return site, true
}

// findQueryArg locates the query argument: the first argument that resolves
// to a string literal, possibly built from concatenation. Context-taking
// variants put ctx first, so position is not fixed.
func findQueryArg(args []ast.Expr) (int, string, bool) {
	for i, arg := range args {
		if q, ok := stringLiteral(arg); ok {
			return i, q, true
		}
	}
	return 0, "", false
}

// stringLiteral resolves a string literal or a concatenation of string
// literals. Queries assembled from variables are not resolvable statically
// and are skipped.
func stringLiteral(expr ast.Expr) (string, bool) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		if e.Kind != token.STRING {
			return "", false
		}
		v, err := strconv.Unquote(e.Value)
		if err != nil {
			return "", false
		}
		return v, true
	case *ast.BinaryExpr:
		if e.Op != token.ADD {
			return "", false
		}
		left, ok := stringLiteral(e.X)
		if !ok {
			return "", false
		}
		right, ok := stringLiteral(e.Y)
		if !ok {
			return "", false
		}
		return left + right, true
	case *ast.ParenExpr:
		return stringLiteral(e.X)
	}
	return "", false
}

// coercionFuncs maps package-qualified helper calls to the canonical type of
// the value they produce.
var coercionFuncs = map[string]model.CanonicalType{
	"strconv.Itoa":        model.CanonicalText,
	"strconv.FormatInt":   model.CanonicalText,
	"strconv.FormatFloat": model.CanonicalText,
	"strconv.FormatBool":  model.CanonicalText,
	"strconv.Quote":       model.CanonicalText,
	"fmt.Sprint":          model.CanonicalText,
	"fmt.Sprintf":         model.CanonicalText,
	"strconv.Atoi":        model.CanonicalInteger,
	"strconv.ParseInt":    model.CanonicalInteger,
	"strconv.ParseUint":   model.CanonicalInteger,
	"strconv.ParseFloat":  model.CanonicalReal,
	"strconv.ParseBool":   model.CanonicalBoolean,
}

// conversionTypes maps builtin type-conversion names to canonical types.
var conversionTypes = map[string]model.CanonicalType{
	"string":  model.CanonicalText,
	"int":     model.CanonicalInteger,
	"int32":   model.CanonicalInteger,
	"int64":   model.CanonicalInteger,
	"uint":    model.CanonicalInteger,
	"uint64":  model.CanonicalInteger,
	"float32": model.CanonicalReal,
	"float64": model.CanonicalReal,
	"bool":    model.CanonicalBoolean,
}

// detectCoercion reports whether the expression is a recognized type-coercion
// wrapper, returning the full call text, the wrapped inner expression, and
// the type the coercion produces.
func detectCoercion(fset *token.FileSet, expr ast.Expr) (coercion, inner string, coerced model.CanonicalType, found bool) {
	call, ok := expr.(*ast.CallExpr)
	if !ok || len(call.Args) == 0 {
		return "", "", "", false
	}

	switch fn := call.Fun.(type) {
	case *ast.SelectorExpr:
		pkg, ok := fn.X.(*ast.Ident)
		if !ok {
			return "", "", "", false
		}
		name := pkg.Name + "." + fn.Sel.Name
		coerced, ok := coercionFuncs[name]
		if !ok {
			return "", "", "", false
		}
		return exprText(fset, call), exprText(fset, call.Args[0]), coerced, true
	case *ast.Ident:
		coerced, ok := conversionTypes[fn.Name]
		if !ok || len(call.Args) != 1 {
			return "", "", "", false
		}
		return exprText(fset, call), exprText(fset, call.Args[0]), coerced, true
	}
	return "", "", "", false
}

// exprText renders an expression back to source text.
func exprText(fset *token.FileSet, expr ast.Expr) string {
	var buf bytes.Buffer
	if err := printer.Fprint(&buf, fset, expr); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}
