package quality

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"mender/pipeline"
)

var sqlKeywords = []string{"SELECT ", "INSERT ", "UPDATE ", "DELETE ", "DROP "}

var weakCrypto = map[string]string{
	"crypto/md5":  "G401",
	"crypto/sha1": "G401",
	"crypto/des":  "G405",
	"crypto/rc4":  "G405",
}

// errorOnlyCalls return just an error that callers routinely drop
var errorOnlyCalls = map[string]bool{
	"Close":     true,
	"Remove":    true,
	"RemoveAll": true,
	"Chmod":     true,
	"WriteFile": true,
	"Setenv":    true,
}

// ScanFile parses filePath and reports common security issues. src may be
// nil, in which case the file is read from disk.
func ScanFile(filePath string, src any) ([]pipeline.Issue, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}

	s := &securityScanner{fset: fset, path: filePath}
	s.checkImports(file)

	ast.Inspect(file, func(n ast.Node) bool {
		switch node := n.(type) {
		case *ast.ExprStmt:
			s.checkDroppedError(node)
		case *ast.CallExpr:
			s.checkCommand(node)
			s.checkPermissions(node)
		case *ast.BinaryExpr:
			s.checkStringConcatenation(node)
		}
		return true
	})

	return s.issues, nil
}

type securityScanner struct {
	fset   *token.FileSet
	path   string
	issues []pipeline.Issue
}

func (s *securityScanner) add(pos token.Pos, severity, rule, message string, fixable bool) {
	p := s.fset.Position(pos)
	s.issues = append(s.issues, pipeline.Issue{
		File:     s.path,
		Line:     p.Line,
		Column:   p.Column,
		Severity: severity,
		Type:     rule,
		Message:  message,
		Tool:     ToolSecurity,
		Fixable:  fixable,
	})
}

func (s *securityScanner) checkImports(file *ast.File) {
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		if rule, ok := weakCrypto[path]; ok {
			s.add(imp.Pos(), pipeline.SeverityWarning, rule,
				fmt.Sprintf("Use of weak cryptographic primitive %s", path), false)
		}
	}
}

// checkDroppedError flags calls used as statements whose only result is an error
func (s *securityScanner) checkDroppedError(stmt *ast.ExprStmt) {
	call, ok := stmt.X.(*ast.CallExpr)
	if !ok {
		return
	}
	name := funcName(call)
	if !errorOnlyCalls[name] {
		return
	}
	s.add(call.Pos(), pipeline.SeverityWarning, "G104",
		fmt.Sprintf("Unchecked error from %s()", name), false)
}

// checkCommand flags exec.Command with non-constant arguments
func (s *securityScanner) checkCommand(call *ast.CallExpr) {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || (sel.Sel.Name != "Command" && sel.Sel.Name != "CommandContext") {
		return
	}
	if pkg, ok := sel.X.(*ast.Ident); !ok || pkg.Name != "exec" {
		return
	}
	for _, arg := range call.Args {
		if _, isLit := arg.(*ast.BasicLit); isLit {
			continue
		}
		if ident, ok := arg.(*ast.Ident); ok && ident.Name == "ctx" {
			continue
		}
		s.add(call.Pos(), pipeline.SeverityWarning, "G204",
			"Subprocess launched with variable arguments", false)
		return
	}
}

// checkPermissions flags file modes wider than 0644 passed to os calls
func (s *securityScanner) checkPermissions(call *ast.CallExpr) {
	name := funcName(call)
	var modeArg int
	switch name {
	case "WriteFile", "Chmod", "Mkdir", "MkdirAll":
		modeArg = len(call.Args) - 1
	case "OpenFile":
		modeArg = 2
	default:
		return
	}
	if modeArg < 0 || modeArg >= len(call.Args) {
		return
	}
	lit, ok := call.Args[modeArg].(*ast.BasicLit)
	if !ok || lit.Kind != token.INT {
		return
	}
	mode, err := strconv.ParseInt(lit.Value, 0, 32)
	if err != nil {
		return
	}
	limit := int64(0o644)
	if strings.HasPrefix(name, "Mkdir") {
		limit = 0o755
	}
	if mode&^limit != 0 {
		s.add(lit.Pos(), pipeline.SeverityWarning, "G302",
			fmt.Sprintf("Permissive file mode %s in %s()", lit.Value, name), false)
	}
}

// checkStringConcatenation flags SQL built with string concatenation
func (s *securityScanner) checkStringConcatenation(binary *ast.BinaryExpr) {
	if binary.Op != token.ADD {
		return
	}
	lit, ok := binary.X.(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return
	}
	upper := strings.ToUpper(lit.Value)
	for _, keyword := range sqlKeywords {
		if strings.Contains(upper, keyword) {
			s.add(binary.Pos(), pipeline.SeverityError, "G201",
				"Potential SQL injection via string concatenation", false)
			return
		}
	}
}

func funcName(call *ast.CallExpr) string {
	switch fun := call.Fun.(type) {
	case *ast.Ident:
		return fun.Name
	case *ast.SelectorExpr:
		return fun.Sel.Name
	}
	return ""
}
