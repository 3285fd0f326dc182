package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CodeMapTool outlines the Go source under a path: top-level functions
// and types with their signatures and line numbers, grouped per file.
// Parsing a whole tree is the most expensive read-only call in the
// belt, which makes it the main beneficiary of the executor's result
// cache.
type CodeMapTool struct {
	// Dir is the base for relative paths ("" means current directory).
	Dir string
}

func (t *CodeMapTool) Name() string    { return "code_map" }
func (t *CodeMapTool) IsReadOnly() bool { return true }

func (t *CodeMapTool) Description() string {
	return "Outline Go source under a path: top-level functions and types with " +
		"signatures and line numbers, grouped per file. Lists only exported " +
		"declarations unless include_unexported is set. Test files are skipped."
}

func (t *CodeMapTool) Parameters() map[string]any {
	return map[string]any{
		"path": map[string]any{
			"type":        "string",
			"description": "Directory or .go file to outline (default: current directory)",
		},
		"include_unexported": map[string]any{
			"type":        "boolean",
			"description": "Also list unexported declarations (default: false)",
		},
	}
}

const maxCodeMapFiles = 200

func (t *CodeMapTool) Execute(_ context.Context, params json.RawMessage) (ToolResult, error) {
	var p struct {
		Path              string `json:"path"`
		IncludeUnexported bool   `json:"include_unexported"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return ToolResult{}, fmt.Errorf("invalid params: %w", err)
	}
	if p.Path == "" {
		p.Path = "."
	}
	base := resolvePath(t.Dir, p.Path)

	info, err := os.Stat(base)
	if err != nil {
		return ToolResult{}, fmt.Errorf("cannot access path: %w", err)
	}

	var files []string
	if info.IsDir() {
		files, err = collectGoFiles(base)
		if err != nil {
			return ToolResult{}, fmt.Errorf("walk failed: %w", err)
		}
	} else {
		if !strings.HasSuffix(base, ".go") {
			return ToolResult{}, fmt.Errorf("not a Go file: %s", base)
		}
		files = []string{base}
	}

	if len(files) == 0 {
		return ToolResult{Content: "no Go files found"}, nil
	}

	sort.Strings(files)
	truncated := false
	if len(files) > maxCodeMapFiles {
		files = files[:maxCodeMapFiles]
		truncated = true
	}

	var sb strings.Builder
	for _, path := range files {
		display := path
		if info.IsDir() {
			if rel, relErr := filepath.Rel(base, path); relErr == nil {
				display = rel
			}
		}
		section, err := outlineGoFile(path, display, p.IncludeUnexported)
		if err != nil {
			continue // leave unparsable files out of the map
		}
		if section == "" {
			continue
		}
		sb.WriteString(section)
		sb.WriteString("\n")
	}

	content := strings.TrimRight(sb.String(), "\n")
	if content == "" {
		return ToolResult{Content: "no declarations found"}, nil
	}
	if truncated {
		content += fmt.Sprintf("\n[Truncated: showing first %d files]", maxCodeMapFiles)
	}

	return ToolResult{Content: content, Truncated: truncated}, nil
}

// collectGoFiles walks root for .go sources, skipping test files and
// the usual vendored/hidden directories.
func collectGoFiles(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip inaccessible files
		}
		if info.IsDir() {
			if path != root && shouldSkipDir(info.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if shouldSkipFile(info) {
			return nil
		}
		name := info.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// outlineGoFile parses one file and renders its declarations as an
// indented section: types first, then functions, both in source order.
func outlineGoFile(path, display string, includeUnexported bool) (string, error) {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, path, nil, 0)
	if err != nil {
		return "", err
	}

	var types, funcs []string
	for _, decl := range node.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if !includeUnexported && !d.Name.IsExported() {
				continue
			}
			line := fset.Position(d.Pos()).Line
			funcs = append(funcs, fmt.Sprintf("  %d: %s", line, funcSignature(fset, d)))

		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				if !includeUnexported && !ts.Name.IsExported() {
					continue
				}
				line := fset.Position(ts.Pos()).Line
				types = append(types, fmt.Sprintf("  %d: %s", line, typeSignature(ts)))
			}
		}
	}

	if len(types) == 0 && len(funcs) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(display)
	sb.WriteString(":\n")
	for _, l := range types {
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	for _, l := range funcs {
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// funcSignature renders a function declaration as a one-line signature,
// e.g. "func (s *Store) Get(key string) (string, bool)".
func funcSignature(fset *token.FileSet, fd *ast.FuncDecl) string {
	var sb strings.Builder
	sb.WriteString("func ")

	if fd.Recv != nil && len(fd.Recv.List) > 0 {
		sb.WriteString("(")
		sb.WriteString(exprString(fset, fd.Recv.List[0].Type))
		sb.WriteString(") ")
	}

	sb.WriteString(fd.Name.Name)
	sb.WriteString("(")
	if fd.Type.Params != nil {
		sb.WriteString(fieldListString(fset, fd.Type.Params))
	}
	sb.WriteString(")")

	if fd.Type.Results != nil && len(fd.Type.Results.List) > 0 {
		results := fieldListString(fset, fd.Type.Results)
		if len(fd.Type.Results.List) == 1 && len(fd.Type.Results.List[0].Names) == 0 {
			sb.WriteString(" ")
			sb.WriteString(results)
		} else {
			sb.WriteString(" (")
			sb.WriteString(results)
			sb.WriteString(")")
		}
	}

	return sb.String()
}

// fieldListString renders params or results, e.g. "key string, n int".
func fieldListString(fset *token.FileSet, fl *ast.FieldList) string {
	var parts []string
	for _, field := range fl.List {
		typeStr := exprString(fset, field.Type)
		if len(field.Names) > 0 {
			names := make([]string, len(field.Names))
			for i, n := range field.Names {
				names[i] = n.Name
			}
			parts = append(parts, strings.Join(names, ", ")+" "+typeStr)
		} else {
			parts = append(parts, typeStr)
		}
	}
	return strings.Join(parts, ", ")
}

// typeSignature renders a type declaration header.
func typeSignature(ts *ast.TypeSpec) string {
	switch ts.Type.(type) {
	case *ast.StructType:
		return "type " + ts.Name.Name + " struct"
	case *ast.InterfaceType:
		return "type " + ts.Name.Name + " interface"
	default:
		return "type " + ts.Name.Name
	}
}

func exprString(fset *token.FileSet, expr ast.Expr) string {
	var buf strings.Builder
	printer.Fprint(&buf, fset, expr)
	return buf.String()
}
