package main

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	sqlKeywordPattern = regexp.MustCompile(`(?i)^\s*(select|insert|update|delete|with)\b`)
	uuidMarkerPattern = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)
)

type violation struct {
	file    string
	name    string
	line    int
	message string
}

type marked struct {
	file string
	name string
	line int
}

type linter struct {
	violations []violation
	markers    map[string][]marked
}

func newLinter() *linter {
	return &linter{markers: make(map[string][]marked)}
}

// walk lints every .go file under target, skipping hidden and vendored trees.
func (l *linter) walk(target string) error {
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		if filepath.Ext(target) != ".go" {
			return nil
		}
		return l.lintFile(target)
	}
	return filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != target && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		return l.lintFile(path)
	})
}

func (l *linter) lintFile(path string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return err
	}
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for _, value := range vs.Values {
			bl, ok := value.(*ast.BasicLit)
			if !ok || bl.Kind != token.STRING {
				continue
			}
			raw, err := unquote(bl.Value)
			if err != nil {
				continue
			}
			first, body := splitFirstLine(raw)
			pos := fset.Position(bl.Pos())
			name := joinNames(vs.Names)
			m := uuidMarkerPattern.FindStringSubmatch(first)
			if m == nil {
				if sqlKeywordPattern.MatchString(raw) {
					l.violations = append(l.violations, violation{file: path, line: pos.Line, name: name, message: "missing or invalid --sql <uuid> marker"})
				}
				continue
			}
			if strings.TrimSpace(body) == "" {
				l.violations = append(l.violations, violation{file: path, line: pos.Line, name: name, message: "marker without a statement"})
			}
			l.markers[m[1]] = append(l.markers[m[1]], marked{file: path, name: name, line: pos.Line})
		}
		return true
	})
	return nil
}

// result returns every violation, including markers shared by more than one
// statement, in a stable order.
func (l *linter) result() []violation {
	out := append([]violation(nil), l.violations...)
	for id, uses := range l.markers {
		if len(uses) < 2 {
			continue
		}
		for _, u := range uses {
			out = append(out, violation{file: u.file, line: u.line, name: u.name, message: "duplicate marker " + id})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].file != out[j].file {
			return out[i].file < out[j].file
		}
		return out[i].line < out[j].line
	})
	return out
}

func splitFirstLine(s string) (string, string) {
	s = strings.TrimLeft(s, "\n\r \t")
	first, rest, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(first), rest
}

func unquote(v string) (string, error) {
	if len(v) == 0 {
		return v, nil
	}
	if v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}

func joinNames(idents []*ast.Ident) string {
	parts := make([]string, 0, len(idents))
	for _, ident := range idents {
		if ident == nil {
			continue
		}
		parts = append(parts, ident.Name)
	}
	return strings.Join(parts, ",")
}
