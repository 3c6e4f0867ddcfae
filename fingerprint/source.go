package fingerprint

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"reflect"
	"regexp"
	"runtime"
	"strings"
)

// closureName matches the symbol names the compiler gives function literals,
// e.g. "pkg.TestFoo.func1" or "pkg.(*T).run.func2.1".
var closureName = regexp.MustCompile(`\.func\d+(\.\d+)*$`)

// Source fingerprints the source text of a function so that cached results
// are invalidated when a user supplied callback changes.
//
// The value is either the source text itself (a string) or a Go func value.
// Func values are resolved to their declaration through the runtime symbol
// table, which requires the source file to be present at its build path;
// binaries built with -trimpath cannot be fingerprinted this way.
type Source struct{}

// Fingerprint implements Fingerprinter.
func (Source) Fingerprint(v any) (string, error) {
	if s, ok := v.(string); ok {
		return SumString(s), nil
	}
	src, err := FuncSource(v)
	if err != nil {
		return "", err
	}
	return SumString(src), nil
}

// FuncSource returns the source text of the function value fn.
func FuncSource(fn any) (string, error) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return "", fmt.Errorf("%w: %T is not a function", ErrUnsupported, fn)
	}

	rf := runtime.FuncForPC(rv.Pointer())
	if rf == nil {
		return "", fmt.Errorf("%w: no symbol for %T", ErrUnsupported, fn)
	}
	name := strings.TrimSuffix(rf.Name(), "-fm")
	file, line := rf.FileLine(rf.Entry())

	src, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("failed to read source of %s: %w", name, err)
	}
	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, file, src, parser.SkipObjectResolution)
	if err != nil {
		return "", fmt.Errorf("failed to parse source of %s: %w", name, err)
	}

	wantLiteral := closureName.MatchString(name)
	var found ast.Node
	ast.Inspect(parsed, func(n ast.Node) bool {
		if found != nil || n == nil {
			return found == nil
		}
		switch n.(type) {
		case *ast.FuncDecl:
			if wantLiteral {
				return true
			}
		case *ast.FuncLit:
			if !wantLiteral {
				return true
			}
		default:
			return true
		}
		if fset.Position(n.Pos()).Line == line {
			found = n
			return false
		}
		return true
	})
	if found == nil {
		return "", fmt.Errorf("%w: declaration of %s not found at %s:%d", ErrUnsupported, name, file, line)
	}

	start := fset.Position(found.Pos()).Offset
	end := fset.Position(found.End()).Offset
	return string(src[start:end]), nil
}
