// Package cwlexpr evaluates the CWL parameter references and JavaScript
// expressions found in output globs and step valueFrom fields.
package cwlexpr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// Evaluator evaluates CWL expressions on a fresh goja runtime per call.
type Evaluator struct {
	expressionLib []string
}

// NewEvaluator creates an evaluator that loads expressionLib (the
// InlineJavascriptRequirement library) before each evaluation.
func NewEvaluator(expressionLib []string) *Evaluator {
	return &Evaluator{expressionLib: expressionLib}
}

func (e *Evaluator) vm(ctx *Context) (*goja.Runtime, error) {
	vm := goja.New()
	for i, lib := range e.expressionLib {
		if _, err := vm.RunString(lib); err != nil {
			return nil, fmt.Errorf("expressionLib[%d]: %w", i, err)
		}
	}
	for name, v := range map[string]any{"inputs": ctx.Inputs, "self": ctx.Self, "runtime": ctx.runtime()} {
		if err := vm.Set(name, v); err != nil {
			return nil, fmt.Errorf("set %s: %w", name, err)
		}
	}
	return vm, nil
}

// Evaluate evaluates expr. A string that is a single $(...) reference or a
// single ${...} block yields the typed result; a string with embedded
// references yields the interpolated string; a string without any
// expression is returned unchanged (with \$( unescaped).
func (e *Evaluator) Evaluate(expr string, ctx *Context) (any, error) {
	if !IsExpression(expr) {
		return unescape(expr), nil
	}
	vm, err := e.vm(ctx)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(expr)
	if strings.HasPrefix(trimmed, "${") {
		if end := matchingBrace(trimmed); end == len(trimmed)-1 {
			code := strings.TrimSpace(trimmed[2:end])
			val, err := vm.RunString("(function() { " + code + " })()")
			if err != nil {
				return nil, fmt.Errorf("expression error in ${%s}: %w", code, err)
			}
			return val.Export(), nil
		}
	}

	matches := findExpressions(expr)
	if len(matches) == 1 && matches[0].start == 0 && matches[0].end == len(expr) {
		return run(vm, matches[0].expr)
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(expr[last:m.start])
		val, err := run(vm, m.expr)
		if err != nil {
			return nil, err
		}
		b.WriteString(toString(val))
		last = m.end
	}
	b.WriteString(expr[last:])
	return unescape(b.String()), nil
}

func run(vm *goja.Runtime, code string) (any, error) {
	src := code
	if strings.HasPrefix(strings.TrimSpace(src), "{") {
		src = "(" + src + ")"
	}
	val, err := vm.RunString(src)
	if err != nil {
		return nil, fmt.Errorf("expression error in $(%s): %w", code, err)
	}
	if goja.IsUndefined(val) {
		return nil, fmt.Errorf("expression $(%s) is undefined", code)
	}
	return val.Export(), nil
}

// EvaluateString evaluates expr and renders the result as a string.
func (e *Evaluator) EvaluateString(expr string, ctx *Context) (string, error) {
	val, err := e.Evaluate(expr, ctx)
	if err != nil {
		return "", err
	}
	return toString(val), nil
}

// Globs evaluates an outputBinding glob, which may be a string, an
// expression yielding a string or list, or a list of those.
func (e *Evaluator) Globs(glob any, ctx *Context) ([]string, error) {
	switch g := glob.(type) {
	case nil:
		return nil, nil
	case string:
		val, err := e.Evaluate(g, ctx)
		if err != nil {
			return nil, err
		}
		if s, ok := val.(string); ok {
			return []string{s}, nil
		}
		return e.Globs(val, ctx)
	case []any:
		var out []string
		for _, item := range g {
			sub, err := e.Globs(item, ctx)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil
	case []string:
		return g, nil
	default:
		return nil, fmt.Errorf("glob must be a string or a list of strings, got %T", glob)
	}
}

type exprMatch struct {
	start, end int
	expr       string
}

// findExpressions finds the unescaped $(...) references of s, honouring
// nested parentheses.
func findExpressions(s string) []exprMatch {
	var out []exprMatch
	for i := 0; i < len(s)-1; i++ {
		if s[i] != '$' || s[i+1] != '(' || (i > 0 && s[i-1] == '\\') {
			continue
		}
		depth := 1
		j := i + 2
		for ; j < len(s) && depth > 0; j++ {
			switch s[j] {
			case '(':
				depth++
			case ')':
				depth--
			}
		}
		if depth == 0 {
			out = append(out, exprMatch{start: i, end: j, expr: s[i+2 : j-1]})
			i = j - 1
		}
	}
	return out
}

func matchingBrace(s string) int {
	depth := 0
	for i, c := range s {
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// IsExpression reports whether s contains an unescaped $(...) reference
// or starts with a ${...} block.
func IsExpression(s string) bool {
	if strings.HasPrefix(strings.TrimSpace(s), "${") {
		return true
	}
	return len(findExpressions(s)) > 0
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, `\$(`, "$(")
	return strings.ReplaceAll(s, `\${`, "${")
}

func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]any, []any:
		data, _ := json.Marshal(val)
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}
