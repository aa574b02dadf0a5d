// Package toolbind evaluates the input and output mappings that connect
// form fields to tool invocations: input_map expressions are resolved
// against collected form values and dialogue state, and output_path selects
// the value bound back from a tool response.
package toolbind

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pendulo/formstudio/model"
)

// ExpressionResolver resolves mapping expressions against the available
// sources: collected form values, runtime dialogue state, and the request
// context of the editing user.
type ExpressionResolver struct {
	FormValues map[string]any
	State      *model.DialogueState
	Context    *model.RequestContext
}

// Resolve evaluates a mapping expression and returns the resolved value.
// Supported expressions:
//   - form.field_name          collected value of a form field
//   - form.address.city        nested field access
//   - state.current_form       from dialogue state
//   - state.awaiting_field     from dialogue state
//   - state.step_index         from dialogue state
//   - context.subject_id       from RequestContext
//   - context.tenant_id        from RequestContext
//   - context.email            from RequestContext
//   - 'literal'                single-quoted literal string
//   - 123 / 99.99              numeric literal
func (r *ExpressionResolver) Resolve(expr string) (any, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}

	// Literal string: single-quoted.
	if len(expr) >= 2 && expr[0] == '\'' && expr[len(expr)-1] == '\'' {
		return expr[1 : len(expr)-1], nil
	}

	// Numeric literal.
	if isNumericLiteral(expr) {
		return parseNumeric(expr)
	}

	dotIdx := strings.IndexByte(expr, '.')
	if dotIdx < 0 {
		return nil, fmt.Errorf("invalid expression %q: missing source prefix", expr)
	}

	prefix := expr[:dotIdx]
	path := expr[dotIdx+1:]
	if path == "" {
		return nil, fmt.Errorf("invalid expression %q: empty path after prefix", expr)
	}

	switch prefix {
	case "form":
		return r.resolveForm(path)
	case "state":
		return r.resolveState(path)
	case "context":
		return r.resolveContext(path)
	default:
		return nil, fmt.Errorf("unknown expression prefix %q in %q", prefix, expr)
	}
}

func (r *ExpressionResolver) resolveForm(path string) (any, error) {
	if r.FormValues == nil {
		return nil, fmt.Errorf("form values are nil, cannot resolve %q", "form."+path)
	}
	val := NavigatePath(r.FormValues, path)
	if val == nil {
		return nil, fmt.Errorf("form field %q not found", path)
	}
	return val, nil
}

func (r *ExpressionResolver) resolveState(field string) (any, error) {
	if r.State == nil {
		return nil, fmt.Errorf("dialogue state is nil, cannot resolve %q", "state."+field)
	}
	switch field {
	case "current_form":
		return r.State.CurrentFormID, nil
	case "awaiting_field":
		return r.State.AwaitingField, nil
	case "step_index":
		return r.State.StepIndex(), nil
	default:
		return nil, fmt.Errorf("unknown state field %q", field)
	}
}

func (r *ExpressionResolver) resolveContext(field string) (any, error) {
	if r.Context == nil {
		return nil, fmt.Errorf("request context is nil, cannot resolve %q", "context."+field)
	}
	switch field {
	case "subject_id":
		return r.Context.SubjectID, nil
	case "tenant_id":
		return r.Context.TenantID, nil
	case "email":
		return r.Context.Email, nil
	default:
		return nil, fmt.Errorf("unknown context field %q", field)
	}
}

// NavigatePath navigates a dot-separated path through nested maps.
func NavigatePath(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var current any = data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

// isNumericLiteral returns true if the string looks like a number.
func isNumericLiteral(s string) bool {
	if len(s) == 0 {
		return false
	}
	start := 0
	if s[0] == '-' || s[0] == '+' {
		start = 1
		if start >= len(s) {
			return false
		}
	}
	hasDot := false
	for i := start; i < len(s); i++ {
		if s[i] == '.' {
			if hasDot {
				return false
			}
			hasDot = true
		} else if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// parseNumeric parses a numeric string literal.
func parseNumeric(s string) (any, error) {
	if strings.ContainsRune(s, '.') {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid numeric literal %q: %w", s, err)
		}
		return v, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid numeric literal %q: %w", s, err)
	}
	return v, nil
}
