package toolbind

import (
	"fmt"

	"github.com/pendulo/formstudio/model"
)

// Binder resolves a field's tool hook into a concrete call payload and
// extracts the bound value from the tool response.
type Binder struct{}

// NewBinder creates a new Binder.
func NewBinder() *Binder {
	return &Binder{}
}

// BuildInput resolves every input_map expression for a hook. The returned
// map is the request payload: body for POST-family tools, query parameters
// for GET tools.
func (b *Binder) BuildInput(
	hook *model.ToolHook,
	formValues map[string]any,
	state *model.DialogueState,
	rctx *model.RequestContext,
) (map[string]any, error) {
	if hook == nil {
		return nil, fmt.Errorf("nil tool hook")
	}

	resolver := &ExpressionResolver{
		FormValues: formValues,
		State:      state,
		Context:    rctx,
	}

	result := make(map[string]any, len(hook.InputMap))
	for param, expr := range hook.InputMap {
		val, err := resolver.Resolve(expr)
		if err != nil {
			return nil, fmt.Errorf("input_map[%s]: %w", param, err)
		}
		result[param] = val
	}
	return result, nil
}

// ExtractOutput selects the hook's bound value from a decoded tool response.
// An empty output_path returns the whole response.
func (b *Binder) ExtractOutput(hook *model.ToolHook, response map[string]any) (any, error) {
	if hook == nil {
		return nil, fmt.Errorf("nil tool hook")
	}
	if hook.OutputPath == "" {
		return response, nil
	}
	val := NavigatePath(response, hook.OutputPath)
	if val == nil {
		return nil, fmt.Errorf("output path %q not found in response", hook.OutputPath)
	}
	return val, nil
}

// ApplyOutputMap projects a decoded tool response onto form field names
// using the hook's output_map. Each entry maps a field name to a response
// path. Missing paths are skipped rather than failing the whole projection.
func (b *Binder) ApplyOutputMap(hook *model.ToolHook, response map[string]any) map[string]any {
	if hook == nil || len(hook.OutputMap) == 0 {
		return nil
	}
	out := make(map[string]any, len(hook.OutputMap))
	for field, path := range hook.OutputMap {
		if val := NavigatePath(response, path); val != nil {
			out[field] = val
		}
	}
	return out
}
