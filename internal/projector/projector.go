// Package projector maps the runtime's reported dialogue state onto the
// locally held form catalog to decide which input control the chat preview
// should render next. It is a pure function of (state, forms): it performs
// no mutation and its only degraded outcome is "no active field".
package projector

import "github.com/pendulo/formstudio/model"

// Boolean fields are always offered this fixed pair, regardless of any
// runtime-reported options.
var booleanOptions = []string{"yes", "no"}

// CurrentField resolves the field the runtime is waiting on. It returns nil
// (free-text input only) when the runtime is not awaiting a field, the form
// is unknown or not step-by-step, the step index is out of range, or the
// ordered name no longer resolves to a field (stale config vs. runtime
// drift).
func CurrentField(state model.DialogueState, forms *model.FormsConfig) *model.ActiveField {
	if !state.AwaitingField || forms == nil {
		return nil
	}

	form := forms.FormByID(state.CurrentFormID)
	if form == nil || form.Mode != model.ModeStepByStep {
		return nil
	}

	idx := state.StepIndex()
	if idx < 0 || idx >= len(form.FieldOrder) {
		return nil
	}

	field := form.FieldByName(form.FieldOrder[idx])
	if field == nil {
		return nil
	}

	return &model.ActiveField{
		Form:     form.ID,
		Name:     field.Name,
		Label:    field.Label,
		Type:     field.Type,
		Required: field.Required,
		Options:  OptionsFor(field, state),
	}
}

// OptionsFor returns the selectable options for a field. Dropdown and enum
// fields get the union of runtime-reported dynamic options and the field's
// static dropdown_options, deduplicated in first-seen order with dynamic
// options first. Boolean fields get the fixed yes/no pair. Every other type
// has no options.
func OptionsFor(field *model.Field, state model.DialogueState) []string {
	if field == nil {
		return nil
	}
	switch field.Type {
	case model.FieldBoolean:
		return append([]string(nil), booleanOptions...)
	case model.FieldDropdown, model.FieldEnum:
		dynamic := state.FieldOptions[field.Name]
		return mergeOptions(dynamic, field.DropdownOptions)
	default:
		return nil
	}
}

// mergeOptions unions two ordered option lists, keeping first-seen order.
func mergeOptions(dynamic, static []string) []string {
	var out []string
	seen := make(map[string]bool, len(dynamic)+len(static))
	for _, lists := range [2][]string{dynamic, static} {
		for _, opt := range lists {
			if seen[opt] {
				continue
			}
			seen[opt] = true
			out = append(out, opt)
		}
	}
	return out
}

// SelectOption returns the outbound chat message for a selected option: the
// literal option value, untransformed. The local step index never advances;
// the next transition is authoritative from the runtime's next response.
func SelectOption(option string) string {
	return option
}
