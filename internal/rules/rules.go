// Package rules keeps a form's fields, field_order, and mode mutually
// consistent as fields are added, renamed, retyped, reordered, or removed.
// All operations mutate the form in place and uphold two invariants:
// field_order is always a permutation of the field names, and a form with a
// dropdown or enum field is always in step-by-step mode.
package rules

import (
	"fmt"
	"time"

	"github.com/pendulo/formstudio/model"
)

// MsgChoiceRequiresStepByStep is the blocking message reported when one-shot
// mode is requested for a form with dropdown or enum fields.
const MsgChoiceRequiresStepByStep = "Dropdown fields require step-by-step mode."

// Move directions accepted by MoveField.
const (
	MoveUp   = "up"
	MoveDown = "down"
)

var validFieldTypes = map[string]bool{
	model.FieldText:     true,
	model.FieldNumber:   true,
	model.FieldDate:     true,
	model.FieldBoolean:  true,
	model.FieldDropdown: true,
	model.FieldEnum:     true,
	model.FieldFile:     true,
}

// AddField appends a fresh text field with a unique time-based name to both
// fields and field_order, and returns a pointer to it.
func AddField(form *model.Form) *model.Field {
	name := freshFieldName(form)
	form.Fields = append(form.Fields, model.Field{
		Name:  name,
		Label: "New field",
		Type:  model.FieldText,
	})
	form.FieldOrder = append(form.FieldOrder, name)
	return &form.Fields[len(form.Fields)-1]
}

// freshFieldName derives a unique name from the current time, bumping a
// suffix on the rare collision within the same nanosecond.
func freshFieldName(form *model.Form) string {
	base := fmt.Sprintf("field_%d", time.Now().UnixNano())
	name := base
	for i := 1; form.FieldByName(name) != nil; i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	return name
}

// RenameField changes a field's name and rewrites every occurrence of the
// old name in field_order. The rewrite is atomic: field_order never
// references a name absent from fields. Stored references outside the form
// (tool hook input_map keys, validator conditions) are deliberately left
// untouched; the bundle validator reports them as dangling.
func RenameField(form *model.Form, oldName, newName string) error {
	if newName == "" {
		return model.NewBadRequestError("field name must not be empty")
	}
	field := form.FieldByName(oldName)
	if field == nil {
		return model.NewNotFoundError(fmt.Sprintf("field %q not found in form %q", oldName, form.ID))
	}
	if newName == oldName {
		return nil
	}
	if form.FieldByName(newName) != nil {
		return model.NewConflictError(fmt.Sprintf("field %q already exists in form %q", newName, form.ID))
	}

	field.Name = newName
	for i, n := range form.FieldOrder {
		if n == oldName {
			form.FieldOrder[i] = newName
		}
	}
	return nil
}

// RetypeField changes a field's type. Retyping to dropdown or enum forces
// the form into step-by-step mode; switching back requires removing every
// choice field first (SetMode enforces this).
func RetypeField(form *model.Form, name, newType string) error {
	if !validFieldTypes[newType] {
		return model.NewBadRequestError(fmt.Sprintf("invalid field type %q", newType))
	}
	field := form.FieldByName(name)
	if field == nil {
		return model.NewNotFoundError(fmt.Sprintf("field %q not found in form %q", name, form.ID))
	}

	field.Type = newType
	if field.IsChoice() {
		form.Mode = model.ModeStepByStep
	}
	return nil
}

// SetMode changes the form's collection mode. One-shot is rejected while any
// dropdown or enum field remains: the mode is forced back to step-by-step
// and a blocking error is returned. This is a hard invariant guard, not a
// soft warning.
func SetMode(form *model.Form, mode string) error {
	if mode != model.ModeStepByStep && mode != model.ModeOneShot {
		return model.NewBadRequestError(fmt.Sprintf("invalid mode %q", mode))
	}
	if mode != model.ModeStepByStep && form.HasChoiceField() {
		form.Mode = model.ModeStepByStep
		return model.NewValidationError([]model.FieldError{{
			Field:   "mode",
			Code:    "MODE_BLOCKED",
			Message: MsgChoiceRequiresStepByStep,
		}})
	}
	form.Mode = mode
	return nil
}

// MoveField swaps the named field with its neighbor in field_order. Moving
// the first field up or the last field down is a silent no-op.
func MoveField(form *model.Form, name, direction string) {
	idx := -1
	for i, n := range form.FieldOrder {
		if n == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	switch direction {
	case MoveUp:
		if idx == 0 {
			return
		}
		form.FieldOrder[idx-1], form.FieldOrder[idx] = form.FieldOrder[idx], form.FieldOrder[idx-1]
	case MoveDown:
		if idx == len(form.FieldOrder)-1 {
			return
		}
		form.FieldOrder[idx], form.FieldOrder[idx+1] = form.FieldOrder[idx+1], form.FieldOrder[idx]
	}
}

// DeleteField removes the named field from both fields and field_order.
// Tool hooks and validator conditions referencing the deleted field are not
// cascaded; save-time bundle validation reports them.
func DeleteField(form *model.Form, name string) {
	for i := range form.Fields {
		if form.Fields[i].Name == name {
			form.Fields = append(form.Fields[:i], form.Fields[i+1:]...)
			break
		}
	}
	kept := form.FieldOrder[:0]
	for _, n := range form.FieldOrder {
		if n != name {
			kept = append(kept, n)
		}
	}
	form.FieldOrder = kept
}

// CheckInvariants verifies that field_order is a permutation of the field
// names and that the choice-field mode rule holds. An empty result means the
// form is internally consistent.
func CheckInvariants(form *model.Form) []model.FieldError {
	var errs []model.FieldError

	names := make(map[string]bool, len(form.Fields))
	for _, f := range form.Fields {
		if names[f.Name] {
			errs = append(errs, model.FieldError{
				Field:   f.Name,
				Code:    "DUPLICATE_FIELD",
				Message: fmt.Sprintf("field name %q is not unique", f.Name),
			})
		}
		names[f.Name] = true
	}

	seen := make(map[string]bool, len(form.FieldOrder))
	for _, n := range form.FieldOrder {
		if seen[n] {
			errs = append(errs, model.FieldError{
				Field:   n,
				Code:    "DUPLICATE_ORDER",
				Message: fmt.Sprintf("field %q appears twice in field_order", n),
			})
		}
		seen[n] = true
		if !names[n] {
			errs = append(errs, model.FieldError{
				Field:   n,
				Code:    "DANGLING_ORDER",
				Message: fmt.Sprintf("field_order references unknown field %q", n),
			})
		}
	}
	for n := range names {
		if !seen[n] {
			errs = append(errs, model.FieldError{
				Field:   n,
				Code:    "MISSING_ORDER",
				Message: fmt.Sprintf("field %q is missing from field_order", n),
			})
		}
	}

	if form.HasChoiceField() && form.Mode != model.ModeStepByStep {
		errs = append(errs, model.FieldError{
			Field:   "mode",
			Code:    "MODE_BLOCKED",
			Message: MsgChoiceRequiresStepByStep,
		})
	}

	return errs
}
