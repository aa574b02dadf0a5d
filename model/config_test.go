package model

import (
	"reflect"
	"testing"
)

func TestConfigBundleClone_deepCopiesNestedState(t *testing.T) {
	min := 2
	bundle := ConfigBundle{
		Forms: FormsConfig{
			Intents: []Intent{{ID: "i1", TargetForm: "f1"}},
			Forms: []Form{{
				ID:         "f1",
				Name:       "Ticket",
				Mode:       ModeStepByStep,
				FieldOrder: []string{"topic", "email"},
				Fields: []Field{
					{
						Name:            "topic",
						Type:            FieldDropdown,
						DropdownOptions: []string{"billing", "outage"},
						ToolHook: &ToolHook{
							Tool:     "lookup",
							InputMap: map[string]string{"q": "form.topic"},
						},
						MinLength: &min,
					},
					{Name: "email", Type: FieldText},
				},
			}},
		},
		Tools: ToolsConfig{
			Tools: []Tool{{
				Name:        "lookup",
				Headers:     map[string]string{"X-Key": "abc"},
				QuerySchema: MustValue(map[string]any{"type": "object"}),
			}},
		},
	}

	clone := bundle.Clone()
	if !reflect.DeepEqual(clone, bundle) {
		t.Fatalf("clone differs from original:\n%+v\n%+v", clone, bundle)
	}

	form := clone.Forms.FormByID("f1")
	form.FieldOrder[0] = "changed"
	form.FieldByName("topic").DropdownOptions[0] = "changed"
	form.FieldByName("topic").ToolHook.InputMap["q"] = "changed"
	*form.FieldByName("topic").MinLength = 99
	clone.Tools.ToolByName("lookup").Headers["X-Key"] = "changed"
	clone.Forms.Intents[0].TargetForm = "changed"

	orig := bundle.Forms.FormByID("f1")
	if orig.FieldOrder[0] != "topic" {
		t.Errorf("field_order leaked: %v", orig.FieldOrder)
	}
	topic := orig.FieldByName("topic")
	if topic.DropdownOptions[0] != "billing" {
		t.Errorf("dropdown options leaked: %v", topic.DropdownOptions)
	}
	if topic.ToolHook.InputMap["q"] != "form.topic" {
		t.Errorf("input_map leaked: %v", topic.ToolHook.InputMap)
	}
	if *topic.MinLength != 2 {
		t.Errorf("min_length leaked: %d", *topic.MinLength)
	}
	if bundle.Tools.ToolByName("lookup").Headers["X-Key"] != "abc" {
		t.Errorf("headers leaked: %v", bundle.Tools.ToolByName("lookup").Headers)
	}
	if bundle.Forms.Intents[0].TargetForm != "f1" {
		t.Errorf("intents leaked: %v", bundle.Forms.Intents)
	}
}
