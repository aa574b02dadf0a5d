package bundle

import (
	"testing"

	"github.com/pendulo/formstudio/model"
)

func validBundle() *model.ConfigBundle {
	return &model.ConfigBundle{
		Project: model.ProjectConfig{ProjectName: "support"},
		Forms: model.FormsConfig{
			Intents: []model.Intent{
				{ID: "open_ticket", Name: "Open ticket", TargetForm: "support_ticket"},
			},
			Forms: []model.Form{
				{
					ID:            "support_ticket",
					Name:          "Support ticket",
					SubmissionURL: "https://api.example.com/tickets",
					Mode:          model.ModeStepByStep,
					FieldOrder:    []string{"topic", "email"},
					Fields: []model.Field{
						{Name: "topic", Label: "Topic", Type: model.FieldDropdown, DropdownOptions: []string{"billing"}, DropdownTool: "list_topics"},
						{Name: "email", Label: "Email", Type: model.FieldText, ToolHook: &model.ToolHook{Tool: "verify_email", OutputPath: "data.valid"}},
					},
				},
			},
		},
		Tools: model.ToolsConfig{
			Tools: []model.Tool{
				{Name: "list_topics", HTTPMethod: "GET", URL: "https://api.example.com/topics", Auth: model.ToolAuthNone, Role: model.ToolRoleDataEnricher},
				{Name: "verify_email", HTTPMethod: "POST", URL: "https://api.example.com/verify", Auth: model.ToolAuthBearer, Role: model.ToolRolePreSubmitValidator},
			},
		},
		Knowledge: model.KnowledgeConfig{
			Provider:         model.KnowledgeProviderPgVector,
			RetrievalMode:    model.RetrievalAgentic,
			MaxAgenticPasses: 3,
		},
		Logging: model.LoggingConfig{Mode: "console", Level: "INFO"},
	}
}

func hasDiag(diags []Diagnostic, code, path string) bool {
	for _, d := range diags {
		if d.Code == code && d.Path == path {
			return true
		}
	}
	return false
}

func TestValidator_valid(t *testing.T) {
	v := NewValidator()
	diags := v.Validate(validBundle())
	if len(diags) > 0 {
		for _, d := range diags {
			t.Errorf("unexpected diagnostic: %s [%s]", d.Error(), d.Code)
		}
	}
}

func TestValidator_intentTargetNotFound(t *testing.T) {
	b := validBundle()
	b.Forms.Intents[0].TargetForm = "missing_form"

	diags := NewValidator().Validate(b)
	if !hasDiag(diags, "REF_NOT_FOUND", "intents[0].target_form") {
		t.Fatalf("missing REF_NOT_FOUND for intent target, got %v", diags)
	}
}

func TestValidator_fieldOrderDrift(t *testing.T) {
	b := validBundle()
	form := &b.Forms.Forms[0]
	form.FieldOrder = []string{"topic", "topic", "ghost"}

	diags := NewValidator().Validate(b)
	if !hasDiag(diags, "DUPLICATE_ORDER", "forms[0].field_order[1]") {
		t.Errorf("missing DUPLICATE_ORDER, got %v", diags)
	}
	if !hasDiag(diags, "DANGLING_ORDER", "forms[0].field_order[2]") {
		t.Errorf("missing DANGLING_ORDER, got %v", diags)
	}
	if !hasDiag(diags, "MISSING_ORDER", "forms[0].field_order") {
		t.Errorf("missing MISSING_ORDER for email, got %v", diags)
	}
}

func TestValidator_oneShotWithDropdownBlocked(t *testing.T) {
	b := validBundle()
	b.Forms.Forms[0].Mode = model.ModeOneShot

	diags := NewValidator().Validate(b)
	if !hasDiag(diags, "MODE_BLOCKED", "forms[0].mode") {
		t.Fatalf("missing MODE_BLOCKED, got %v", diags)
	}
	found := false
	for _, d := range diags {
		if d.Code == "MODE_BLOCKED" && d.Message == "Dropdown fields require step-by-step mode." {
			found = true
		}
	}
	if !found {
		t.Error("MODE_BLOCKED diagnostic does not carry the editor message")
	}
}

func TestValidator_toolReferences(t *testing.T) {
	b := validBundle()
	b.Tools.Tools = b.Tools.Tools[:1] // drop verify_email
	b.Forms.Forms[0].Fields[0].DropdownTool = "gone"

	diags := NewValidator().Validate(b)
	if !hasDiag(diags, "REF_NOT_FOUND", "forms[0].fields[0].dropdown_tool") {
		t.Errorf("missing REF_NOT_FOUND for dropdown_tool, got %v", diags)
	}
	if !hasDiag(diags, "REF_NOT_FOUND", "forms[0].fields[1].tool_hook.tool") {
		t.Errorf("missing REF_NOT_FOUND for tool_hook, got %v", diags)
	}
}

func TestValidator_duplicateFieldAndTool(t *testing.T) {
	b := validBundle()
	b.Forms.Forms[0].Fields = append(b.Forms.Forms[0].Fields, model.Field{Name: "topic", Type: model.FieldText})
	b.Tools.Tools = append(b.Tools.Tools, model.Tool{Name: "list_topics", HTTPMethod: "GET", URL: "https://x.example.com"})

	diags := NewValidator().Validate(b)
	if !hasDiag(diags, "DUPLICATE", "forms[0].fields[2].name") {
		t.Errorf("missing DUPLICATE field, got %v", diags)
	}
	if !hasDiag(diags, "DUPLICATE", "tools[2].name") {
		t.Errorf("missing DUPLICATE tool, got %v", diags)
	}
}

func TestValidator_submissionURL(t *testing.T) {
	b := validBundle()
	b.Forms.Forms[0].SubmissionURL = "not a url"

	diags := NewValidator().Validate(b)
	if !hasDiag(diags, "INVALID_URL", "forms[0].submission_url") {
		t.Fatalf("missing INVALID_URL, got %v", diags)
	}

	// A blank URL is allowed at edit time; the save gate enforces presence.
	b.Forms.Forms[0].SubmissionURL = ""
	diags = NewValidator().Validate(b)
	if hasDiag(diags, "INVALID_URL", "forms[0].submission_url") {
		t.Fatal("blank submission_url should not be flagged here")
	}
}

func TestValidator_enums(t *testing.T) {
	b := validBundle()
	b.Tools.Tools[0].HTTPMethod = "FETCH"
	b.Tools.Tools[0].Role = "decorator"
	b.Knowledge.Provider = "elastic"
	b.Logging.Mode = "syslog"

	diags := NewValidator().Validate(b)
	for _, path := range []string{"tools[0].http_method", "tools[0].role", "knowledge.provider", "logging.mode"} {
		if !hasDiag(diags, "INVALID_ENUM", path) {
			t.Errorf("missing INVALID_ENUM at %s, got %v", path, diags)
		}
	}
}

func TestValidator_loggingLevels(t *testing.T) {
	for _, level := range []string{"DEBUG", "INFO", "WARNING", "ERROR"} {
		b := validBundle()
		b.Logging.Level = level
		if diags := NewValidator().Validate(b); hasDiag(diags, "INVALID_ENUM", "logging.level") {
			t.Errorf("level %q rejected: %v", level, diags)
		}
	}

	for _, level := range []string{"info", "TRACE", "Warning"} {
		b := validBundle()
		b.Logging.Level = level
		if diags := NewValidator().Validate(b); !hasDiag(diags, "INVALID_ENUM", "logging.level") {
			t.Errorf("level %q accepted, want INVALID_ENUM", level)
		}
	}
}

func TestValidator_knowledgeAgenticPasses(t *testing.T) {
	b := validBundle()
	b.Knowledge.MaxAgenticPasses = 0

	diags := NewValidator().Validate(b)
	if !hasDiag(diags, "RANGE", "knowledge.max_agentic_passes") {
		t.Fatalf("missing RANGE diagnostic, got %v", diags)
	}
}
