// Package bundle validates a full configuration bundle structurally and
// referentially before it is saved or published.
package bundle

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/pendulo/formstudio/model"
)

// Diagnostic describes a single validation finding in a bundle.
type Diagnostic struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s", d.Path, d.Message)
}

// Validator validates bundles structurally and referentially.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks a bundle. Forms are checked against the tool catalog in
// the same bundle, so dropdown_tool and tool_hook references are resolved
// locally rather than against live upstream state.
func (v *Validator) Validate(b *model.ConfigBundle) []Diagnostic {
	var diags []Diagnostic

	toolNames := make(map[string]bool)
	for i, t := range b.Tools.Tools {
		tp := fmt.Sprintf("tools[%d]", i)
		diags = append(diags, v.validateTool(tp, t)...)
		if t.Name != "" {
			if toolNames[t.Name] {
				diags = append(diags, Diagnostic{Path: tp + ".name", Code: "DUPLICATE", Message: fmt.Sprintf("tool %q declared more than once", t.Name)})
			}
			toolNames[t.Name] = true
		}
	}

	formIDs := make(map[string]bool)
	for i, f := range b.Forms.Forms {
		fp := fmt.Sprintf("forms[%d]", i)
		diags = append(diags, v.validateForm(fp, f, toolNames)...)
		if f.ID != "" {
			if formIDs[f.ID] {
				diags = append(diags, Diagnostic{Path: fp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("form %q declared more than once", f.ID)})
			}
			formIDs[f.ID] = true
		}
	}

	for i, intent := range b.Forms.Intents {
		ip := fmt.Sprintf("intents[%d]", i)
		if intent.ID == "" {
			diags = append(diags, Diagnostic{Path: ip + ".id", Code: "REQUIRED", Message: "id is required"})
		}
		if intent.TargetForm == "" {
			diags = append(diags, Diagnostic{Path: ip + ".target_form", Code: "REQUIRED", Message: "target_form is required"})
		} else if !formIDs[intent.TargetForm] {
			diags = append(diags, Diagnostic{
				Path:    ip + ".target_form",
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("form %q not found", intent.TargetForm),
			})
		}
	}

	diags = append(diags, v.validateKnowledge(b.Knowledge)...)
	diags = append(diags, v.validateLogging(b.Logging)...)
	diags = append(diags, v.validatePersistence(b.Persistence)...)

	return diags
}

var validModes = map[string]bool{
	model.ModeStepByStep: true,
	model.ModeOneShot:    true,
}

var validFieldTypes = map[string]bool{
	model.FieldText: true, model.FieldNumber: true, model.FieldDate: true,
	model.FieldBoolean: true, model.FieldDropdown: true, model.FieldEnum: true,
	model.FieldFile: true,
}

func (v *Validator) validateForm(prefix string, f model.Form, toolNames map[string]bool) []Diagnostic {
	var diags []Diagnostic

	if f.ID == "" {
		diags = append(diags, Diagnostic{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if f.Name == "" {
		diags = append(diags, Diagnostic{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if f.Mode == "" {
		diags = append(diags, Diagnostic{Path: prefix + ".mode", Code: "REQUIRED", Message: "mode is required"})
	} else if !validModes[f.Mode] {
		diags = append(diags, Diagnostic{Path: prefix + ".mode", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid mode %q", f.Mode)})
	}

	if f.SubmissionURL != "" {
		if u, err := url.Parse(f.SubmissionURL); err != nil || u.Scheme == "" || u.Host == "" {
			diags = append(diags, Diagnostic{Path: prefix + ".submission_url", Code: "INVALID_URL", Message: fmt.Sprintf("submission_url %q is not an absolute URL", f.SubmissionURL)})
		}
	}

	fieldNames := make(map[string]bool)
	hasChoice := false
	for i, fd := range f.Fields {
		fp := fmt.Sprintf("%s.fields[%d]", prefix, i)
		if fd.Name == "" {
			diags = append(diags, Diagnostic{Path: fp + ".name", Code: "REQUIRED", Message: "name is required"})
		} else {
			if fieldNames[fd.Name] {
				diags = append(diags, Diagnostic{Path: fp + ".name", Code: "DUPLICATE", Message: fmt.Sprintf("field %q declared more than once", fd.Name)})
			}
			fieldNames[fd.Name] = true
		}
		if fd.Type == "" {
			diags = append(diags, Diagnostic{Path: fp + ".type", Code: "REQUIRED", Message: "type is required"})
		} else if !validFieldTypes[fd.Type] {
			diags = append(diags, Diagnostic{Path: fp + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid field type %q", fd.Type)})
		}
		if fd.IsChoice() {
			hasChoice = true
		}
		if fd.DropdownTool != "" && !toolNames[fd.DropdownTool] {
			diags = append(diags, Diagnostic{Path: fp + ".dropdown_tool", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("tool %q not found", fd.DropdownTool)})
		}
		if fd.ToolHook != nil {
			if fd.ToolHook.Tool == "" {
				diags = append(diags, Diagnostic{Path: fp + ".tool_hook.tool", Code: "REQUIRED", Message: "tool is required"})
			} else if !toolNames[fd.ToolHook.Tool] {
				diags = append(diags, Diagnostic{Path: fp + ".tool_hook.tool", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("tool %q not found", fd.ToolHook.Tool)})
			}
		}
	}

	// field_order must be a permutation of the field names.
	seen := make(map[string]bool, len(f.FieldOrder))
	for i, name := range f.FieldOrder {
		op := fmt.Sprintf("%s.field_order[%d]", prefix, i)
		if seen[name] {
			diags = append(diags, Diagnostic{Path: op, Code: "DUPLICATE_ORDER", Message: fmt.Sprintf("field %q ordered more than once", name)})
			continue
		}
		seen[name] = true
		if !fieldNames[name] {
			diags = append(diags, Diagnostic{Path: op, Code: "DANGLING_ORDER", Message: fmt.Sprintf("ordered field %q does not exist", name)})
		}
	}
	for name := range fieldNames {
		if !seen[name] {
			diags = append(diags, Diagnostic{Path: prefix + ".field_order", Code: "MISSING_ORDER", Message: fmt.Sprintf("field %q missing from field_order", name)})
		}
	}

	if hasChoice && f.Mode == model.ModeOneShot {
		diags = append(diags, Diagnostic{
			Path:    prefix + ".mode",
			Code:    "MODE_BLOCKED",
			Message: "Dropdown fields require step-by-step mode.",
		})
	}

	return diags
}

var validHTTPMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

var validToolAuth = map[string]bool{
	model.ToolAuthNone: true, model.ToolAuthAPIKey: true,
	model.ToolAuthBearer: true, model.ToolAuthManagedIdentity: true,
}

var validToolRoles = map[string]bool{
	model.ToolRolePreSubmitValidator: true,
	model.ToolRoleDataEnricher:       true,
	model.ToolRoleSubmitForm:         true,
}

func (v *Validator) validateTool(prefix string, t model.Tool) []Diagnostic {
	var diags []Diagnostic

	if t.Name == "" {
		diags = append(diags, Diagnostic{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if t.URL == "" {
		diags = append(diags, Diagnostic{Path: prefix + ".url", Code: "REQUIRED", Message: "url is required"})
	}
	if t.HTTPMethod == "" {
		diags = append(diags, Diagnostic{Path: prefix + ".http_method", Code: "REQUIRED", Message: "http_method is required"})
	} else if !validHTTPMethods[strings.ToUpper(t.HTTPMethod)] {
		diags = append(diags, Diagnostic{Path: prefix + ".http_method", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid http method %q", t.HTTPMethod)})
	}
	if t.Auth != "" && !validToolAuth[t.Auth] {
		diags = append(diags, Diagnostic{Path: prefix + ".auth", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid auth strategy %q", t.Auth)})
	}
	if t.Role != "" && !validToolRoles[t.Role] {
		diags = append(diags, Diagnostic{Path: prefix + ".role", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid tool role %q", t.Role)})
	}
	if t.CacheTTLSeconds < 0 {
		diags = append(diags, Diagnostic{Path: prefix + ".cache_ttl_seconds", Code: "RANGE", Message: "cache_ttl_seconds must not be negative"})
	}

	return diags
}

var validKnowledgeProviders = map[string]bool{
	model.KnowledgeProviderPgVector:      true,
	model.KnowledgeProviderAzureAISearch: true,
	model.KnowledgeProviderNone:          true,
}

var validRetrievalModes = map[string]bool{
	model.RetrievalSinglePass: true,
	model.RetrievalAgentic:    true,
}

func (v *Validator) validateKnowledge(k model.KnowledgeConfig) []Diagnostic {
	var diags []Diagnostic

	if k.Provider != "" && !validKnowledgeProviders[k.Provider] {
		diags = append(diags, Diagnostic{Path: "knowledge.provider", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid provider %q", k.Provider)})
	}
	if k.RetrievalMode != "" && !validRetrievalModes[k.RetrievalMode] {
		diags = append(diags, Diagnostic{Path: "knowledge.retrieval_mode", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid retrieval mode %q", k.RetrievalMode)})
	}
	if k.RetrievalMode == model.RetrievalAgentic && k.MaxAgenticPasses < 1 {
		diags = append(diags, Diagnostic{Path: "knowledge.max_agentic_passes", Code: "RANGE", Message: "max_agentic_passes must be at least 1 for agentic retrieval"})
	}
	if k.Provider == model.KnowledgeProviderAzureAISearch && k.Endpoint == "" {
		diags = append(diags, Diagnostic{Path: "knowledge.endpoint", Code: "REQUIRED", Message: "endpoint is required for azure_ai_search"})
	}

	return diags
}

var validLoggingModes = map[string]bool{
	"console": true, "file": true, "appinsights": true,
}

var validLoggingLevels = map[string]bool{
	"DEBUG": true, "INFO": true, "WARNING": true, "ERROR": true,
}

func (v *Validator) validateLogging(l model.LoggingConfig) []Diagnostic {
	var diags []Diagnostic

	if l.Mode != "" && !validLoggingModes[l.Mode] {
		diags = append(diags, Diagnostic{Path: "logging.mode", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid logging mode %q", l.Mode)})
	}
	if l.Level != "" && !validLoggingLevels[l.Level] {
		diags = append(diags, Diagnostic{Path: "logging.level", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid logging level %q", l.Level)})
	}

	return diags
}

func (v *Validator) validatePersistence(p model.PersistenceConfig) []Diagnostic {
	var diags []Diagnostic

	if p.EnableCosmos {
		if p.CosmosAccountURI == "" {
			diags = append(diags, Diagnostic{Path: "persistence.cosmos_account_uri", Code: "REQUIRED", Message: "cosmos_account_uri is required when cosmos is enabled"})
		}
		if !p.UseManagedIdentity && p.CosmosKey == "" {
			diags = append(diags, Diagnostic{Path: "persistence.cosmos_key", Code: "REQUIRED", Message: "cosmos_key is required without managed identity"})
		}
	}

	return diags
}
