// Package model defines the shared configuration schema for the authoring
// service: the six config documents edited in a session, the runtime dialogue
// state consumed by the chat preview, and the common error envelope.
package model

// Names of the config documents persisted behind the builder API. A bundle
// is always saved in this order so a partial failure is deterministic.
const (
	DocProject     = "project"
	DocForms       = "forms"
	DocTools       = "tools"
	DocPersistence = "persistence"
	DocLogging     = "logging"
	DocKnowledge   = "knowledge"
)

// DocumentOrder is the fixed order in which documents are written on save.
var DocumentOrder = []string{
	DocProject, DocForms, DocTools, DocPersistence, DocLogging, DocKnowledge,
}

// Form collection modes.
const (
	ModeStepByStep = "step-by-step"
	ModeOneShot    = "one-shot"
)

// Field types.
const (
	FieldText     = "text"
	FieldNumber   = "number"
	FieldDate     = "date"
	FieldBoolean  = "boolean"
	FieldDropdown = "dropdown"
	FieldEnum     = "enum"
	FieldFile     = "file"
)

// Tool roles.
const (
	ToolRolePreSubmitValidator = "pre-submit-validator"
	ToolRoleDataEnricher       = "data-enricher"
	ToolRoleSubmitForm         = "submit-form"
)

// Tool auth strategies.
const (
	ToolAuthNone            = "none"
	ToolAuthAPIKey          = "api_key"
	ToolAuthBearer          = "bearer"
	ToolAuthManagedIdentity = "managed_identity"
)

// Knowledge providers.
const (
	KnowledgeProviderPgVector      = "pgvector"
	KnowledgeProviderAzureAISearch = "azure_ai_search"
	KnowledgeProviderNone          = "none"
)

// Knowledge retrieval modes.
const (
	RetrievalSinglePass = "single-pass"
	RetrievalAgentic    = "agentic"
)

// ConfigBundle is the full editable configuration graph held by one editing
// session. Each member corresponds to one document behind the builder API.
type ConfigBundle struct {
	Project     ProjectConfig     `json:"project"`
	Forms       FormsConfig       `json:"forms"`
	Tools       ToolsConfig       `json:"tools"`
	Persistence PersistenceConfig `json:"persistence"`
	Logging     LoggingConfig     `json:"logging"`
	Knowledge   KnowledgeConfig   `json:"knowledge"`
}

// Clone returns a deep copy of the bundle. Stores hand out clones so an
// edit made through one snapshot never reaches another.
func (b ConfigBundle) Clone() ConfigBundle {
	out := b
	out.Forms = b.Forms.clone()
	out.Tools = b.Tools.clone()
	return out
}

// ProjectConfig holds agent-level settings.
type ProjectConfig struct {
	ProjectName   string `json:"project_name"`
	SystemMessage string `json:"system_message"`
	BaseURL       string `json:"base_url"`
}

// FormsConfig groups the intents and forms of one agent.
type FormsConfig struct {
	Intents []Intent `json:"intents"`
	Forms   []Form   `json:"forms"`
}

// FormByID returns a pointer into the Forms slice, or nil.
func (fc *FormsConfig) FormByID(id string) *Form {
	for i := range fc.Forms {
		if fc.Forms[i].ID == id {
			return &fc.Forms[i]
		}
	}
	return nil
}

func (fc FormsConfig) clone() FormsConfig {
	out := FormsConfig{}
	if fc.Intents != nil {
		out.Intents = append([]Intent(nil), fc.Intents...)
	}
	if fc.Forms != nil {
		out.Forms = make([]Form, len(fc.Forms))
		for i := range fc.Forms {
			out.Forms[i] = fc.Forms[i].clone()
		}
	}
	return out
}

// Intent routes a recognized user goal to a target form. Matching itself is
// performed by the external runtime; only the reference is kept here.
type Intent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	TargetForm  string `json:"target_form"`
}

// Form is a named, ordered set of input fields collected either one step at
// a time or all at once.
type Form struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Title         string   `json:"title,omitempty"`
	Description   string   `json:"description"`
	SubmissionURL string   `json:"submission_url"`
	Mode          string   `json:"mode"`
	FieldOrder    []string `json:"field_order"`
	Fields        []Field  `json:"fields"`
	Version       int      `json:"version,omitempty"`
}

func (f Form) clone() Form {
	out := f
	if f.FieldOrder != nil {
		out.FieldOrder = append([]string(nil), f.FieldOrder...)
	}
	if f.Fields != nil {
		out.Fields = make([]Field, len(f.Fields))
		for i := range f.Fields {
			out.Fields[i] = f.Fields[i].clone()
		}
	}
	return out
}

// FieldByName returns a pointer into the Fields slice, or nil.
func (f *Form) FieldByName(name string) *Field {
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			return &f.Fields[i]
		}
	}
	return nil
}

// HasChoiceField reports whether any field requires prompting with a fixed
// option list. Such forms cannot be collected one-shot.
func (f *Form) HasChoiceField() bool {
	for i := range f.Fields {
		if f.Fields[i].IsChoice() {
			return true
		}
	}
	return false
}

// Field describes a single input collected from the user. Name is the stable
// key used in field_order and in runtime state; Label is display only.
type Field struct {
	Name            string    `json:"name"`
	Label           string    `json:"label"`
	Type            string    `json:"type"`
	Required        bool      `json:"required,omitempty"`
	DropdownOptions []string  `json:"dropdown_options,omitempty"`
	DropdownTool    string    `json:"dropdown_tool,omitempty"`
	ToolHook        *ToolHook `json:"tool_hook,omitempty"`
	Pattern         string    `json:"pattern,omitempty"`
	MinLength       *int      `json:"min_length,omitempty"`
	MaxLength       *int      `json:"max_length,omitempty"`
	Minimum         *float64  `json:"minimum,omitempty"`
	Maximum         *float64  `json:"maximum,omitempty"`
	ValidationHint  string    `json:"llm_validation_prompt,omitempty"`
}

func (fd Field) clone() Field {
	out := fd
	if fd.DropdownOptions != nil {
		out.DropdownOptions = append([]string(nil), fd.DropdownOptions...)
	}
	if fd.ToolHook != nil {
		hook := *fd.ToolHook
		hook.InputMap = cloneStringMap(fd.ToolHook.InputMap)
		hook.OutputMap = cloneStringMap(fd.ToolHook.OutputMap)
		out.ToolHook = &hook
	}
	out.MinLength = clonePtr(fd.MinLength)
	out.MaxLength = clonePtr(fd.MaxLength)
	out.Minimum = clonePtr(fd.Minimum)
	out.Maximum = clonePtr(fd.Maximum)
	return out
}

// IsChoice reports whether the field is prompted with a fixed option list.
func (fd *Field) IsChoice() bool {
	return fd.Type == FieldDropdown || fd.Type == FieldEnum
}

// ToolHook binds a field to a tool invocation: input_map describes how form
// and dialogue values become call parameters, output_path selects the value
// bound back into the field.
type ToolHook struct {
	Tool       string            `json:"tool"`
	InputMap   map[string]string `json:"input_map,omitempty"`
	OutputMap  map[string]string `json:"output_map,omitempty"`
	OutputPath string            `json:"output_path,omitempty"`
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ToolsConfig is the tool catalog for one agent.
type ToolsConfig struct {
	Tools []Tool `json:"tools"`
}

// ToolByName returns a pointer into the Tools slice, or nil.
func (tc *ToolsConfig) ToolByName(name string) *Tool {
	for i := range tc.Tools {
		if tc.Tools[i].Name == name {
			return &tc.Tools[i]
		}
	}
	return nil
}

func (tc ToolsConfig) clone() ToolsConfig {
	out := ToolsConfig{}
	if tc.Tools != nil {
		out.Tools = make([]Tool, len(tc.Tools))
		for i := range tc.Tools {
			out.Tools[i] = tc.Tools[i].clone()
		}
	}
	return out
}

// ByRole returns all tools with the given role.
func (tc *ToolsConfig) ByRole(role string) []Tool {
	var out []Tool
	for _, t := range tc.Tools {
		if t.Role == role {
			out = append(out, t)
		}
	}
	return out
}

// Tool is an externally invoked HTTP action usable for validation,
// enrichment, dropdown population, or final submission.
type Tool struct {
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	HTTPMethod      string            `json:"http_method"`
	URL             string            `json:"url"`
	Headers         map[string]string `json:"headers,omitempty"`
	QuerySchema     Value             `json:"query_schema,omitempty"`
	BodySchema      Value             `json:"body_schema,omitempty"`
	Auth            string            `json:"auth"`
	Role            string            `json:"role"`
	CacheEnabled    bool              `json:"cache_enabled,omitempty"`
	CacheTTLSeconds int               `json:"cache_ttl_seconds,omitempty"`
}

func (t Tool) clone() Tool {
	out := t
	out.Headers = cloneStringMap(t.Headers)
	out.QuerySchema = t.QuerySchema.Clone()
	out.BodySchema = t.BodySchema.Clone()
	return out
}

// KnowledgeConfig selects the retrieval backend queried during chat.
type KnowledgeConfig struct {
	Provider         string `json:"provider"`
	RetrievalMode    string `json:"retrieval_mode"`
	MaxAgenticPasses int    `json:"max_agentic_passes"`
	SemanticRanker   bool   `json:"semantic_ranker"`
	DefaultKBID      string `json:"default_kb_id,omitempty"`
	Endpoint         string `json:"endpoint,omitempty"`
	CredentialEnv    string `json:"credential_env,omitempty"`
}

// PersistenceConfig holds connection settings for the external storage
// backend. Pure configuration, no behavior in this service.
type PersistenceConfig struct {
	EnableCosmos       bool   `json:"enable_cosmos"`
	UseManagedIdentity bool   `json:"use_managed_identity"`
	CosmosAccountURI   string `json:"cosmos_account_uri,omitempty"`
	CosmosKey          string `json:"cosmos_key,omitempty"`
	Database           string `json:"database,omitempty"`
	Container          string `json:"container,omitempty"`
	PartitionKey       string `json:"partition_key,omitempty"`
}

// LoggingConfig holds settings for the external runtime's log emission.
type LoggingConfig struct {
	EmitTraceLogs bool   `json:"emit_trace_logs"`
	Mode          string `json:"mode"`
	Level         string `json:"level"`
}
