package model

// DialogueState is the external runtime's record of which form, step, and
// field a conversation thread is currently waiting on. It is produced by the
// runtime after each chat turn, consumed once to decide the next input
// control, and never persisted locally.
type DialogueState struct {
	CurrentFormID    string              `json:"current_form_id,omitempty"`
	CurrentStepIndex *int                `json:"current_step_index,omitempty"`
	AwaitingField    bool                `json:"awaiting_field,omitempty"`
	FieldOptions     map[string][]string `json:"field_options,omitempty"`
}

// StepIndex returns the runtime's step index, defaulting to 0 when absent.
func (s DialogueState) StepIndex() int {
	if s.CurrentStepIndex == nil {
		return 0
	}
	return *s.CurrentStepIndex
}

// ChatRequest is one user turn sent to the runtime.
type ChatRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// ChatResponse is the runtime's reply plus its updated dialogue state.
type ChatResponse struct {
	Reply string        `json:"reply"`
	State DialogueState `json:"state"`
}

// ChatTurn is one entry in a preview transcript.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ActiveField describes the input control the chat preview should render
// next. A nil *ActiveField means free-text input only.
type ActiveField struct {
	Form     string   `json:"form"`
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}
