package model

import "strings"

// Builder capabilities gate the authoring operations. Capabilities are
// colon-separated, with trailing "*" wildcards (e.g. "forms:*" covers
// "forms:edit").
const (
	CapSessionsView   = "sessions:view"
	CapFormsEdit      = "forms:edit"
	CapToolsEdit      = "tools:edit"
	CapSettingsEdit   = "settings:edit"
	CapConfigSave     = "config:save"
	CapConfigPublish  = "config:publish"
	CapPreviewChat    = "preview:chat"
	CapKnowledgeView  = "knowledge:view"
	CapKnowledgeEdit  = "knowledge:edit"
	CapInspectionView = "inspection:view"
)

// CapabilitySet is the set of capabilities granted to a user. Keys may
// include wildcards ("forms:*", "*").
type CapabilitySet map[string]bool

// Has returns true if the set contains the exact capability or a wildcard
// that matches it.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, cap) {
			return true
		}
	}
	return false
}

// HasAll returns true if the set matches all given capabilities.
func (cs CapabilitySet) HasAll(caps ...string) bool {
	for _, cap := range caps {
		if !cs.Has(cap) {
			return false
		}
	}
	return true
}

// HasAny returns true if the set matches at least one given capability.
func (cs CapabilitySet) HasAny(caps ...string) bool {
	for _, cap := range caps {
		if cs.Has(cap) {
			return true
		}
	}
	return false
}

// matchWildcard returns true if pattern (which may end in ":*") matches cap.
// "*" matches anything; "forms:*" matches "forms:edit"; exact strings match
// exactly only.
func matchWildcard(pattern, cap string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	prefix := pattern[:len(pattern)-1]
	return strings.HasPrefix(cap, prefix)
}

// CapabilityResolver resolves the full capability set for a request context.
type CapabilityResolver interface {
	// Resolve returns all capabilities for the given subject and tenant.
	Resolve(rctx *RequestContext) (CapabilitySet, error)

	// Invalidate clears cached capabilities for the given user and tenant.
	Invalidate(subjectID, tenantID string)
}

// PolicyEvaluator resolves capabilities from roles and policy configuration.
type PolicyEvaluator interface {
	// ResolveCapabilities returns the full capability set for the context.
	ResolveCapabilities(rctx *RequestContext) (CapabilitySet, error)

	// Sync refreshes policy data from its source.
	Sync() error
}
