package domain

import "strings"

// EntryDocument is the flattened form of an Entry stored in the full-text
// search index. The index is built in memory per query and never persisted.
type EntryDocument struct {
	// ID is the entry identifier and doubles as the search document ID.
	ID string `json:"id"`

	// Files lists the target paths. Keyword-analyzed.
	Files []string `json:"files"`

	// Agent is the recording agent. Keyword-analyzed.
	Agent string `json:"agent"`

	Intent       string   `json:"intent"`
	Reasoning    string   `json:"reasoning"`
	Tags         []string `json:"tags"`
	Alternatives string   `json:"alternatives"`
}

// Search field name constants for consistent field references in queries and mappings.
const (
	DocFieldID           = "id"
	DocFieldFiles        = "files"
	DocFieldAgent        = "agent"
	DocFieldIntent       = "intent"
	DocFieldReasoning    = "reasoning"
	DocFieldTags         = "tags"
	DocFieldAlternatives = "alternatives"
)

// Document converts e for the search index.
func (e *Entry) Document() EntryDocument {
	alts := make([]string, 0, len(e.RejectedAlternatives))
	for _, a := range e.RejectedAlternatives {
		alts = append(alts, strings.TrimSpace(a.Name+" "+a.Reason))
	}
	return EntryDocument{
		ID:           e.ID,
		Files:        e.TargetFiles,
		Agent:        e.AgentID,
		Intent:       e.Intent,
		Reasoning:    e.ReasoningTrace,
		Tags:         e.Tags,
		Alternatives: strings.Join(alts, "\n"),
	}
}
