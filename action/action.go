// Package action defines the paid action kinds the coin ledger guards
// and the executor boundary the engine invokes after a successful
// reservation. Executors are external collaborators (PDF renderer, JSON
// serializer, AI translator); this package ships only their interface.
package action

import (
	"context"
	"fmt"

	"github.com/xraph/coins/types"
)

// Kind identifies a paid action.
type Kind string

const (
	KindPDFExport   Kind = "pdf_export"
	KindJSONExport  Kind = "json_export"
	KindTranslation Kind = "translation"
)

// Valid reports whether k is a known action kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPDFExport, KindJSONExport, KindTranslation:
		return true
	}
	return false
}

// ParseKind parses a string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("action: unknown kind %q", s)
	}
	return k, nil
}

// Params carries the cost-relevant parameters of a paid action.
// Only the fields relevant to the action's kind are consulted.
type Params struct {
	// TemplateID selects the resume template tier for pdf_export.
	TemplateID string `json:"template_id,omitempty"`

	// WordCount is the measured size of the document for translation.
	WordCount int `json:"word_count,omitempty"`

	// TargetLanguage is the translation target, e.g. "de".
	TargetLanguage string `json:"target_language,omitempty"`
}

// Request is what the engine hands to an executor after reserving coins.
type Request struct {
	UserID   string      `json:"user_id"`
	ResumeID string      `json:"resume_id"`
	Kind     Kind        `json:"kind"`
	Params   Params      `json:"params"`
	Cost     types.Coins `json:"cost"`
}

// Result is an executor's successful outcome. Exactly one payload field
// is populated depending on the action kind.
type Result struct {
	// DownloadURL points at the rendered PDF artifact (pdf_export).
	DownloadURL string `json:"download_url,omitempty"`

	// Payload holds the serialized resume document (json_export).
	Payload []byte `json:"payload,omitempty"`

	// TranslatedDoc holds the translated resume document (translation).
	TranslatedDoc []byte `json:"translated_doc,omitempty"`

	// Metadata carries executor-specific details recorded on the reservation.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Executor performs the external, possibly-failing operation behind a
// paid action. Implementations must report success or failure
// unambiguously and must not partially apply: a failed Execute must
// leave no externally visible artifact.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// ExecutorFunc is an adapter to use a plain function as an Executor.
type ExecutorFunc func(ctx context.Context, req Request) (*Result, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
