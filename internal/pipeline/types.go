package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raaihank/docguard/internal/openwebui"
	"github.com/raaihank/docguard/internal/privacy"
	"github.com/raaihank/docguard/internal/storage"
)

// State is a document's position in the processing state machine
type State string

const (
	StateFetched     State = "fetched"
	StateConverted   State = "converted"
	StateProtected   State = "protected"
	StateRouted      State = "routed"
	StateUploaded    State = "uploaded"
	StateIndexed     State = "indexed"
	StateCommitted   State = "committed"
	StateFailed      State = "failed"
	StateSkipped     State = "skipped"
	StateQuarantined State = "quarantined"
)

// Terminal reports whether no further transitions follow s
func (s State) Terminal() bool {
	switch s {
	case StateCommitted, StateFailed, StateSkipped, StateQuarantined:
		return true
	}
	return false
}

// Reason classifies a failure
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonFetch      Reason = "FetchError"
	ReasonConversion Reason = "ConversionError"
	ReasonRouting    Reason = "RoutingError"
	ReasonUpload     Reason = "UploadError"
	ReasonIndex      Reason = "IndexError"
	ReasonCommit     Reason = "CommitError"
)

// StageError is the error of a failed document
type StageError struct {
	Reason    Reason
	SourceKey string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Reason, e.SourceKey, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the failure reason from err, or ReasonNone
func ReasonOf(err error) Reason {
	var se *StageError
	if errors.As(err, &se) {
		return se.Reason
	}
	return ReasonNone
}

// Task tracks one processing attempt of one intake document
type Task struct {
	ID          string
	SourceKey   string
	VirtualPath storage.VirtualPath
	RoutingKey  string
	State       State
	Reason      Reason
	Summary     *privacy.Result
	Err         error
	Attempts    int
	CreatedAt   time.Time
}

// Transition is published for every state change of a task
type Transition struct {
	TaskID     string    `json:"task_id"`
	SourceKey  string    `json:"source_key"`
	RoutingKey string    `json:"routing_key,omitempty"`
	From       State     `json:"from,omitempty"`
	To         State     `json:"to"`
	Reason     Reason    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	PIITotal   int       `json:"pii_total,omitempty"`
	Tier       string    `json:"tier,omitempty"`
	At         time.Time `json:"at"`
}

// Sink receives transitions. Implementations must not block.
type Sink interface {
	Transition(t Transition)
}

// Indexer is the upload side of the indexing service
type Indexer interface {
	UploadFile(ctx context.Context, name string, data []byte) (string, error)
	AttachFile(ctx context.Context, knowledgeID, fileID string) error
	DeleteFile(ctx context.Context, fileID string) error
}

var _ Indexer = (*openwebui.Client)(nil)

// Metadata is the JSON document written next to each protected artifact
type Metadata struct {
	OriginalFile      string         `json:"original_file"`
	ProtectedMarkdown string         `json:"protected_markdown"`
	OpenWebUIFileID   string         `json:"openwebui_file_id"`
	KnowledgeBaseID   string         `json:"knowledge_base_id"`
	KnowledgeBase     string         `json:"knowledge_base"`
	RoutingKey        string         `json:"routing_key"`
	OriginalLength    int            `json:"original_length"`
	ProtectedLength   int            `json:"protected_length"`
	PIIProtection     privacy.Result `json:"pii_protection"`
	ContentHash       string         `json:"content_hash"`
	ProcessedAt       time.Time      `json:"processed_at"`
	Status            string         `json:"status"`
}

// StatusCompleted is the metadata status of a committed document
const StatusCompleted = "completed_with_pii_protection"

// Comparison is the demo view of one processed document
type Comparison struct {
	Protected           string         `json:"protected"`
	Metadata            map[string]any `json:"metadata"`
	ComparisonAvailable bool           `json:"comparison_available"`
}
