package domain

import (
	"encoding"
	"strings"
)

type TaskStatus string

const (
	StatusCreated    TaskStatus = "CREATED"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusFailed     TaskStatus = "FAILED"
)

var (
	_ encoding.BinaryMarshaler = TaskStatus("")
	_ encoding.TextMarshaler   = TaskStatus("")
)

func (s TaskStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s TaskStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }

// IsTerminal reports whether no further status change is expected for the task.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseTaskStatus normalizes a remote status string. Unknown values are kept
// verbatim so they can be logged; callers treat them as non-terminal.
func ParseTaskStatus(v string) TaskStatus {
	v = strings.ToUpper(strings.TrimSpace(v))
	if v == "" {
		return StatusCreated
	}
	return TaskStatus(v)
}

// GenerationOptions are the remote body options besides the prompt.
type GenerationOptions struct {
	Resolution  string `json:"resolution,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Model       string `json:"model,omitempty"`
}

// GenerationRequest is the inbound payload of POST /images/generate.
type GenerationRequest struct {
	Prompt      string `json:"prompt"`
	Style       string `json:"style,omitempty"` // accepted, not forwarded
	Resolution  string `json:"resolution,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Model       string `json:"model,omitempty"`
	Async       bool   `json:"async,omitempty"`
}

// GenerationTask is a unit of work tracked by the remote service.
type GenerationTask struct {
	TaskID    string     `json:"taskId"`
	Status    TaskStatus `json:"status"`
	Generated []string   `json:"generated,omitempty"`
}

type GenerationResult struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"imageUrl"`
	TaskID   string `json:"taskId"`
	// GUID is set when the generated image was mirrored into local asset storage.
	GUID string `json:"guid,omitempty"`
}
