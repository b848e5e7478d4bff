package agent

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MetadataKind discriminates the tagged-union payload a Message carries.
// The original Python source modeled metadata as an ad-hoc JSON dict; the
// DESIGN NOTES call for a typed sum instead — this is that sum.
type MetadataKind string

const (
	MetaNone              MetadataKind = ""
	MetaToolCalls         MetadataKind = "tool_calls"
	MetaToolResult        MetadataKind = "tool_result"
	MetaImage             MetadataKind = "image"
	MetaCompactionSummary MetadataKind = "compaction_summary"
)

// ToolCallRequest is a single tool invocation requested by the assistant.
type ToolCallRequest struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// ImagePayload carries inline image bytes attached to a user turn.
type ImagePayload struct {
	MIME   string `json:"mime"`
	Base64 string `json:"base64"`
}

// Metadata is the tagged-union payload attached to a Message. Exactly the
// fields relevant to Kind are populated; the others are zero values.
type Metadata struct {
	Kind MetadataKind `json:"kind,omitempty"`

	// Kind == MetaToolCalls (on an assistant message)
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`

	// Kind == MetaToolResult (on a tool message)
	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Kind == MetaImage (on a user message)
	Image *ImagePayload `json:"image,omitempty"`

	// Kind == MetaCompactionSummary (on a system message) carries no extra
	// fields; its presence alone marks the message as a synthesized summary.
}

// IsZero reports whether the metadata carries no tagged payload.
func (m *Metadata) IsZero() bool {
	return m == nil || m.Kind == MetaNone
}

// Message is a single ordered, session-scoped, append-only turn.
type Message struct {
	ID        int64
	SessionID int64
	Role      Role
	Content   string
	Metadata  *Metadata
	CreatedAt time.Time
}

// StripNulBytes removes embedded NUL bytes, which SQL text columns reject.
func StripNulBytes(s string) string {
	clean := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != 0x00 {
			clean = append(clean, s[i])
		}
	}
	return string(clean)
}

// MarshalMetadata serializes metadata for persistence. A nil metadata
// marshals to an empty JSON object, matching the Python original's "{}"
// sentinel for "no structured metadata".
func MarshalMetadata(m *Metadata) (string, error) {
	if m == nil || m.Kind == MetaNone {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

// UnmarshalMetadata parses a persisted metadata column back into a tagged
// union. An empty or "{}" payload yields a nil Metadata.
func UnmarshalMetadata(raw string) (*Metadata, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if m.Kind == MetaNone {
		return nil, nil
	}
	return &m, nil
}
