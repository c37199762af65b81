// Package events defines the persisted thread event model. A thread is an
// append-only log of ThreadEvents; every other representation of a
// conversation (provider messages, UI timelines) is a projection of it.
package events

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// EventType identifies the payload shape carried by a ThreadEvent.
type EventType string

const (
	EventSystemPrompt       EventType = "SYSTEM_PROMPT"
	EventUserSystemPrompt   EventType = "USER_SYSTEM_PROMPT"
	EventUserMessage        EventType = "USER_MESSAGE"
	EventAgentMessage       EventType = "AGENT_MESSAGE"
	EventToolCall           EventType = "TOOL_CALL"
	EventToolResult         EventType = "TOOL_RESULT"
	EventLocalSystemMessage EventType = "LOCAL_SYSTEM_MESSAGE"
)

// ErrStorageUnavailable indicates the backing event store could not be
// opened or has become unusable. It is fatal; the engine refuses to start
// or continue on it.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ThreadEvent is the sole persisted unit. Events are append-only: once
// written they are never mutated or deleted outside of test harness purges.
type ThreadEvent struct {
	// ID is unique and monotonically increasing within a thread.
	ID string `json:"id"`
	// Seq is the numeric ordering key behind ID, assigned by the store.
	Seq int64 `json:"seq"`
	ThreadID  string    `json:"thread_id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	// Data holds the typed payload. One of MessageData, ToolCallData or
	// ToolResultData depending on Type.
	Data EventData `json:"data"`
}

// EventData is implemented by all event payloads.
type EventData interface {
	eventData()
}

// MessageData carries plain text for SYSTEM_PROMPT, USER_SYSTEM_PROMPT,
// USER_MESSAGE, AGENT_MESSAGE and LOCAL_SYSTEM_MESSAGE events.
type MessageData struct {
	Text string `json:"text"`
}

func (MessageData) eventData() {}

// ToolCallData is the payload of a TOOL_CALL event. ID is the pairing key
// matched by a later ToolResultData in the same thread.
type ToolCallData struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (ToolCallData) eventData() {}

// ContentBlock is one piece of tool result content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextBlock builds a single text content block.
func TextBlock(text string) []ContentBlock {
	return []ContentBlock{{Type: "text", Text: text}}
}

// ToolResultData is the payload of a TOOL_RESULT event. ID must match a
// strictly earlier ToolCallData.ID in the same thread; orphan results are
// filtered out during conversation reconstruction.
type ToolResultData struct {
	ID      string         `json:"id"`
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

func (ToolResultData) eventData() {}

// Text joins the textual content blocks of a tool result.
func (d ToolResultData) Text() string {
	out := ""
	for _, block := range d.Content {
		if block.Type != "text" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += block.Text
	}
	return out
}

// MarshalData serializes an event payload for storage.
func MarshalData(data EventData) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event data")
	}
	return raw, nil
}

// UnmarshalData deserializes a stored payload according to the event type.
func UnmarshalData(eventType EventType, raw []byte) (EventData, error) {
	switch eventType {
	case EventToolCall:
		var data ToolCallData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal %s data", eventType)
		}
		return data, nil
	case EventToolResult:
		var data ToolResultData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal %s data", eventType)
		}
		return data, nil
	case EventSystemPrompt, EventUserSystemPrompt, EventUserMessage,
		EventAgentMessage, EventLocalSystemMessage:
		var data MessageData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal %s data", eventType)
		}
		return data, nil
	default:
		return nil, errors.Errorf("unknown event type: %s", eventType)
	}
}
