package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// wireEvent is the loose superset of every shape the agent runtime emits.
type wireEvent struct {
	Type         string          `json:"type"`
	Subtype      string          `json:"subtype"`
	SessionID    string          `json:"session_id"`
	MCPServers   []wireServer    `json:"mcp_servers"`
	Tools        []any           `json:"tools"`
	ToolUse      *wireBlock      `json:"tool_use"`
	ToolResult   *wireBlock      `json:"tool_result"`
	ContentBlock *wireBlock      `json:"content_block"`
	Delta        *wireBlock      `json:"delta"`
	Result       any             `json:"result"`
	Error        json.RawMessage `json:"error"`
	ToolUses     []wireBlock     `json:"tool_uses"`
	Content      json.RawMessage `json:"content"`
	Message      *struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`

	// Flat tool fields, used when the event itself is the block.
	wireBlock
}

type wireBlock struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Input     any    `json:"input"`
	ToolUseID string `json:"tool_use_id"`
	Content   any    `json:"content"`
	Result    any    `json:"result"`
	Text      string `json:"text"`
	IsError   bool   `json:"is_error"`
	Function  *struct {
		Name      string `json:"name"`
		Arguments any    `json:"arguments"`
	} `json:"function"`
}

type wireServer struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Tools  []any  `json:"tools"`
	Error  string `json:"error"`
}

type wireError struct {
	Message   string `json:"message"`
	ToolUseID string `json:"tool_use_id"`
}

// Decode turns one raw runtime message into typed events. A single message
// may expand to several events (assistant messages carry block arrays) or to
// none (empty deltas). Unrecognised types decode to Unknown.
func Decode(raw []byte) ([]Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode agent event: %w", err)
	}

	switch w.Type {
	case "system":
		if w.Subtype != "init" {
			return []Event{Unknown{Type: "system/" + w.Subtype, Raw: raw}}, nil
		}
		return []Event{decodeInit(w)}, nil

	case "tool_use":
		block := w.wireBlock
		if w.ToolUse != nil {
			block = *w.ToolUse
		}
		return []Event{toolUseFrom(block)}, nil

	case "tool_result":
		block := w.wireBlock
		if w.ToolResult != nil {
			block = *w.ToolResult
		}
		// Top-level content/result shadow the embedded block fields.
		if block.Content == nil && len(w.Content) > 0 {
			var content any
			if err := json.Unmarshal(w.Content, &content); err == nil {
				block.Content = content
			}
		}
		if block.Content == nil && block.Result == nil && w.Result != nil {
			block.Result = w.Result
		}
		return []Event{toolResultFrom(block)}, nil

	case "content_block":
		if w.ContentBlock == nil {
			return nil, nil
		}
		return blockEvents(*w.ContentBlock, true), nil

	case "content_block_start":
		if w.ContentBlock != nil && w.ContentBlock.Type == "text" && w.ContentBlock.Text != "" {
			return []Event{TextDelta{Text: w.ContentBlock.Text}}, nil
		}
		return nil, nil

	case "content_block_delta":
		if w.Delta != nil && w.Delta.Text != "" {
			return []Event{TextDelta{Text: w.Delta.Text}}, nil
		}
		return nil, nil

	case "result":
		if strings.HasPrefix(w.Subtype, "error") {
			return []Event{AgentError{Type: w.Subtype, Message: textOf(w.Result)}}, nil
		}
		return []Event{FinalResult{Subtype: w.Subtype, Text: textOf(w.Result)}}, nil

	case "error", "error_during_execution":
		return []Event{decodeError(w)}, nil

	case "assistant", "user":
		return decodeMessage(w)

	default:
		return []Event{Unknown{Type: w.Type, Raw: raw}}, nil
	}
}

func decodeInit(w wireEvent) SessionInit {
	init := SessionInit{SessionID: w.SessionID, Tools: names(w.Tools)}
	for _, s := range w.MCPServers {
		init.Servers = append(init.Servers, ServerStatus{
			Name:   s.Name,
			Status: s.Status,
			Tools:  names(s.Tools),
			Error:  s.Error,
		})
	}
	return init
}

func decodeError(w wireEvent) AgentError {
	out := AgentError{Type: w.Type, ToolUseID: w.ToolUseID}
	if len(w.Error) == 0 {
		out.Message = w.Text
		return out
	}

	var detail wireError
	if err := json.Unmarshal(w.Error, &detail); err == nil {
		out.Message = detail.Message
		if detail.ToolUseID != "" {
			out.ToolUseID = detail.ToolUseID
		}
		return out
	}

	var msg string
	if err := json.Unmarshal(w.Error, &msg); err == nil {
		out.Message = msg
		return out
	}
	out.Message = string(w.Error)
	return out
}

// decodeMessage extracts tool blocks from whole assistant/user messages.
// Text blocks are skipped: the same text already arrives through deltas or
// the final result, and counting it twice would corrupt the turn text.
func decodeMessage(w wireEvent) ([]Event, error) {
	var events []Event
	for _, tu := range w.ToolUses {
		if ev, ok := toolUseFrom(tu).(ToolUse); ok && ev.Name != "" {
			events = append(events, ev)
		}
	}

	content := w.Content
	if w.Message != nil && len(w.Message.Content) > 0 {
		content = w.Message.Content
	}
	if len(content) == 0 {
		return events, nil
	}

	var blocks []wireBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		// Plain string content carries no tool blocks.
		return events, nil
	}
	for _, b := range blocks {
		events = append(events, blockEvents(b, false)...)
	}
	return events, nil
}

func blockEvents(b wireBlock, includeText bool) []Event {
	switch b.Type {
	case "tool_use":
		ev := toolUseFrom(b)
		if ev.(ToolUse).Name == "" {
			return nil
		}
		return []Event{ev}
	case "tool_result":
		return []Event{toolResultFrom(b)}
	case "text":
		if includeText && b.Text != "" {
			return []Event{TextDelta{Text: b.Text}}
		}
	}
	return nil
}

func toolUseFrom(b wireBlock) Event {
	name := b.Name
	input := b.Input
	if b.Function != nil {
		if name == "" {
			name = b.Function.Name
		}
		if input == nil {
			input = b.Function.Arguments
		}
	}
	return ToolUse{ID: b.ID, Name: name, Input: inputMap(input)}
}

func toolResultFrom(b wireBlock) Event {
	id := b.ToolUseID
	if id == "" {
		id = b.ID
	}
	var body any
	switch {
	case b.Content != nil:
		body = b.Content
	case b.Result != nil:
		body = b.Result
	default:
		body = b.Text
	}
	return ToolResult{ToolUseID: id, Content: ContentText(body), IsError: b.IsError}
}

// inputMap accepts structured input or a JSON-encoded argument string.
func inputMap(v any) map[string]any {
	switch in := v.(type) {
	case map[string]any:
		return in
	case string:
		out := map[string]any{}
		if strings.TrimSpace(in) == "" {
			return out
		}
		if err := json.Unmarshal([]byte(in), &out); err != nil {
			return map[string]any{"raw": in}
		}
		return out
	default:
		return map[string]any{}
	}
}

// ContentText flattens tool-result content: strings as-is, arrays joined by
// newline (text fields preferred, other objects as JSON), objects as JSON.
func ContentText(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case []any:
		parts := make([]string, 0, len(c))
		for _, item := range c {
			switch it := item.(type) {
			case string:
				parts = append(parts, it)
			case map[string]any:
				if text, ok := it["text"].(string); ok && text != "" {
					parts = append(parts, text)
					continue
				}
				parts = append(parts, indentJSON(it))
			default:
				parts = append(parts, fmt.Sprint(it))
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		return indentJSON(c)
	default:
		return fmt.Sprint(c)
	}
}

func textOf(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ContentText(v)
}

func indentJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(out)
}

func names(items []any) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case string:
			out = append(out, it)
		case map[string]any:
			if name, ok := it["name"].(string); ok {
				out = append(out, name)
			}
		}
	}
	return out
}
