package stream

// Kind tags one variant of the agent event union.
type Kind string

const (
	KindSessionInit Kind = "session_init"
	KindToolUse     Kind = "tool_use"
	KindToolResult  Kind = "tool_result"
	KindText        Kind = "text"
	KindResult      Kind = "result"
	KindError       Kind = "error"
	KindUnknown     Kind = "unknown"
)

// Event is the closed set of things an agent session can emit.
// Consumers switch on the concrete type; the set is sealed by isEvent.
type Event interface {
	Kind() Kind
	isEvent()
}

type ServerStatus struct {
	Name   string   `json:"name"`
	Status string   `json:"status"`
	Tools  []string `json:"tools,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// SessionInit is emitted once when the runtime session starts.
type SessionInit struct {
	SessionID string         `json:"session_id,omitempty"`
	Servers   []ServerStatus `json:"servers,omitempty"`
	Tools     []string       `json:"tools,omitempty"`
}

// ToolUse marks the start of one capability invocation.
type ToolUse struct {
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

// ToolResult carries the output of a previously started invocation.
// ToolUseID is informational only; pairing is positional.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextDelta is one fragment of assistant text (streamed delta or whole block).
type TextDelta struct {
	Text string `json:"text"`
}

// FinalResult is the runtime's closing summary of the turn.
type FinalResult struct {
	Subtype string `json:"subtype,omitempty"`
	Text    string `json:"text,omitempty"`
}

// AgentError reports a failure inside the session (tool crash, execution error).
type AgentError struct {
	Type      string `json:"type,omitempty"`
	Message   string `json:"message"`
	ToolUseID string `json:"tool_use_id,omitempty"`
}

// Unknown preserves an event kind this version does not understand.
type Unknown struct {
	Type string `json:"type"`
	Raw  []byte `json:"-"`
}

func (SessionInit) Kind() Kind { return KindSessionInit }
func (ToolUse) Kind() Kind     { return KindToolUse }
func (ToolResult) Kind() Kind  { return KindToolResult }
func (TextDelta) Kind() Kind   { return KindText }
func (FinalResult) Kind() Kind { return KindResult }
func (AgentError) Kind() Kind  { return KindError }
func (Unknown) Kind() Kind     { return KindUnknown }

func (SessionInit) isEvent() {}
func (ToolUse) isEvent()     {}
func (ToolResult) isEvent()  {}
func (TextDelta) isEvent()   {}
func (FinalResult) isEvent() {}
func (AgentError) isEvent()  {}
func (Unknown) isEvent()     {}

// Replaces reports whether the final result supersedes accumulated fragments.
func (r FinalResult) Replaces() bool {
	return r.Text != "" && (r.Subtype == "" || r.Subtype == "success")
}
