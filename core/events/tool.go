package events

const (
	// KindToolCall identifies a batch of tool invocations requested by the
	// engine.
	KindToolCall Kind = "tool.call"
)

// ToolInvocation is one function call requested by the engine. ID correlates
// the invocation with its response.
type ToolInvocation struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolCall carries the invocations of one engine tool call frame.
type ToolCall struct {
	Base
	Invocations []ToolInvocation
}

// NewToolCall creates a tool call event.
func NewToolCall(invocations []ToolInvocation) ToolCall {
	return ToolCall{Base: NewBase(KindToolCall), Invocations: invocations}
}
