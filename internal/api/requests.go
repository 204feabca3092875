package api

import "github.com/termpilot/termpilot/internal/executor"

// CreateSessionRequest for opening a new session
type CreateSessionRequest struct {
	Name       string `json:"name,omitempty"`
	WorkingDir string `json:"working_dir" binding:"required"`
	ProjectRef string `json:"project_ref,omitempty"`
}

// DispatchRequest for sending raw text to a session's agent
type DispatchRequest struct {
	Text string `json:"text" binding:"required"`
}

// DispatchResponse reports whether the text reached the agent
type DispatchResponse struct {
	Dispatched bool `json:"dispatched"`
}

// ExecuteRequest for running one prompt or a chain against a session.
// Values are expanded into {{name}} placeholders before dispatch.
type ExecuteRequest struct {
	Prompt   string            `json:"prompt,omitempty"`
	Prompts  []string          `json:"prompts,omitempty"`
	Values   map[string]string `json:"values,omitempty"`
	Async    bool              `json:"async,omitempty"`
	Priority int               `json:"priority,omitempty"`
}

// ExecuteResponse for the synchronous execution path
type ExecuteResponse struct {
	Results []executor.Result `json:"results"`
}

// EnqueueResponse for the asynchronous execution path
type EnqueueResponse struct {
	QueuedIDs []string `json:"queued_ids"`
}

// CompletionRequest is posted by the agent's hook when a turn finishes.
// Session carries the agent's own external session id.
type CompletionRequest struct {
	Session string `json:"session" binding:"required"`
}

// CompletionResponse reports whether the signal matched an execution
type CompletionResponse struct {
	Handled bool `json:"handled"`
}

// ResizeRequest for changing a session's pty dimensions
type ResizeRequest struct {
	Cols uint16 `json:"cols" binding:"required"`
	Rows uint16 `json:"rows" binding:"required"`
}

// OutputResponse returns the rendered tail of a session's terminal
type OutputResponse struct {
	Lines []string `json:"lines"`
}
