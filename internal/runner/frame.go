// Package runner implements the framed bidirectional WebSocket protocol
// between the control plane and the sandboxed Runner process (§4.B). The
// control plane is always the server side; the Runner reconnects with
// exponential backoff (Runner-side behavior, out of this module's scope).
package runner

import "encoding/json"

// FrameType enumerates every inbound and outbound frame kind in §4.B.
type FrameType string

const (
	// Inbound: control plane -> runner.
	FramePrompt  FrameType = "prompt"
	FrameAnswer  FrameType = "answer"
	FrameStop    FrameType = "stop"
	FrameAbort   FrameType = "abort"
	FrameRevert  FrameType = "revert"
	FrameDiffReq FrameType = "diff"

	// Outbound: runner -> control plane.
	FrameStream     FrameType = "stream"
	FrameResult     FrameType = "result"
	FrameTool       FrameType = "tool"
	FrameQuestion   FrameType = "question"
	FrameScreenshot FrameType = "screenshot"
	FrameError      FrameType = "error"
	FrameComplete   FrameType = "complete"
	FrameAgentStat  FrameType = "agentStatus"
	FrameCreatePR   FrameType = "create-pr"
	FrameModels     FrameType = "models"
	FrameAborted    FrameType = "aborted"
	FrameReverted   FrameType = "reverted"
	FrameDiffResp   FrameType = "diff"

	// FrameKeepalive is the control plane's 30s heartbeat; the Runner MUST
	// tolerate it as an unknown-field frame if it never acts on it directly.
	FrameKeepalive FrameType = "keepalive"
)

// Frame is the wire envelope every message over the socket uses. The
// receiver MUST tolerate unknown fields and unknown Type values (§4.B),
// which is why Payload is kept as raw JSON and decoded on demand rather
// than eagerly into a closed struct.
type Frame struct {
	Type          FrameType       `json:"type"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// ID returns the id the receiver should echo back: messageId,
// questionId, callID, or requestId depending on frame kind, all aliased
// through Frame.CorrelationID on the wire.
func (f Frame) ID() string { return f.CorrelationID }

// --- inbound payloads (control plane -> runner) ---

type PromptPayload struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
	Model     string `json:"model,omitempty"`
}

type AnswerPayload struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

type RevertPayload struct {
	MessageID string `json:"messageId"`
}

type DiffRequestPayload struct {
	RequestID string `json:"requestId"`
}

// --- outbound payloads (runner -> control plane) ---

type StreamPayload struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type ResultPayload struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type ToolPayload struct {
	CallID   string         `json:"callID"`
	ToolName string         `json:"toolName"`
	Status   string         `json:"status"`
	Args     map[string]any `json:"args,omitempty"`
	Result   any            `json:"result,omitempty"`
	Content  string         `json:"content,omitempty"`
}

type QuestionPayload struct {
	QuestionID string   `json:"questionId"`
	Text       string   `json:"text"`
	Options    []string `json:"options,omitempty"`
}

type ScreenshotPayload struct {
	Data        string `json:"data"`
	Description string `json:"description,omitempty"`
}

type ErrorPayload struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

type AgentStatusPayload struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type CreatePRPayload struct {
	Branch string `json:"branch"`
	Title  string `json:"title"`
	Body   string `json:"body,omitempty"`
	Base   string `json:"base,omitempty"`
}

type ModelsPayload struct {
	Models []string `json:"models"`
}

type RevertedPayload struct {
	MessageIDs []string `json:"messageIds"`
}

type DiffResponsePayload struct {
	RequestID string `json:"requestId"`
	Data      string `json:"data"`
}

// NewFrame builds a Frame carrying payload marshaled to JSON, tagged with
// correlationID for the receiver to echo.
func NewFrame(t FrameType, correlationID string, payload any) (*Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: t, CorrelationID: correlationID, Payload: raw}, nil
}

// Decode unmarshals f.Payload into out. Unknown fields in the payload are
// ignored (the zero value of encoding/json), never rejected, so a newer
// Runner sending extra fields never breaks an older control plane.
func (f Frame) Decode(out any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(f.Payload, out)
}
