package runner

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFrame_RoundTripsPayload(t *testing.T) {
	f, err := NewFrame(FramePrompt, "msg-1", PromptPayload{MessageID: "msg-1", Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, FramePrompt, f.Type)
	assert.Equal(t, "msg-1", f.ID())

	var p PromptPayload
	require.NoError(t, f.Decode(&p))
	assert.Equal(t, "hello", p.Content)
}

// TestFrame_DecodeToleratesUnknownFields confirms a frame whose payload
// carries fields a decode target doesn't know still decodes successfully
// (§4.B: "the receiver MUST tolerate unknown fields").
func TestFrame_DecodeToleratesUnknownFields(t *testing.T) {
	raw := json.RawMessage(`{"questionId":"q1","text":"Ship it?","options":["yes","no"],"futureField":"ignored"}`)
	f := Frame{Type: FrameQuestion, CorrelationID: "q1", Payload: raw}

	var p QuestionPayload
	require.NoError(t, f.Decode(&p))
	assert.Equal(t, "q1", p.QuestionID)
	assert.Equal(t, "Ship it?", p.Text)
	assert.Equal(t, []string{"yes", "no"}, p.Options)
}

func TestFrame_DecodeEmptyPayloadIsNoop(t *testing.T) {
	f := Frame{Type: FrameComplete}
	var p struct{ X string }
	require.NoError(t, f.Decode(&p))
}

// TestFrame_UnmarshalUnknownType confirms an entirely unrecognized frame
// type still unmarshals off the wire cleanly; the caller decides to ignore
// it (§4.B forward compatibility), never the JSON layer.
func TestFrame_UnmarshalUnknownType(t *testing.T) {
	raw := []byte(`{"type":"some-future-frame","correlationId":"x","payload":{"a":1}}`)
	var f Frame
	require.NoError(t, json.Unmarshal(raw, &f))
	assert.Equal(t, FrameType("some-future-frame"), f.Type)
	assert.Equal(t, "x", f.ID())
}

// TestResultWinsOverStream confirms the documented precedence: stream
// deltas never carry authority once a result frame for the same
// correlation id has arrived. This is exercised at the protocol/decode
// layer here; the actor's enforcement of "replace the partial stream" is
// covered in internal/session.
func TestResultWinsOverStream(t *testing.T) {
	streamFrame, err := NewFrame(FrameStream, "msg-1", StreamPayload{MessageID: "msg-1", Content: "partial"})
	require.NoError(t, err)
	resultFrame, err := NewFrame(FrameResult, "msg-1", ResultPayload{MessageID: "msg-1", Content: "final"})
	require.NoError(t, err)

	assert.Equal(t, streamFrame.ID(), resultFrame.ID())

	var result ResultPayload
	require.NoError(t, resultFrame.Decode(&result))
	assert.Equal(t, "final", result.Content)
}
