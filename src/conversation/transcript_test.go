package conversation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callSegment(id, name string, args map[string]any) Segment {
	return ToolCallSegment(ToolCallRequest{CallID: id, ToolName: name, Arguments: args})
}

func TestTranscriptPairsResultsWithCalls(t *testing.T) {
	tr := NewTranscript()
	tr.AppendUser("look it up")
	tr.AppendAssistant(NormalizedResponse{Segments: []Segment{
		TextSegment("checking"),
		callSegment("a", "lookup", map[string]any{"q": "x"}),
		callSegment("b", "lookup", map[string]any{"q": "y"}),
	}})

	pending := tr.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].CallID)
	assert.Equal(t, "b", pending[1].CallID)
	require.Error(t, tr.Validate())

	err := tr.AppendToolResults([]ToolCallResult{
		{CallID: "a", ToolName: "lookup", Output: "1"},
		{CallID: "b", ToolName: "lookup", Output: "2"},
	})
	require.NoError(t, err)
	assert.Empty(t, tr.Pending())
	require.NoError(t, tr.Validate())
	assert.Equal(t, 4, tr.Len())
}

func TestTranscriptRejectsUnknownResult(t *testing.T) {
	tr := NewTranscript()
	tr.AppendUser("hi")
	tr.AppendAssistant(NormalizedResponse{Segments: []Segment{callSegment("a", "lookup", nil)}})

	err := tr.AppendToolResults([]ToolCallResult{{CallID: "zzz"}})
	require.Error(t, err)
	assert.Equal(t, 2, tr.Len(), "a rejected batch must not append anything")

	err = tr.AppendToolResults([]ToolCallResult{{CallID: "a"}, {CallID: "a"}})
	require.Error(t, err)
}

func TestTranscriptTurnsAreCopies(t *testing.T) {
	tr := NewTranscript()
	tr.AppendAssistant(NormalizedResponse{Segments: []Segment{callSegment("a", "lookup", map[string]any{"q": "x"})}})

	turns := tr.Turns()
	turns[0].ToolCalls[0].Arguments["q"] = "mutated"
	turns[0].Content = "mutated"

	again := tr.Turns()
	assert.Equal(t, "x", again[0].ToolCalls[0].Arguments["q"])
	assert.Empty(t, again[0].Content)
}

func TestValidateTurnsDetectsUnansweredCalls(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, ToolCalls: []ToolCallRequest{{CallID: "a"}}},
		{Role: RoleAssistant, Content: "oops"},
	}
	require.Error(t, ValidateTurns(turns))

	turns = []Turn{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, ToolCalls: []ToolCallRequest{{CallID: "a"}}},
		{Role: RoleTool, Result: &ToolCallResult{CallID: "a"}},
		{Role: RoleAssistant, Content: "done"},
	}
	require.NoError(t, ValidateTurns(turns))
}

func TestNormalizedResponseHelpers(t *testing.T) {
	resp := NormalizedResponse{Segments: []Segment{
		TextSegment("first"),
		callSegment("1", "lookup", nil),
		TextSegment(""),
		TextSegment("second"),
	}}
	assert.Equal(t, "first\nsecond", resp.Text())
	assert.False(t, resp.Terminal())
	require.Len(t, resp.ToolCalls(), 1)

	final := NormalizedResponse{Segments: []Segment{TextSegment("4")}}
	assert.True(t, final.Terminal())
	assert.Equal(t, "4", final.Text())
}

func TestToolCallResultText(t *testing.T) {
	assert.Equal(t, "42", ToolCallResult{Output: "42"}.Text())
	assert.Equal(t, "error: unknown tool", ToolCallResult{Failed: true, ErrorMessage: "unknown tool"}.Text())
	assert.True(t, errors.Is(FailureToolTimeout.Err(), ErrToolTimeout))
	assert.Nil(t, FailureNone.Err())
}

func TestToolDescriptorSchemaFallback(t *testing.T) {
	d := ToolDescriptor{Name: "noop"}
	schema, err := d.SchemaMap()
	require.NoError(t, err)
	assert.Equal(t, "object", schema["type"])
}

func TestValidateCallIDs(t *testing.T) {
	ok := NormalizedResponse{Segments: []Segment{
		TextSegment("two lookups"),
		callSegment("a", "lookup", nil),
		callSegment("b", "lookup", nil),
	}}
	assert.NoError(t, ok.ValidateCallIDs())

	dup := NormalizedResponse{Segments: []Segment{
		callSegment("call_0", "lookup", nil),
		callSegment("call_0", "lookup", nil),
	}}
	assert.ErrorContains(t, dup.ValidateCallIDs(), `"call_0"`)

	missing := NormalizedResponse{Segments: []Segment{callSegment("", "lookup", nil)}}
	assert.Error(t, missing.ValidateCallIDs())

	assert.NoError(t, NormalizedResponse{}.ValidateCallIDs())
}
