package conversation

import (
	"fmt"
	"sync"
)

// Transcript is the append-only history of one conversation.
// Turns are copied on the way in and on the way out, so callers can never
// mutate a stored turn.
type Transcript struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// AppendUser appends a user turn.
func (t *Transcript) AppendUser(text string) {
	t.append(Turn{Role: RoleUser, Content: text})
}

// AppendAssistant appends the assistant turn for a normalized response.
func (t *Transcript) AppendAssistant(resp NormalizedResponse) Turn {
	turn := Turn{Role: RoleAssistant, Content: resp.Text(), ToolCalls: resp.ToolCalls()}
	t.append(turn)
	return turn.clone()
}

// AppendToolResults appends one tool turn per result, in the given order.
// Every result must answer a pending call of the latest assistant turn.
func (t *Transcript) AppendToolResults(results []ToolCallResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending := pendingCalls(t.turns)
	for _, res := range results {
		if _, ok := pending[res.CallID]; !ok {
			return fmt.Errorf("tool result %q does not answer a pending call", res.CallID)
		}
		delete(pending, res.CallID)
	}
	for _, res := range results {
		r := res
		t.turns = append(t.turns, Turn{Role: RoleTool, Content: r.Text(), Result: &r})
	}
	return nil
}

func (t *Transcript) append(turn Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = append(t.turns, turn.clone())
}

// Turns returns a deep copy of the transcript.
func (t *Transcript) Turns() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Turn, len(t.turns))
	for i, turn := range t.turns {
		out[i] = turn.clone()
	}
	return out
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// Pending returns the unanswered tool calls of the latest assistant turn,
// in request order.
func (t *Transcript) Pending() []ToolCallRequest {
	t.mu.RLock()
	defer t.mu.RUnlock()

	last := lastAssistant(t.turns)
	if last < 0 {
		return nil
	}
	open := pendingCalls(t.turns)
	var out []ToolCallRequest
	for _, call := range t.turns[last].ToolCalls {
		if _, ok := open[call.CallID]; ok {
			out = append(out, call.clone())
		}
	}
	return out
}

// Validate checks that every tool call of every assistant turn is answered
// exactly once before the next assistant turn, and that the latest one has
// no open calls.
func (t *Transcript) Validate() error {
	return ValidateTurns(t.Turns())
}

// ValidateTurns applies the Transcript.Validate rules to a slice of turns.
func ValidateTurns(turns []Turn) error {
	var open map[string]struct{}
	for i, turn := range turns {
		switch turn.Role {
		case RoleAssistant:
			if len(open) > 0 {
				return fmt.Errorf("turn %d: assistant turn sent with %d unanswered tool calls", i, len(open))
			}
			open = make(map[string]struct{}, len(turn.ToolCalls))
			for _, call := range turn.ToolCalls {
				if _, dup := open[call.CallID]; dup {
					return fmt.Errorf("turn %d: duplicate call id %q", i, call.CallID)
				}
				open[call.CallID] = struct{}{}
			}
		case RoleTool:
			if turn.Result == nil {
				return fmt.Errorf("turn %d: tool turn without result", i)
			}
			if _, ok := open[turn.Result.CallID]; !ok {
				return fmt.Errorf("turn %d: result %q answers no open call", i, turn.Result.CallID)
			}
			delete(open, turn.Result.CallID)
		case RoleUser:
			if len(open) > 0 {
				return fmt.Errorf("turn %d: user turn with %d unanswered tool calls", i, len(open))
			}
		default:
			return fmt.Errorf("turn %d: unknown role %q", i, turn.Role)
		}
	}
	if len(open) > 0 {
		return fmt.Errorf("%d tool calls still unanswered", len(open))
	}
	return nil
}

func lastAssistant(turns []Turn) int {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleAssistant {
			return i
		}
	}
	return -1
}

func pendingCalls(turns []Turn) map[string]struct{} {
	open := map[string]struct{}{}
	last := lastAssistant(turns)
	if last < 0 {
		return open
	}
	for _, call := range turns[last].ToolCalls {
		open[call.CallID] = struct{}{}
	}
	for _, turn := range turns[last+1:] {
		if turn.Role == RoleTool && turn.Result != nil {
			delete(open, turn.Result.CallID)
		}
	}
	return open
}
