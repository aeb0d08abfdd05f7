// Package transcript holds the replay rules for conversation histories: what
// makes a stored transcript valid to send to the completion provider, and how
// to trim one to a token budget without splitting a tool exchange.
package transcript

import (
	"errors"
	"fmt"

	"github.com/RichardoC/scout/internal/models"
)

// ErrInvalidTranscript marks a stored history that must not be replayed to the
// completion provider.
var ErrInvalidTranscript = errors.New("invalid transcript")

// Validate checks the pairing invariant over a stored history: every tool
// message must answer exactly one, not yet answered, tool call of the nearest
// preceding assistant message. Histories that fail are fatal for the turn.
func Validate(history []models.Message) error {
	pending := map[string]struct{}{}
	for i, m := range history {
		switch m.Role {
		case models.RoleAssistant:
			pending = make(map[string]struct{}, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				pending[tc.ID] = struct{}{}
			}
		case models.RoleTool:
			if m.ToolCallID == "" {
				return fmt.Errorf("%w: tool message at index %d has no tool_call_id", ErrInvalidTranscript, i)
			}
			if _, ok := pending[m.ToolCallID]; !ok {
				return fmt.Errorf("%w: tool message at index %d answers no pending tool call %q", ErrInvalidTranscript, i, m.ToolCallID)
			}
			delete(pending, m.ToolCallID)
		}
	}
	return nil
}

// Group describes a contiguous span [Start, End) of messages that must be
// kept or dropped together when trimming a transcript.
type Group struct {
	Start int // inclusive
	End   int // exclusive
}

// GroupMessages bundles each assistant message that carries tool calls with
// the tool messages that answer it. A batch whose answers are incomplete does
// not form a group; its messages fall back to singletons.
func GroupMessages(msgs []models.Message) []Group {
	groups := make([]Group, 0, len(msgs))
	for i := 0; i < len(msgs); {
		m := msgs[i]
		if m.Role == models.RoleAssistant && m.HasToolCalls() {
			want := make(map[string]struct{}, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				want[tc.ID] = struct{}{}
			}
			end := i + 1
			for end < len(msgs) && msgs[end].Role == models.RoleTool {
				if _, ok := want[msgs[end].ToolCallID]; !ok {
					break
				}
				delete(want, msgs[end].ToolCallID)
				end++
			}
			if len(want) == 0 && end > i+1 {
				groups = append(groups, Group{Start: i, End: end})
				i = end
				continue
			}
		}
		groups = append(groups, Group{Start: i, End: i + 1})
		i++
	}
	return groups
}

// PersistablePrefix returns the longest prefix of a turn's produced messages
// that is safe to append to the stored transcript. An assistant message whose
// tool calls were not all answered (a turn aborted mid-batch) ends the prefix;
// persisting it would brick the conversation on the next history load.
func PersistablePrefix(msgs []models.Message) []models.Message {
	end := 0
	for _, g := range GroupMessages(msgs) {
		first := msgs[g.Start]
		if first.Role == models.RoleAssistant && first.HasToolCalls() && g.End-g.Start == 1 {
			break
		}
		if first.Role == models.RoleTool {
			break
		}
		end = g.End
	}
	return msgs[:end]
}
