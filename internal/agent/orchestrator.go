package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/RichardoC/scout/internal/models"
	"github.com/RichardoC/scout/internal/transcript"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

// MaxIterations is the hard cap on completion cycles per turn. Reaching it
// mid tool exchange ends the turn with whatever was accumulated; no extra
// completion is spent on a closing answer.
const MaxIterations = 5

// Fallback is the user-facing answer substituted by callers when a turn's
// output carries no trailing assistant message.
const Fallback = "I apologize, but I couldn't generate a response."

// DefaultSystemPrompt heads every completion request. It is never persisted.
const DefaultSystemPrompt = "You are Scout, a helpful research assistant. " +
	"Use the web_search tool for current events, time-sensitive questions, or facts you are not certain of. " +
	"Cite search results by their index, like [1]. " +
	"When the conversation already holds the answer, reply directly without tools. Keep answers concise."

// DefaultHistoryBudget bounds the estimated token cost of the transcript sent
// with each completion request.
const DefaultHistoryBudget = 4096

// Completer performs one completion exchange. *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, transcript []models.Message, tools []llms.Tool, enableTools bool) (models.Message, string, error)
}

// Executor dispatches tool calls by name. *tools.Registry satisfies it.
type Executor interface {
	Execute(ctx context.Context, name string, args json.RawMessage) string
	Definitions() []llms.Tool
}

type state int

const (
	stateAwaitingCompletion state = iota
	stateExecutingTools
	stateDone
)

// turn is the working state threaded through step as a value; nothing in a
// run is shared across turns.
type turn struct {
	state      state
	transcript []models.Message // history plus turn output; the system message joins at send time
	pending    []models.ToolCall
	emitted    []models.Message
	iterations int
}

func (t turn) append(msg models.Message) turn {
	t.transcript = append(t.transcript, msg)
	t.emitted = append(t.emitted, msg)
	return t
}

// Orchestrator drives one turn to completion against the completion provider
// and the tool registry. It never touches storage; produced messages go back
// to the caller for persistence.
type Orchestrator struct {
	completer     Completer
	executor      Executor
	counter       transcript.TokenCounter
	logger        *zap.Logger
	systemPrompt  string
	historyBudget int
}

type Option func(*Orchestrator)

// WithSystemPrompt overrides the synthesized system instruction.
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) { o.systemPrompt = prompt }
}

// WithHistoryBudget overrides the token budget applied to the transcript
// sent to the provider.
func WithHistoryBudget(budget int) Option {
	return func(o *Orchestrator) {
		if budget > 0 {
			o.historyBudget = budget
		}
	}
}

func New(completer Completer, executor Executor, counter transcript.TokenCounter, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		completer:     completer,
		executor:      executor,
		counter:       counter,
		logger:        logger,
		systemPrompt:  DefaultSystemPrompt,
		historyBudget: DefaultHistoryBudget,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one turn over the stored history (which already ends with the
// new user message) and returns the messages produced. On a transport-level
// failure the messages collected before the failure are still returned along
// with the error; the caller decides what to persist.
func (o *Orchestrator) Run(ctx context.Context, history []models.Message) ([]models.Message, error) {
	// Appends during the turn must not write through the caller's slice.
	working := make([]models.Message, 0, len(history))
	working = append(working, history...)

	t := turn{state: stateAwaitingCompletion, transcript: working}
	var err error
	for t.state != stateDone {
		t, err = o.step(ctx, t)
		if err != nil {
			return t.emitted, err
		}
	}
	return t.emitted, nil
}

// step advances the state machine by one transition. Tool failures never
// surface here; completion failures and cancellation do, aborting the turn.
func (o *Orchestrator) step(ctx context.Context, t turn) (turn, error) {
	switch t.state {
	case stateAwaitingCompletion:
		if t.iterations >= MaxIterations {
			o.logger.Warn("iteration cap reached without a final answer",
				zap.Int("cap", MaxIterations))
			t.state = stateDone
			return t, nil
		}
		if err := ctx.Err(); err != nil {
			return t, fmt.Errorf("turn cancelled before completion call: %w", err)
		}

		t.iterations++
		// Windowed per call: tool results added mid-turn count against the
		// budget like replayed history does.
		windowed, stats := transcript.Window(t.transcript, o.historyBudget, o.counter)
		if stats.Skipped > 0 {
			o.logger.Debug("trimmed transcript to token budget",
				zap.Int("iteration", t.iterations),
				zap.Int("included_groups", stats.Included),
				zap.Int("skipped_groups", stats.Skipped),
				zap.Int("estimated_tokens", stats.Total))
		}
		send := make([]models.Message, 0, len(windowed)+1)
		send = append(send, models.Message{Role: models.RoleSystem, Content: o.systemPrompt})
		send = append(send, windowed...)

		msg, reason, err := o.completer.Complete(ctx, send, o.executor.Definitions(), true)
		if err != nil {
			return t, err
		}
		o.logger.Debug("completion received",
			zap.Int("iteration", t.iterations),
			zap.String("stop_reason", reason),
			zap.Int("tool_calls", len(msg.ToolCalls)))

		t = t.append(msg)
		if msg.HasToolCalls() {
			t.pending = msg.ToolCalls
			t.state = stateExecutingTools
		} else {
			t.state = stateDone
		}
		return t, nil

	case stateExecutingTools:
		// Sequential, in call order; a later call may depend on an
		// earlier one.
		for _, call := range t.pending {
			if err := ctx.Err(); err != nil {
				return t, fmt.Errorf("turn cancelled before tool call: %w", err)
			}
			content := o.executor.Execute(ctx, call.Name, json.RawMessage(call.Arguments))
			o.logger.Debug("tool executed",
				zap.String("tool", call.Name),
				zap.String("tool_call_id", call.ID),
				zap.Int("content_length", len(content)))
			t = t.append(models.Message{
				Role:       models.RoleTool,
				ToolCallID: call.ID,
				Content:    content,
			})
		}
		t.pending = nil
		t.state = stateAwaitingCompletion
		return t, nil

	default:
		return t, nil
	}
}
