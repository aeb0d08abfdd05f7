package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/RichardoC/scout/internal/agent"
	"github.com/RichardoC/scout/internal/llm"
	"github.com/RichardoC/scout/internal/models"
	"github.com/RichardoC/scout/internal/tools"
	"github.com/RichardoC/scout/internal/transcript"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

// scriptedCompleter replays canned completions in order; past the end of the
// script it repeats the last entry.
type completion struct {
	msg    models.Message
	reason string
	err    error
}

type scriptedCompleter struct {
	script         []completion
	calls          int
	gotTranscripts [][]models.Message
}

func (s *scriptedCompleter) Complete(ctx context.Context, transcript []models.Message, defs []llms.Tool, enableTools bool) (models.Message, string, error) {
	s.gotTranscripts = append(s.gotTranscripts, append([]models.Message(nil), transcript...))
	i := s.calls
	s.calls++
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	c := s.script[i]
	return c.msg, c.reason, c.err
}

// staticTool always answers with a fixed result and counts invocations.
type staticTool struct {
	name   string
	result string
	calls  *int
}

func (s staticTool) Name() string           { return s.name }
func (s staticTool) Description() string    { return "static " + s.name }
func (s staticTool) Schema() map[string]any { return map[string]any{"type": "object"} }

func (s staticTool) Invoke(context.Context, json.RawMessage) (string, error) {
	if s.calls != nil {
		*s.calls++
	}
	return s.result, nil
}

func user(content string) models.Message {
	return models.Message{Role: models.RoleUser, Content: content}
}

func assistant(content string, calls ...models.ToolCall) completion {
	reason := llm.StopReasonStop
	if len(calls) > 0 {
		reason = llm.StopReasonToolCalls
	}
	return completion{
		msg:    models.Message{Role: models.RoleAssistant, Content: content, ToolCalls: calls},
		reason: reason,
	}
}

func call(id, name, args string) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Arguments: args}
}

func newOrchestrator(c agent.Completer, e agent.Executor, opts ...agent.Option) *agent.Orchestrator {
	return agent.New(c, e, transcript.HeuristicCounter{}, zap.NewNop(), opts...)
}

func TestRunPlainAnswerIsOneIteration(t *testing.T) {
	completer := &scriptedCompleter{script: []completion{assistant("Hi there!")}}
	o := newOrchestrator(completer, tools.NewRegistry())

	out, err := o.Run(context.Background(), []models.Message{user("Hello")})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, models.RoleAssistant, out[0].Role)
	require.Equal(t, "Hi there!", out[0].Content)
	require.Equal(t, 1, completer.calls)

	// The working transcript opens with the synthesized system message and
	// ends with the user's message.
	sent := completer.gotTranscripts[0]
	require.Equal(t, models.RoleSystem, sent[0].Role)
	require.Equal(t, agent.DefaultSystemPrompt, sent[0].Content)
	require.Equal(t, user("Hello"), sent[len(sent)-1])
}

func TestRunToolCycle(t *testing.T) {
	searchCalls := 0
	registry := tools.NewRegistry(staticTool{
		name:   "web_search",
		result: "Result 1:\nTitle: Paris weather\nURL: https://example.com\nContent: 18C and cloudy\n",
		calls:  &searchCalls,
	})
	completer := &scriptedCompleter{script: []completion{
		assistant("", call("t1", "web_search", `{"query":"weather in Paris today"}`)),
		assistant("It's 18°C and cloudy [1]."),
	}}
	o := newOrchestrator(completer, registry)

	out, err := o.Run(context.Background(), []models.Message{user("What's the weather in Paris today?")})
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, 2, completer.calls)
	require.Equal(t, 1, searchCalls)

	require.True(t, out[0].HasToolCalls())
	require.Equal(t, models.RoleTool, out[1].Role)
	require.Equal(t, out[0].ToolCalls[0].ID, out[1].ToolCallID)
	require.Contains(t, out[1].Content, "Paris weather")
	require.Equal(t, models.RoleAssistant, out[2].Role)
	require.Equal(t, "It's 18°C and cloudy [1].", out[2].Content)

	// The second completion call sees the tool result it is answering.
	second := completer.gotTranscripts[1]
	require.Equal(t, models.RoleTool, second[len(second)-1].Role)

	// The full produced transcript replays cleanly.
	require.NoError(t, transcript.Validate(out))
}

func TestRunIterationCapTruncates(t *testing.T) {
	registry := tools.NewRegistry(staticTool{name: "web_search", result: "more"})
	completer := &scriptedCompleter{script: []completion{
		assistant("", call("t1", "web_search", `{"query":"again"}`)),
	}}
	o := newOrchestrator(completer, registry)

	out, err := o.Run(context.Background(), []models.Message{user("loop forever")})
	require.NoError(t, err)
	require.Equal(t, agent.MaxIterations, completer.calls)
	require.Len(t, out, 2*agent.MaxIterations)
	require.Equal(t, models.RoleTool, out[len(out)-1].Role, "cap lands after a tool batch, no closing answer")
	require.NoError(t, transcript.Validate(out))

	require.Equal(t, "I apologize, but I couldn't generate a response.", agent.Fallback)
}

func TestRunUnknownToolContinuesLoop(t *testing.T) {
	completer := &scriptedCompleter{script: []completion{
		assistant("", call("t1", "teleport", `{}`)),
		assistant("done"),
	}}
	o := newOrchestrator(completer, tools.NewRegistry())

	out, err := o.Run(context.Background(), []models.Message{user("go")})
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, "Unknown tool: teleport", out[1].Content)
	require.Equal(t, "done", out[2].Content)
	require.Equal(t, 2, completer.calls)
}

func TestRunIsDeterministic(t *testing.T) {
	history := []models.Message{user("What's new?")}
	run := func() []models.Message {
		registry := tools.NewRegistry(staticTool{name: "web_search", result: "fixed result"})
		completer := &scriptedCompleter{script: []completion{
			assistant("", call("t1", "web_search", `{"query":"news"}`)),
			assistant("Nothing much."),
		}}
		out, err := newOrchestrator(completer, registry).Run(context.Background(), history)
		require.NoError(t, err)
		return out
	}
	require.Equal(t, run(), run())
}

func TestRunTransportFailureReturnsPartialOutput(t *testing.T) {
	registry := tools.NewRegistry(staticTool{name: "web_search", result: "partial work"})
	completer := &scriptedCompleter{script: []completion{
		assistant("", call("t1", "web_search", `{"query":"x"}`)),
		{err: errors.New("completion request failed: status 502")},
	}}
	o := newOrchestrator(completer, registry)

	out, err := o.Run(context.Background(), []models.Message{user("hi")})
	require.ErrorContains(t, err, "status 502")
	require.Len(t, out, 2, "work collected before the failure is still returned")
	require.Equal(t, models.RoleTool, out[1].Role)
}

func TestRunMissingCredentialAnswersDiagnostic(t *testing.T) {
	client, err := llm.New("https://api.openai.com/v1", "", "gpt-4o-mini", 256, zap.NewNop())
	require.NoError(t, err)

	searchCalls := 0
	registry := tools.NewRegistry(staticTool{name: "web_search", result: "x", calls: &searchCalls})
	o := agent.New(client, registry, transcript.HeuristicCounter{}, zap.NewNop())

	out, err := o.Run(context.Background(), []models.Message{user("search the web for cats")})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, models.RoleAssistant, out[0].Role)
	require.Equal(t, llm.NotConfiguredMessage, out[0].Content)
	require.Zero(t, searchCalls, "no tool runs on a degraded turn")
}

func TestRunWindowsOldHistory(t *testing.T) {
	old := user(strings.Repeat("a", 400))
	newest := user("now")
	completer := &scriptedCompleter{script: []completion{assistant("ok")}}
	o := newOrchestrator(completer, tools.NewRegistry(), agent.WithHistoryBudget(10))

	_, err := o.Run(context.Background(), []models.Message{old, newest})
	require.NoError(t, err)

	sent := completer.gotTranscripts[0]
	require.Len(t, sent, 2, "system message plus the newest group only")
	require.Equal(t, models.RoleSystem, sent[0].Role)
	require.Equal(t, newest, sent[1])
}

func TestRunWindowsEachCompletionCall(t *testing.T) {
	toolResult := strings.Repeat("r", 400)
	registry := tools.NewRegistry(staticTool{name: "web_search", result: toolResult})
	completer := &scriptedCompleter{script: []completion{
		assistant("", call("t1", "web_search", `{"query":"x"}`)),
		assistant("summarized"),
	}}
	o := newOrchestrator(completer, registry, agent.WithHistoryBudget(150))

	out, err := o.Run(context.Background(), []models.Message{user(strings.Repeat("q", 200))})
	require.NoError(t, err)
	require.Equal(t, 2, completer.calls)

	// The first call still fits the user message.
	first := completer.gotTranscripts[0]
	require.Equal(t, models.RoleUser, first[len(first)-1].Role)

	// By the second call the tool result has filled the budget: the user
	// group drops out, the freshly answered batch stays whole.
	second := completer.gotTranscripts[1]
	require.Len(t, second, 3)
	require.Equal(t, models.RoleSystem, second[0].Role)
	require.True(t, second[1].HasToolCalls())
	require.Equal(t, models.RoleTool, second[2].Role)
	require.Equal(t, toolResult, second[2].Content)

	// Trimming what the provider sees never trims what the turn produced.
	require.Len(t, out, 3)
	require.Equal(t, "summarized", out[2].Content)
}

func TestRunCancelledContextAbortsTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	completer := &scriptedCompleter{script: []completion{assistant("never sent")}}
	o := newOrchestrator(completer, tools.NewRegistry())

	out, err := o.Run(ctx, []models.Message{user("hi")})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, out)
	require.Zero(t, completer.calls)
}
