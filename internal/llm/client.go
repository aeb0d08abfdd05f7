package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RichardoC/scout/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// NotConfiguredMessage is the assistant content returned when no provider
// credential is set. It travels as an ordinary answer, not an error.
const NotConfiguredMessage = "Error: the completion provider is not configured. Set OPENAI_API_KEY to enable responses."

// Stop reasons surfaced alongside completions.
const (
	StopReasonStop      = "stop"
	StopReasonToolCalls = "tool_calls"
)

const completionTimeout = 30 * time.Second

// Client wraps one request/response exchange with an OpenAI-compatible
// completion provider.
type Client struct {
	llm       llms.Model
	maxTokens int
	logger    *zap.Logger
}

// New builds a client against the configured provider. An empty token does
// not fail construction: the client comes up unconfigured and Complete
// answers with a fixed diagnostic message.
func New(baseURL, token, model string, maxTokens int, logger *zap.Logger) (*Client, error) {
	c := &Client{maxTokens: maxTokens, logger: logger}
	if token == "" {
		logger.Warn("no completion provider credential; turns will answer with a diagnostic message")
		return c, nil
	}

	llm, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("configuring completion provider: %w", err)
	}
	c.llm = llm
	return c, nil
}

// NewWithModel wires an already-constructed model, which is how tests inject
// a deterministic stub.
func NewWithModel(m llms.Model, maxTokens int, logger *zap.Logger) *Client {
	return &Client{llm: m, maxTokens: maxTokens, logger: logger}
}

// Complete sends the transcript (and, when enabled, the tool schemas) to the
// provider and returns the normalized assistant message plus the provider's
// stop reason. Provider faults and non-success responses come back as errors;
// the caller treats them as turn failures.
func (c *Client) Complete(ctx context.Context, transcript []models.Message, toolDefs []llms.Tool, enableTools bool) (models.Message, string, error) {
	if c.llm == nil {
		return models.Message{Role: models.RoleAssistant, Content: NotConfiguredMessage}, StopReasonStop, nil
	}

	msgs := make([]llms.MessageContent, 0, len(transcript))
	for _, m := range transcript {
		msgs = append(msgs, toMessageContent(m))
	}

	opts := []llms.CallOption{llms.WithMaxTokens(c.maxTokens)}
	if enableTools && len(toolDefs) > 0 {
		opts = append(opts, llms.WithTools(toolDefs))
	}

	ctx, cancel := context.WithTimeout(ctx, completionTimeout)
	defer cancel()

	resp, err := c.llm.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return models.Message{}, "", fmt.Errorf("completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.Message{}, "", errors.New("completion response carried no choices")
	}

	choice := resp.Choices[0]
	msg := models.Message{Role: models.RoleAssistant, Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: tc.FunctionCall.Arguments,
		})
	}

	reason := choice.StopReason
	if reason == "" {
		// Some OpenAI-compatible backends omit finish_reason.
		if msg.HasToolCalls() {
			reason = StopReasonToolCalls
		} else {
			reason = StopReasonStop
		}
	}
	return msg, reason, nil
}

// toMessageContent maps a stored message onto the provider's wire shape,
// carrying tool_calls and tool_call_id only for the roles that own them.
func toMessageContent(m models.Message) llms.MessageContent {
	switch m.Role {
	case models.RoleSystem:
		return llms.TextParts(llms.ChatMessageTypeSystem, m.Content)
	case models.RoleAssistant:
		mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		if m.Content != "" {
			mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			mc.Parts = append(mc.Parts, llms.ToolCall{
				ID:   tc.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return mc
	case models.RoleTool:
		return llms.MessageContent{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{llms.ToolCallResponse{
				ToolCallID: m.ToolCallID,
				Content:    m.Content,
			}},
		}
	default:
		return llms.TextParts(llms.ChatMessageTypeHuman, m.Content)
	}
}
