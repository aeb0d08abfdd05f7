package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RichardoC/scout/internal/agent"
	"github.com/RichardoC/scout/internal/db"
	"github.com/RichardoC/scout/internal/events"
	"github.com/RichardoC/scout/internal/lease"
	"github.com/RichardoC/scout/internal/models"
	"github.com/RichardoC/scout/internal/transcript"
)

const maxTitleRunes = 64

// TurnRunner produces a turn's output messages from the conversation
// history. The final history entry is the user message being answered.
type TurnRunner interface {
	Run(ctx context.Context, history []models.Message) ([]models.Message, error)
}

type Options struct {
	TurnTimeout   time.Duration
	HistoryBudget int
}

type Handler struct {
	db      *db.Database
	runner  TurnRunner
	guard   lease.Guard
	events  *events.Publisher
	counter transcript.TokenCounter
	logger  *zap.Logger
	opts    Options
}

func NewHandler(database *db.Database, runner TurnRunner, guard lease.Guard, publisher *events.Publisher, counter transcript.TokenCounter, opts Options, logger *zap.Logger) *Handler {
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 2 * time.Minute
	}
	if opts.HistoryBudget <= 0 {
		opts.HistoryBudget = agent.DefaultHistoryBudget
	}
	return &Handler{
		db:      database,
		runner:  runner,
		guard:   guard,
		events:  publisher,
		counter: counter,
		logger:  logger,
		opts:    opts,
	}
}

type MessageRequest struct {
	ConversationID *int64 `json:"conversation_id"`
	Message        string `json:"message"`
}

type MessageResponse struct {
	ConversationID int64  `json:"conversation_id"`
	Response       string `json:"response"`
}

type CreateConversationRequest struct {
	Title string `json:"title"`
}

type UpdateConversationRequest struct {
	Title string `json:"title"`
}

// HandleMessage runs one turn: resolve the conversation, take its lease,
// append the user message, let the agent answer, persist what came back.
func (h *Handler) HandleMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message must not be empty"})
		return
	}
	if !utf8.ValidString(req.Message) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message must be valid UTF-8"})
		return
	}
	if h.counter.Count(req.Message) > h.opts.HistoryBudget {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message exceeds the token budget"})
		return
	}

	conv, ok := h.resolveConversation(c, req)
	if !ok {
		return
	}

	log := h.logger.With(
		zap.String("turn_id", uuid.NewString()),
		zap.Int64("conversation_id", conv.ID))

	release, err := h.guard.Acquire(c.Request.Context(), conv.ID)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			c.JSON(http.StatusConflict, gin.H{"error": "conversation is busy"})
			return
		}
		log.Error("failed to acquire conversation lease", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	defer release()

	history, err := h.db.History(conv.ID)
	if err != nil {
		log.Error("failed to load history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if err := transcript.Validate(history); err != nil {
		log.Error("stored history is invalid", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "conversation history is corrupted"})
		return
	}

	userMsg := models.Message{
		ConvID:  conv.ID,
		Role:    models.RoleUser,
		Content: req.Message,
	}
	if err := h.db.SaveMessage(&userMsg); err != nil {
		log.Error("failed to save user message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	h.events.MessageSaved(c.Request.Context(), userMsg)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.TurnTimeout)
	defer cancel()

	output, runErr := h.runner.Run(ctx, append(history, userMsg))
	if runErr != nil {
		log.Error("turn failed", zap.Error(runErr))
		// Keep whatever prefix of the turn is safe to replay later.
		output = transcript.PersistablePrefix(output)
	}

	for i := range output {
		output[i].ConvID = conv.ID
	}
	if err := h.db.SaveMessages(output); err != nil {
		log.Error("failed to save turn output", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	for _, msg := range output {
		h.events.MessageSaved(c.Request.Context(), msg)
	}

	if runErr != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "the assistant could not complete the turn"})
		return
	}
	log.Info("turn completed", zap.Int("messages_produced", len(output)))

	response := agent.Fallback
	if len(output) > 0 && output[len(output)-1].Role == models.RoleAssistant {
		response = output[len(output)-1].Content
	}
	c.JSON(http.StatusOK, MessageResponse{ConversationID: conv.ID, Response: response})
}

// resolveConversation loads the requested conversation or creates one titled
// after the first user message. It writes the error response itself.
func (h *Handler) resolveConversation(c *gin.Context, req MessageRequest) (*models.Conversation, bool) {
	if req.ConversationID != nil {
		conv, err := h.db.GetConversation(*req.ConversationID)
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return nil, false
		}
		if err != nil {
			h.logger.Error("failed to load conversation", zap.Int64("conversation_id", *req.ConversationID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return nil, false
		}
		return conv, true
	}

	conv, err := h.db.CreateConversation(titleFromMessage(req.Message))
	if err != nil {
		h.logger.Error("failed to create conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return nil, false
	}
	return conv, true
}

// titleFromMessage derives a conversation title from the first user message:
// its first line, capped at maxTitleRunes. The title is set once here and
// later turns never rewrite it.
func titleFromMessage(message string) string {
	title := strings.TrimSpace(message)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = strings.TrimSpace(string(runes[:maxTitleRunes]))
	}
	return title
}

func (h *Handler) GetConversations(c *gin.Context) {
	conversations, err := h.db.GetConversations()
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, conversations)
}

func (h *Handler) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title must not be empty"})
		return
	}

	conv, err := h.db.CreateConversation(strings.TrimSpace(req.Title))
	if err != nil {
		h.logger.Error("failed to create conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) GetMessages(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	if _, err := h.db.GetConversation(id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		h.logger.Error("failed to load conversation", zap.Int64("conversation_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	messages, err := h.db.History(id)
	if err != nil {
		h.logger.Error("failed to load messages", zap.Int64("conversation_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h *Handler) UpdateConversation(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	var req UpdateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title must not be empty"})
		return
	}

	if _, err := h.db.GetConversation(id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		h.logger.Error("failed to load conversation", zap.Int64("conversation_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	if err := h.db.UpdateConversationTitle(id, strings.TrimSpace(req.Title)); err != nil {
		h.logger.Error("failed to update conversation", zap.Int64("conversation_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	conv, err := h.db.GetConversation(id)
	if err != nil {
		h.logger.Error("failed to reload conversation", zap.Int64("conversation_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	if err := h.db.DeleteConversation(id); err != nil {
		h.logger.Error("failed to delete conversation", zap.Int64("conversation_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) SearchMessages(c *gin.Context) {
	query := c.Query("q")
	if strings.TrimSpace(query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'q' is required"})
		return
	}

	hits, err := h.db.SearchMessages(query, 50)
	if err != nil {
		h.logger.Error("failed to search messages", zap.String("query", query), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, hits)
}

func conversationID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return id, true
}
