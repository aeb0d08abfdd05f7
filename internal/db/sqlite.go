package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RichardoC/scout/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a conversation id does not exist.
var ErrNotFound = errors.New("conversation not found")

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    tool_calls TEXT,
    tool_call_id TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts4(
    content,
    conversation_id,
    tokenize=porter
);

-- Triggers keep the FTS index in step with the message log
CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(docid, content, conversation_id)
    VALUES (new.id, new.content, new.conversation_id);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    DELETE FROM messages_fts WHERE docid = old.id;
END;

CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
    DELETE FROM messages_fts WHERE docid = old.id;
    INSERT INTO messages_fts(docid, content, conversation_id)
    VALUES (new.id, new.content, new.conversation_id);
END;`

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

const insertMessage = `
        INSERT INTO messages (conversation_id, role, content, tool_calls, tool_call_id, created_at)
        VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
        RETURNING id, created_at`

func encodeToolCalls(calls []models.ToolCall) (sql.NullString, error) {
	if len(calls) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(calls)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding tool calls: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// SaveMessage appends one message and fills in its id and created_at.
func (db *Database) SaveMessage(msg *models.Message) error {
	toolCalls, err := encodeToolCalls(msg.ToolCalls)
	if err != nil {
		return err
	}
	toolCallID := sql.NullString{String: msg.ToolCallID, Valid: msg.ToolCallID != ""}

	return db.db.QueryRow(insertMessage, msg.ConvID, msg.Role, msg.Content, toolCalls, toolCallID).
		Scan(&msg.ID, &msg.CreatedAt)
}

// SaveMessages appends a turn's output in one transaction. Either every
// message lands or none does, so a write failure cannot leave a tool-call
// batch in the log without its results.
func (db *Database) SaveMessages(msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i := range msgs {
		toolCalls, err := encodeToolCalls(msgs[i].ToolCalls)
		if err != nil {
			return err
		}
		toolCallID := sql.NullString{String: msgs[i].ToolCallID, Valid: msgs[i].ToolCallID != ""}

		err = tx.QueryRow(insertMessage, msgs[i].ConvID, msgs[i].Role, msgs[i].Content, toolCalls, toolCallID).
			Scan(&msgs[i].ID, &msgs[i].CreatedAt)
		if err != nil {
			return fmt.Errorf("saving message %d of turn: %w", i, err)
		}
	}

	return tx.Commit()
}

func (db *Database) CreateConversation(title string) (*models.Conversation, error) {
	query := `
        INSERT INTO conversations (title, created_at)
        VALUES (?, CURRENT_TIMESTAMP)
        RETURNING id, created_at`

	conv := &models.Conversation{Title: title}
	err := db.db.QueryRow(query, title).Scan(&conv.ID, &conv.CreatedAt)
	return conv, err
}

func (db *Database) GetConversation(id int64) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := db.db.QueryRow(`SELECT id, title, created_at FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.Title, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// History returns every message of a conversation in insertion order. Row id
// carries the order; created_at has second resolution and cannot separate
// messages appended within one turn.
func (db *Database) History(conversationID int64) ([]models.Message, error) {
	query := `
        SELECT id, conversation_id, role, content, tool_calls, tool_call_id, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY id ASC`

	rows, err := db.db.Query(query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		var toolCalls, toolCallID sql.NullString
		err := rows.Scan(&msg.ID, &msg.ConvID, &msg.Role, &msg.Content, &toolCalls, &toolCallID, &msg.CreatedAt)
		if err != nil {
			return nil, err
		}
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decoding tool calls for message %d: %w", msg.ID, err)
			}
		}
		msg.ToolCallID = toolCallID.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (db *Database) GetConversations() ([]models.Conversation, error) {
	query := `
        SELECT id, title, created_at
        FROM conversations
        ORDER BY created_at DESC, id DESC`

	rows, err := db.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.CreatedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// SearchHit is one full-text match over the message log.
type SearchHit struct {
	MessageID      int64     `json:"message_id"`
	ConversationID int64     `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// SearchMessages runs a full-text query over message content, newest first.
func (db *Database) SearchMessages(query string, limit int) ([]SearchHit, error) {
	rows, err := db.db.Query(`
        SELECT m.id, m.conversation_id, m.role, m.content, m.created_at
        FROM messages m
        JOIN messages_fts fts ON m.id = fts.docid
        WHERE fts.content MATCH ?
        ORDER BY m.id DESC
        LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()

	hits := make([]SearchHit, 0)
	for rows.Next() {
		var hit SearchHit
		if err := rows.Scan(&hit.MessageID, &hit.ConversationID, &hit.Role, &hit.Content, &hit.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (db *Database) DeleteConversation(id int64) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM conversations WHERE id = ?", id); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *Database) UpdateConversationTitle(id int64, title string) error {
	_, err := db.db.Exec("UPDATE conversations SET title = ? WHERE id = ?", title, id)
	return err
}
