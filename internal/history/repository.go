package history

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/chenadu5299/binder/internal/chat"
)

// ErrTabNotFound is returned when a tab id has no row.
var ErrTabNotFound = errors.New("tab not found")

const tabColumns = `id, title, model, created_at, updated_at`
const messageColumns = `id, tab_id, position, role, content, is_loading, created_at`
const toolCallColumns = `id, message_id, position, name, arguments, status, result, error`

// Repository reads and writes conversation tabs. A tab is saved as a
// whole: its row is upserted and its messages and tool calls are
// replaced in a single transaction.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SaveTab persists the tab and its full transcript, replacing any
// previously stored messages for the same tab id.
func (r *Repository) SaveTab(t chat.Tab) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tm := toTabModel(t)
	_, err = tx.Exec(
		`INSERT INTO tabs (id, title, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, model = excluded.model, updated_at = excluded.updated_at`,
		tm.ID, tm.Title, tm.Model, tm.CreatedAt, tm.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert tab: %w", err)
	}

	// Replace the transcript wholesale. Tool call rows go first via the
	// messages cascade.
	if _, err := tx.Exec(`DELETE FROM messages WHERE tab_id = ?`, tm.ID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	for i, msg := range t.Messages {
		mm := toMessageModel(tm.ID, i, msg)
		_, err := tx.Exec(
			`INSERT INTO messages (id, tab_id, position, role, content, is_loading, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			mm.ID, mm.TabID, mm.Position, mm.Role, mm.Content, mm.IsLoading, mm.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		for j, tc := range msg.ToolCalls {
			cm := toToolCallModel(mm.ID, j, tc)
			_, err := tx.Exec(
				`INSERT INTO tool_calls (id, message_id, position, name, arguments, status, result, error)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				cm.ID, cm.MessageID, cm.Position, cm.Name, cm.Arguments, cm.Status, cm.Result, cm.Error,
			)
			if err != nil {
				return fmt.Errorf("failed to insert tool call: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit save: %w", err)
	}
	return nil
}

// DeleteTab removes the tab and, via cascade, its messages and tool
// calls. Deleting an unknown tab is not an error.
func (r *Repository) DeleteTab(id string) error {
	if _, err := r.db.Exec(`DELETE FROM tabs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete tab: %w", err)
	}
	return nil
}

// LoadTab retrieves one tab with its full transcript.
func (r *Repository) LoadTab(id string) (chat.Tab, error) {
	row := r.db.QueryRow(`SELECT `+tabColumns+` FROM tabs WHERE id = ?`, id)
	var tm tabModel
	err := row.Scan(&tm.ID, &tm.Title, &tm.Model, &tm.CreatedAt, &tm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Tab{}, ErrTabNotFound
	}
	if err != nil {
		return chat.Tab{}, fmt.Errorf("failed to load tab: %w", err)
	}
	t := tm.toTab()
	t.Messages, err = r.loadMessages(id)
	if err != nil {
		return chat.Tab{}, err
	}
	return t, nil
}

// LoadTabs retrieves every stored tab with transcripts, oldest first.
func (r *Repository) LoadTabs() ([]chat.Tab, error) {
	summaries, err := r.ListTabs()
	if err != nil {
		return nil, err
	}
	tabs := make([]chat.Tab, 0, len(summaries))
	for _, s := range summaries {
		t, err := r.LoadTab(s.ID)
		if err != nil {
			return nil, err
		}
		tabs = append(tabs, t)
	}
	return tabs, nil
}

// ListTabs retrieves tab rows without transcripts, oldest first.
func (r *Repository) ListTabs() ([]chat.Tab, error) {
	rows, err := r.db.Query(`SELECT ` + tabColumns + ` FROM tabs ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tabs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tabs []chat.Tab
	for rows.Next() {
		var tm tabModel
		if err := rows.Scan(&tm.ID, &tm.Title, &tm.Model, &tm.CreatedAt, &tm.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tab row: %w", err)
		}
		tabs = append(tabs, tm.toTab())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tab rows: %w", err)
	}
	return tabs, nil
}

func (r *Repository) loadMessages(tabID string) ([]chat.Message, error) {
	rows, err := r.db.Query(
		`SELECT `+messageColumns+` FROM messages WHERE tab_id = ? ORDER BY position ASC`,
		tabID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []chat.Message
	for rows.Next() {
		var mm messageModel
		if err := rows.Scan(&mm.ID, &mm.TabID, &mm.Position, &mm.Role, &mm.Content, &mm.IsLoading, &mm.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg := mm.toMessage()
		msg.ToolCalls, err = r.loadToolCalls(mm.ID)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

func (r *Repository) loadToolCalls(messageID string) ([]chat.ToolCall, error) {
	rows, err := r.db.Query(
		`SELECT `+toolCallColumns+` FROM tool_calls WHERE message_id = ? ORDER BY position ASC`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load tool calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var calls []chat.ToolCall
	for rows.Next() {
		var cm toolCallModel
		if err := rows.Scan(&cm.ID, &cm.MessageID, &cm.Position, &cm.Name, &cm.Arguments, &cm.Status, &cm.Result, &cm.Error); err != nil {
			return nil, fmt.Errorf("failed to scan tool call row: %w", err)
		}
		calls = append(calls, cm.toToolCall())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tool call rows: %w", err)
	}
	return calls, nil
}
