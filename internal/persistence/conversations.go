package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ariacorp/ariarun/internal/domain"
)

// InitConversation creates the conversation row backing a session.
func (s *Store) InitConversation(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (session_id, state, updated_at) VALUES (?, ?, ?)`,
		sessionID, string(domain.ConvWorking), time.Now())
	if err != nil {
		return fmt.Errorf("persistence: init conversation: %w", err)
	}
	return nil
}

// SetConversationState transitions a conversation's lifecycle state.
func (s *Store) SetConversationState(ctx context.Context, sessionID string, state domain.ConversationState) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET state = ?, updated_at = ? WHERE session_id = ?`,
		string(state), time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("persistence: set conversation state: %w", err)
	}
	return nil
}

// SetFinalResponse records a conversation's concluding response.
func (s *Store) SetFinalResponse(ctx context.Context, sessionID, response string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET final_response = ?, updated_at = ? WHERE session_id = ?`,
		response, time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("persistence: set final response: %w", err)
	}
	return nil
}

// AppendMessage appends one turn to a session's transcript.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, turn domain.Turn) error {
	var seq int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`, sessionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("persistence: next message seq: %w", err)
	}

	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, step_id, tool_or_agent, category, confidence, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), sessionID, string(turn.Role), turn.Content,
		turn.Metadata.StepID, turn.Metadata.ToolOrAgent, turn.Metadata.Category, turn.Metadata.Confidence,
		seq, turn.Timestamp)
	if err != nil {
		return fmt.Errorf("persistence: append message: %w", err)
	}
	return nil
}

// GetConversation loads a session's full conversation, transcript included.
func (s *Store) GetConversation(ctx context.Context, sessionID string) (domain.Conversation, error) {
	var conv domain.Conversation
	conv.SessionID = sessionID

	var state string
	var finalResponse sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT state, final_response FROM conversations WHERE session_id = ?`, sessionID,
	).Scan(&state, &finalResponse)
	if err == sql.ErrNoRows {
		return domain.Conversation{}, fmt.Errorf("persistence: conversation %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("persistence: get conversation: %w", err)
	}
	conv.State = domain.ConversationState(state)
	conv.FinalResponse = finalResponse.String

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, step_id, tool_or_agent, category, confidence, created_at
		 FROM messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("persistence: load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t domain.Turn
		var role string
		var stepID, toolOrAgent, category sql.NullString
		if err := rows.Scan(&role, &t.Content, &stepID, &toolOrAgent, &category, &t.Metadata.Confidence, &t.Timestamp); err != nil {
			return domain.Conversation{}, err
		}
		t.Role = domain.TurnRole(role)
		t.Metadata.StepID = stepID.String
		t.Metadata.ToolOrAgent = toolOrAgent.String
		t.Metadata.Category = category.String
		conv.Turns = append(conv.Turns, t)
	}
	return conv, rows.Err()
}
