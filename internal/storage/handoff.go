package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// --- Requests ---

// CreateRequest inserts a new handoff request in state "open" and returns it
// with the server-assigned id. Returns ErrConflict when a non-closed request
// for the same conversation already exists.
func (s *Store) CreateRequest(r HandoffRequest) (HandoffRequest, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO handoff_requests
			(conversation_id, created_at, status, risk_score, crisis_type, user_status, user_channel, assigned_to, summary_json, closed_at)
		VALUES (?, ?, 'open', ?, ?, ?, ?, '', ?, '')`,
		r.ConversationID, now.Format(time.RFC3339), r.RiskScore, r.CrisisType,
		r.UserStatus, r.UserChannel, r.SummaryJSON,
	)
	if isUniqueViolation(err) {
		return HandoffRequest{}, ErrConflict
	}
	if err != nil {
		return HandoffRequest{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return HandoffRequest{}, err
	}
	r.ID = id
	r.CreatedAt = now
	r.Status = StatusOpen
	r.AssignedTo = ""
	r.ClosedAt = time.Time{}
	return r, nil
}

const requestColumns = `id, conversation_id, created_at, status, risk_score,
	crisis_type, user_status, user_channel, assigned_to, summary_json, closed_at`

func (s *Store) scanRequest(row *sql.Row) (HandoffRequest, error) {
	var r HandoffRequest
	var createdAt, closedAt string
	err := row.Scan(&r.ID, &r.ConversationID, &createdAt, &r.Status, &r.RiskScore,
		&r.CrisisType, &r.UserStatus, &r.UserChannel, &r.AssignedTo, &r.SummaryJSON, &closedAt)
	if err == sql.ErrNoRows {
		return HandoffRequest{}, ErrNotFound
	}
	if err != nil {
		return HandoffRequest{}, err
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return HandoffRequest{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if closedAt != "" {
		if r.ClosedAt, err = time.Parse(time.RFC3339, closedAt); err != nil {
			return HandoffRequest{}, fmt.Errorf("parsing closed_at: %w", err)
		}
	}
	return r, nil
}

// GetRequest returns a single request by id.
func (s *Store) GetRequest(id int64) (HandoffRequest, error) {
	row := s.db.QueryRow(`SELECT `+requestColumns+` FROM handoff_requests WHERE id = ?`, id)
	return s.scanRequest(row)
}

// ActiveRequestByConversation returns the non-closed request for a
// conversation, or ErrNotFound.
func (s *Store) ActiveRequestByConversation(conversationID string) (HandoffRequest, error) {
	row := s.db.QueryRow(`
		SELECT `+requestColumns+`
		FROM handoff_requests
		WHERE conversation_id = ? AND status != 'closed'
		ORDER BY created_at DESC
		LIMIT 1`, conversationID)
	return s.scanRequest(row)
}

// UpdateRequestContext refreshes the classification snapshot on an existing
// request (re-escalation of an already active conversation).
func (s *Store) UpdateRequestContext(id int64, riskScore int, crisisType, userStatus, userChannel, summaryJSON string) error {
	res, err := s.db.Exec(`
		UPDATE handoff_requests
		SET risk_score = ?, crisis_type = ?, user_status = ?, user_channel = ?, summary_json = ?
		WHERE id = ?`,
		riskScore, crisisType, userStatus, userChannel, summaryJSON, id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// AssignRequest moves a request to "assigned" and records the operator.
func (s *Store) AssignRequest(id int64, operator string) error {
	res, err := s.db.Exec(`
		UPDATE handoff_requests SET status = 'assigned', assigned_to = ? WHERE id = ?`,
		operator, id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ReopenRequest moves a request back to "open", clearing assignment and any
// closed timestamp.
func (s *Store) ReopenRequest(id int64) error {
	res, err := s.db.Exec(`
		UPDATE handoff_requests SET status = 'open', assigned_to = '', closed_at = '' WHERE id = ?`, id)
	if isUniqueViolation(err) {
		// A newer active request for the same conversation exists.
		return ErrConflict
	}
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CloseRequest moves a request to "closed" and stamps closed_at.
func (s *Store) CloseRequest(id int64, closedAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE handoff_requests SET status = 'closed', closed_at = ? WHERE id = ?`,
		closedAt.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRequests returns the operator queue. Assigned requests come first,
// then open ones by effective risk descending (emergency with a missing
// score is treated as 90, matching risk normalization), newest first within
// a tier. Last-message fields are populated for the activity indicator.
func (s *Store) ListRequests(f ListFilter) ([]HandoffRequest, error) {
	query := `
		SELECT hr.id, hr.conversation_id, hr.created_at, hr.status, hr.risk_score,
		       hr.crisis_type, hr.user_status, hr.user_channel, hr.assigned_to,
		       hr.summary_json, hr.closed_at,
		       COALESCE(hm.id, 0), COALESCE(hm.sender, ''), COALESCE(hm.created_at, '')
		FROM handoff_requests hr
		LEFT JOIN handoff_messages hm ON hm.id = (
			SELECT id FROM handoff_messages WHERE request_id = hr.id ORDER BY id DESC LIMIT 1
		)`

	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "hr.status = ?")
		args = append(args, f.Status)
	}
	if f.VisibleTo != "" {
		where = append(where, "hr.status != 'closed' AND (hr.status = 'open' OR hr.assigned_to = ?)")
		args = append(args, f.VisibleTo)
	}
	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}

	query += `
		ORDER BY
			CASE hr.status WHEN 'assigned' THEN 1 WHEN 'open' THEN 2 ELSE 3 END,
			CASE WHEN hr.status = 'open' THEN
				CASE WHEN hr.user_status = 'emergency' AND hr.risk_score = 0 THEN 90 ELSE hr.risk_score END
			ELSE NULL END DESC,
			hr.created_at DESC, hr.id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []HandoffRequest
	for rows.Next() {
		var r HandoffRequest
		var createdAt, closedAt, lastAt string
		if err := rows.Scan(&r.ID, &r.ConversationID, &createdAt, &r.Status, &r.RiskScore,
			&r.CrisisType, &r.UserStatus, &r.UserChannel, &r.AssignedTo,
			&r.SummaryJSON, &closedAt, &r.LastMessageID, &r.LastMessageSender, &lastAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if closedAt != "" {
			if r.ClosedAt, err = time.Parse(time.RFC3339, closedAt); err != nil {
				return nil, fmt.Errorf("parsing closed_at: %w", err)
			}
		}
		if lastAt != "" {
			if r.LastMessageAt, err = time.Parse(time.RFC3339, lastAt); err != nil {
				return nil, fmt.Errorf("parsing last_message_at: %w", err)
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Messages ---

// AppendMessage inserts a message and returns it with the server-assigned id.
// The id is strictly greater than every previously assigned message id.
func (s *Store) AppendMessage(m HandoffMessage) (HandoffMessage, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO handoff_messages (request_id, sender, text, created_at)
		VALUES (?, ?, ?, ?)`,
		m.RequestID, m.Sender, m.Text, now.Format(time.RFC3339),
	)
	if err != nil {
		return HandoffMessage{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return HandoffMessage{}, err
	}
	m.ID = id
	m.CreatedAt = now
	return m, nil
}

// MessagesSince returns all messages of a request with id > afterID in
// ascending id order.
func (s *Store) MessagesSince(requestID, afterID int64) ([]HandoffMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, request_id, sender, text, created_at
		FROM handoff_messages
		WHERE request_id = ? AND id > ?
		ORDER BY id ASC`, requestID, afterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []HandoffMessage
	for rows.Next() {
		var m HandoffMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.RequestID, &m.Sender, &m.Text, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		m.CreatedAt = t
		results = append(results, m)
	}
	return results, rows.Err()
}

// DeleteSystemMessage removes system messages with the given text from a
// request's thread. Used by the suppressed reopen to drop the closure notice
// left by a teardown that turned out to be a page reload.
func (s *Store) DeleteSystemMessage(requestID int64, text string) error {
	_, err := s.db.Exec(`
		DELETE FROM handoff_messages
		WHERE request_id = ? AND sender = 'system' AND text = ?`,
		requestID, text,
	)
	return err
}
