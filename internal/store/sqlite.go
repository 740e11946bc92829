package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/chatbroker/internal/apierr"
	"github.com/ashureev/chatbroker/internal/domain"
	"github.com/ashureev/chatbroker/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB

	// txMu serializes the capacity-affecting transitions (assign, transfer,
	// resolve, abandon). SQLite only ever allows one writer at a time; this
	// mutex turns races into a well-defined order instead of relying on
	// SQLITE_BUSY retries to sort them out, matching the teacher's
	// agentSessionMu pattern for the same concern.
	txMu sync.Mutex
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		customer_name TEXT,
		customer_email TEXT,
		customer_token TEXT NOT NULL UNIQUE,
		source_url TEXT,
		status TEXT NOT NULL,
		assigned_agent_id TEXT,
		created_at INTEGER NOT NULL,
		assigned_at INTEGER,
		resolved_at INTEGER,
		rating INTEGER,
		feedback TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status_created ON sessions(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(assigned_agent_id, status);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		sender_role TEXT NOT NULL,
		sender_id TEXT,
		kind TEXT NOT NULL,
		body TEXT NOT NULL,
		file_ref TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at, id);

	CREATE TABLE IF NOT EXISTS agent_presence (
		agent_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'offline',
		current_chats INTEGER NOT NULL DEFAULT 0,
		max_chats INTEGER NOT NULL DEFAULT 5,
		last_seen_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry retries fn on transient SQLITE_BUSY/locked errors with
// exponential backoff, mirroring the teacher's DeleteAgentSession helper.
func withRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 3
	const baseDelay = 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("store: retrying after SQLITE_BUSY", "attempt", i+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		slog.Debug("store: rollback failed", "error", err)
	}
}

// --- sessions ---

func scanSession(row interface{ Scan(...any) error }) (*domain.ChatSession, error) {
	var sess domain.ChatSession
	var customerName, customerEmail, sourceURL, assignedAgentID, feedback sql.NullString
	var assignedAt, resolvedAt sql.NullInt64
	var rating sql.NullInt64
	var createdAt int64
	var status string

	if err := row.Scan(
		&sess.ID, &customerName, &customerEmail, &sess.CustomerToken, &sourceURL,
		&status, &assignedAgentID, &createdAt, &assignedAt, &resolvedAt, &rating, &feedback,
	); err != nil {
		return nil, err
	}

	sess.Status = domain.SessionStatus(status)
	sess.CustomerName = customerName.String
	sess.CustomerEmail = customerEmail.String
	sess.SourceURL = sourceURL.String
	sess.AssignedAgentID = assignedAgentID.String
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.Feedback = feedback.String
	if assignedAt.Valid {
		t := time.Unix(assignedAt.Int64, 0)
		sess.AssignedAt = &t
	}
	if resolvedAt.Valid {
		t := time.Unix(resolvedAt.Int64, 0)
		sess.ResolvedAt = &t
	}
	if rating.Valid {
		r := int(rating.Int64)
		sess.Rating = &r
	}
	return &sess, nil
}

const sessionColumns = `id, customer_name, customer_email, customer_token, source_url,
		status, assigned_agent_id, created_at, assigned_at, resolved_at, rating, feedback`

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.ChatSession, welcome *domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, customer_name, customer_email, customer_token, source_url, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, nullable(sess.CustomerName), nullable(sess.CustomerEmail), sess.CustomerToken,
		nullable(sess.SourceURL), string(sess.Status), sess.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if welcome != nil {
		if err := insertMessageTx(ctx, tx, welcome); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (s *SQLiteStore) GetSessionByID(ctx context.Context, id string) (*domain.ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetSessionByToken(ctx context.Context, token string) (*domain.ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE customer_token = ?`, token)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetWaitingSessionsOrdered(ctx context.Context) ([]*domain.ChatSession, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY created_at ASC, id ASC`, string(domain.StatusWaiting))
}

func (s *SQLiteStore) GetActiveSessionsForAgent(ctx context.Context, agentID string) ([]*domain.ChatSession, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE status = ? AND assigned_agent_id = ? ORDER BY created_at ASC`, string(domain.StatusActive), agentID)
}

func (s *SQLiteStore) GetIdleSessions(ctx context.Context, threshold time.Time) ([]*domain.ChatSession, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM sessions s
		WHERE s.status IN (?, ?)
		AND COALESCE((SELECT MAX(m.created_at) FROM messages m WHERE m.session_id = s.id), s.created_at) < ?`
	return s.querySessions(ctx, query, string(domain.StatusWaiting), string(domain.StatusActive), threshold.Unix())
}

// CountSessionsByStatus returns the number of sessions in each status.
func (s *SQLiteStore) CountSessionsByStatus(ctx context.Context) (map[domain.SessionStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sessions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count sessions by status: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.SessionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[domain.SessionStatus(status)] = count
	}
	return out, rows.Err()
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...interface{}) ([]*domain.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.ChatSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// --- messages ---

func insertMessageTx(ctx context.Context, tx *sql.Tx, msg *domain.Message) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, sender_role, sender_id, kind, body, file_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.SenderRole), nullable(msg.SenderID), string(msg.Kind), msg.Body, nullable(msg.FileRef), msg.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sender_role, sender_id, kind, body, file_ref, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		var m domain.Message
		var senderID, fileRef sql.NullString
		var createdAt int64
		var senderRole, kind string
		if err := rows.Scan(&m.ID, &m.SessionID, &senderRole, &senderID, &kind, &m.Body, &fileRef, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.SenderRole = domain.SenderRole(senderRole)
		m.SenderID = senderID.String
		m.Kind = domain.MessageKind(kind)
		m.FileRef = fileRef.String
		m.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer rollback(tx)

		var status string
		err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, msg.SessionID).Scan(&status)
		if err == sql.ErrNoRows {
			return apierr.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("select session status: %w", err)
		}
		sess := &domain.ChatSession{Status: domain.SessionStatus(status)}
		if sess.IsTerminal() {
			return apierr.ErrInvalidSession
		}

		if err := insertMessageTx(ctx, tx, msg); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (s *SQLiteStore) SetRating(ctx context.Context, sessionID string, rating int, feedback string) error {
	return withRetry(ctx, func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE sessions SET rating = ?, feedback = ? WHERE id = ? AND status = ?`,
			rating, nullable(feedback), sessionID, string(domain.StatusResolved))
		if err != nil {
			return fmt.Errorf("set rating: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rows == 0 {
			return apierr.ErrNotAssigned
		}
		return nil
	})
}

// --- transitions (capacity-affecting, serialized via txMu) ---

func (s *SQLiteStore) AssignSession(ctx context.Context, sessionID, agentID string, systemMsg *domain.Message) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer rollback(tx)

		var status string
		err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, sessionID).Scan(&status)
		if err == sql.ErrNoRows {
			return apierr.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("select session: %w", err)
		}
		if status != string(domain.StatusWaiting) {
			return apierr.ErrAlreadyAssigned
		}

		var state string
		var current, maxChats int
		err = tx.QueryRowContext(ctx, `SELECT state, current_chats, max_chats FROM agent_presence WHERE agent_id = ?`, agentID).Scan(&state, &current, &maxChats)
		if err == sql.ErrNoRows {
			return apierr.ErrNotOnline
		}
		if err != nil {
			return fmt.Errorf("select agent presence: %w", err)
		}
		if state != string(domain.PresenceOnline) {
			return apierr.ErrNotOnline
		}
		if current >= maxChats {
			return apierr.ErrAtCapacity
		}

		now := time.Now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, assigned_agent_id = ?, assigned_at = ?
			WHERE id = ? AND status = ?`,
			string(domain.StatusActive), agentID, now.Unix(), sessionID, string(domain.StatusWaiting)); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE agent_presence SET current_chats = current_chats + 1, last_seen_at = ?
			WHERE agent_id = ? AND current_chats < max_chats`, now.Unix(), agentID); err != nil {
			return fmt.Errorf("reserve capacity: %w", err)
		}
		if systemMsg != nil {
			if err := insertMessageTx(ctx, tx, systemMsg); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *SQLiteStore) TransferSession(ctx context.Context, sessionID, fromAgentID, toAgentID string, systemMsg *domain.Message) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer rollback(tx)

		var status, assignedAgent string
		err = tx.QueryRowContext(ctx, `SELECT status, assigned_agent_id FROM sessions WHERE id = ?`, sessionID).Scan(&status, &assignedAgent)
		if err == sql.ErrNoRows {
			return apierr.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("select session: %w", err)
		}
		if status != string(domain.StatusActive) || assignedAgent != fromAgentID {
			return apierr.ErrNotAssigned
		}

		var toState string
		var toCurrent, toMax int
		err = tx.QueryRowContext(ctx, `SELECT state, current_chats, max_chats FROM agent_presence WHERE agent_id = ?`, toAgentID).Scan(&toState, &toCurrent, &toMax)
		if err == sql.ErrNoRows {
			return apierr.ErrTargetNotOnline
		}
		if err != nil {
			return fmt.Errorf("select target presence: %w", err)
		}
		if toState != string(domain.PresenceOnline) {
			return apierr.ErrTargetNotOnline
		}
		if toCurrent >= toMax {
			return apierr.ErrTargetAtCapacity
		}

		now := time.Now()
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET assigned_agent_id = ? WHERE id = ?`, toAgentID, sessionID); err != nil {
			return fmt.Errorf("reassign session: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE agent_presence SET current_chats = current_chats - 1, last_seen_at = ?
			WHERE agent_id = ? AND current_chats > 0`, now.Unix(), fromAgentID); err != nil {
			return fmt.Errorf("release source capacity: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE agent_presence SET current_chats = current_chats + 1, last_seen_at = ?
			WHERE agent_id = ? AND current_chats < max_chats`, now.Unix(), toAgentID); err != nil {
			return fmt.Errorf("reserve target capacity: %w", err)
		}
		if systemMsg != nil {
			if err := insertMessageTx(ctx, tx, systemMsg); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *SQLiteStore) ResolveSession(ctx context.Context, sessionID, agentID string, systemMsg *domain.Message) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer rollback(tx)

		var status, assignedAgent string
		err = tx.QueryRowContext(ctx, `SELECT status, assigned_agent_id FROM sessions WHERE id = ?`, sessionID).Scan(&status, &assignedAgent)
		if err == sql.ErrNoRows {
			return apierr.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("select session: %w", err)
		}
		if status != string(domain.StatusActive) || assignedAgent != agentID {
			return apierr.ErrNotAssigned
		}

		now := time.Now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
			string(domain.StatusResolved), now.Unix(), sessionID, string(domain.StatusActive)); err != nil {
			return fmt.Errorf("resolve session: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE agent_presence SET current_chats = current_chats - 1, last_seen_at = ?
			WHERE agent_id = ? AND current_chats > 0`, now.Unix(), agentID); err != nil {
			return fmt.Errorf("release capacity: %w", err)
		}
		if systemMsg != nil {
			if err := insertMessageTx(ctx, tx, systemMsg); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *SQLiteStore) AbandonSession(ctx context.Context, sessionID string, systemMsg *domain.Message) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer rollback(tx)

		var status, assignedAgent string
		var assignedAgentNull sql.NullString
		err = tx.QueryRowContext(ctx, `SELECT status, assigned_agent_id FROM sessions WHERE id = ?`, sessionID).Scan(&status, &assignedAgentNull)
		if err == sql.ErrNoRows {
			return apierr.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("select session: %w", err)
		}
		assignedAgent = assignedAgentNull.String
		sess := &domain.ChatSession{Status: domain.SessionStatus(status)}
		if !sess.IsOpen() {
			return apierr.ErrInvalidSession
		}

		now := time.Now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, resolved_at = ? WHERE id = ?`,
			string(domain.StatusAbandoned), now.Unix(), sessionID); err != nil {
			return fmt.Errorf("abandon session: %w", err)
		}
		if status == string(domain.StatusActive) && assignedAgent != "" {
			if _, err := tx.ExecContext(ctx, `
				UPDATE agent_presence SET current_chats = current_chats - 1, last_seen_at = ?
				WHERE agent_id = ? AND current_chats > 0`, now.Unix(), assignedAgent); err != nil {
				return fmt.Errorf("release capacity: %w", err)
			}
		}
		if systemMsg != nil {
			if err := insertMessageTx(ctx, tx, systemMsg); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// --- agent presence ---

func (s *SQLiteStore) UpsertAgentPresence(ctx context.Context, presence *domain.AgentPresence) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO agent_presence (agent_id, display_name, state, current_chats, max_chats, last_seen_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(agent_id) DO UPDATE SET
				display_name = excluded.display_name,
				max_chats = excluded.max_chats,
				last_seen_at = excluded.last_seen_at`,
			presence.AgentID, presence.DisplayName, string(presence.State),
			presence.CurrentChats, presence.MaxChats, presence.LastSeenAt.Unix())
		if err != nil {
			return fmt.Errorf("upsert agent presence: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetAgentPresence(ctx context.Context, agentID string) (*domain.AgentPresence, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_id, display_name, state, current_chats, max_chats, last_seen_at
		FROM agent_presence WHERE agent_id = ?`, agentID)
	p, err := scanPresence(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent presence: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListAgentPresence(ctx context.Context) ([]*domain.AgentPresence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, display_name, state, current_chats, max_chats, last_seen_at FROM agent_presence`)
	if err != nil {
		return nil, fmt.Errorf("query agent presence: %w", err)
	}
	defer rows.Close()

	var out []*domain.AgentPresence
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent presence row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetAgentState(ctx context.Context, agentID string, state domain.PresenceState) error {
	return withRetry(ctx, func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE agent_presence SET state = ?, last_seen_at = ? WHERE agent_id = ?`,
			string(state), time.Now().Unix(), agentID)
		if err != nil {
			return fmt.Errorf("set agent state: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("set agent state: agent %s not found", agentID)
		}
		return nil
	})
}

func scanPresence(row interface{ Scan(...any) error }) (*domain.AgentPresence, error) {
	var p domain.AgentPresence
	var state string
	var lastSeen int64
	if err := row.Scan(&p.AgentID, &p.DisplayName, &state, &p.CurrentChats, &p.MaxChats, &lastSeen); err != nil {
		return nil, err
	}
	p.State = domain.PresenceState(state)
	p.LastSeenAt = time.Unix(lastSeen, 0)
	return &p, nil
}
