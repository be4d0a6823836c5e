// ABOUTME: SQLite implementation of the Store interfaces using modernc.org/sqlite
// ABOUTME: Enforces pair uniqueness and the pin cap in the schema so concurrent writers converge

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	memory := path == ":memory:"
	if !memory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if !memory {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if memory {
		// Each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			created_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chat_groups (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS group_members (
			group_id  TEXT NOT NULL REFERENCES chat_groups(id) ON DELETE CASCADE,
			user_id   TEXT NOT NULL,
			is_admin  INTEGER NOT NULL DEFAULT 0,
			joined_at TEXT NOT NULL,
			PRIMARY KEY (group_id, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id);

		CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT PRIMARY KEY,
			user_a_id       TEXT NOT NULL,
			user_b_id       TEXT NOT NULL,
			pair_key        TEXT NOT NULL,
			last_message_at TEXT NOT NULL,
			created_at      TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair ON conversations(pair_key);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			content         TEXT NOT NULL,
			type            TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			conversation_id TEXT REFERENCES conversations(id),
			group_id        TEXT REFERENCES chat_groups(id) ON DELETE CASCADE,
			file_url        TEXT,
			file_name       TEXT,
			file_type       TEXT,
			file_size       INTEGER NOT NULL DEFAULT 0,
			is_read         INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,

			CHECK (type IN ('text', 'image', 'file', 'notification')),
			CHECK ((conversation_id IS NULL) <> (group_id IS NULL))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_group ON messages(group_id, created_at);

		CREATE TABLE IF NOT EXISTS pinned_messages (
			id         TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			pinned_by  TEXT NOT NULL,
			scope_type TEXT NOT NULL,
			scope_id   TEXT NOT NULL,
			created_at TEXT NOT NULL,

			UNIQUE (message_id, scope_type, scope_id),
			CHECK (scope_type IN ('conversation', 'group'))
		);

		CREATE INDEX IF NOT EXISTS idx_pinned_scope ON pinned_messages(scope_type, scope_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(field, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Users

// CreateUser inserts a user
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, created_at) VALUES (?, ?, ?)`,
		user.ID, user.DisplayName, formatTime(user.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.DisplayName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	if u.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Groups and membership

// CreateGroup inserts a group
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *Group) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_groups (id, name, created_by, created_at) VALUES (?, ?, ?, ?)`,
		group.ID, group.Name, group.CreatedBy, formatTime(group.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting group: %w", err)
	}
	s.logger.Debug("created group", "id", group.ID, "name", group.Name)
	return nil
}

// GetGroup retrieves a group by ID.
// Returns ErrNotFound if the group doesn't exist.
func (s *SQLiteStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	var g Group
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_by, created_at FROM chat_groups WHERE id = ?`, id,
	).Scan(&g.ID, &g.Name, &g.CreatedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying group: %w", err)
	}
	if g.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	return &g, nil
}

// DeleteGroup removes a group; members, messages and pins cascade
func (s *SQLiteStore) DeleteGroup(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// pins are keyed by scope, not by a foreign key to groups
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pinned_messages WHERE scope_type = 'group' AND scope_id = ?`, id); err != nil {
		return fmt.Errorf("deleting group pins: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM chat_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing group delete: %w", err)
	}
	s.logger.Debug("deleted group", "id", id)
	return nil
}

// AddGroupMember inserts a membership.
// Returns ErrDuplicateMember if the user is already a member and
// ErrNotFound if the group doesn't exist.
func (s *SQLiteStore) AddGroupMember(ctx context.Context, member *GroupMember) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id, is_admin, joined_at) VALUES (?, ?, ?, ?)`,
		member.GroupID, member.UserID, member.IsAdmin, formatTime(member.JoinedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return ErrNotFound
		}
		if isConstraintViolation(err) {
			return ErrDuplicateMember
		}
		return fmt.Errorf("inserting group member: %w", err)
	}
	return nil
}

// RemoveGroupMember deletes a membership.
// Returns ErrNotFound if the user was not a member.
func (s *SQLiteStore) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
	if err != nil {
		return fmt.Errorf("deleting group member: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListGroupMembers returns the members of a group in join order
func (s *SQLiteStore) ListGroupMembers(ctx context.Context, groupID string) ([]*GroupMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id, user_id, is_admin, joined_at
		FROM group_members
		WHERE group_id = ?
		ORDER BY joined_at ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying group members: %w", err)
	}
	defer rows.Close()

	var members []*GroupMember
	for rows.Next() {
		var m GroupMember
		var joinedAt string
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.IsAdmin, &joinedAt); err != nil {
			return nil, fmt.Errorf("scanning group member row: %w", err)
		}
		if m.JoinedAt, err = parseTime("joined_at", joinedAt); err != nil {
			return nil, err
		}
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating group member rows: %w", err)
	}
	return members, nil
}

// MembershipsOf returns the group ids the user belongs to
func (s *SQLiteStore) MembershipsOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id FROM group_members WHERE user_id = ? ORDER BY joined_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying memberships: %w", err)
	}
	defer rows.Close()

	var groupIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning membership row: %w", err)
		}
		groupIDs = append(groupIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating membership rows: %w", err)
	}
	return groupIDs, nil
}

func (s *SQLiteStore) memberFlag(ctx context.Context, groupID, userID string) (found, admin bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT is_admin FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID,
	).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("querying membership: %w", err)
	}
	return true, admin, nil
}

// IsMember reports whether the user belongs to the group
func (s *SQLiteStore) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	found, _, err := s.memberFlag(ctx, groupID, userID)
	return found, err
}

// IsAdmin reports whether the user is an admin of the group
func (s *SQLiteStore) IsAdmin(ctx context.Context, groupID, userID string) (bool, error) {
	_, admin, err := s.memberFlag(ctx, groupID, userID)
	return admin, err
}

// CountMembers returns the number of members in the group
func (s *SQLiteStore) CountMembers(ctx context.Context, groupID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM group_members WHERE group_id = ?`, groupID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting group members: %w", err)
	}
	return n, nil
}

// Conversations

// CreateConversation inserts a conversation.
// Returns ErrDuplicateConversation if the unordered pair already has one.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_a_id, user_b_id, pair_key, last_message_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		conv.ID,
		conv.UserAID,
		conv.UserBID,
		PairKey(conv.UserAID, conv.UserBID),
		formatTime(conv.LastMessageAt),
		formatTime(conv.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID)
	return nil
}

func (s *SQLiteStore) scanConversation(row *sql.Row) (*Conversation, error) {
	var c Conversation
	var lastMessageAt, createdAt string
	err := row.Scan(&c.ID, &c.UserAID, &c.UserBID, &lastMessageAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	if c.LastMessageAt, err = parseTime("last_message_at", lastMessageAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx, `
		SELECT id, user_a_id, user_b_id, last_message_at, created_at
		FROM conversations WHERE id = ?
	`, id))
}

// GetConversationByPair retrieves the conversation between two users in either order.
// Returns ErrNotFound if the pair has none.
func (s *SQLiteStore) GetConversationByPair(ctx context.Context, userA, userB string) (*Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx, `
		SELECT id, user_a_id, user_b_id, last_message_at, created_at
		FROM conversations WHERE pair_key = ?
	`, PairKey(userA, userB)))
}

// TouchConversation sets last_message_at
func (s *SQLiteStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Messages

// SaveMessage saves a message to the database
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	msgType := msg.Type
	if msgType == "" {
		msgType = MessageTypeText
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, content, type, sender_id, conversation_id, group_id,
			file_url, file_name, file_type, file_size, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.Content,
		string(msgType),
		msg.SenderID,
		nullString(msg.ConversationID),
		nullString(msg.GroupID),
		nullString(msg.FileURL),
		nullString(msg.FileName),
		nullString(msg.FileType),
		msg.FileSize,
		msg.IsRead,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "type", msgType)
	return nil
}

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	var m Message
	var msgType, createdAt string
	var convID, groupID, fileURL, fileName, fileType *string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, content, type, sender_id, conversation_id, group_id,
			file_url, file_name, file_type, file_size, is_read, created_at
		FROM messages WHERE id = ?
	`, id).Scan(
		&m.ID, &m.Content, &msgType, &m.SenderID, &convID, &groupID,
		&fileURL, &fileName, &fileType, &m.FileSize, &m.IsRead, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}

	m.Type = MessageType(msgType)
	if m.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}

	// Handle nullable fields
	for dst, src := range map[*string]*string{
		&m.ConversationID: convID,
		&m.GroupID:        groupID,
		&m.FileURL:        fileURL,
		&m.FileName:       fileName,
		&m.FileType:       fileType,
	} {
		if src != nil {
			*dst = *src
		}
	}

	return &m, nil
}

// DeleteMessage removes a message; its pins cascade
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Pins

// CreatePin inserts the pin only while the scope holds fewer than limit pins.
// The count and the insert run as one statement, which SQLite serializes.
func (s *SQLiteStore) CreatePin(ctx context.Context, pin *PinnedMessage, limit int) error {
	scopeType, scopeID := pin.Scope().columns()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO pinned_messages (id, message_id, pinned_by, scope_type, scope_id, created_at)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE (SELECT COUNT(*) FROM pinned_messages WHERE scope_type = ? AND scope_id = ?) < ?
	`,
		pin.ID, pin.MessageID, pin.PinnedByUserID, scopeType, scopeID, formatTime(pin.CreatedAt),
		scopeType, scopeID, limit,
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return ErrNotFound
		}
		if isConstraintViolation(err) {
			return ErrDuplicatePin
		}
		return fmt.Errorf("inserting pin: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrPinLimit
	}

	s.logger.Debug("created pin", "message_id", pin.MessageID, "scope", scopeType, "scope_id", scopeID)
	return nil
}

func scanPin(scan func(dest ...any) error) (*PinnedMessage, error) {
	var p PinnedMessage
	var scopeType, scopeID, createdAt string
	if err := scan(&p.ID, &p.MessageID, &p.PinnedByUserID, &scopeType, &scopeID, &createdAt); err != nil {
		return nil, err
	}
	if scopeType == "group" {
		p.GroupID = scopeID
	} else {
		p.ConversationID = scopeID
	}
	var err error
	if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPin retrieves the pin of a message in a scope.
// Returns ErrNotFound if the message is not pinned there.
func (s *SQLiteStore) GetPin(ctx context.Context, messageID string, scope Scope) (*PinnedMessage, error) {
	scopeType, scopeID := scope.columns()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, pinned_by, scope_type, scope_id, created_at
		FROM pinned_messages
		WHERE message_id = ? AND scope_type = ? AND scope_id = ?
	`, messageID, scopeType, scopeID)

	p, err := scanPin(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying pin: %w", err)
	}
	return p, nil
}

// DeletePin removes the pin of a message in a scope.
// Returns ErrNotFound if there was none.
func (s *SQLiteStore) DeletePin(ctx context.Context, messageID string, scope Scope) error {
	scopeType, scopeID := scope.columns()
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM pinned_messages WHERE message_id = ? AND scope_type = ? AND scope_id = ?
	`, messageID, scopeType, scopeID)
	if err != nil {
		return fmt.Errorf("deleting pin: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPins returns the pins of a scope, oldest first
func (s *SQLiteStore) ListPins(ctx context.Context, scope Scope) ([]*PinnedMessage, error) {
	scopeType, scopeID := scope.columns()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, pinned_by, scope_type, scope_id, created_at
		FROM pinned_messages
		WHERE scope_type = ? AND scope_id = ?
		ORDER BY created_at ASC
	`, scopeType, scopeID)
	if err != nil {
		return nil, fmt.Errorf("querying pins: %w", err)
	}
	defer rows.Close()

	var pins []*PinnedMessage
	for rows.Next() {
		p, err := scanPin(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning pin row: %w", err)
		}
		pins = append(pins, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pin rows: %w", err)
	}
	return pins, nil
}

// CountPins returns the number of active pins in a scope
func (s *SQLiteStore) CountPins(ctx context.Context, scope Scope) (int, error) {
	scopeType, scopeID := scope.columns()
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pinned_messages WHERE scope_type = ? AND scope_id = ?`,
		scopeType, scopeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting pins: %w", err)
	}
	return n, nil
}
