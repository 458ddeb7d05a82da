package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/artifactflow/artifactflow/pkg/models"
)

// PostgresStore implements Store on PostgreSQL. AddMessage runs in a
// transaction so the message insert and the active-branch advance
// commit together.
type PostgresStore struct {
	db *sql.DB

	stmtInsert         *sql.Stmt
	stmtEnsure         *sql.Stmt
	stmtGet            *sql.Stmt
	stmtList           *sql.Stmt
	stmtDelete         *sql.Stmt
	stmtAdvanceBranch  *sql.Stmt
	stmtInsertMessage  *sql.Stmt
	stmtGetMessage     *sql.Stmt
	stmtMessages       *sql.Stmt
	stmtUpdateResponse *sql.Stmt
	stmtChildren       *sql.Stmt
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore prepares statements against an already opened and
// migrated database.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("failed to prepare conversation statements: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtInsert, err = s.db.Prepare(`
		INSERT INTO conversations (id, owner_user_id, title, active_branch_message_id, created_at, updated_at)
		VALUES ($1, $2, $3, NULL, $4, $4)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert conversation: %w", err)
	}

	s.stmtEnsure, err = s.db.Prepare(`
		INSERT INTO conversations (id, created_at, updated_at)
		VALUES ($1, $2, $2) ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare ensure conversation: %w", err)
	}

	s.stmtGet, err = s.db.Prepare(`
		SELECT id, owner_user_id, title, active_branch_message_id, created_at, updated_at
		FROM conversations WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get conversation: %w", err)
	}

	s.stmtList, err = s.db.Prepare(`
		SELECT id, owner_user_id, title, active_branch_message_id, created_at, updated_at
		FROM conversations WHERE ($1 = '' OR owner_user_id = $1)
		ORDER BY updated_at DESC, id LIMIT $2 OFFSET $3
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list conversations: %w", err)
	}

	s.stmtDelete, err = s.db.Prepare(`
		DELETE FROM conversations WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete conversation: %w", err)
	}

	s.stmtAdvanceBranch, err = s.db.Prepare(`
		UPDATE conversations SET active_branch_message_id = $1, updated_at = $2 WHERE id = $3
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare advance branch: %w", err)
	}

	s.stmtInsertMessage, err = s.db.Prepare(`
		INSERT INTO messages (id, conversation_id, parent_id, user_content, run_id, agent_final_response, created_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert message: %w", err)
	}

	s.stmtGetMessage, err = s.db.Prepare(`
		SELECT id, conversation_id, parent_id, user_content, run_id, agent_final_response, created_at
		FROM messages WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get message: %w", err)
	}

	s.stmtMessages, err = s.db.Prepare(`
		SELECT id, conversation_id, parent_id, user_content, run_id, agent_final_response, created_at
		FROM messages WHERE conversation_id = $1 ORDER BY created_at, id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list messages: %w", err)
	}

	s.stmtUpdateResponse, err = s.db.Prepare(`
		UPDATE messages SET agent_final_response = $1 WHERE id = $2
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare update response: %w", err)
	}

	s.stmtChildren, err = s.db.Prepare(`
		SELECT id, conversation_id, parent_id, user_content, run_id, agent_final_response, created_at
		FROM messages WHERE conversation_id = $1
		AND (($2 = '' AND parent_id IS NULL) OR parent_id = $2)
		ORDER BY created_at, id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare children: %w", err)
	}

	return nil
}

// Close releases the prepared statements. The shared *sql.DB is owned
// by the caller.
func (s *PostgresStore) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{
		s.stmtInsert, s.stmtEnsure, s.stmtGet, s.stmtList, s.stmtDelete,
		s.stmtAdvanceBranch, s.stmtInsertMessage, s.stmtGetMessage,
		s.stmtMessages, s.stmtUpdateResponse, s.stmtChildren,
	} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing conversation store: %v", errs)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, conv *models.Conversation) (*models.Conversation, error) {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	now := time.Now()
	_, err := s.stmtInsert.ExecContext(ctx, conv.ID, nullIfEmpty(conv.OwnerUserID), nullIfEmpty(conv.Title), now)
	if err != nil {
		if isPqUniqueViolation(err) {
			return nil, ErrDuplicateConversation
		}
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}

	stored := cloneConversation(conv)
	stored.ActiveBranchID = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now
	return stored, nil
}

func (s *PostgresStore) EnsureExists(ctx context.Context, id string) (*models.Conversation, error) {
	if _, err := s.stmtEnsure.ExecContext(ctx, id, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to ensure conversation: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	return scanConversation(s.stmtGet.QueryRowContext(ctx, id))
}

func (s *PostgresStore) List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.stmtList.QueryContext(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.stmtDelete.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *PostgresStore) AddMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin add message: %w", err)
	}
	defer tx.Rollback()

	conv, err := scanConversation(tx.StmtContext(ctx, s.stmtGet).QueryRowContext(ctx, msg.ConversationID))
	if err != nil {
		return nil, err
	}

	stored := cloneMessage(msg)
	if stored.ParentID == nil && conv.ActiveBranchID != nil {
		parentID := *conv.ActiveBranchID
		stored.ParentID = &parentID
	}
	if stored.ParentID != nil {
		parent, err := scanMessage(tx.StmtContext(ctx, s.stmtGetMessage).QueryRowContext(ctx, *stored.ParentID))
		if err != nil {
			return nil, err
		}
		if parent.ConversationID != stored.ConversationID {
			return nil, ErrParentMismatch
		}
	}

	now := time.Now()
	_, err = tx.StmtContext(ctx, s.stmtInsertMessage).ExecContext(ctx,
		stored.ID, stored.ConversationID, stored.ParentID, stored.UserContent, stored.RunID, now)
	if err != nil {
		if isPqUniqueViolation(err) {
			return nil, ErrDuplicateMessage
		}
		if isPqForeignKeyViolation(err) {
			// Pre-checked above, so only a concurrent delete lands here.
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && strings.Contains(string(pqErr.Constraint), "parent") {
				return nil, ErrMessageNotFound
			}
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	if _, err := tx.StmtContext(ctx, s.stmtAdvanceBranch).ExecContext(ctx, stored.ID, now, stored.ConversationID); err != nil {
		return nil, fmt.Errorf("failed to advance branch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit add message: %w", err)
	}

	stored.CreatedAt = now
	return stored, nil
}

func (s *PostgresStore) UpdateResponse(ctx context.Context, messageID, response string) error {
	res, err := s.stmtUpdateResponse.ExecContext(ctx, response, messageID)
	if err != nil {
		return fmt.Errorf("failed to update response: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *PostgresStore) Messages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	rows, err := s.stmtMessages.QueryContext(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *PostgresStore) Path(ctx context.Context, conversationID, toMessageID string) ([]*models.Message, error) {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	rows, err := s.stmtMessages.QueryContext(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()
	all, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	return pathOf(conv, all, toMessageID)
}

func (s *PostgresStore) Children(ctx context.Context, conversationID, messageID string) ([]*models.Message, error) {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	rows, err := s.stmtChildren.QueryContext(ctx, conversationID, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		conv  models.Conversation
		owner sql.NullString
		title sql.NullString
	)
	err := row.Scan(&conv.ID, &owner, &title, &conv.ActiveBranchID, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	conv.OwnerUserID = owner.String
	conv.Title = title.String
	return &conv, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.ParentID,
		&msg.UserContent, &msg.RunID, &msg.FinalResponse, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	return &msg, nil
}

func collectMessages(rows *sql.Rows) ([]*models.Message, error) {
	var msgs []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isPqUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isPqForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
