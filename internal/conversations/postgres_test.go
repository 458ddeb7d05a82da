package conversations

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/artifactflow/artifactflow/pkg/models"
)

// conversationPrepareQueries mirrors the order in prepareStatements.
var conversationPrepareQueries = []string{
	"INSERT INTO conversations",
	"INSERT INTO conversations (.+) ON CONFLICT",
	"SELECT (.+) FROM conversations WHERE id",
	"SELECT (.+) FROM conversations WHERE (.+) ORDER BY updated_at",
	"DELETE FROM conversations",
	"UPDATE conversations SET active_branch_message_id",
	"INSERT INTO messages",
	"SELECT (.+) FROM messages WHERE id",
	"SELECT (.+) FROM messages WHERE conversation_id = (.+) ORDER BY created_at",
	"UPDATE messages SET agent_final_response",
	"SELECT (.+) FROM messages WHERE conversation_id = (.+) AND (.+) ORDER BY created_at",
}

func setupMockConversationStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	for _, q := range conversationPrepareQueries {
		mock.ExpectPrepare(q)
	}
	store, err := NewPostgresStore(db)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		db.Close()
	})
	return store, mock
}

func conversationRows(id string, owner, title any, activeBranch *string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "owner_user_id", "title", "active_branch_message_id", "created_at", "updated_at",
	}).AddRow(id, owner, title, activeBranch, now, now)
}

func messageRows(msgs ...*models.Message) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "conversation_id", "parent_id", "user_content", "run_id", "agent_final_response", "created_at",
	})
	for _, msg := range msgs {
		rows.AddRow(msg.ID, msg.ConversationID, msg.ParentID, msg.UserContent, msg.RunID, msg.FinalResponse, msg.CreatedAt)
	}
	return rows
}

func TestNewPostgresStorePrepareFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectPrepare("INSERT INTO conversations").WillReturnError(errors.New("syntax error"))

	if _, err := NewPostgresStore(db); err == nil {
		t.Fatal("expected prepare error")
	}
}

func TestPostgresStoreCreateConversation(t *testing.T) {
	ctx := context.Background()
	store, mock := setupMockConversationStore(t)

	mock.ExpectExec("INSERT INTO conversations").
		WithArgs("conv-1", "user-1", "Research", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := store.Create(ctx, &models.Conversation{ID: "conv-1", OwnerUserID: "user-1", Title: "Research"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID != "conv-1" || created.CreatedAt.IsZero() {
		t.Fatalf("unexpected conversation: %+v", created)
	}

	// Empty owner and title are stored as NULL.
	mock.ExpectExec("INSERT INTO conversations").
		WithArgs("conv-2", nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if _, err := store.Create(ctx, &models.Conversation{ID: "conv-2"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	mock.ExpectExec("INSERT INTO conversations").
		WithArgs("conv-1", nil, nil, sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})

	if _, err := store.Create(ctx, &models.Conversation{ID: "conv-1"}); !errors.Is(err, ErrDuplicateConversation) {
		t.Fatalf("expected ErrDuplicateConversation, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreEnsureExists(t *testing.T) {
	ctx := context.Background()
	store, mock := setupMockConversationStore(t)

	mock.ExpectExec("INSERT INTO conversations (.+) ON CONFLICT").
		WithArgs("conv-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM conversations WHERE id").
		WithArgs("conv-1").
		WillReturnRows(conversationRows("conv-1", nil, nil, nil))

	conv, err := store.EnsureExists(ctx, "conv-1")
	if err != nil {
		t.Fatalf("EnsureExists() error = %v", err)
	}
	if conv.ID != "conv-1" || conv.OwnerUserID != "" || conv.Title != "" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreGetConversation(t *testing.T) {
	ctx := context.Background()
	store, mock := setupMockConversationStore(t)

	active := "m-9"
	mock.ExpectQuery("SELECT (.+) FROM conversations WHERE id").
		WithArgs("conv-1").
		WillReturnRows(conversationRows("conv-1", "user-1", "Research", &active))

	conv, err := store.Get(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if conv.OwnerUserID != "user-1" || conv.Title != "Research" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	if conv.ActiveBranchID == nil || *conv.ActiveBranchID != "m-9" {
		t.Fatalf("active branch = %v, want m-9", conv.ActiveBranchID)
	}

	mock.ExpectQuery("SELECT (.+) FROM conversations WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreListConversations(t *testing.T) {
	ctx := context.Background()
	store, mock := setupMockConversationStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "owner_user_id", "title", "active_branch_message_id", "created_at", "updated_at",
	}).
		AddRow("c-1", "user-1", "First", nil, now, now).
		AddRow("c-2", nil, nil, nil, now, now)

	mock.ExpectQuery("SELECT (.+) FROM conversations WHERE (.+) ORDER BY updated_at").
		WithArgs("", 50, 0).
		WillReturnRows(rows)

	convs, err := store.List(ctx, "", 0, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(convs) != 2 || convs[0].ID != "c-1" || convs[1].OwnerUserID != "" {
		t.Fatalf("unexpected conversations: %+v", convs)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreDeleteConversation(t *testing.T) {
	ctx := context.Background()
	store, mock := setupMockConversationStore(t)

	mock.ExpectExec("DELETE FROM conversations").
		WithArgs("conv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Delete(ctx, "conv-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	mock.ExpectExec("DELETE FROM conversations").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Delete(ctx, "missing"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreAddRootMessage(t *testing.T) {
	ctx := context.Background()
	store, mock := setupMockConversationStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM conversations WHERE id").
		WithArgs("conv-1").
		WillReturnRows(conversationRows("conv-1", nil, nil, nil))
	mock.ExpectExec("INSERT INTO messages").
		WithArgs("m-1", "conv-1", nil, "hello", "run-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE conversations SET active_branch_message_id").
		WithArgs("m-1", sqlmock.AnyArg(), "conv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, err := store.AddMessage(ctx, &models.Message{
		ID: "m-1", ConversationID: "conv-1", UserContent: "hello", RunID: "run-1",
	})
	if err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}
	if msg.ParentID != nil || msg.CreatedAt.IsZero() {
		t.Fatalf("unexpected message: %+v", msg)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreAddMessageDefaultsParent(t *testing.T) {
	ctx := context.Background()
	store, mock := setupMockConversationStore(t)

	active := "m-1"
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM conversations WHERE id").
		WithArgs("conv-1").
		WillReturnRows(conversationRows("conv-1", nil, nil, &active))
	mock.ExpectQuery("SELECT (.+) FROM messages WHERE id").
		WithArgs("m-1").
		WillReturnRows(messageRows(&models.Message{
			ID: "m-1", ConversationID: "conv-1", UserContent: "hi", RunID: "run-1", CreatedAt: time.Now(),
		}))
	mock.ExpectExec("INSERT INTO messages").
		WithArgs("m-2", "conv-1", "m-1", "next", "run-2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE conversations SET active_branch_message_id").
		WithArgs("m-2", sqlmock.AnyArg(), "conv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, err := store.AddMessage(ctx, &models.Message{
		ID: "m-2", ConversationID: "conv-1", UserContent: "next", RunID: "run-2",
	})
	if err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}
	if msg.ParentID == nil || *msg.ParentID != "m-1" {
		t.Fatalf("expected parent m-1, got %v", msg.ParentID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreAddMessageParentMismatch(t *testing.T) {
	ctx := context.Background()
	store, mock := setupMockConversationStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM conversations WHERE id").
		WithArgs("conv-2").
		WillReturnRows(conversationRows("conv-2", nil, nil, nil))
	mock.ExpectQuery("SELECT (.+) FROM messages WHERE id").
		WithArgs("m-1").
		WillReturnRows(messageRows(&models.Message{
			ID: "m-1", ConversationID: "conv-1", UserContent: "hi", RunID: "run-1", CreatedAt: time.Now(),
		}))
	mock.ExpectRollback()

	parent := "m-1"
	_, err := store.AddMessage(ctx, &models.Message{
		ID: "m-2", ConversationID: "conv-2", ParentID: &parent, UserContent: "x", RunID: "run-2",
	})
	if !errors.Is(err, ErrParentMismatch) {
		t.Fatalf("expected ErrParentMismatch, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreAddMessageDuplicate(t *testing.T) {
	ctx := context.Background()
	store, mock := setupMockConversationStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM conversations WHERE id").
		WithArgs("conv-1").
		WillReturnRows(conversationRows("conv-1", nil, nil, nil))
	mock.ExpectExec("INSERT INTO messages").
		WithArgs("m-1", "conv-1", nil, "dup", "run-1", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := store.AddMessage(ctx, &models.Message{
		ID: "m-1", ConversationID: "conv-1", UserContent: "dup", RunID: "run-1",
	})
	if !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("expected ErrDuplicateMessage, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreUpdateResponse(t *testing.T) {
	ctx := context.Background()
	store, mock := setupMockConversationStore(t)

	mock.ExpectExec("UPDATE messages SET agent_final_response").
		WithArgs("done", "m-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.UpdateResponse(ctx, "m-1", "done"); err != nil {
		t.Fatalf("UpdateResponse() error = %v", err)
	}

	mock.ExpectExec("UPDATE messages SET agent_final_response").
		WithArgs("x", "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.UpdateResponse(ctx, "ghost", "x"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStorePath(t *testing.T) {
	ctx := context.Background()
	store, mock := setupMockConversationStore(t)

	parent := "m-1"
	active := "m-2"
	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM conversations WHERE id").
		WithArgs("conv-1").
		WillReturnRows(conversationRows("conv-1", nil, nil, &active))
	mock.ExpectQuery("SELECT (.+) FROM messages WHERE conversation_id = (.+) ORDER BY created_at").
		WithArgs("conv-1").
		WillReturnRows(messageRows(
			&models.Message{ID: "m-1", ConversationID: "conv-1", UserContent: "hi", RunID: "r-1", CreatedAt: now},
			&models.Message{ID: "m-2", ConversationID: "conv-1", ParentID: &parent, UserContent: "next", RunID: "r-2", CreatedAt: now.Add(time.Second)},
		))

	path, err := store.Path(ctx, "conv-1", "")
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	if len(path) != 2 || path[0].ID != "m-1" || path[1].ID != "m-2" {
		t.Fatalf("unexpected path: %v", messageIDs(path))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreChildren(t *testing.T) {
	ctx := context.Background()
	store, mock := setupMockConversationStore(t)

	parent := "m-1"
	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM conversations WHERE id").
		WithArgs("conv-1").
		WillReturnRows(conversationRows("conv-1", nil, nil, &parent))
	mock.ExpectQuery("SELECT (.+) FROM messages WHERE conversation_id = (.+) AND (.+) ORDER BY created_at").
		WithArgs("conv-1", "m-1").
		WillReturnRows(messageRows(
			&models.Message{ID: "m-2", ConversationID: "conv-1", ParentID: &parent, UserContent: "a", RunID: "r-2", CreatedAt: now},
			&models.Message{ID: "m-3", ConversationID: "conv-1", ParentID: &parent, UserContent: "b", RunID: "r-3", CreatedAt: now.Add(time.Second)},
		))

	children, err := store.Children(ctx, "conv-1", "m-1")
	if err != nil {
		t.Fatalf("Children() error = %v", err)
	}
	if len(children) != 2 || children[0].ID != "m-2" || children[1].ID != "m-3" {
		t.Fatalf("unexpected children: %v", messageIDs(children))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
