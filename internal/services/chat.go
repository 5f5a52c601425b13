package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	chatdomain "github.com/myaview/backend/internal/domain/chat"
	chatrepo "github.com/myaview/backend/internal/data/repos/chat"
	"github.com/myaview/backend/internal/platform/apierr"
	"github.com/myaview/backend/internal/platform/dbctx"
	"github.com/myaview/backend/internal/platform/logger"
)

// SessionSummary is a session row enriched for list views.
type SessionSummary struct {
	Session      *chatdomain.ChatSession `json:"session"`
	MessageCount int64                   `json:"message_count"`
	LastMessage  string                  `json:"last_message,omitempty"`
}

// SessionUpdate carries last-write-wins edits; nil fields are untouched.
type SessionUpdate struct {
	Title     *string `json:"title,omitempty"`
	SortOrder *int    `json:"sort_order,omitempty"`
	IsPinned  *bool   `json:"is_pinned,omitempty"`
}

// ChatService owns session lifecycle and the message log. Message append
// allocates the per-session seq under a row lock so the log is a strict
// total order regardless of wall-clock resolution.
type ChatService interface {
	CreateSession(ctx context.Context, memberID *uuid.UUID, title string) (*chatdomain.ChatSession, error)
	GetSession(ctx context.Context, id uuid.UUID) (*chatdomain.ChatSession, error)
	ListSessions(ctx context.Context, memberID *uuid.UUID, limit int) ([]SessionSummary, error)
	UpdateSession(ctx context.Context, id uuid.UUID, upd SessionUpdate) (*chatdomain.ChatSession, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	// ReorderSessions assigns sort_order by position in ids. Unknown ids are
	// skipped rather than failing the whole reorder.
	ReorderSessions(ctx context.Context, ids []uuid.UUID) error

	AppendMessage(ctx context.Context, msg *chatdomain.ChatMessage) (*chatdomain.ChatMessage, error)
	ListMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*chatdomain.ChatMessage, error)
	RecentHistory(ctx context.Context, sessionID uuid.UUID, limit int) ([]*chatdomain.ChatMessage, error)
}

type chatService struct {
	db       *gorm.DB
	sessions chatrepo.SessionRepo
	messages chatrepo.MessageRepo
	log      *logger.Logger
}

func NewChatService(db *gorm.DB, sessions chatrepo.SessionRepo, messages chatrepo.MessageRepo, log *logger.Logger) ChatService {
	return &chatService{
		db:       db,
		sessions: sessions,
		messages: messages,
		log:      log.With("service", "ChatService"),
	}
}

func (s *chatService) CreateSession(ctx context.Context, memberID *uuid.UUID, title string) (*chatdomain.ChatSession, error) {
	if title == "" {
		title = "New Chat"
	}
	row := &chatdomain.ChatSession{
		FamilyMemberID: memberID,
		Title:          title,
	}
	out, err := s.sessions.Create(dbctx.Context{Ctx: ctx}, []*chatdomain.ChatSession{row})
	if err != nil {
		s.log.Error("create session failed", "error", err)
		return nil, fmt.Errorf("create session: %w", err)
	}
	return out[0], nil
}

func (s *chatService) GetSession(ctx context.Context, id uuid.UUID) (*chatdomain.ChatSession, error) {
	sess, err := s.sessions.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound("session")
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *chatService) ListSessions(ctx context.Context, memberID *uuid.UUID, limit int) ([]SessionSummary, error) {
	dbc := dbctx.Context{Ctx: ctx}
	rows, err := s.sessions.ListByMember(dbc, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]SessionSummary, 0, len(rows))
	for _, row := range rows {
		summary := SessionSummary{Session: row}
		if n, err := s.messages.CountBySession(dbc, row.ID); err == nil {
			summary.MessageCount = n
		}
		if last, err := s.messages.LastUserMessage(dbc, row.ID); err == nil && last != nil {
			summary.LastMessage = truncateRunes(last.Content, 120)
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *chatService) UpdateSession(ctx context.Context, id uuid.UUID, upd SessionUpdate) (*chatdomain.ChatSession, error) {
	updates := map[string]interface{}{}
	if upd.Title != nil {
		if *upd.Title == "" {
			return nil, apierr.Validation("title cannot be empty")
		}
		updates["title"] = *upd.Title
	}
	if upd.SortOrder != nil {
		updates["sort_order"] = *upd.SortOrder
	}
	if upd.IsPinned != nil {
		updates["is_pinned"] = *upd.IsPinned
	}
	dbc := dbctx.Context{Ctx: ctx}
	if len(updates) > 0 {
		if err := s.sessions.UpdateFields(dbc, id, updates); err != nil {
			return nil, fmt.Errorf("update session: %w", err)
		}
	}
	return s.GetSession(ctx, id)
}

func (s *chatService) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetSession(ctx, id); err != nil {
		return err
	}
	if err := s.sessions.Delete(dbctx.Context{Ctx: ctx}, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *chatService) ReorderSessions(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return apierr.Validation("no session ids given")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		for i, id := range ids {
			if id == uuid.Nil {
				continue
			}
			if err := s.sessions.UpdateFields(dbc, id, map[string]interface{}{"sort_order": i}); err != nil {
				return fmt.Errorf("reorder session %s: %w", id, err)
			}
		}
		return nil
	})
}

// AppendMessage persists msg with the next seq for its session. The session
// row lock is the serialization point: two concurrent appends to the same
// session cannot allocate the same seq.
func (s *chatService) AppendMessage(ctx context.Context, msg *chatdomain.ChatMessage) (*chatdomain.ChatMessage, error) {
	if msg == nil || msg.SessionID == uuid.Nil {
		return nil, apierr.Validation("message requires a session id")
	}
	if msg.Role != chatdomain.RoleUser && msg.Role != chatdomain.RoleAssistant && msg.Role != chatdomain.RoleSystem {
		return nil, apierr.Validation("unknown message role")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		sess, err := s.sessions.LockByID(dbc, msg.SessionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apierr.NotFound("session")
			}
			return err
		}
		msg.Seq = sess.NextSeq
		if _, err := s.messages.Create(dbc, []*chatdomain.ChatMessage{msg}); err != nil {
			return err
		}
		return s.sessions.UpdateFields(dbc, sess.ID, map[string]interface{}{
			"next_seq": sess.NextSeq + 1,
		})
	})
	if err != nil {
		var ae *apierr.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		s.log.Error("append message failed", "session_id", msg.SessionID, "error", err)
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *chatService) ListMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*chatdomain.ChatMessage, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.messages.ListBySession(dbctx.Context{Ctx: ctx}, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return rows, nil
}

func (s *chatService) RecentHistory(ctx context.Context, sessionID uuid.UUID, limit int) ([]*chatdomain.ChatMessage, error) {
	rows, err := s.messages.ListRecent(dbctx.Context{Ctx: ctx}, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	return rows, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
