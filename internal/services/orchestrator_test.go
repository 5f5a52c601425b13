package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	chatdomain "github.com/myaview/backend/internal/domain/chat"
	"github.com/myaview/backend/internal/domain/profile"
	"github.com/myaview/backend/internal/platform/apierr"
	"github.com/myaview/backend/internal/platform/logger"
	"github.com/myaview/backend/internal/platform/ollama"
)

// memChat is an in-memory ChatService with the same seq semantics as the
// real one.
type memChat struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*chatdomain.ChatSession
	messages map[uuid.UUID][]*chatdomain.ChatMessage
}

func newMemChat() *memChat {
	return &memChat{
		sessions: make(map[uuid.UUID]*chatdomain.ChatSession),
		messages: make(map[uuid.UUID][]*chatdomain.ChatMessage),
	}
}

func (m *memChat) CreateSession(ctx context.Context, memberID *uuid.UUID, title string) (*chatdomain.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if title == "" {
		title = "New Chat"
	}
	s := &chatdomain.ChatSession{ID: uuid.New(), FamilyMemberID: memberID, Title: title, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memChat) GetSession(ctx context.Context, id uuid.UUID) (*chatdomain.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, apierr.NotFound("session")
	}
	cp := *s
	return &cp, nil
}

func (m *memChat) ListSessions(ctx context.Context, memberID *uuid.UUID, limit int) ([]SessionSummary, error) {
	return nil, nil
}

func (m *memChat) UpdateSession(ctx context.Context, id uuid.UUID, upd SessionUpdate) (*chatdomain.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, apierr.NotFound("session")
	}
	if upd.Title != nil {
		s.Title = *upd.Title
	}
	if upd.SortOrder != nil {
		s.SortOrder = *upd.SortOrder
	}
	if upd.IsPinned != nil {
		s.IsPinned = *upd.IsPinned
	}
	s.UpdatedAt = time.Now()
	cp := *s
	return &cp, nil
}

func (m *memChat) DeleteSession(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.messages, id)
	return nil
}

func (m *memChat) ReorderSessions(ctx context.Context, ids []uuid.UUID) error { return nil }

func (m *memChat) AppendMessage(ctx context.Context, msg *chatdomain.ChatMessage) (*chatdomain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[msg.SessionID]
	if !ok {
		return nil, apierr.NotFound("session")
	}
	msg.ID = uuid.New()
	msg.Seq = s.NextSeq
	s.NextSeq++
	msg.CreatedAt = time.Now()
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return msg, nil
}

func (m *memChat) ListMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*chatdomain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[sessionID]
	if offset > len(msgs) {
		offset = len(msgs)
	}
	end := len(msgs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]*chatdomain.ChatMessage{}, msgs[offset:end]...), nil
}

func (m *memChat) RecentHistory(ctx context.Context, sessionID uuid.UUID, limit int) ([]*chatdomain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]*chatdomain.ChatMessage{}, msgs...), nil
}

func (m *memChat) sessionMessages(id uuid.UUID) []*chatdomain.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*chatdomain.ChatMessage{}, m.messages[id]...)
}

type fakeRetrieval struct {
	items []profile.ContextItem
	err   error
}

func (f *fakeRetrieval) Retrieve(ctx context.Context, query string, personID uuid.UUID, topK int, w time.Duration) ([]profile.ContextItem, error) {
	return f.items, f.err
}

func (f *fakeRetrieval) SimilarEvents(ctx context.Context, personID, eventID uuid.UUID, topK int) ([]profile.ContextItem, error) {
	return f.items, f.err
}

type fakeLLM struct {
	chatFn   func(ctx context.Context, req ollama.ChatRequest) (*ollama.ChatResult, error)
	streamFn func(ctx context.Context, req ollama.ChatRequest, onToken func(string) error) (*ollama.ChatResult, error)
}

func (f *fakeLLM) Chat(ctx context.Context, req ollama.ChatRequest) (*ollama.ChatResult, error) {
	if f.chatFn == nil {
		return &ollama.ChatResult{Content: "", Model: "test-model"}, nil
	}
	return f.chatFn(ctx, req)
}

func (f *fakeLLM) ChatStream(ctx context.Context, req ollama.ChatRequest, onToken func(string) error) (*ollama.ChatResult, error) {
	if f.streamFn == nil {
		return &ollama.ChatResult{Content: "", Model: "test-model"}, nil
	}
	return f.streamFn(ctx, req, onToken)
}

func (f *fakeLLM) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLLM) ChatModel() string  { return "test-model" }
func (f *fakeLLM) EmbedModel() string { return "test-embed" }

// streamWords emits content word by word, mimicking the NDJSON stream.
func streamWords(content string) func(ctx context.Context, req ollama.ChatRequest, onToken func(string) error) (*ollama.ChatResult, error) {
	return func(ctx context.Context, req ollama.ChatRequest, onToken func(string) error) (*ollama.ChatResult, error) {
		forwarding := true
		for _, w := range strings.SplitAfter(content, " ") {
			if forwarding && onToken(w) != nil {
				forwarding = false
			}
		}
		return &ollama.ChatResult{Content: content, Model: "test-model"}, nil
	}
}

type turnFixture struct {
	chat *memChat
	llm  *fakeLLM
	orch ChatOrchestrator
}

func newTurnFixture(t *testing.T, retrieval RetrievalService, llm *fakeLLM, q *fakeQuerier) *turnFixture {
	t.Helper()
	log := logger.NewNop()
	chat := newMemChat()
	orch := NewChatOrchestrator(
		log,
		OrchestratorConfig{TitleTimeout: time.Second},
		chat,
		retrieval,
		NewPrivacyGate(log),
		NewContextAssembler(log),
		q,
		llm,
	)
	return &turnFixture{chat: chat, llm: llm, orch: orch}
}

func memberProfileQuerier(memberID uuid.UUID) *fakeQuerier {
	return &fakeQuerier{
		getProfile: func(ctx context.Context, personID uuid.UUID, w time.Duration) (*profile.PersonProfile, error) {
			return &profile.PersonProfile{Person: profile.Person{ID: memberID, Name: "Dana"}}, nil
		},
	}
}

func collectEvents() (*[]TurnEvent, TurnEmitter) {
	events := &[]TurnEvent{}
	return events, func(ev TurnEvent) error {
		*events = append(*events, ev)
		return nil
	}
}

func eventTypes(events []TurnEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestRunTurnHappyPath(t *testing.T) {
	memberID := uuid.New()
	items := []profile.ContextItem{{
		EventID:  uuid.New(),
		PersonID: memberID,
		Summary:  "lipid panel, LDL slightly elevated",
		Score:    0.9,
	}}
	fix := newTurnFixture(t,
		&fakeRetrieval{items: items},
		&fakeLLM{streamFn: streamWords("Your LDL was slightly high in March.")},
		memberProfileQuerier(memberID),
	)
	sess, _ := fix.chat.CreateSession(context.Background(), &memberID, "")

	events, emit := collectEvents()
	err := fix.orch.RunTurn(context.Background(), TurnRequest{
		SessionID: sess.ID,
		Message:   "how is my cholesterol trending",
	}, emit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	types := eventTypes(*events)
	if types[0] != EventContext {
		t.Fatalf("first event: want context got %v", types)
	}
	if types[len(types)-1] != EventDone {
		t.Fatalf("last event: want done got %v", types)
	}
	sawToken := false
	for _, typ := range types {
		if typ == EventToken {
			sawToken = true
		}
		if typ == EventError {
			t.Fatalf("unexpected error event in %v", types)
		}
	}
	if !sawToken {
		t.Fatalf("no token events in %v", types)
	}

	done := (*events)[len(*events)-1]
	if done.Content != "Your LDL was slightly high in March." || done.Model != "test-model" {
		t.Fatalf("done event: %+v", done)
	}

	msgs := fix.chat.sessionMessages(sess.ID)
	if len(msgs) != 2 {
		t.Fatalf("messages: want=2 got=%d", len(msgs))
	}
	if msgs[0].Role != chatdomain.RoleUser || msgs[0].Seq != 0 {
		t.Fatalf("first message: %+v", msgs[0])
	}
	if msgs[1].Role != chatdomain.RoleAssistant || msgs[1].Seq != 1 {
		t.Fatalf("second message: %+v", msgs[1])
	}
	if msgs[1].Model != "test-model" {
		t.Fatalf("assistant model: %q", msgs[1].Model)
	}
	if len(msgs[1].RetrievalContext) == 0 {
		t.Fatalf("assistant message should carry retrieval context")
	}
}

func TestRunTurnEmptyMessageIsValidation(t *testing.T) {
	llmCalled := int32(0)
	fix := newTurnFixture(t,
		&fakeRetrieval{},
		&fakeLLM{streamFn: func(ctx context.Context, req ollama.ChatRequest, onToken func(string) error) (*ollama.ChatResult, error) {
			atomic.AddInt32(&llmCalled, 1)
			return &ollama.ChatResult{}, nil
		}},
		&fakeQuerier{},
	)
	sess, _ := fix.chat.CreateSession(context.Background(), nil, "")

	events, emit := collectEvents()
	err := fix.orch.RunTurn(context.Background(), TurnRequest{SessionID: sess.ID, Message: ""}, emit)
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if len(*events) != 1 || (*events)[0].Type != EventError {
		t.Fatalf("want single error event, got %v", eventTypes(*events))
	}
	if atomic.LoadInt32(&llmCalled) != 0 {
		t.Fatalf("no external call should be attempted on validation failure")
	}
	if got := fix.chat.sessionMessages(sess.ID); len(got) != 0 {
		t.Fatalf("nothing should be persisted, got %d messages", len(got))
	}
}

// Retrieval failure surfaces as a recoverable error; the user's message is
// already history so retry is possible.
func TestRunTurnRetrievalFailureKeepsUserMessage(t *testing.T) {
	memberID := uuid.New()
	fix := newTurnFixture(t,
		&fakeRetrieval{err: apierr.RetrievalUnavailable(errors.New("graph down"))},
		&fakeLLM{},
		memberProfileQuerier(memberID),
	)
	sess, _ := fix.chat.CreateSession(context.Background(), &memberID, "")

	events, emit := collectEvents()
	err := fix.orch.RunTurn(context.Background(), TurnRequest{SessionID: sess.ID, Message: "hello"}, emit)
	if !errors.Is(err, apierr.ErrRetrievalUnavailable) {
		t.Fatalf("want RetrievalUnavailable, got %v", err)
	}

	last := (*events)[len(*events)-1]
	if last.Type != EventError {
		t.Fatalf("want error event, got %v", eventTypes(*events))
	}
	if strings.Contains(last.Content, "graph down") {
		t.Fatalf("raw collaborator error leaked to client: %q", last.Content)
	}

	msgs := fix.chat.sessionMessages(sess.ID)
	if len(msgs) != 1 || msgs[0].Role != chatdomain.RoleUser {
		t.Fatalf("user message should be the only one persisted, got %+v", msgs)
	}
}

// A timed-out completion persists nothing from the partial stream.
func TestRunTurnGenerationTimeout(t *testing.T) {
	fix := newTurnFixture(t,
		&fakeRetrieval{},
		&fakeLLM{streamFn: func(ctx context.Context, req ollama.ChatRequest, onToken func(string) error) (*ollama.ChatResult, error) {
			_ = onToken("partial ")
			return nil, context.DeadlineExceeded
		}},
		&fakeQuerier{},
	)
	sess, _ := fix.chat.CreateSession(context.Background(), nil, "")

	events, emit := collectEvents()
	err := fix.orch.RunTurn(context.Background(), TurnRequest{SessionID: sess.ID, Message: "hi"}, emit)
	if !errors.Is(err, apierr.ErrGenerationTimeout) {
		t.Fatalf("want GenerationTimeout, got %v", err)
	}
	msgs := fix.chat.sessionMessages(sess.ID)
	if len(msgs) != 1 || msgs[0].Role != chatdomain.RoleUser {
		t.Fatalf("partial assistant output must not be persisted, got %+v", msgs)
	}
	last := (*events)[len(*events)-1]
	if last.Type != EventError {
		t.Fatalf("want trailing error event, got %v", eventTypes(*events))
	}
}

// A client that vanishes mid-stream stops receiving, but the completion
// drains and the full assistant message is persisted.
func TestRunTurnClientDisconnectDrains(t *testing.T) {
	full := "one two three four"
	fix := newTurnFixture(t,
		&fakeRetrieval{},
		&fakeLLM{streamFn: streamWords(full)},
		&fakeQuerier{},
	)
	sess, _ := fix.chat.CreateSession(context.Background(), nil, "")

	delivered := 0
	emit := func(ev TurnEvent) error {
		if ev.Type == EventToken {
			delivered++
			if delivered >= 2 {
				return errors.New("broken pipe")
			}
		}
		return nil
	}

	if err := fix.orch.RunTurn(context.Background(), TurnRequest{SessionID: sess.ID, Message: "hi"}, emit); err != nil {
		t.Fatalf("drained turn should succeed, got %v", err)
	}

	msgs := fix.chat.sessionMessages(sess.ID)
	if len(msgs) != 2 {
		t.Fatalf("messages: want=2 got=%d", len(msgs))
	}
	if msgs[1].Content != full {
		t.Fatalf("assistant content: want full text %q got %q", full, msgs[1].Content)
	}
}

// Turns on one session never overlap; both complete and the log alternates
// user/assistant in seq order.
func TestRunTurnSequentialWithinSession(t *testing.T) {
	var inFlight, maxInFlight int32
	fix := newTurnFixture(t,
		&fakeRetrieval{},
		&fakeLLM{streamFn: func(ctx context.Context, req ollama.ChatRequest, onToken func(string) error) (*ollama.ChatResult, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxInFlight)
				if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			_ = onToken("ok")
			return &ollama.ChatResult{Content: "ok", Model: "test-model"}, nil
		}},
		&fakeQuerier{},
	)
	sess, _ := fix.chat.CreateSession(context.Background(), nil, "already titled")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, emit := collectEvents()
			if err := fix.orch.RunTurn(context.Background(), TurnRequest{SessionID: sess.ID, Message: "turn"}, emit); err != nil {
				t.Errorf("turn failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Fatalf("concurrent completions within one session: want=1 got=%d", got)
	}

	msgs := fix.chat.sessionMessages(sess.ID)
	if len(msgs) != 8 {
		t.Fatalf("messages: want=8 got=%d", len(msgs))
	}
	for i, m := range msgs {
		if m.Seq != int64(i) {
			t.Fatalf("seq gap at %d: %+v", i, m)
		}
		wantRole := chatdomain.RoleUser
		if i%2 == 1 {
			wantRole = chatdomain.RoleAssistant
		}
		if m.Role != wantRole {
			t.Fatalf("message %d role: want=%s got=%s", i, wantRole, m.Role)
		}
	}
}

func TestGenerateTitleFromModel(t *testing.T) {
	fix := newTurnFixture(t,
		&fakeRetrieval{},
		&fakeLLM{chatFn: func(ctx context.Context, req ollama.ChatRequest) (*ollama.ChatResult, error) {
			return &ollama.ChatResult{Content: "  \"Cholesterol Check-In\"\n", Model: "test-model"}, nil
		}},
		&fakeQuerier{},
	)
	sess, _ := fix.chat.CreateSession(context.Background(), nil, "")
	_, _ = fix.chat.AppendMessage(context.Background(), &chatdomain.ChatMessage{
		SessionID: sess.ID, Role: chatdomain.RoleUser, Content: "how is my cholesterol",
	})

	title, err := fix.orch.GenerateTitle(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if title != "Cholesterol Check-In" {
		t.Fatalf("title: got %q", title)
	}
	got, _ := fix.chat.GetSession(context.Background(), sess.ID)
	if got.Title != "Cholesterol Check-In" {
		t.Fatalf("stored title: got %q", got.Title)
	}
}

// Title generation falls back to the opening user message when the model
// call fails; the failure never propagates.
func TestGenerateTitleFallback(t *testing.T) {
	fix := newTurnFixture(t,
		&fakeRetrieval{},
		&fakeLLM{chatFn: func(ctx context.Context, req ollama.ChatRequest) (*ollama.ChatResult, error) {
			return nil, errors.New("model offline")
		}},
		&fakeQuerier{},
	)
	sess, _ := fix.chat.CreateSession(context.Background(), nil, "")
	_, _ = fix.chat.AppendMessage(context.Background(), &chatdomain.ChatMessage{
		SessionID: sess.ID, Role: chatdomain.RoleUser, Content: "what did my last blood test show",
	})

	title, err := fix.orch.GenerateTitle(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if title != "what did my last blood test show" {
		t.Fatalf("fallback title: got %q", title)
	}
}

func TestGenerateTitleEmptySession(t *testing.T) {
	fix := newTurnFixture(t, &fakeRetrieval{}, &fakeLLM{}, &fakeQuerier{})
	sess, _ := fix.chat.CreateSession(context.Background(), nil, "")

	title, err := fix.orch.GenerateTitle(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if title != "New Chat" {
		t.Fatalf("title: got %q", title)
	}
}

// Turn gates exist only while a turn holds or waits on them; a long-lived
// process chatting across many sessions must not accumulate one per session.
func TestTurnGatePrunedAfterTurn(t *testing.T) {
	fix := newTurnFixture(t,
		&fakeRetrieval{},
		&fakeLLM{streamFn: streamWords("hello there")},
		&fakeQuerier{},
	)
	orch := fix.orch.(*orchestrator)

	for i := 0; i < 3; i++ {
		sess, _ := fix.chat.CreateSession(context.Background(), nil, "already titled")
		_, emit := collectEvents()
		if err := fix.orch.RunTurn(context.Background(), TurnRequest{
			SessionID: sess.ID,
			Message:   "hi",
		}, emit); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	orch.mu.Lock()
	n := len(orch.gates)
	orch.mu.Unlock()
	if n != 0 {
		t.Fatalf("gates remaining: want=0 got=%d", n)
	}
}

func TestRunTurnPersistsImageReference(t *testing.T) {
	fix := newTurnFixture(t,
		&fakeRetrieval{},
		&fakeLLM{streamFn: streamWords("that rash looks mild")},
		&fakeQuerier{},
	)
	sess, _ := fix.chat.CreateSession(context.Background(), nil, "already titled")

	_, emit := collectEvents()
	err := fix.orch.RunTurn(context.Background(), TurnRequest{
		SessionID: sess.ID,
		Message:   "what do you make of this photo",
		Images:    []string{"aGVsbG8="},
		ImagePath: "/uploads/rash.jpg",
	}, emit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := fix.chat.sessionMessages(sess.ID)
	if len(msgs) != 2 {
		t.Fatalf("messages: want=2 got=%d", len(msgs))
	}
	user := msgs[0]
	if !user.HasImage {
		t.Fatal("user message should record the image")
	}
	if user.ImagePath != "/uploads/rash.jpg" {
		t.Fatalf("image path: got %q", user.ImagePath)
	}
}
